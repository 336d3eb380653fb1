package store_test

import (
	"time"

	"github.com/Vinubaba/kids-checkin/common/checkin"
	"github.com/Vinubaba/kids-checkin/common/generator"
	. "github.com/Vinubaba/kids-checkin/common/store"
	"github.com/Vinubaba/kids-checkin/common/store/testdb"

	"github.com/Pallinder/go-randomdata"
	"github.com/jinzhu/gorm"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Store", func() {

	var (
		db            *gorm.DB
		concreteStore *Store
		now           = time.Now().UTC().Truncate(time.Second)
	)

	var (
		addChild = func(guardianId string) Child {
			child, err := concreteStore.AddChild(nil, Child{
				ResponsibleId: guardianId,
				FirstName:     randomdata.FirstName(randomdata.RandomGender),
				LastName:      randomdata.LastName(),
				BirthDate:     now.AddDate(-5, 0, 0),
			})
			Expect(err).To(BeNil())
			return child
		}

		addService = func(maxCapacity int, accepting bool) Service {
			service, err := concreteStore.AddService(nil, Service{
				Name:              randomdata.Noun(),
				MinAge:            3,
				MaxAge:            8,
				StartsAt:          now,
				EndsAt:            now.Add(time.Hour),
				MaxCapacity:       maxCapacity,
				CurrentCapacity:   42,
				AcceptingCheckIns: accepting,
			})
			Expect(err).To(BeNil())
			return service
		}
	)

	BeforeEach(func() {
		db = testdb.New()
		concreteStore = &Store{
			Db:              db,
			StringGenerator: &generator.StringGenerator{},
		}
	})

	AfterEach(func() {
		db.Close()
	})

	Describe("children", func() {
		It("should default a new child to NOT_IN_SERVICE", func() {
			child := addChild("guardian-1")
			Expect(child.ChildId).NotTo(BeEmpty())

			found, err := concreteStore.GetChild(nil, child.ChildId)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(checkin.ChildNotInService))
			Expect(found.FirstName).To(Equal(child.FirstName))
		})

		It("should return ErrChildNotFound", func() {
			_, err := concreteStore.GetChild(nil, "unknown")
			Expect(err).To(Equal(ErrChildNotFound))
		})

		It("should list the children of a guardian", func() {
			first := addChild("guardian-1")
			second := addChild("guardian-1")
			addChild("guardian-2")

			ids, err := concreteStore.ChildrenOwnedBy(nil, "guardian-1")
			Expect(err).To(BeNil())
			Expect(ids).To(ConsistOf(first.ChildId, second.ChildId))

			children, err := concreteStore.ListChildren(nil, SearchOptions{ResponsibleId: "guardian-2"})
			Expect(err).To(BeNil())
			Expect(children).To(HaveLen(1))
		})

		It("should check a child in only once", func() {
			child := addChild("guardian-1")

			Expect(concreteStore.MarkChildCheckedIn(nil, child.ChildId, "service-1", now)).To(Succeed())
			Expect(concreteStore.MarkChildCheckedIn(nil, child.ChildId, "service-2", now)).To(Equal(ErrChildAlreadyCheckedIn))

			found, err := concreteStore.GetChild(nil, child.ChildId)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(checkin.ChildCheckedIn))
			Expect(found.CurrentServiceId.String).To(Equal("service-1"))

			children, err := concreteStore.ListChildren(nil, SearchOptions{ServiceId: "service-1"})
			Expect(err).To(BeNil())
			Expect(children).To(HaveLen(1))
		})

		It("should check a child out and clear its service", func() {
			child := addChild("guardian-1")
			Expect(concreteStore.MarkChildCheckedOut(nil, child.ChildId, now)).To(Equal(ErrChildNotCheckedIn))

			Expect(concreteStore.MarkChildCheckedIn(nil, child.ChildId, "service-1", now)).To(Succeed())
			Expect(concreteStore.MarkChildCheckedOut(nil, child.ChildId, now.Add(time.Hour))).To(Succeed())

			found, err := concreteStore.GetChild(nil, child.ChildId)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(checkin.ChildNotInService))
			Expect(found.CurrentServiceId.Valid).To(BeFalse())
			Expect(found.CheckedOutAt).NotTo(BeNil())
		})
	})

	Describe("services", func() {
		It("should always start with an empty service", func() {
			service := addService(10, true)
			Expect(service.CurrentCapacity).To(Equal(0))

			found, err := concreteStore.GetService(nil, service.ServiceId)
			Expect(err).To(BeNil())
			Expect(found.CurrentCapacity).To(Equal(0))
		})

		It("should reserve up to the maximum capacity", func() {
			service := addService(2, true)

			for i := 0; i < 2; i++ {
				reserved, err := concreteStore.ReserveSlot(nil, service.ServiceId)
				Expect(err).To(BeNil())
				Expect(reserved).To(BeTrue())
			}
			reserved, err := concreteStore.ReserveSlot(nil, service.ServiceId)
			Expect(err).To(BeNil())
			Expect(reserved).To(BeFalse())

			found, err := concreteStore.GetService(nil, service.ServiceId)
			Expect(err).To(BeNil())
			Expect(found.CurrentCapacity).To(Equal(2))
		})

		It("should not reserve in a closed service", func() {
			service := addService(2, false)

			reserved, err := concreteStore.ReserveSlot(nil, service.ServiceId)
			Expect(err).To(BeNil())
			Expect(reserved).To(BeFalse())
		})

		It("should never release below zero", func() {
			service := addService(2, true)

			released, err := concreteStore.ReleaseSlot(nil, service.ServiceId)
			Expect(err).To(BeNil())
			Expect(released).To(BeFalse())

			_, err = concreteStore.ReserveSlot(nil, service.ServiceId)
			Expect(err).To(BeNil())
			released, err = concreteStore.ReleaseSlot(nil, service.ServiceId)
			Expect(err).To(BeNil())
			Expect(released).To(BeTrue())
		})

		It("should open and close a service", func() {
			service := addService(2, true)

			Expect(concreteStore.SetAcceptingCheckIns(nil, service.ServiceId, false)).To(Succeed())
			found, err := concreteStore.GetService(nil, service.ServiceId)
			Expect(err).To(BeNil())
			Expect(found.AcceptingCheckIns).To(BeFalse())

			Expect(concreteStore.SetAcceptingCheckIns(nil, "unknown", true)).To(Equal(ErrServiceNotFound))
		})

		It("should roll back a reservation with its transaction", func() {
			service := addService(2, true)

			tx := concreteStore.Tx()
			reserved, err := concreteStore.ReserveSlot(tx, service.ServiceId)
			Expect(err).To(BeNil())
			Expect(reserved).To(BeTrue())
			tx.Rollback()

			found, err := concreteStore.GetService(nil, service.ServiceId)
			Expect(err).To(BeNil())
			Expect(found.CurrentCapacity).To(Equal(0))
		})
	})

	Describe("requests", func() {
		var (
			addRequest = func(childId, token, status string) CheckInRequest {
				request, err := concreteStore.AddRequest(nil, CheckInRequest{
					Token:       token,
					ChildId:     childId,
					ServiceId:   "service-1",
					RequestedBy: "guardian-1",
					Status:      status,
					CreatedAt:   now,
					ExpiresAt:   now.Add(checkin.RequestTTL),
				})
				Expect(err).To(BeNil())
				return request
			}
		)

		It("should find a request by its token", func() {
			request := addRequest("child-1", "token-1", checkin.StatusPending)

			found, err := concreteStore.GetRequestByToken(nil, "token-1")
			Expect(err).To(BeNil())
			Expect(found.RequestId).To(Equal(request.RequestId))

			_, err = concreteStore.GetRequestByToken(nil, "token-2")
			Expect(err).To(Equal(ErrRequestNotFound))
		})

		It("should refuse a second pending request for a child", func() {
			addRequest("child-1", "token-1", checkin.StatusPending)

			_, err := concreteStore.AddRequest(nil, CheckInRequest{
				Token:     "token-2",
				ChildId:   "child-1",
				Status:    checkin.StatusPending,
				CreatedAt: now,
				ExpiresAt: now.Add(checkin.RequestTTL),
			})
			Expect(err).NotTo(BeNil())

			addRequest("child-1", "token-3", checkin.StatusRejected)
		})

		It("should refuse a duplicated token", func() {
			addRequest("child-1", "token-1", checkin.StatusPending)

			_, err := concreteStore.AddRequest(nil, CheckInRequest{
				Token:     "token-1",
				ChildId:   "child-2",
				Status:    checkin.StatusPending,
				CreatedAt: now,
				ExpiresAt: now.Add(checkin.RequestTTL),
			})
			Expect(err).NotTo(BeNil())
		})

		It("should transition a request only from its current status", func() {
			request := addRequest("child-1", "token-1", checkin.StatusPending)

			moved, err := concreteStore.TransitionRequest(nil, Transition{
				RequestId:   request.RequestId,
				From:        checkin.StatusPending,
				To:          checkin.StatusApproved,
				ProcessedBy: "staff-1",
				Notes:       "allergic to peanuts",
				At:          now,
			})
			Expect(err).To(BeNil())
			Expect(moved).To(BeTrue())

			moved, err = concreteStore.TransitionRequest(nil, Transition{
				RequestId: request.RequestId,
				From:      checkin.StatusPending,
				To:        checkin.StatusRejected,
				At:        now,
			})
			Expect(err).To(BeNil())
			Expect(moved).To(BeFalse())

			found, err := concreteStore.GetRequest(nil, request.RequestId)
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(checkin.StatusApproved))
			Expect(found.ProcessedBy.String).To(Equal("staff-1"))
			Expect(found.Notes.String).To(Equal("allergic to peanuts"))

			_, err = concreteStore.GetPendingRequestOfChild(nil, "child-1")
			Expect(err).To(Equal(ErrRequestNotFound))
		})

		It("should list pending requests past their expiry, oldest first", func() {
			first := addRequest("child-1", "token-1", checkin.StatusPending)
			second := addRequest("child-2", "token-2", checkin.StatusPending)
			addRequest("child-3", "token-3", checkin.StatusRejected)

			overdue, err := concreteStore.ListOverdueRequests(nil, now.Add(checkin.RequestTTL), 10)
			Expect(err).To(BeNil())
			Expect(overdue).To(BeEmpty())

			overdue, err = concreteStore.ListOverdueRequests(nil, now.Add(checkin.RequestTTL+time.Second), 10)
			Expect(err).To(BeNil())
			Expect(overdue).To(HaveLen(2))
			Expect([]string{overdue[0].RequestId, overdue[1].RequestId}).To(ConsistOf(first.RequestId, second.RequestId))

			overdue, err = concreteStore.ListOverdueRequests(nil, now.Add(checkin.RequestTTL+time.Second), 1)
			Expect(err).To(BeNil())
			Expect(overdue).To(HaveLen(1))
		})
	})

	Describe("records", func() {
		var (
			addRecord = func(childId, clientRef string) CheckInRecord {
				record, err := concreteStore.AddRecord(nil, CheckInRecord{
					ChildId:     childId,
					ServiceId:   "service-1",
					CheckInTime: now,
					CheckedInBy: "staff-1",
					ClientRef:   DbNullString(clientRef),
				})
				Expect(err).To(BeNil())
				return record
			}
		)

		It("should default the status and the service date", func() {
			record := addRecord("child-1", "")
			Expect(record.Status).To(Equal(checkin.ChildCheckedIn))
			Expect(record.ServiceDate).To(Equal(checkin.ServiceDate(now)))

			active, err := concreteStore.GetActiveRecordOfChild(nil, "child-1")
			Expect(err).To(BeNil())
			Expect(active.RecordId).To(Equal(record.RecordId))
		})

		It("should allow a single active record per child", func() {
			addRecord("child-1", "")
			_, err := concreteStore.AddRecord(nil, CheckInRecord{
				ChildId:     "child-1",
				ServiceId:   "service-2",
				CheckInTime: now,
			})
			Expect(err).NotTo(BeNil())
		})

		It("should find a record by client reference", func() {
			record := addRecord("child-1", "local-1")
			addRecord("child-2", "")
			addRecord("child-3", "")

			found, err := concreteStore.GetRecordByClientRef(nil, "local-1")
			Expect(err).To(BeNil())
			Expect(found.RecordId).To(Equal(record.RecordId))

			_, err = concreteStore.GetRecordByClientRef(nil, "local-2")
			Expect(err).To(Equal(ErrRecordNotFound))
		})

		It("should close a record once", func() {
			record := addRecord("child-1", "")

			closed, err := concreteStore.CloseRecord(nil, record.RecordId, "staff-2", "local-out-1", now.Add(time.Hour))
			Expect(err).To(BeNil())
			Expect(closed).To(BeTrue())

			closed, err = concreteStore.CloseRecord(nil, record.RecordId, "staff-2", "", now.Add(2*time.Hour))
			Expect(err).To(BeNil())
			Expect(closed).To(BeFalse())

			found, err := concreteStore.GetRecordByCheckOutRef(nil, "local-out-1")
			Expect(err).To(BeNil())
			Expect(found.Status).To(Equal(checkin.ChildCheckedOut))
			Expect(found.CheckedOutBy.String).To(Equal("staff-2"))

			_, err = concreteStore.GetActiveRecordOfChild(nil, "child-1")
			Expect(err).To(Equal(ErrRecordNotFound))
		})

		It("should remember attendance of the day", func() {
			record := addRecord("child-1", "")
			_, err := concreteStore.CloseRecord(nil, record.RecordId, "staff-1", "", now)
			Expect(err).To(BeNil())

			attended, err := concreteStore.HasRecordOn(nil, "child-1", "service-1", checkin.ServiceDate(now))
			Expect(err).To(BeNil())
			Expect(attended).To(BeTrue())

			attended, err = concreteStore.HasRecordOn(nil, "child-1", "service-2", checkin.ServiceDate(now))
			Expect(err).To(BeNil())
			Expect(attended).To(BeFalse())
		})
	})
})
