package capacity_test

import (
	"bytes"
	"context"
	"sync"
	"time"

	. "github.com/Vinubaba/kids-checkin/api/capacity"
	"github.com/Vinubaba/kids-checkin/common/checkin"
	"github.com/Vinubaba/kids-checkin/common/generator"
	"github.com/Vinubaba/kids-checkin/common/log"
	"github.com/Vinubaba/kids-checkin/common/store"
	"github.com/Vinubaba/kids-checkin/common/store/testdb"

	"github.com/jinzhu/gorm"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Guard", func() {

	var (
		db            *gorm.DB
		concreteStore *store.Store
		guard         *Guard
		logs          *bytes.Buffer
		ctx           = context.Background()
	)

	var (
		addService = func(maxCapacity int, accepting bool) string {
			service, err := concreteStore.AddService(nil, store.Service{
				Name:              "Nursery",
				StartsAt:          time.Now(),
				EndsAt:            time.Now().Add(time.Hour),
				MaxCapacity:       maxCapacity,
				AcceptingCheckIns: accepting,
			})
			Expect(err).To(BeNil())
			return service.ServiceId
		}

		currentCapacity = func(serviceId string) int {
			service, err := concreteStore.GetService(nil, serviceId)
			Expect(err).To(BeNil())
			return service.CurrentCapacity
		}
	)

	BeforeEach(func() {
		db = testdb.New()
		concreteStore = &store.Store{
			Db:              db,
			StringGenerator: &generator.StringGenerator{},
		}
		logs = &bytes.Buffer{}
		guard = &Guard{
			Store:  concreteStore,
			Logger: log.NewLoggerTo(logs, "capacity-test"),
		}
	})

	AfterEach(func() {
		db.Close()
	})

	It("should reserve until the service is full", func() {
		serviceId := addService(1, true)

		Expect(guard.Reserve(ctx, nil, serviceId)).To(Succeed())
		Expect(guard.Reserve(ctx, nil, serviceId)).To(Equal(checkin.ErrCapacityExceeded))
		Expect(currentCapacity(serviceId)).To(Equal(1))
	})

	It("should report a closed service before a full one", func() {
		serviceId := addService(0, false)
		Expect(guard.Reserve(ctx, nil, serviceId)).To(Equal(checkin.ErrServiceClosed))
	})

	It("should fail on an unknown service", func() {
		err := guard.Reserve(ctx, nil, "unknown")
		Expect(err).NotTo(BeNil())
		Expect(checkin.IsBusiness(err)).To(BeFalse())
	})

	// serialized on the SQLite connection, see testdb for a postgres run
	It("should never exceed the maximum capacity under concurrent reservations", func() {
		serviceId := addService(5, true)

		wg := sync.WaitGroup{}
		mu := sync.Mutex{}
		accepted, refused := 0, 0
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				tx := concreteStore.Tx()
				err := guard.Reserve(ctx, tx, serviceId)
				mu.Lock()
				defer mu.Unlock()
				if err == nil {
					Expect(tx.Commit().Error).To(BeNil())
					accepted++
					return
				}
				tx.Rollback()
				Expect(err).To(Equal(checkin.ErrCapacityExceeded))
				refused++
			}()
		}
		wg.Wait()

		Expect(accepted).To(Equal(5))
		Expect(refused).To(Equal(15))
		Expect(currentCapacity(serviceId)).To(Equal(5))
	})

	It("should release a reserved slot", func() {
		serviceId := addService(2, true)
		Expect(guard.Reserve(ctx, nil, serviceId)).To(Succeed())
		Expect(guard.Release(ctx, nil, serviceId)).To(Succeed())
		Expect(currentCapacity(serviceId)).To(Equal(0))
	})

	It("should refuse a double release and log it", func() {
		serviceId := addService(2, true)

		Expect(guard.Release(ctx, nil, serviceId)).To(Equal(checkin.ErrDoubleRelease))
		Expect(currentCapacity(serviceId)).To(Equal(0))
		Expect(logs.String()).To(ContainSubstring("capacity.double_release"))
	})
})
