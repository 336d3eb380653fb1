package checkin

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

var _ = Describe("Status", func() {

	It("should count the age in full years", func() {
		birth := time.Date(2019, time.March, 10, 0, 0, 0, 0, time.UTC)

		Expect(AgeAt(birth, time.Date(2024, time.March, 9, 23, 0, 0, 0, time.UTC))).To(Equal(4))
		Expect(AgeAt(birth, time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC))).To(Equal(5))
		Expect(AgeAt(birth, time.Date(2024, time.December, 31, 0, 0, 0, 0, time.UTC))).To(Equal(5))
	})

	It("should only expire pending requests past their deadline", func() {
		now := time.Now()

		Expect(IsExpired(StatusPending, now.Add(-time.Second), now)).To(BeTrue())
		Expect(IsExpired(StatusPending, now.Add(time.Second), now)).To(BeFalse())
		Expect(IsExpired(StatusApproved, now.Add(-time.Hour), now)).To(BeFalse())
		Expect(IsTerminal(StatusExpired)).To(BeTrue())
		Expect(IsTerminal(StatusPending)).To(BeFalse())
	})

	It("should date services in UTC", func() {
		la, err := time.LoadLocation("America/Los_Angeles")
		if err != nil {
			Skip("no tzdata")
		}
		Expect(ServiceDate(time.Date(2024, time.June, 1, 20, 0, 0, 0, la))).To(Equal("2024-06-02"))
	})
})

var _ = Describe("Errors", func() {

	It("should map every code back to its error", func() {
		for err, info := range taxonomy {
			found, ok := FromCode(info.code)
			Expect(ok).To(BeTrue(), info.code)
			Expect(found).To(Equal(err))
			Expect(Code(errors.Wrap(err, "context"))).To(Equal(info.code))
		}
		_, ok := FromCode("NOPE")
		Expect(ok).To(BeFalse())
	})

	It("should tell transient errors from business ones", func() {
		for _, err := range []error{ErrNetwork, ErrTimeout, ErrServer} {
			Expect(IsTransient(errors.Wrap(err, "wrapped"))).To(BeTrue())
			Expect(IsBusiness(err)).To(BeFalse())
		}
		for _, err := range []error{ErrCapacityExceeded, ErrAlreadyCheckedIn, ErrExpired, ErrNotFound, ErrInvalidState, ErrSuperseded} {
			Expect(IsBusiness(err)).To(BeTrue())
			Expect(IsTransient(err)).To(BeFalse())
		}
	})

	It("should treat unknown errors as neither", func() {
		unknown := errors.New("disk on fire")
		Expect(KindOf(unknown)).To(Equal(KindUnknown))
		Expect(IsTransient(unknown)).To(BeFalse())
		Expect(IsBusiness(unknown)).To(BeFalse())
		Expect(Code(unknown)).To(Equal(""))
		Expect(UserMessage(unknown)).To(Equal("An error occurred, please try again later."))
		Expect(KindOf(nil)).To(Equal(Kind("")))
	})
})

var _ = Describe("StatusEvent", func() {

	It("should be published on the child and service topics", func() {
		at := time.Date(2024, time.June, 2, 9, 30, 0, 0, time.UTC)
		event := NewStatusEvent("request-1", "child-1", "service-1", StatusPending, StatusApproved, at)

		Expect(event.Time()).To(Equal(at))
		Expect(event.Topics()).To(Equal([]string{"child:child-1", "service:service-1"}))
		Expect(ValidTopic("child:child-1")).To(BeTrue())
		Expect(ValidTopic("child:")).To(BeFalse())
		Expect(ValidTopic("guardian:1")).To(BeFalse())
	})
})
