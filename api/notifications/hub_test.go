package notifications_test

import (
	"context"
	"encoding/json"
	"time"

	. "github.com/Vinubaba/kids-checkin/api/notifications"
	. "github.com/Vinubaba/kids-checkin/api/notifications/mocks"
	"github.com/Vinubaba/kids-checkin/common/checkin"
	"github.com/Vinubaba/kids-checkin/common/log"
	"github.com/Vinubaba/kids-checkin/common/messaging"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"
)

var _ = Describe("Hub", func() {

	var (
		hub   *Hub
		ctx   = context.Background()
		event checkin.StatusEvent
	)

	BeforeEach(func() {
		hub = &Hub{Logger: log.NewNopLogger(), Buffer: 2}
		event = checkin.NewStatusEvent("request-1", "child-1", "service-1", checkin.StatusPending, checkin.StatusApproved, time.Now())
	})

	It("should deliver an event to the child and the service topics", func() {
		childSub, err := hub.Subscribe(checkin.ChildTopic("child-1"))
		Expect(err).To(BeNil())
		serviceSub, err := hub.Subscribe(checkin.ServiceTopic("service-1"))
		Expect(err).To(BeNil())
		otherSub, err := hub.Subscribe(checkin.ChildTopic("child-2"))
		Expect(err).To(BeNil())

		hub.Publish(ctx, event)

		Eventually(childSub.C).Should(Receive(Equal(event)))
		Eventually(serviceSub.C).Should(Receive(Equal(event)))
		Consistently(otherSub.C, 50*time.Millisecond).ShouldNot(Receive())
	})

	It("should refuse malformed topics", func() {
		_, err := hub.Subscribe("children")
		Expect(err).To(Equal(ErrInvalidTopic))
	})

	It("should stop delivering and close the channel on unsubscribe", func() {
		sub, err := hub.Subscribe(checkin.ChildTopic("child-1"))
		Expect(err).To(BeNil())
		hub.Unsubscribe(sub)
		hub.Unsubscribe(sub)

		Expect(hub.Subscribers(checkin.ChildTopic("child-1"))).To(Equal(0))
		Expect(hub.Deliver(ctx, event)).To(Equal(0))
		Eventually(sub.C).Should(BeClosed())
	})

	It("should drop events for a subscriber that does not keep up", func() {
		sub, err := hub.Subscribe(checkin.ChildTopic("child-1"))
		Expect(err).To(BeNil())

		Expect(hub.Deliver(ctx, event)).To(Equal(1))
		Expect(hub.Deliver(ctx, event)).To(Equal(1))
		Expect(hub.Deliver(ctx, event)).To(Equal(0))
		Expect(sub.C).To(HaveLen(2))
	})

	It("should close every subscription when closed", func() {
		sub, err := hub.Subscribe(checkin.ServiceTopic("service-1"))
		Expect(err).To(BeNil())
		hub.Close()

		Eventually(sub.C).Should(BeClosed())
		_, err = hub.Subscribe(checkin.ServiceTopic("service-1"))
		Expect(err).To(Equal(ErrHubClosed))
	})

	Describe("with a relay", func() {

		var (
			client *MockMessagingClient
			relay  *Relay
		)

		BeforeEach(func() {
			client = &MockMessagingClient{}
			relay = &Relay{
				Client:     client,
				Hub:        hub,
				Logger:     log.NewNopLogger(),
				InstanceId: "api-1",
			}
			hub.Relay = relay
		})

		It("should forward published events with the instance as origin", func() {
			client.On("Publish", mock.Anything, mock.MatchedBy(func(msg messaging.Message) bool {
				relayed := checkin.StatusEvent{}
				return json.Unmarshal(msg.Data, &relayed) == nil &&
					relayed == event &&
					msg.Attributes["origin"] == "api-1"
			})).Return(nil).Once()

			hub.Publish(ctx, event)
			client.AssertExpectations(GinkgoT())
		})

		It("should deliver events committed by another instance", func() {
			sub, err := hub.Subscribe(checkin.ChildTopic("child-1"))
			Expect(err).To(BeNil())

			data, _ := json.Marshal(event)
			acked := false
			msg := messaging.Message{Data: data, Attributes: map[string]string{"origin": "api-2"}}
			msg.RegisterAck(func() error { acked = true; return nil })
			relay.Receive(ctx, msg)

			Eventually(sub.C).Should(Receive(Equal(event)))
			Expect(acked).To(BeTrue())
		})

		It("should skip its own events", func() {
			sub, err := hub.Subscribe(checkin.ChildTopic("child-1"))
			Expect(err).To(BeNil())

			data, _ := json.Marshal(event)
			relay.Receive(ctx, messaging.Message{Data: data, Attributes: map[string]string{"origin": "api-1"}})

			Consistently(sub.C, 50*time.Millisecond).ShouldNot(Receive())
		})
	})
})
