package notifications

import (
	"context"
	"sync"

	"github.com/Vinubaba/kids-checkin/common/checkin"
	"github.com/Vinubaba/kids-checkin/common/log"

	"github.com/pkg/errors"
)

var (
	ErrInvalidTopic = errors.New("topic must be child:{id} or service:{id}")
	ErrHubClosed    = errors.New("notification hub is closed")
)

const defaultBuffer = 16

// Subscription receives the events of one topic on C until it is
// unsubscribed or the hub is closed, at which point C is closed.
type Subscription struct {
	Topic string
	C     <-chan checkin.StatusEvent

	events chan checkin.StatusEvent
}

// Hub fans committed transitions out to in-process subscribers. Delivery is
// at most once: a subscriber whose buffer is full misses the event and is
// expected to pull the authoritative state.
type Hub struct {
	Logger *log.Logger `inject:""`
	// Relay forwards locally published events to the other API instances.
	// It is nil on single-instance setups.
	Relay interface {
		Forward(ctx context.Context, event checkin.StatusEvent) error
	}
	Buffer int

	mu     sync.RWMutex
	topics map[string]map[*Subscription]struct{}
	closed bool
}

func (h *Hub) Subscribe(topic string) (*Subscription, error) {
	if !checkin.ValidTopic(topic) {
		return nil, ErrInvalidTopic
	}
	buffer := h.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	events := make(chan checkin.StatusEvent, buffer)
	sub := &Subscription{Topic: topic, C: events, events: events}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	if h.topics == nil {
		h.topics = map[string]map[*Subscription]struct{}{}
	}
	if h.topics[topic] == nil {
		h.topics[topic] = map[*Subscription]struct{}{}
	}
	h.topics[topic][sub] = struct{}{}
	return sub, nil
}

// Unsubscribe is idempotent.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[sub.Topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.topics, sub.Topic)
	}
	close(sub.events)
}

// Publish delivers event locally then hands it to the relay.
func (h *Hub) Publish(ctx context.Context, event checkin.StatusEvent) {
	h.Deliver(ctx, event)
	if h.Relay != nil {
		if err := h.Relay.Forward(ctx, event); err != nil {
			h.Logger.Warn(ctx, "failed to relay event", "requestId", event.RequestId, "err", err.Error())
		}
	}
}

// Deliver sends event to the local subscribers of its topics and returns how
// many received it. It never blocks.
func (h *Hub) Deliver(ctx context.Context, event checkin.StatusEvent) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, topic := range event.Topics() {
		for sub := range h.topics[topic] {
			select {
			case sub.events <- event:
				delivered++
			default:
				h.Logger.Debug(ctx, "subscriber too slow, event dropped", "topic", topic, "requestId", event.RequestId)
			}
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close ends every subscription. Later subscriptions fail with ErrHubClosed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for topic, subs := range h.topics {
		for sub := range subs {
			close(sub.events)
		}
		delete(h.topics, topic)
	}
}
