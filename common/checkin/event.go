package checkin

import (
	"strings"
	"time"
)

// StatusEvent is the payload fanned out to `child:{id}` and `service:{id}`
// subscribers on every committed transition.
type StatusEvent struct {
	RequestId            string `json:"requestId"`
	ChildId              string `json:"childId"`
	ServiceId            string `json:"serviceId"`
	PreviousStatus       string `json:"previousStatus"`
	NewStatus            string `json:"newStatus"`
	TimestampEpochMillis int64  `json:"timestampEpochMillis"`
}

func NewStatusEvent(requestId, childId, serviceId, previous, next string, at time.Time) StatusEvent {
	return StatusEvent{
		RequestId:            requestId,
		ChildId:              childId,
		ServiceId:            serviceId,
		PreviousStatus:       previous,
		NewStatus:            next,
		TimestampEpochMillis: at.UnixNano() / int64(time.Millisecond),
	}
}

func (e StatusEvent) Time() time.Time {
	return time.Unix(0, e.TimestampEpochMillis*int64(time.Millisecond)).UTC()
}

// Topics returns the topics an event is published to.
func (e StatusEvent) Topics() []string {
	topics := []string{}
	if e.ChildId != "" {
		topics = append(topics, ChildTopic(e.ChildId))
	}
	if e.ServiceId != "" {
		topics = append(topics, ServiceTopic(e.ServiceId))
	}
	return topics
}

// ValidTopic accepts `child:{id}` and `service:{id}`.
func ValidTopic(topic string) bool {
	for _, prefix := range []string{"child:", "service:"} {
		if strings.HasPrefix(topic, prefix) && len(topic) > len(prefix) {
			return true
		}
	}
	return false
}
