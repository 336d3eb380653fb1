package notifications

import (
	"context"
	"encoding/json"

	"github.com/Vinubaba/kids-checkin/common/checkin"
	"github.com/Vinubaba/kids-checkin/common/log"
	"github.com/Vinubaba/kids-checkin/common/messaging"

	"github.com/pkg/errors"
)

const (
	attributeOrigin = "origin"
	attributeTopic  = "topic"
)

// Relay bridges hubs of several API instances through a Pub/Sub topic.
// Every instance publishes what it commits and delivers what the others
// committed; its own messages are acknowledged and skipped.
type Relay struct {
	Client interface {
		Publish(ctx context.Context, message messaging.Message) error
		Subscribe(ctx context.Context, callback messaging.SubscribeCallbackFunc) error
	} `inject:""`
	Hub interface {
		Deliver(ctx context.Context, event checkin.StatusEvent) int
	} `inject:""`
	Logger     *log.Logger `inject:""`
	InstanceId string
}

func (r *Relay) Forward(ctx context.Context, event checkin.StatusEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to encode event")
	}
	return r.Client.Publish(ctx, messaging.Message{
		Data: data,
		Attributes: map[string]string{
			attributeOrigin: r.InstanceId,
			attributeTopic:  checkin.ChildTopic(event.ChildId),
		},
	})
}

// Run pulls events published by other instances until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	r.Logger.Info(ctx, "relay started", "instanceId", r.InstanceId)
	return r.Client.Subscribe(ctx, r.Receive)
}

func (r *Relay) Receive(ctx context.Context, msg messaging.Message) {
	if msg.Attributes[attributeOrigin] == r.InstanceId {
		msg.Ack()
		return
	}
	event := checkin.StatusEvent{}
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		// redelivering would not make it decodable
		r.Logger.Err(ctx, "dropping undecodable relayed event", "messageId", msg.ID, "err", err.Error())
		msg.Ack()
		return
	}
	delivered := r.Hub.Deliver(ctx, event)
	r.Logger.Debug(ctx, "relayed event delivered", "requestId", event.RequestId, "subscribers", delivered)
	msg.Ack()
}
