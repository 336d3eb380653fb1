package messaging

import (
	"context"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
)

// EnsureTopic creates the configured topic when the project does not have it yet.
func (s *Client) EnsureTopic(ctx context.Context) error {
	if s.topic == nil {
		return errors.New("no topic configured")
	}
	it := s.googlePubSubClient.Topics(ctx)
	for {
		topic, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return errors.Wrap(err, "failed to list topics")
		}
		if topic.ID() == s.topic.ID() {
			return nil
		}
	}
	if _, err := s.googlePubSubClient.CreateTopic(ctx, s.topic.ID()); err != nil {
		return errors.Wrapf(err, "failed to create topic %s", s.topic.ID())
	}
	return nil
}

// EnsureSubscription creates the configured subscription on the configured
// topic when it is missing. The topic must exist.
func (s *Client) EnsureSubscription(ctx context.Context, ackDeadline time.Duration) error {
	if s.topic == nil || s.subscription == nil {
		return errors.New("no topic or subscription configured")
	}
	it := s.topic.Subscriptions(ctx)
	for {
		subscription, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return errors.Wrap(err, "failed to list subscriptions")
		}
		if subscription.ID() == s.subscription.ID() {
			return nil
		}
	}
	_, err := s.googlePubSubClient.CreateSubscription(ctx, s.subscription.ID(), pubsub.SubscriptionConfig{
		Topic:               s.topic,
		RetainAckedMessages: false,
		AckDeadline:         ackDeadline,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create subscription %s", s.subscription.ID())
	}
	return nil
}
