package queue

import (
	"context"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JakeFAU/metal-release-crawler/internal/telemetry"
)

// PubSubConfig tunes flow control of a Pub/Sub subscription.
type PubSubConfig struct {
	// MaxOutstanding caps unacknowledged messages held by this process.
	MaxOutstanding int
}

// PubSubSubscriber receives from a Pub/Sub subscription.
type PubSubSubscriber struct {
	sub    *pubsub.Subscriber
	logger *zap.Logger
}

// NewPubSubSubscriber wraps the subscription named subscription.
func NewPubSubSubscriber(client *pubsub.Client, subscription string, cfg PubSubConfig, logger *zap.Logger) (*PubSubSubscriber, error) {
	if client == nil {
		return nil, errors.New("pubsub client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sub := client.Subscriber(subscription)
	if cfg.MaxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstanding
	}
	return &PubSubSubscriber{sub: sub, logger: logger.Named("pubsub_subscriber")}, nil
}

// EnsureSubscription creates an ordered subscription on topic unless one
// already exists. Names must be fully qualified.
func EnsureSubscription(ctx context.Context, client *pubsub.Client, subscription, topic string) error {
	_, err := client.SubscriptionAdminClient.CreateSubscription(ctx, &pubsubpb.Subscription{
		Name:                  subscription,
		Topic:                 topic,
		EnableMessageOrdering: true,
	})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("create subscription %s: %w", subscription, err)
	}
	return nil
}

// Receive implements Subscriber. Handler errors nack the message.
func (s *PubSubSubscriber) Receive(ctx context.Context, handler Handler) error {
	err := s.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		ctx = telemetry.Extract(ctx, m.Attributes)
		attempt := 1
		if m.DeliveryAttempt != nil {
			attempt = *m.DeliveryAttempt
		}
		msg := Message{
			ID:              m.ID,
			Data:            m.Data,
			Attributes:      m.Attributes,
			OrderingKey:     m.OrderingKey,
			DeliveryAttempt: attempt,
		}
		if err := handler(ctx, msg); err != nil {
			s.logger.Warn("message nacked",
				zap.String("message_id", m.ID),
				zap.String("ordering_key", m.OrderingKey),
				zap.Error(err))
			m.Nack()
			return
		}
		m.Ack()
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("receive: %w", err)
	}
	return nil
}
