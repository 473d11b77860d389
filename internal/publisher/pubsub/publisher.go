// Package pubsub implements a Google Cloud Pub/Sub publisher.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/telemetry"
)

// Publisher sends JSON payloads with ordering keys. One topic publisher is
// kept per topic.
type Publisher struct {
	client    *pubsub.Client
	projectID string
	logger    *zap.Logger

	mu         sync.Mutex
	publishers map[string]*pubsub.Publisher
}

// New creates a Publisher over an existing client.
func New(client *pubsub.Client, projectID string, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:     client,
		projectID:  projectID,
		logger:     logger.Named("pubsub_publisher"),
		publishers: map[string]*pubsub.Publisher{},
	}
}

// TopicName expands a topic id into its fully qualified name.
func TopicName(projectID, topic string) string {
	if strings.HasPrefix(topic, "projects/") {
		return topic
	}
	return fmt.Sprintf("projects/%s/topics/%s", projectID, topic)
}

// EnsureTopic creates the topic unless it already exists.
func EnsureTopic(ctx context.Context, client *pubsub.Client, projectID, topic string) error {
	_, err := client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{Name: TopicName(projectID, topic)})
	if err != nil && status.Code(err) != codes.AlreadyExists {
		return fmt.Errorf("create topic %s: %w", topic, err)
	}
	return nil
}

// Publish marshals the payload to JSON and publishes it to the topic.
// Messages sharing orderingKey are delivered in publish order.
func (p *Publisher) Publish(ctx context.Context, topic string, orderingKey string, payload any) (string, error) {
	if p.client == nil {
		return "", &catalog.PublishError{Kind: catalog.PublishPermanent, Topic: topic, Err: errors.New("pubsub client is not configured")}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", &catalog.PublishError{Kind: catalog.PublishPermanent, Topic: topic, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	msg := &pubsub.Message{
		Data:        data,
		OrderingKey: orderingKey,
		Attributes:  telemetry.Inject(ctx, nil),
	}
	pub := p.topicPublisher(topic)
	id, err := pub.Publish(ctx, msg).Get(ctx)
	if err != nil {
		if orderingKey != "" {
			// A failed ordered publish pauses the key until resumed.
			pub.ResumePublish(orderingKey)
		}
		return "", &catalog.PublishError{Kind: classify(err), Topic: topic, Err: err}
	}
	return id, nil
}

// Close flushes and stops every topic publisher.
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, pub := range p.publishers {
		pub.Stop()
		delete(p.publishers, name)
	}
}

func (p *Publisher) topicPublisher(topic string) *pubsub.Publisher {
	name := TopicName(p.projectID, topic)
	p.mu.Lock()
	defer p.mu.Unlock()
	if pub, ok := p.publishers[name]; ok {
		return pub
	}
	pub := p.client.Publisher(name)
	pub.EnableMessageOrdering = true
	p.publishers[name] = pub
	p.logger.Debug("topic publisher created", zap.String("topic", name))
	return pub
}

// classify maps gRPC failures onto the publish error kinds.
func classify(err error) catalog.PublishErrorKind {
	switch status.Code(err) {
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return catalog.PublishPermanent
	default:
		return catalog.PublishTransient
	}
}
