// Package memory contains an in-process publisher for local runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/metal-release-crawler/internal/catalog"
	"github.com/JakeFAU/metal-release-crawler/internal/queue"
	queuememory "github.com/JakeFAU/metal-release-crawler/internal/queue/memory"
	"github.com/JakeFAU/metal-release-crawler/internal/telemetry"
)

// Publisher records published payloads and forwards them to bound queues.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	queues   map[string]*queuememory.Queue

	failErr   error
	failTimes int
}

// PublishedMessage captures one publish call.
type PublishedMessage struct {
	ID          string
	Topic       string
	OrderingKey string
	Data        []byte
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{queues: map[string]*queuememory.Queue{}}
}

// Bind delivers every later publish on topic into q.
func (p *Publisher) Bind(topic string, q *queuememory.Queue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues[topic] = q
}

// FailNext makes the next n publishes return err. A negative n fails every
// publish until FailNext is called again.
func (p *Publisher) FailNext(err error, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failErr = err
	p.failTimes = n
}

// Publish encodes payload to JSON, records it and returns a pseudo ID.
func (p *Publisher) Publish(ctx context.Context, topic string, orderingKey string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", &catalog.PublishError{Kind: catalog.PublishPermanent, Topic: topic, Err: fmt.Errorf("marshal payload: %w", err)}
	}

	p.mu.Lock()
	if p.failTimes != 0 {
		if p.failTimes > 0 {
			p.failTimes--
		}
		err := p.failErr
		p.mu.Unlock()
		return "", err
	}
	id := fmt.Sprintf("memory-%d", len(p.messages)+1)
	p.messages = append(p.messages, PublishedMessage{ID: id, Topic: topic, OrderingKey: orderingKey, Data: data})
	q := p.queues[topic]
	p.mu.Unlock()

	if q != nil {
		msg := queue.Message{
			ID:          id,
			Data:        data,
			OrderingKey: orderingKey,
			Attributes:  telemetry.Inject(ctx, nil),
		}
		if err := q.Enqueue(ctx, msg); err != nil {
			return "", &catalog.PublishError{Kind: catalog.PublishTransient, Topic: topic, Err: err}
		}
	}
	return id, nil
}

// Messages returns the recorded publishes.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// Decode unmarshals the i-th recorded message into v.
func (p *Publisher) Decode(i int, v any) error {
	msgs := p.Messages()
	if i < 0 || i >= len(msgs) {
		return fmt.Errorf("message %d not recorded", i)
	}
	return json.Unmarshal(msgs[i].Data, v)
}
