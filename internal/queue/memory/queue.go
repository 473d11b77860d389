// Package memory provides an in-process queue for local runs and tests.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/metal-release-crawler/internal/queue"
)

// ErrClosed is returned once the queue has been closed.
var ErrClosed = errors.New("queue closed")

// DefaultMaxDeliveries bounds redelivery of a message that keeps failing.
const DefaultMaxDeliveries = 5

// Option customizes a Queue.
type Option func(*Queue)

// WithMaxDeliveries sets how many times a message is handed out before it
// is dropped into the dead-letter list.
func WithMaxDeliveries(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxDeliveries = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// Queue is a bounded in-memory queue with context-aware operations. Receive
// handles one message at a time, so ordering keys are trivially respected.
type Queue struct {
	ch            chan queue.Message
	maxDeliveries int
	logger        *zap.Logger

	closeMu sync.RWMutex
	closed  bool

	// pending holds nacked messages. Receive drains it before the channel
	// so redelivery never blocks on a full buffer or fails after Close.
	pendingMu sync.Mutex
	pending   []queue.Message

	deadMu sync.Mutex
	dead   []queue.Message
}

// NewQueue constructs a new queue with the provided capacity.
func NewQueue(capacity int, opts ...Option) *Queue {
	q := &Queue{
		ch:            make(chan queue.Message, capacity),
		maxDeliveries: DefaultMaxDeliveries,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.Named("memory_queue")
	return q
}

// Enqueue pushes a message into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, msg queue.Message) error {
	// The read lock keeps Close from racing a pending send.
	q.closeMu.RLock()
	defer q.closeMu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	if msg.DeliveryAttempt < 1 {
		msg.DeliveryAttempt = 1
	}
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- msg:
		return nil
	}
}

// Dequeue pops the next message, respecting context cancellation.
func (q *Queue) Dequeue(ctx context.Context) (queue.Message, error) {
	select {
	case <-ctx.Done():
		return queue.Message{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	case msg, ok := <-q.ch:
		if !ok {
			return queue.Message{}, ErrClosed
		}
		return msg, nil
	}
}

// Len reports the number of messages waiting, redeliveries included.
func (q *Queue) Len() int {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	return len(q.ch) + len(q.pending)
}

func (q *Queue) requeue(msg queue.Message) {
	q.pendingMu.Lock()
	q.pending = append(q.pending, msg)
	q.pendingMu.Unlock()
}

func (q *Queue) nextPending() (queue.Message, bool) {
	q.pendingMu.Lock()
	defer q.pendingMu.Unlock()
	if len(q.pending) == 0 {
		return queue.Message{}, false
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	return msg, true
}

func (q *Queue) next(ctx context.Context) (queue.Message, error) {
	if ctx.Err() != nil {
		return queue.Message{}, fmt.Errorf("dequeue canceled: %w", ctx.Err())
	}
	if msg, ok := q.nextPending(); ok {
		return msg, nil
	}
	return q.Dequeue(ctx)
}

// Receive implements queue.Subscriber. A handler error puts the message back
// with its attempt counter raised, ahead of anything still buffered. It
// returns nil when ctx ends or the queue is closed and drained.
func (q *Queue) Receive(ctx context.Context, handler queue.Handler) error {
	for {
		msg, err := q.next(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		herr := handler(ctx, msg)
		if herr == nil {
			continue
		}
		if msg.DeliveryAttempt >= q.maxDeliveries {
			q.logger.Error("message dead-lettered",
				zap.String("message_id", msg.ID),
				zap.Int("attempts", msg.DeliveryAttempt),
				zap.Error(herr))
			q.deadMu.Lock()
			q.dead = append(q.dead, msg)
			q.deadMu.Unlock()
			continue
		}
		q.logger.Warn("message nacked",
			zap.String("message_id", msg.ID),
			zap.Int("attempt", msg.DeliveryAttempt),
			zap.Error(herr))
		msg.DeliveryAttempt++
		q.requeue(msg)
	}
}

// DeadLetters returns messages that exhausted their deliveries.
func (q *Queue) DeadLetters() []queue.Message {
	q.deadMu.Lock()
	defer q.deadMu.Unlock()
	out := make([]queue.Message, len(q.dead))
	copy(out, q.dead)
	return out
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.closeMu.Lock()
	defer q.closeMu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}
