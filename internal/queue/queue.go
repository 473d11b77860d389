// Package queue defines how consumers receive messages from the channel.
// Implementations exist for Google Cloud Pub/Sub and for in-process use.
package queue

import (
	"context"
)

// Message is one delivery from a subscription.
type Message struct {
	ID          string
	Data        []byte
	Attributes  map[string]string
	OrderingKey string
	// DeliveryAttempt starts at 1 and grows on each redelivery.
	DeliveryAttempt int
}

// Handler processes one message. Returning nil acknowledges it; any error
// leaves it unacknowledged for redelivery.
type Handler func(ctx context.Context, msg Message) error

// Subscriber delivers messages to a handler until ctx ends. Messages with
// the same ordering key are handed over one at a time, in publish order.
type Subscriber interface {
	Receive(ctx context.Context, handler Handler) error
}
