package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
)

// MessageCarrier adapts message attributes to propagation.TextMapCarrier.
type MessageCarrier map[string]string

// Get implements propagation.TextMapCarrier.
func (c MessageCarrier) Get(key string) string { return c[key] }

// Set implements propagation.TextMapCarrier.
func (c MessageCarrier) Set(key, value string) { c[key] = value }

// Keys implements propagation.TextMapCarrier.
func (c MessageCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// Inject writes the trace context of ctx into attrs, allocating when nil.
func Inject(ctx context.Context, attrs map[string]string) map[string]string {
	if attrs == nil {
		attrs = map[string]string{}
	}
	otel.GetTextMapPropagator().Inject(ctx, MessageCarrier(attrs))
	return attrs
}

// Extract returns ctx enriched with the trace context found in attrs.
func Extract(ctx context.Context, attrs map[string]string) context.Context {
	if len(attrs) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, MessageCarrier(attrs))
}
