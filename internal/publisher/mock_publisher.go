package publisher

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockPublisher is a testify mock of catalog.Publisher.
type MockPublisher struct {
	mock.Mock
}

// Publish is the mock implementation of the Publish method.
func (m *MockPublisher) Publish(ctx context.Context, topic string, orderingKey string, payload any) (string, error) {
	args := m.Called(ctx, topic, orderingKey, payload)
	return args.String(0), args.Error(1)
}
