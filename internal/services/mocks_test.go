package services

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CheckoutSession), args.Error(1)
}

type publishedEvent struct {
	topic string
	event Event
}

// stubBroadcaster records published events so tests can assert on the
// notifications an operation emits.
type stubBroadcaster struct {
	events []publishedEvent
}

func (b *stubBroadcaster) Publish(ctx context.Context, topic string, event Event) {
	b.events = append(b.events, publishedEvent{topic: topic, event: event})
}

func (b *stubBroadcaster) lastEvent() *Event {
	if len(b.events) == 0 {
		return nil
	}
	return &b.events[len(b.events)-1].event
}
