package mocks

import (
	"context"
	"sync"

	"github.com/Vinubaba/kids-checkin/common/checkin"

	"github.com/stretchr/testify/mock"
)

type MockPublisher struct {
	mock.Mock

	mu     sync.Mutex
	events []checkin.StatusEvent
}

func (m *MockPublisher) Publish(ctx context.Context, event checkin.StatusEvent) {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	m.Called(ctx, event)
}

// Events returns what was published so far, in order.
func (m *MockPublisher) Events() []checkin.StatusEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]checkin.StatusEvent{}, m.events...)
}

// Statuses returns the new status of every published event, in order.
func (m *MockPublisher) Statuses() []string {
	statuses := []string{}
	for _, event := range m.Events() {
		statuses = append(statuses, event.NewStatus)
	}
	return statuses
}
