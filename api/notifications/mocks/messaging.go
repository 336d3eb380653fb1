package mocks

import (
	"context"

	"github.com/Vinubaba/kids-checkin/common/messaging"

	"github.com/stretchr/testify/mock"
)

type MockMessagingClient struct {
	mock.Mock
}

func (m *MockMessagingClient) Publish(ctx context.Context, message messaging.Message) error {
	args := m.Called(ctx, message)
	return args.Error(0)
}

func (m *MockMessagingClient) Subscribe(ctx context.Context, callback messaging.SubscribeCallbackFunc) error {
	args := m.Called(ctx, callback)
	return args.Error(0)
}
