package mocks

import (
	"context"

	"github.com/Vinubaba/kids-checkin/common/api"

	"github.com/stretchr/testify/mock"
)

type MockApiClient struct {
	mock.Mock
}

func (m *MockApiClient) CreateRequest(ctx context.Context, request api.CreateRequestTransport) (api.RequestTransport, error) {
	args := m.Called(ctx, request)
	return args.Get(0).(api.RequestTransport), args.Error(1)
}

func (m *MockApiClient) GetRequest(ctx context.Context, requestId string) (api.RequestTransport, error) {
	args := m.Called(ctx, requestId)
	return args.Get(0).(api.RequestTransport), args.Error(1)
}

func (m *MockApiClient) Cancel(ctx context.Context, requestId string) (api.RequestTransport, error) {
	args := m.Called(ctx, requestId)
	return args.Get(0).(api.RequestTransport), args.Error(1)
}

func (m *MockApiClient) Approve(ctx context.Context, token string, decision api.DecisionTransport) (api.ApprovalTransport, error) {
	args := m.Called(ctx, token, decision)
	return args.Get(0).(api.ApprovalTransport), args.Error(1)
}

func (m *MockApiClient) Reject(ctx context.Context, token string, decision api.DecisionTransport) (api.RequestTransport, error) {
	args := m.Called(ctx, token, decision)
	return args.Get(0).(api.RequestTransport), args.Error(1)
}

func (m *MockApiClient) CheckIn(ctx context.Context, checkIn api.CheckInTransport) (api.ApprovalTransport, error) {
	args := m.Called(ctx, checkIn)
	return args.Get(0).(api.ApprovalTransport), args.Error(1)
}

func (m *MockApiClient) CheckOut(ctx context.Context, childId string, checkOut api.CheckOutTransport) (api.CheckOutResultTransport, error) {
	args := m.Called(ctx, childId, checkOut)
	return args.Get(0).(api.CheckOutResultTransport), args.Error(1)
}

func (m *MockApiClient) GetChild(ctx context.Context, childId string) (api.ChildStatusTransport, error) {
	args := m.Called(ctx, childId)
	return args.Get(0).(api.ChildStatusTransport), args.Error(1)
}

func (m *MockApiClient) ListServices(ctx context.Context) ([]api.ServiceTransport, error) {
	args := m.Called(ctx)
	return args.Get(0).([]api.ServiceTransport), args.Error(1)
}
