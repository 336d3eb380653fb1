package mocks

import (
	"context"

	"firebase.google.com/go/auth"
	"github.com/stretchr/testify/mock"
)

type MockFirebaseClient struct {
	mock.Mock
}

func (m *MockFirebaseClient) VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error) {
	args := m.Called(ctx, idToken)
	token, _ := args.Get(0).(*auth.Token)
	return token, args.Error(1)
}

func (m *MockFirebaseClient) GetUser(ctx context.Context, uid string) (*auth.UserRecord, error) {
	args := m.Called(ctx, uid)
	user, _ := args.Get(0).(*auth.UserRecord)
	return user, args.Error(1)
}

func (m *MockFirebaseClient) SetCustomUserClaims(ctx context.Context, uid string, customClaims map[string]interface{}) error {
	args := m.Called(ctx, uid, customClaims)
	return args.Error(0)
}
