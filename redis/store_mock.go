package redis

// Defines a mock for the durable SessionStore collaborator.

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// mockSessionStore is a mock durable session store.
type mockSessionStore struct {
	mock.Mock
}

func (ms *mockSessionStore) ValidateSession(ctx context.Context, token string) (*Session, error) {
	arguments := ms.Called(token)
	session, _ := arguments.Get(0).(*Session)
	return session, arguments.Error(1)
}
