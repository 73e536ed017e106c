package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/benmeehan/router-agent/pkg/router"
)

// MockSessionOpener is a mock implementation of the SessionOpener interface
type MockSessionOpener struct {
	mock.Mock
}

func (m *MockSessionOpener) Connect(ctx context.Context, host string, kind router.Kind) (*router.Session, error) {
	args := m.Called(ctx, host, kind)
	session, _ := args.Get(0).(*router.Session)
	return session, args.Error(1)
}
