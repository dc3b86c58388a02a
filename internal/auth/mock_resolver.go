package auth

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockSessionResolver struct {
	mock.Mock
}

func (m *MockSessionResolver) Resolve(ctx context.Context, token string) (Session, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(Session), args.Error(1)
}
