package media

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) Save(ctx context.Context, data []byte, mimeType string) (string, error) {
	args := m.Called(ctx, data, mimeType)
	return args.String(0), args.Error(1)
}
