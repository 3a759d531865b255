package mocks

import (
	"context"

	"github.com/dukex/sellflow/pkg/remote"
	"github.com/stretchr/testify/mock"
)

// MockInvoker is a mock implementation of remote.Invoker interface.
type MockInvoker struct {
	mock.Mock
}

func (m *MockInvoker) Invoke(ctx context.Context, req remote.Request) (*remote.Response, error) {
	args := m.Called(ctx, req)

	resp, _ := args.Get(0).(*remote.Response)

	return resp, args.Error(1)
}
