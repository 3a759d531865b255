package mocks

import (
	"context"

	"github.com/dukex/sellflow/pkg/models"
	"github.com/dukex/sellflow/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock
}

func (m *MockPersistence) RunRepository() persistence.RunRepository {
	args := m.Called()

	repo, _ := args.Get(0).(persistence.RunRepository)

	return repo
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

// MockRunRepository is a mock implementation of persistence.RunRepository interface.
type MockRunRepository struct {
	mock.Mock
}

func (m *MockRunRepository) Save(ctx context.Context, snap models.RunSnapshot) error {
	args := m.Called(ctx, snap)

	return args.Error(0)
}

func (m *MockRunRepository) GetByID(ctx context.Context, id string) (*models.RunSnapshot, error) {
	args := m.Called(ctx, id)

	snap, _ := args.Get(0).(*models.RunSnapshot)

	return snap, args.Error(1)
}

func (m *MockRunRepository) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)

	return args.Error(0)
}

func (m *MockRunRepository) List(ctx context.Context) ([]*models.RunSnapshot, error) {
	args := m.Called(ctx)

	runs, _ := args.Get(0).([]*models.RunSnapshot)

	return runs, args.Error(1)
}
