package vectorstore

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of Store using testify/mock.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) EnsureCollection(ctx context.Context, collection string) error {
	args := m.Called(ctx, collection)
	return args.Error(0)
}

func (m *MockStore) Upsert(ctx context.Context, collection string, records []Record) error {
	args := m.Called(ctx, collection, records)
	return args.Error(0)
}

func (m *MockStore) Search(ctx context.Context, collection string, q Query) ([]Document, error) {
	args := m.Called(ctx, collection, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Document), args.Error(1)
}

func (m *MockStore) PolicyTypes(ctx context.Context, collection string) ([]string, error) {
	args := m.Called(ctx, collection)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
