// Package mocks provides test doubles for the agmarknet client.
package mocks

import (
	"context"

	agmarknet "github.com/sells-group/cropprice/pkg/agmarknet"
	mock "github.com/stretchr/testify/mock"
)

// MockClient is a mock type for the Client interface.
type MockClient struct {
	mock.Mock
}

// Records provides a mock function with given fields: ctx, q
func (_m *MockClient) Records(ctx context.Context, q agmarknet.Query) (*agmarknet.Page, error) {
	ret := _m.Called(ctx, q)

	if len(ret) == 0 {
		panic("no return value specified for Records")
	}

	var r0 *agmarknet.Page
	var r1 error
	if rf, ok := ret.Get(0).(func(context.Context, agmarknet.Query) (*agmarknet.Page, error)); ok {
		return rf(ctx, q)
	}
	if rf, ok := ret.Get(0).(func(context.Context, agmarknet.Query) *agmarknet.Page); ok {
		r0 = rf(ctx, q)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(*agmarknet.Page)
		}
	}

	if rf, ok := ret.Get(1).(func(context.Context, agmarknet.Query) error); ok {
		r1 = rf(ctx, q)
	} else {
		r1 = ret.Error(1)
	}

	return r0, r1
}

// NewMockClient creates a new instance of MockClient.
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	mock := &MockClient{}
	mock.Test(t)

	t.Cleanup(func() { mock.AssertExpectations(t) })

	return mock
}
