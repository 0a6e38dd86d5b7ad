package mocks

import (
	"context"
	"storyteller/prompt-compiler/internal/fillin"

	"github.com/stretchr/testify/mock"
)

// MockFillClient is a mock type for the fillin.Client type
type MockFillClient struct {
	mock.Mock
}

// Complete provides a mock function with given fields: ctx, systemPrompt, userPrompt
func (_m *MockFillClient) Complete(ctx context.Context, systemPrompt string, userPrompt string) (string, error) {
	ret := _m.Called(ctx, systemPrompt, userPrompt)

	var r0 string
	if rf, ok := ret.Get(0).(func(context.Context, string, string) string); ok {
		r0 = rf(ctx, systemPrompt, userPrompt)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).(string)
		}
	}

	var r1 error
	if rf, ok := ret.Get(1).(func(context.Context, string, string) error); ok {
		r1 = rf(ctx, systemPrompt, userPrompt)
	} else {
		err := ret.Error(1)
		if err != nil {
			r1 = err
		}
	}

	return r0, r1
}

// NewMockFillClient creates a new instance of MockFillClient. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockFillClient(t interface {
	mock.TestingT
	Helper()
}) *MockFillClient {
	m := &MockFillClient{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ fillin.Client = (*MockFillClient)(nil)
