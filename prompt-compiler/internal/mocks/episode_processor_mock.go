package mocks

import (
	"context"
	"storyteller/prompt-compiler/internal/pipeline"
	"storyteller/prompt-compiler/internal/worker"
	"storyteller/shared/messaging"

	"github.com/stretchr/testify/mock"
)

// MockEpisodeProcessor is a mock type for the worker.EpisodeProcessor type
type MockEpisodeProcessor struct {
	mock.Mock
}

// ProcessEpisode provides a mock function with given fields: ctx, task
func (_m *MockEpisodeProcessor) ProcessEpisode(ctx context.Context, task messaging.EpisodeBeatsTaskPayload) []pipeline.BeatOutcome {
	ret := _m.Called(ctx, task)

	var r0 []pipeline.BeatOutcome
	if rf, ok := ret.Get(0).(func(context.Context, messaging.EpisodeBeatsTaskPayload) []pipeline.BeatOutcome); ok {
		r0 = rf(ctx, task)
	} else {
		if ret.Get(0) != nil {
			r0 = ret.Get(0).([]pipeline.BeatOutcome)
		}
	}

	return r0
}

// NewMockEpisodeProcessor creates a new instance of MockEpisodeProcessor. It also registers a testing interface on the mock and a cleanup function to assert the mocks expectations.
// The first argument is typically a *testing.T value.
func NewMockEpisodeProcessor(t interface {
	mock.TestingT
	Helper()
}) *MockEpisodeProcessor {
	m := &MockEpisodeProcessor{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ worker.EpisodeProcessor = (*MockEpisodeProcessor)(nil)
