// internal/pipeline/pipeline_test.go
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collab-sync/internal/model"
)

type MockTeamStore struct {
	mock.Mock
}

func (m *MockTeamStore) SaveTeamPipeline(ctx context.Context, team *model.Team) error {
	return m.Called(ctx, team).Error(0)
}

type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, job Job) error {
	return m.Called(ctx, job).Error(0)
}

var machineClock = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestMachine(st *MockTeamStore, q *MockQueue) *Machine {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return &Machine{store: st, queue: q, logger: logger, now: func() time.Time { return machineClock }}
}

func team(status model.PipelineStatus) *model.Team {
	return &model.Team{ID: 42, Name: "platform", OnboardingPipelineStatus: status}
}

func TestTransition_DispatchOncePerChange(t *testing.T) {
	ctx := context.Background()

	t.Run("first transition dispatches", func(t *testing.T) {
		st := new(MockTeamStore)
		q := new(MockQueue)
		m := newTestMachine(st, q)

		st.On("SaveTeamPipeline", ctx, mock.Anything).Return(nil).Once()
		q.On("Enqueue", ctx, Job{Kind: JobMemberSync, TeamID: 42}).Return(nil).Once()

		tm := team(model.PipelineNotStarted)
		require.NoError(t, m.Transition(ctx, tm, model.PipelineSyncingMembers, ""))

		assert.Equal(t, model.PipelineSyncingMembers, tm.OnboardingPipelineStatus)
		st.AssertExpectations(t)
		q.AssertExpectations(t)
	})

	t.Run("repeating the same status persists but does not re-dispatch", func(t *testing.T) {
		st := new(MockTeamStore)
		q := new(MockQueue)
		m := newTestMachine(st, q)

		st.On("SaveTeamPipeline", ctx, mock.Anything).Return(nil).Twice()
		q.On("Enqueue", ctx, mock.Anything).Return(nil).Once()

		tm := team(model.PipelineNotStarted)
		require.NoError(t, m.Transition(ctx, tm, model.PipelineSyncingMembers, ""))
		require.NoError(t, m.Transition(ctx, tm, model.PipelineSyncingMembers, ""))

		q.AssertNumberOfCalls(t, "Enqueue", 1)
		st.AssertExpectations(t)
	})
}

func TestTransition_TerminalNoDispatch(t *testing.T) {
	ctx := context.Background()

	for _, terminal := range []model.PipelineStatus{model.PipelineComplete, model.PipelineFailed} {
		t.Run(string(terminal), func(t *testing.T) {
			st := new(MockTeamStore)
			q := new(MockQueue)
			m := newTestMachine(st, q)

			st.On("SaveTeamPipeline", ctx, mock.Anything).Return(nil).Once()

			tm := team(model.PipelineBackgroundLLM)
			require.NoError(t, m.Transition(ctx, tm, terminal, "boom"))

			require.NotNil(t, tm.OnboardingPipelineCompletedAt)
			assert.Equal(t, machineClock, *tm.OnboardingPipelineCompletedAt)
			q.AssertNotCalled(t, "Enqueue")
		})
	}
}

func TestTransition_ErrorField(t *testing.T) {
	ctx := context.Background()
	st := new(MockTeamStore)
	q := new(MockQueue)
	m := newTestMachine(st, q)

	st.On("SaveTeamPipeline", ctx, mock.Anything).Return(nil)
	q.On("Enqueue", ctx, mock.Anything).Return(nil)

	tm := team(model.PipelineSyncing)
	require.NoError(t, m.Transition(ctx, tm, model.PipelineFailed, "provider unreachable"))
	require.NotNil(t, tm.OnboardingPipelineError)
	assert.Equal(t, "provider unreachable", *tm.OnboardingPipelineError)

	// Any non-failed transition clears the error.
	tm2 := team(model.PipelineFailed)
	tm2.OnboardingPipelineError = strPtr("stale")
	require.NoError(t, m.Transition(ctx, tm2, model.PipelineSyncingMembers, ""))
	assert.Nil(t, tm2.OnboardingPipelineError)
}

func TestTransition_StartedAtSetOnce(t *testing.T) {
	ctx := context.Background()
	st := new(MockTeamStore)
	q := new(MockQueue)
	m := newTestMachine(st, q)

	st.On("SaveTeamPipeline", ctx, mock.Anything).Return(nil)
	q.On("Enqueue", ctx, mock.Anything).Return(nil)

	tm := team(model.PipelineSyncingMembers)
	require.NoError(t, m.Transition(ctx, tm, model.PipelineSyncing, ""))
	require.NotNil(t, tm.OnboardingPipelineStartedAt)
	first := *tm.OnboardingPipelineStartedAt

	// A later re-entry into syncing must not reset the start time.
	earlier := machineClock.Add(-time.Hour)
	tm.OnboardingPipelineStartedAt = &earlier
	require.NoError(t, m.Transition(ctx, tm, model.PipelineSyncing, ""))
	assert.Equal(t, earlier, *tm.OnboardingPipelineStartedAt)
	assert.Equal(t, machineClock, first)
}

func TestTransition_DispatchFailureDoesNotPropagate(t *testing.T) {
	ctx := context.Background()
	st := new(MockTeamStore)
	q := new(MockQueue)
	m := newTestMachine(st, q)

	st.On("SaveTeamPipeline", ctx, mock.Anything).Return(nil).Once()
	q.On("Enqueue", ctx, mock.Anything).Return(errors.New("queue full")).Once()

	tm := team(model.PipelineNotStarted)
	err := m.Transition(ctx, tm, model.PipelineSyncingMembers, "")

	require.NoError(t, err, "dispatch failure never surfaces")
	assert.Equal(t, model.PipelineSyncingMembers, tm.OnboardingPipelineStatus, "recorded transition stands")
	st.AssertExpectations(t)
}

func TestTransition_PersistFailurePropagates(t *testing.T) {
	ctx := context.Background()
	st := new(MockTeamStore)
	q := new(MockQueue)
	m := newTestMachine(st, q)

	st.On("SaveTeamPipeline", ctx, mock.Anything).Return(errors.New("db down")).Once()

	tm := team(model.PipelineNotStarted)
	err := m.Transition(ctx, tm, model.PipelineSyncingMembers, "")

	require.Error(t, err)
	q.AssertNotCalled(t, "Enqueue", "no dispatch before the write is durable")
}

func TestDispatchTable(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		status model.PipelineStatus
		want   Job
	}{
		{model.PipelineSyncingMembers, Job{Kind: JobMemberSync, TeamID: 42}},
		{model.PipelineSyncing, Job{Kind: JobHistoricalSync, TeamID: 42, DaysBack: 30, SkipRecent: 0}},
		{model.PipelineLLMProcessing, Job{Kind: JobAIAnalysis, TeamID: 42}},
		{model.PipelineComputingMetrics, Job{Kind: JobMetricAggregation, TeamID: 42}},
		{model.PipelineComputingInsights, Job{Kind: JobInsightComputation, TeamID: 42}},
		{model.PipelinePhase1Complete, Job{Kind: JobPhase2Kickoff, TeamID: 42}},
		{model.PipelineBackgroundSyncing, Job{Kind: JobHistoricalSync, TeamID: 42, DaysBack: 90, SkipRecent: 30}},
		{model.PipelineBackgroundLLM, Job{Kind: JobAIAnalysis, TeamID: 42}},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			st := new(MockTeamStore)
			q := new(MockQueue)
			m := newTestMachine(st, q)

			st.On("SaveTeamPipeline", ctx, mock.Anything).Return(nil).Once()
			q.On("Enqueue", ctx, tt.want).Return(nil).Once()

			require.NoError(t, m.Transition(ctx, team(model.PipelineNotStarted), tt.status, ""))
			q.AssertExpectations(t)
		})
	}
}

func strPtr(s string) *string { return &s }
