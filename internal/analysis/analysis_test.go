// internal/analysis/analysis_test.go
package analysis

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"collab-sync/internal/model"
	"collab-sync/internal/normalize"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListPullRequestsForAnalysis(ctx context.Context, teamID int64, limit int) ([]model.PullRequest, error) {
	args := m.Called(ctx, teamID, limit)
	prs, _ := args.Get(0).([]model.PullRequest)
	return prs, args.Error(1)
}
func (m *MockStore) MarkPullRequestAnalyzed(ctx context.Context, prID int64, assisted bool, tools []string, at time.Time) error {
	return m.Called(ctx, prID, assisted, tools, at).Error(0)
}
func (m *MockStore) UpdateTeamLLMProgress(ctx context.Context, teamID int64, percent int) error {
	return m.Called(ctx, teamID, percent).Error(0)
}
func (m *MockStore) AggregateWeeklyMetrics(ctx context.Context, teamID int64) (int, error) {
	args := m.Called(ctx, teamID)
	return args.Int(0), args.Error(1)
}
func (m *MockStore) ListWeeklyMetrics(ctx context.Context, teamID int64) ([]model.WeeklyMetric, error) {
	args := m.Called(ctx, teamID)
	metrics, _ := args.Get(0).([]model.WeeklyMetric)
	return metrics, args.Error(1)
}
func (m *MockStore) ReplaceInsights(ctx context.Context, teamID int64, insights []model.Insight) error {
	return m.Called(ctx, teamID, insights).Error(0)
}

var clock = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

func newTestService(st *MockStore) *Service {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return &Service{
		store:    st,
		detector: normalize.NewPatternDetector(),
		logger:   logger,
		now:      func() time.Time { return clock },
	}
}

func TestRunAIBatch(t *testing.T) {
	st := new(MockStore)
	svc := newTestService(st)
	ctx := context.Background()

	prs := []model.PullRequest{
		{ID: 1, TeamID: 3, Title: "Fix login", Body: "plain change", AuthorLogin: "alice"},
		{ID: 2, TeamID: 3, Title: "Add cache", Body: "Generated with Claude Code", AuthorLogin: "bob"},
	}
	st.On("ListPullRequestsForAnalysis", ctx, int64(3), analysisBatchSize).Return(prs, nil).Once()
	st.On("MarkPullRequestAnalyzed", ctx, int64(1), false, mock.Anything, clock).Return(nil).Once()
	st.On("MarkPullRequestAnalyzed", ctx, int64(2), true, []string{"claude"}, clock).Return(nil).Once()
	st.On("UpdateTeamLLMProgress", ctx, int64(3), 100).Return(nil).Once()

	require.NoError(t, svc.RunAIBatch(ctx, 3))
	st.AssertExpectations(t)
}

func TestRunAIBatch_ProgressRisesAcrossBatches(t *testing.T) {
	// Two full batches then a final partial one. The intermediate percentage
	// must climb between batches, never repeat a constant.
	st := new(MockStore)
	svc := newTestService(st)
	ctx := context.Background()

	mkBatch := func(startID int64, n int) []model.PullRequest {
		prs := make([]model.PullRequest, n)
		for i := range prs {
			prs[i] = model.PullRequest{ID: startID + int64(i), TeamID: 3, Title: "change"}
		}
		return prs
	}

	st.On("ListPullRequestsForAnalysis", ctx, int64(3), analysisBatchSize).
		Return(mkBatch(1, analysisBatchSize), nil).Once()
	st.On("ListPullRequestsForAnalysis", ctx, int64(3), analysisBatchSize).
		Return(mkBatch(1000, analysisBatchSize), nil).Once()
	st.On("ListPullRequestsForAnalysis", ctx, int64(3), analysisBatchSize).
		Return(mkBatch(2000, 1), nil).Once()
	st.On("MarkPullRequestAnalyzed", ctx, mock.Anything, false, mock.Anything, clock).Return(nil)

	var percents []int
	st.On("UpdateTeamLLMProgress", ctx, int64(3), mock.Anything).
		Run(func(args mock.Arguments) {
			percents = append(percents, args.Int(2))
		}).Return(nil).Times(3)

	require.NoError(t, svc.RunAIBatch(ctx, 3))

	assert.Equal(t, []int{50, 66, 100}, percents)
	st.AssertExpectations(t)
}

func TestComputeInsights(t *testing.T) {
	st := new(MockStore)
	svc := newTestService(st)
	ctx := context.Background()

	cycle := 30.0
	metrics := []model.WeeklyMetric{
		{TeamID: 3, PRsOpened: 8, PRsMerged: 6, AIAssistedCount: 2, AvgCycleTimeHours: &cycle},
		{TeamID: 3, PRsOpened: 2, PRsMerged: 2, AIAssistedCount: 3},
	}
	st.On("ListWeeklyMetrics", ctx, int64(3)).Return(metrics, nil).Once()

	var saved []model.Insight
	st.On("ReplaceInsights", ctx, int64(3), mock.Anything).Run(func(args mock.Arguments) {
		saved = args.Get(2).([]model.Insight)
	}).Return(nil).Once()

	require.NoError(t, svc.ComputeInsights(ctx, 3))

	require.Len(t, saved, 3)
	kinds := []string{saved[0].Kind, saved[1].Kind, saved[2].Kind}
	assert.ElementsMatch(t, []string{"throughput", "ai_adoption", "cycle_time"}, kinds)
	assert.Contains(t, saved[1].Message, "50%", "5 of 10 PRs are AI assisted")
}

func TestComputeInsights_NoMetrics(t *testing.T) {
	st := new(MockStore)
	svc := newTestService(st)
	ctx := context.Background()

	st.On("ListWeeklyMetrics", ctx, int64(3)).Return(nil, nil).Once()
	st.On("ReplaceInsights", ctx, int64(3), mock.Anything).Return(nil).Once()

	require.NoError(t, svc.ComputeInsights(ctx, 3))
	st.AssertExpectations(t)
}
