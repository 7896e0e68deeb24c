// internal/orchestrator/orchestrator_test.go
package orchestrator

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
	"collab-sync/internal/pipeline"
)

// MockStore is a mock of the store.Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetTeam(ctx context.Context, id int64) (*model.Team, error) {
	args := m.Called(ctx, id)
	team, _ := args.Get(0).(*model.Team)
	return team, args.Error(1)
}
func (m *MockStore) SaveTeamPipeline(ctx context.Context, team *model.Team) error {
	return m.Called(ctx, team).Error(0)
}
func (m *MockStore) UpdateTeamSyncProgress(ctx context.Context, teamID int64, percent int) error {
	return m.Called(ctx, teamID, percent).Error(0)
}
func (m *MockStore) UpdateTeamLLMProgress(ctx context.Context, teamID int64, percent int) error {
	return m.Called(ctx, teamID, percent).Error(0)
}
func (m *MockStore) GetTrackedRepository(ctx context.Context, id int64) (*model.TrackedRepository, error) {
	args := m.Called(ctx, id)
	repo, _ := args.Get(0).(*model.TrackedRepository)
	return repo, args.Error(1)
}
func (m *MockStore) ListTrackedRepositories(ctx context.Context, teamID int64) ([]model.TrackedRepository, error) {
	args := m.Called(ctx, teamID)
	repos, _ := args.Get(0).([]model.TrackedRepository)
	return repos, args.Error(1)
}
func (m *MockStore) ListSyncedRepositories(ctx context.Context) ([]model.TrackedRepository, error) {
	args := m.Called(ctx)
	repos, _ := args.Get(0).([]model.TrackedRepository)
	return repos, args.Error(1)
}
func (m *MockStore) UpdateRepoSyncStatus(ctx context.Context, repoID int64, status model.SyncStatus) error {
	return m.Called(ctx, repoID, status).Error(0)
}
func (m *MockStore) UpdateRepoSyncProgress(ctx context.Context, repoID int64, completed, total, percent int) error {
	return m.Called(ctx, repoID, completed, total, percent).Error(0)
}
func (m *MockStore) CompleteRepoSync(ctx context.Context, repoID int64, completed int, at time.Time) error {
	return m.Called(ctx, repoID, completed, at).Error(0)
}
func (m *MockStore) GetTeamMemberByLogin(ctx context.Context, teamID int64, login string) (*model.TeamMember, error) {
	args := m.Called(ctx, teamID, login)
	member, _ := args.Get(0).(*model.TeamMember)
	return member, args.Error(1)
}
func (m *MockStore) UpsertTeamMember(ctx context.Context, tm *model.TeamMember) (int64, bool, error) {
	args := m.Called(ctx, tm)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}
func (m *MockStore) UpsertPullRequest(ctx context.Context, pr *model.PullRequest) (int64, bool, error) {
	args := m.Called(ctx, pr)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}
func (m *MockStore) SetFirstReviewIfEarlier(ctx context.Context, prID int64, at time.Time, hours float64) error {
	return m.Called(ctx, prID, at, hours).Error(0)
}
func (m *MockStore) UpsertReview(ctx context.Context, rv *model.Review) (int64, bool, error) {
	args := m.Called(ctx, rv)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}
func (m *MockStore) UpsertCommit(ctx context.Context, c *model.Commit) (int64, bool, error) {
	args := m.Called(ctx, c)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}
func (m *MockStore) UpsertChangedFile(ctx context.Context, f *model.ChangedFile) (int64, bool, error) {
	args := m.Called(ctx, f)
	return args.Get(0).(int64), args.Bool(1), args.Error(2)
}
func (m *MockStore) ListPullRequestsForAnalysis(ctx context.Context, teamID int64, limit int) ([]model.PullRequest, error) {
	args := m.Called(ctx, teamID, limit)
	prs, _ := args.Get(0).([]model.PullRequest)
	return prs, args.Error(1)
}
func (m *MockStore) MarkPullRequestAnalyzed(ctx context.Context, prID int64, assisted bool, tools []string, at time.Time) error {
	return m.Called(ctx, prID, assisted, tools, at).Error(0)
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

// MockQueue is a mock of the pipeline.Queue interface.
type MockQueue struct {
	mock.Mock
}

func (m *MockQueue) Enqueue(ctx context.Context, job pipeline.Job) error {
	return m.Called(ctx, job).Error(0)
}

func newTestOrchestrator(st *MockStore, q *MockQueue) *Orchestrator {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	machine := pipeline.NewMachine(st, q, logger)
	return New(st, nil, nil, machine, logger)
}

func team(id int64, status model.PipelineStatus) *model.Team {
	return &model.Team{ID: id, OnboardingPipelineStatus: status}
}

func TestStartOnboarding(t *testing.T) {
	ctx := context.Background()

	t.Run("schedules a fresh team", func(t *testing.T) {
		st := new(MockStore)
		q := new(MockQueue)
		orch := newTestOrchestrator(st, q)

		st.On("GetTeam", ctx, int64(3)).Return(team(3, model.PipelineNotStarted), nil).Once()
		st.On("SaveTeamPipeline", ctx, mock.MatchedBy(func(tm *model.Team) bool {
			return tm.OnboardingPipelineStatus == model.PipelineSyncingMembers
		})).Return(nil).Once()
		q.On("Enqueue", ctx, pipeline.Job{Kind: pipeline.JobMemberSync, TeamID: 3}).Return(nil).Once()

		require.NoError(t, orch.StartOnboarding(ctx, 3))
		st.AssertExpectations(t)
		q.AssertExpectations(t)
	})

	t.Run("rejects a team already in the pipeline", func(t *testing.T) {
		st := new(MockStore)
		q := new(MockQueue)
		orch := newTestOrchestrator(st, q)

		st.On("GetTeam", ctx, int64(3)).Return(team(3, model.PipelineSyncing), nil).Once()

		err := orch.StartOnboarding(ctx, 3)

		assert.ErrorIs(t, err, ErrOnboardingInProgress)
		st.AssertNotCalled(t, "SaveTeamPipeline", mock.Anything, mock.Anything)
		q.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	})

	t.Run("allows a failed team to retry", func(t *testing.T) {
		st := new(MockStore)
		q := new(MockQueue)
		orch := newTestOrchestrator(st, q)

		st.On("GetTeam", ctx, int64(3)).Return(team(3, model.PipelineFailed), nil).Once()
		st.On("SaveTeamPipeline", ctx, mock.Anything).Return(nil).Once()
		q.On("Enqueue", ctx, pipeline.Job{Kind: pipeline.JobMemberSync, TeamID: 3}).Return(nil).Once()

		require.NoError(t, orch.StartOnboarding(ctx, 3))
		q.AssertExpectations(t)
	})
}

func TestRunPhase2Kickoff_AdvancesToBackgroundSync(t *testing.T) {
	// Completing phase 1 auto-advances into the background backfill, which
	// dispatches the 90/30 historical sync.
	st := new(MockStore)
	q := new(MockQueue)
	orch := newTestOrchestrator(st, q)
	ctx := context.Background()

	st.On("GetTeam", ctx, int64(3)).Return(team(3, model.PipelinePhase1Complete), nil).Once()
	st.On("SaveTeamPipeline", ctx, mock.MatchedBy(func(tm *model.Team) bool {
		return tm.OnboardingPipelineStatus == model.PipelineBackgroundSyncing
	})).Return(nil).Once()
	q.On("Enqueue", ctx, pipeline.Job{
		Kind:       pipeline.JobHistoricalSync,
		TeamID:     3,
		DaysBack:   pipeline.Phase2DaysBack,
		SkipRecent: pipeline.Phase2SkipRecent,
	}).Return(nil).Once()

	err := orch.runPhase2Kickoff(ctx, pipeline.Job{Kind: pipeline.JobPhase2Kickoff, TeamID: 3})

	require.NoError(t, err)
	st.AssertExpectations(t)
	q.AssertExpectations(t)
}

func TestRunStage_FailureRoutesToFailed(t *testing.T) {
	st := new(MockStore)
	q := new(MockQueue)
	orch := newTestOrchestrator(st, q)
	ctx := context.Background()

	st.On("GetTeam", ctx, int64(3)).Return(team(3, model.PipelineSyncingMembers), nil).Once()
	st.On("ListTrackedRepositories", ctx, int64(3)).Return(nil, errors.New("db down")).Once()
	st.On("SaveTeamPipeline", ctx, mock.MatchedBy(func(tm *model.Team) bool {
		return tm.OnboardingPipelineStatus == model.PipelineFailed &&
			tm.OnboardingPipelineError != nil && *tm.OnboardingPipelineError == "db down"
	})).Return(nil).Once()

	err := orch.runMemberSync(ctx, pipeline.Job{Kind: pipeline.JobMemberSync, TeamID: 3})

	require.Error(t, err)
	// failed is terminal: nothing further is dispatched.
	q.AssertNotCalled(t, "Enqueue", mock.Anything, mock.Anything)
	st.AssertExpectations(t)
}

func TestRunStage_SkipsTerminalPipeline(t *testing.T) {
	st := new(MockStore)
	q := new(MockQueue)
	orch := newTestOrchestrator(st, q)
	ctx := context.Background()

	st.On("GetTeam", ctx, int64(3)).Return(team(3, model.PipelineComplete), nil).Once()

	err := orch.runMemberSync(ctx, pipeline.Job{Kind: pipeline.JobMemberSync, TeamID: 3})

	require.NoError(t, err)
	st.AssertNotCalled(t, "ListTrackedRepositories", mock.Anything, mock.Anything)
	st.AssertExpectations(t)
}

func TestRunStage_CancelledContextDoesNotFailTeam(t *testing.T) {
	st := new(MockStore)
	q := new(MockQueue)
	orch := newTestOrchestrator(st, q)
	ctx := context.Background()

	st.On("GetTeam", ctx, int64(3)).Return(team(3, model.PipelineSyncingMembers), nil).Once()
	st.On("ListTrackedRepositories", ctx, int64(3)).Return(nil, context.Canceled).Once()

	err := orch.runMemberSync(ctx, pipeline.Job{Kind: pipeline.JobMemberSync, TeamID: 3})

	assert.ErrorIs(t, err, context.Canceled)
	st.AssertNotCalled(t, "SaveTeamPipeline", mock.Anything, mock.Anything)
	st.AssertExpectations(t)
}
