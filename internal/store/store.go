// internal/store/store.go

// Package store persists the normalized collaboration history in Postgres.
// All entity writes are natural-key upserts: re-running a sync over the same
// remote data updates rows in place and never duplicates them.
package store

import (
	"context"
	"time"

	"collab-sync/internal/model"
)

// Store is the persistence surface consumed by the sync engine, the
// pipeline state machine and the analysis stages.
type Store interface {
	GetTeam(ctx context.Context, id int64) (*model.Team, error)
	SaveTeamPipeline(ctx context.Context, team *model.Team) error
	UpdateTeamSyncProgress(ctx context.Context, teamID int64, percent int) error
	UpdateTeamLLMProgress(ctx context.Context, teamID int64, percent int) error

	GetTrackedRepository(ctx context.Context, id int64) (*model.TrackedRepository, error)
	ListTrackedRepositories(ctx context.Context, teamID int64) ([]model.TrackedRepository, error)
	ListSyncedRepositories(ctx context.Context) ([]model.TrackedRepository, error)
	UpdateRepoSyncStatus(ctx context.Context, repoID int64, status model.SyncStatus) error
	UpdateRepoSyncProgress(ctx context.Context, repoID int64, completed, total, percent int) error
	CompleteRepoSync(ctx context.Context, repoID int64, completed int, at time.Time) error

	GetTeamMemberByLogin(ctx context.Context, teamID int64, login string) (*model.TeamMember, error)
	UpsertTeamMember(ctx context.Context, m *model.TeamMember) (int64, bool, error)

	UpsertPullRequest(ctx context.Context, pr *model.PullRequest) (int64, bool, error)
	SetFirstReviewIfEarlier(ctx context.Context, prID int64, at time.Time, hours float64) error
	UpsertReview(ctx context.Context, rv *model.Review) (int64, bool, error)
	UpsertCommit(ctx context.Context, c *model.Commit) (int64, bool, error)
	UpsertChangedFile(ctx context.Context, f *model.ChangedFile) (int64, bool, error)

	ListPullRequestsForAnalysis(ctx context.Context, teamID int64, limit int) ([]model.PullRequest, error)
	MarkPullRequestAnalyzed(ctx context.Context, prID int64, assisted bool, tools []string, at time.Time) error
	AggregateWeeklyMetrics(ctx context.Context, teamID int64) (int, error)
	ListWeeklyMetrics(ctx context.Context, teamID int64) ([]model.WeeklyMetric, error)
	ReplaceInsights(ctx context.Context, teamID int64, insights []model.Insight) error
}
