// internal/store/postgres.go
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"collab-sync/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) GetTeam(ctx context.Context, id int64) (*model.Team, error) {
	var t model.Team
	err := s.db.QueryRow(ctx, `
		SELECT id, name, pipeline_status, pipeline_error, pipeline_started_at, pipeline_completed_at,
		       background_sync_percent, background_llm_percent
		FROM teams WHERE id=$1`, id).
		Scan(&t.ID, &t.Name, &t.OnboardingPipelineStatus, &t.OnboardingPipelineError,
			&t.OnboardingPipelineStartedAt, &t.OnboardingPipelineCompletedAt,
			&t.BackgroundSyncProgressPercent, &t.BackgroundLLMProgressPercent)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveTeamPipeline writes the four pipeline fields in one statement so a
// transition is durable atomically.
func (s *Postgres) SaveTeamPipeline(ctx context.Context, team *model.Team) error {
	_, err := s.db.Exec(ctx, `
		UPDATE teams
		SET pipeline_status=$2, pipeline_error=$3, pipeline_started_at=$4, pipeline_completed_at=$5
		WHERE id=$1`,
		team.ID, team.OnboardingPipelineStatus, team.OnboardingPipelineError,
		team.OnboardingPipelineStartedAt, team.OnboardingPipelineCompletedAt)
	return err
}

func (s *Postgres) UpdateTeamSyncProgress(ctx context.Context, teamID int64, percent int) error {
	_, err := s.db.Exec(ctx, `UPDATE teams SET background_sync_percent=$2 WHERE id=$1`, teamID, percent)
	return err
}

func (s *Postgres) UpdateTeamLLMProgress(ctx context.Context, teamID int64, percent int) error {
	_, err := s.db.Exec(ctx, `UPDATE teams SET background_llm_percent=$2 WHERE id=$1`, teamID, percent)
	return err
}

func (s *Postgres) GetTrackedRepository(ctx context.Context, id int64) (*model.TrackedRepository, error) {
	var r model.TrackedRepository
	err := s.db.QueryRow(ctx, `
		SELECT id, team_id, full_name, credential_ref, sync_status, sync_progress_percent,
		       prs_completed, prs_total, last_sync_at
		FROM tracked_repositories WHERE id=$1`, id).
		Scan(&r.ID, &r.TeamID, &r.FullName, &r.CredentialRef, &r.SyncStatus,
			&r.SyncProgressPercent, &r.PRsCompleted, &r.PRsTotal, &r.LastSyncAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Postgres) ListTrackedRepositories(ctx context.Context, teamID int64) ([]model.TrackedRepository, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, team_id, full_name, credential_ref, sync_status, sync_progress_percent,
		       prs_completed, prs_total, last_sync_at
		FROM tracked_repositories WHERE team_id=$1 ORDER BY id`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []model.TrackedRepository
	for rows.Next() {
		var r model.TrackedRepository
		if err := rows.Scan(&r.ID, &r.TeamID, &r.FullName, &r.CredentialRef, &r.SyncStatus,
			&r.SyncProgressPercent, &r.PRsCompleted, &r.PRsTotal, &r.LastSyncAt); err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// ListSyncedRepositories returns every repository whose initial backfill has
// completed, across all teams. The periodic catch-up loop re-syncs these.
func (s *Postgres) ListSyncedRepositories(ctx context.Context) ([]model.TrackedRepository, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, team_id, full_name, credential_ref, sync_status, sync_progress_percent,
		       prs_completed, prs_total, last_sync_at
		FROM tracked_repositories WHERE sync_status=$1 ORDER BY id`, model.SyncComplete)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []model.TrackedRepository
	for rows.Next() {
		var r model.TrackedRepository
		if err := rows.Scan(&r.ID, &r.TeamID, &r.FullName, &r.CredentialRef, &r.SyncStatus,
			&r.SyncProgressPercent, &r.PRsCompleted, &r.PRsTotal, &r.LastSyncAt); err != nil {
			return nil, err
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

func (s *Postgres) UpdateRepoSyncStatus(ctx context.Context, repoID int64, status model.SyncStatus) error {
	_, err := s.db.Exec(ctx, `UPDATE tracked_repositories SET sync_status=$2 WHERE id=$1`, repoID, status)
	return err
}

func (s *Postgres) UpdateRepoSyncProgress(ctx context.Context, repoID int64, completed, total, percent int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE tracked_repositories
		SET prs_completed=$2, prs_total=$3, sync_progress_percent=$4
		WHERE id=$1`, repoID, completed, total, percent)
	return err
}

// CompleteRepoSync forces progress to 100 regardless of any earlier
// total-count drift; prs_total keeps the last estimate for display.
func (s *Postgres) CompleteRepoSync(ctx context.Context, repoID int64, completed int, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE tracked_repositories
		SET sync_status=$2, prs_completed=$3, sync_progress_percent=100, last_sync_at=$4
		WHERE id=$1`, repoID, model.SyncComplete, completed, at)
	return err
}

func (s *Postgres) GetTeamMemberByLogin(ctx context.Context, teamID int64, login string) (*model.TeamMember, error) {
	var m model.TeamMember
	err := s.db.QueryRow(ctx, `
		SELECT id, team_id, login, name, is_bot FROM team_members
		WHERE team_id=$1 AND login=$2`, teamID, login).
		Scan(&m.ID, &m.TeamID, &m.Login, &m.Name, &m.IsBot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil // absent member is not an error
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// The (xmax = 0) trick distinguishes a fresh insert from a conflict update.

func (s *Postgres) UpsertTeamMember(ctx context.Context, m *model.TeamMember) (int64, bool, error) {
	var id int64
	var created bool
	err := s.db.QueryRow(ctx, `
		INSERT INTO team_members (team_id, login, name, is_bot)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (team_id, login) DO UPDATE SET name=$3, is_bot=$4
		RETURNING id, (xmax = 0)`,
		m.TeamID, m.Login, m.Name, m.IsBot).Scan(&id, &created)
	return id, created, err
}

func (s *Postgres) UpsertPullRequest(ctx context.Context, pr *model.PullRequest) (int64, bool, error) {
	var id int64
	var created bool
	err := s.db.QueryRow(ctx, `
		INSERT INTO pull_requests
			(team_id, repo_full_name, number, title, body, author_id, author_login, state,
			 created_at, updated_at, merged_at, closed_at, cycle_time_hours, is_ai_assisted, ai_tools)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (team_id, repo_full_name, number) DO UPDATE SET
			title=$4, body=$5, author_id=$6, author_login=$7, state=$8,
			updated_at=$10, merged_at=$11, closed_at=$12,
			cycle_time_hours=COALESCE($13, pull_requests.cycle_time_hours),
			is_ai_assisted=$14, ai_tools=$15
		RETURNING id, (xmax = 0)`,
		pr.TeamID, pr.RepoFullName, pr.Number, pr.Title, pr.Body, pr.AuthorID, pr.AuthorLogin,
		pr.State, pr.CreatedAt, pr.UpdatedAt, pr.MergedAt, pr.ClosedAt, pr.CycleTimeHours,
		pr.IsAIAssisted, pr.AITools).Scan(&id, &created)
	return id, created, err
}

// SetFirstReviewIfEarlier enforces the monotonic-earliest rule in SQL: the
// stored first review time only ever moves backward.
func (s *Postgres) SetFirstReviewIfEarlier(ctx context.Context, prID int64, at time.Time, hours float64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE pull_requests
		SET first_review_at=$2, review_time_hours=$3
		WHERE id=$1 AND (first_review_at IS NULL OR first_review_at > $2)`,
		prID, at, hours)
	return err
}

func (s *Postgres) UpsertReview(ctx context.Context, rv *model.Review) (int64, bool, error) {
	var id int64
	var created bool
	var err error
	if rv.ExternalID != nil {
		err = s.db.QueryRow(ctx, `
			INSERT INTO reviews (team_id, pull_request_id, external_id, reviewer, state, body, submitted_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
			ON CONFLICT (team_id, external_id) WHERE external_id IS NOT NULL DO UPDATE SET
				reviewer=$4, state=$5, body=$6, submitted_at=$7
			RETURNING id, (xmax = 0)`,
			rv.TeamID, rv.PullRequestID, rv.ExternalID, rv.Reviewer, rv.State, rv.Body, rv.SubmittedAt).
			Scan(&id, &created)
	} else {
		err = s.db.QueryRow(ctx, `
			INSERT INTO reviews (team_id, pull_request_id, external_id, reviewer, state, body, submitted_at)
			VALUES ($1,$2,NULL,$3,$4,$5,$6)
			ON CONFLICT (team_id, pull_request_id, reviewer, submitted_at) DO UPDATE SET
				state=$4, body=$5
			RETURNING id, (xmax = 0)`,
			rv.TeamID, rv.PullRequestID, rv.Reviewer, rv.State, rv.Body, rv.SubmittedAt).
			Scan(&id, &created)
	}
	return id, created, err
}

func (s *Postgres) UpsertCommit(ctx context.Context, c *model.Commit) (int64, bool, error) {
	var id int64
	var created bool
	err := s.db.QueryRow(ctx, `
		INSERT INTO commits (team_id, pull_request_id, sha, author_name, author_email, message, committed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (team_id, sha) DO UPDATE SET
			pull_request_id=$2, author_name=$4, author_email=$5, message=$6, committed_at=$7
		RETURNING id, (xmax = 0)`,
		c.TeamID, c.PullRequestID, c.SHA, c.AuthorName, c.AuthorEmail, c.Message, c.CommittedAt).
		Scan(&id, &created)
	return id, created, err
}

func (s *Postgres) UpsertChangedFile(ctx context.Context, f *model.ChangedFile) (int64, bool, error) {
	var id int64
	var created bool
	err := s.db.QueryRow(ctx, `
		INSERT INTO changed_files (team_id, pull_request_id, filename, change_type, category, additions, deletions, changes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (team_id, pull_request_id, filename) DO UPDATE SET
			change_type=$4, category=$5, additions=$6, deletions=$7, changes=$8
		RETURNING id, (xmax = 0)`,
		f.TeamID, f.PullRequestID, f.Filename, f.ChangeType, f.Category, f.Additions, f.Deletions, f.Changes).
		Scan(&id, &created)
	return id, created, err
}

func (s *Postgres) ListPullRequestsForAnalysis(ctx context.Context, teamID int64, limit int) ([]model.PullRequest, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, team_id, repo_full_name, number, title, body, author_login, is_ai_assisted, ai_tools
		FROM pull_requests
		WHERE team_id=$1 AND ai_analyzed_at IS NULL
		ORDER BY id LIMIT $2`, teamID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prs []model.PullRequest
	for rows.Next() {
		var pr model.PullRequest
		if err := rows.Scan(&pr.ID, &pr.TeamID, &pr.RepoFullName, &pr.Number, &pr.Title,
			&pr.Body, &pr.AuthorLogin, &pr.IsAIAssisted, &pr.AITools); err != nil {
			return nil, err
		}
		prs = append(prs, pr)
	}
	return prs, rows.Err()
}

func (s *Postgres) MarkPullRequestAnalyzed(ctx context.Context, prID int64, assisted bool, tools []string, at time.Time) error {
	_, err := s.db.Exec(ctx, `
		UPDATE pull_requests
		SET is_ai_assisted=$2, ai_tools=$3, ai_analyzed_at=$4
		WHERE id=$1`, prID, assisted, tools, at)
	return err
}

// AggregateWeeklyMetrics recomputes the per-week rollups from the synced
// pull requests and upserts them keyed by (team, week start).
func (s *Postgres) AggregateWeeklyMetrics(ctx context.Context, teamID int64) (int, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO team_metrics
			(team_id, week_start, prs_opened, prs_merged, avg_cycle_time_hours, avg_review_time_hours, ai_assisted_count)
		SELECT team_id,
		       date_trunc('week', created_at) AS week_start,
		       COUNT(*),
		       COUNT(*) FILTER (WHERE state = 'merged'),
		       AVG(cycle_time_hours),
		       AVG(review_time_hours),
		       COUNT(*) FILTER (WHERE is_ai_assisted)
		FROM pull_requests
		WHERE team_id=$1
		GROUP BY team_id, date_trunc('week', created_at)
		ON CONFLICT (team_id, week_start) DO UPDATE SET
			prs_opened=EXCLUDED.prs_opened,
			prs_merged=EXCLUDED.prs_merged,
			avg_cycle_time_hours=EXCLUDED.avg_cycle_time_hours,
			avg_review_time_hours=EXCLUDED.avg_review_time_hours,
			ai_assisted_count=EXCLUDED.ai_assisted_count`, teamID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Postgres) ListWeeklyMetrics(ctx context.Context, teamID int64) ([]model.WeeklyMetric, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, team_id, week_start, prs_opened, prs_merged,
		       avg_cycle_time_hours, avg_review_time_hours, ai_assisted_count
		FROM team_metrics WHERE team_id=$1 ORDER BY week_start`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []model.WeeklyMetric
	for rows.Next() {
		var m model.WeeklyMetric
		if err := rows.Scan(&m.ID, &m.TeamID, &m.WeekStart, &m.PRsOpened, &m.PRsMerged,
			&m.AvgCycleTimeHours, &m.AvgReviewTimeHours, &m.AIAssistedCount); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

func (s *Postgres) ReplaceInsights(ctx context.Context, teamID int64, insights []model.Insight) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM team_insights WHERE team_id=$1`, teamID); err != nil {
		return err
	}
	for _, in := range insights {
		if _, err := tx.Exec(ctx, `
			INSERT INTO team_insights (team_id, kind, message) VALUES ($1,$2,$3)`,
			teamID, in.Kind, in.Message); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}
