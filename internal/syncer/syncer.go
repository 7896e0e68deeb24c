// internal/syncer/syncer.go

// Package syncer implements the repository history sync engine: it pulls a
// tracked repository's pull requests (with nested reviews, commits and
// changed files) page by page, normalizes them into the canonical schema and
// upserts them by natural key, reporting progress as it goes.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	apperrors "collab-sync/internal/errors"
	"collab-sync/internal/model"
	"collab-sync/internal/normalize"
	"collab-sync/internal/store"
)

// Number of repositories synced in parallel by one catch-up cycle.
const catchUpConcurrency = 5

// FetchClient is the paginated provider surface the engine consumes.
// FetchUpdatedSince must return items ordered by update time descending;
// incremental sync's early termination depends on it.
type FetchClient interface {
	FetchPage(ctx context.Context, owner, name, cursor string) (*model.Page, error)
	FetchUpdatedSince(ctx context.Context, owner, name string, since time.Time, cursor string) (*model.Page, error)
	CountInRange(ctx context.Context, owner, name string, since, until time.Time) (int, error)
	ListMembers(ctx context.Context, owner, name string) ([]model.RemoteMember, error)
}

// ClientFactory builds a FetchClient bound to one access token.
type ClientFactory func(token string) FetchClient

// TokenSource resolves a tracked repository's credential reference to an
// access token.
type TokenSource interface {
	Token(ref string) (string, error)
}

// Engine orchestrates fetch, normalize, upsert and progress reporting for
// one tracked repository at a time. Safe for concurrent use across distinct
// repositories; callers must not run two syncs for the same repository.
type Engine struct {
	store    store.Store
	creds    TokenSource
	clients  ClientFactory
	detector normalize.Detector
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(st store.Store, creds TokenSource, clients ClientFactory, detector normalize.Detector, logger *slog.Logger) *Engine {
	return &Engine{
		store:    st,
		creds:    creds,
		clients:  clients,
		detector: detector,
		logger:   logger,
		now:      time.Now,
	}
}

// Start begins the continuous catch-up process: every interval it runs an
// incremental sync over all repositories whose initial backfill has
// completed. Blocks until ctx is cancelled.
func (e *Engine) Start(ctx context.Context, interval time.Duration) {
	e.logger.Info("Starting catch-up loop", "interval", interval.String(), "concurrency", catchUpConcurrency)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	e.runCatchUpCycle(ctx)

	for {
		select {
		case <-ticker.C:
			e.runCatchUpCycle(ctx)
		case <-ctx.Done():
			e.logger.Info("Catch-up loop shutting down", "reason", ctx.Err())
			return
		}
	}
}

// runCatchUpCycle performs one incremental pass over all completed
// repositories concurrently. Per-repo failures are already recorded on the
// repository row; the cycle itself never fails.
func (e *Engine) runCatchUpCycle(ctx context.Context) {
	repos, err := e.store.ListSyncedRepositories(ctx)
	if err != nil {
		e.logger.Error("Failed to list repositories for catch-up", "error", err)
		return
	}
	if len(repos) == 0 {
		return
	}
	e.logger.Info("Starting catch-up cycle", "repos", len(repos))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(catchUpConcurrency)
	for i := range repos {
		repo := &repos[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			res := e.SyncIncremental(gctx, repo)
			if len(res.Errors) > 0 {
				e.logger.Error("Incremental sync finished with errors", "repo", repo.FullName, "errors", res.Errors)
			}
			return nil
		})
	}
	_ = g.Wait()
	e.logger.Info("Catch-up cycle finished")
}

// inclusion decides whether one fetched item belongs to this run.
type inclusion func(item model.RemotePullRequest) bool

// SyncFull backfills the repository's history for a date window. Phase 1
// onboarding runs with daysBack=30, skipRecent=0; phase 2 runs with
// daysBack=90, skipRecent=30 and so covers only the 31..90-day window that
// phase 1 left out.
//
// The engine never returns an error: every failure mode resolves to entries
// in the result's error list plus a persisted sync status.
func (e *Engine) SyncFull(ctx context.Context, repo *model.TrackedRepository, daysBack, skipRecent int) (res *model.SyncRunResult) {
	res = &model.SyncRunResult{}
	defer e.recoverRun(ctx, repo, res)

	owner, name, client, ok := e.bootstrap(ctx, repo, res)
	if !ok {
		return res
	}

	now := e.now()
	cutoff := now.AddDate(0, 0, -daysBack)
	var skipBefore *time.Time
	if skipRecent > 0 {
		t := now.AddDate(0, 0, -skipRecent)
		skipBefore = &t
	}

	include := func(item model.RemotePullRequest) bool {
		if item.CreatedAt.Before(cutoff) {
			return false
		}
		return skipBefore == nil || !item.CreatedAt.After(*skipBefore)
	}

	logger := e.logger.With("repo", repo.FullName, "mode", "full", "days_back", daysBack, "skip_recent", skipRecent)
	logger.Info("Starting full sync")

	// Best effort only: a failed count never aborts the run.
	total := 0
	if n, err := client.CountInRange(ctx, owner, name, cutoff, now); err != nil {
		logger.Warn("Count query failed, progress will be seeded from the first page", "error", err)
	} else {
		total = n
	}

	fetch := func(cursor string) (*model.Page, error) {
		return client.FetchPage(ctx, owner, name, cursor)
	}
	if !e.runPages(ctx, repo, fetch, include, nil, total, res, logger) {
		return res
	}

	e.finish(ctx, repo, res, logger)
	return res
}

// SyncIncremental catches up on everything updated since the last completed
// sync. Progress totals are a heuristic here; the provider has no accurate
// "updated since" count.
func (e *Engine) SyncIncremental(ctx context.Context, repo *model.TrackedRepository) (res *model.SyncRunResult) {
	res = &model.SyncRunResult{}
	defer e.recoverRun(ctx, repo, res)

	owner, name, client, ok := e.bootstrap(ctx, repo, res)
	if !ok {
		return res
	}

	var since time.Time
	if repo.LastSyncAt != nil {
		since = *repo.LastSyncAt
	}

	logger := e.logger.With("repo", repo.FullName, "mode", "incremental", "since", since.Format(time.RFC3339))
	logger.Info("Starting incremental sync")

	include := func(item model.RemotePullRequest) bool {
		return !item.UpdatedAt.Before(since)
	}
	stale := func(item model.RemotePullRequest) bool {
		return item.UpdatedAt.Before(since)
	}

	fetch := func(cursor string) (*model.Page, error) {
		return client.FetchUpdatedSince(ctx, owner, name, since, cursor)
	}
	if !e.runPages(ctx, repo, fetch, include, stale, 0, res, logger) {
		return res
	}

	e.finish(ctx, repo, res, logger)
	return res
}

// runPages drives the cursor loop shared by both modes. It reports false
// when the run aborted (status already persisted as error). stale, when
// non-nil, marks the point past which all remaining items and pages predate
// the sync window, ending pagination after the current page.
func (e *Engine) runPages(ctx context.Context, repo *model.TrackedRepository, fetch func(cursor string) (*model.Page, error), include inclusion, stale inclusion, total int, res *model.SyncRunResult, logger *slog.Logger) bool {
	completed := 0
	cursor := ""
	firstPage := true

	for {
		page, err := fetch(cursor)
		if err != nil {
			e.abort(ctx, repo, res, err, logger)
			return false
		}

		// No authoritative count: seed the estimate from the first page and
		// double it if more pages are coming.
		if firstPage && total == 0 {
			total = len(page.Items)
			if page.HasNextPage {
				total *= 2
			}
		}
		firstPage = false

		pageStale := false
		for _, item := range page.Items {
			if stale != nil && stale(item) {
				pageStale = true
			}
			if !include(item) {
				continue
			}
			if err := e.processPullRequest(ctx, repo, item, res); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("pr #%d: %v", item.Number, err))
				logger.Warn("Failed to process pull request", "number", item.Number, "error", err)
				continue
			}
			completed++
		}

		// The estimate only ever grows to match reality.
		if completed > total {
			total = completed
		}
		percent := 0
		if total > 0 {
			percent = completed * 100 / total
		}
		if err := e.store.UpdateRepoSyncProgress(ctx, repo.ID, completed, total, percent); err != nil {
			e.abort(ctx, repo, res, err, logger)
			return false
		}
		repo.PRsCompleted = completed
		repo.PRsTotal = total

		if !page.HasNextPage || pageStale {
			break
		}
		cursor = page.EndCursor
	}
	return true
}

// bootstrap validates the repository identifier, resolves credentials and
// flips the status to syncing. A false return means the run aborted with
// zero partial work.
func (e *Engine) bootstrap(ctx context.Context, repo *model.TrackedRepository, res *model.SyncRunResult) (owner, name string, client FetchClient, ok bool) {
	owner, name, err := splitFullName(repo.FullName)
	if err != nil {
		e.abort(ctx, repo, res, err, e.logger.With("repo", repo.FullName))
		return "", "", nil, false
	}

	token, err := e.creds.Token(repo.CredentialRef)
	if err != nil {
		e.abort(ctx, repo, res, err, e.logger.With("repo", repo.FullName))
		return "", "", nil, false
	}

	if err := e.store.UpdateRepoSyncStatus(ctx, repo.ID, model.SyncSyncing); err != nil {
		e.abort(ctx, repo, res, err, e.logger.With("repo", repo.FullName))
		return "", "", nil, false
	}
	repo.SyncStatus = model.SyncSyncing

	return owner, name, e.clients(token), true
}

func (e *Engine) abort(ctx context.Context, repo *model.TrackedRepository, res *model.SyncRunResult, cause error, logger *slog.Logger) {
	res.Errors = append(res.Errors, cause.Error())
	logger.Error("Sync run aborted", "error", cause)
	if ctx.Err() != nil {
		// Cancelled mid-run: the status stays syncing so a supervisor can
		// spot the stalled run and re-schedule it.
		return
	}
	if err := e.store.UpdateRepoSyncStatus(ctx, repo.ID, model.SyncError); err != nil {
		logger.Error("Failed to persist error status", "error", err)
	}
	repo.SyncStatus = model.SyncError
}

func (e *Engine) finish(ctx context.Context, repo *model.TrackedRepository, res *model.SyncRunResult, logger *slog.Logger) {
	now := e.now()
	if err := e.store.CompleteRepoSync(ctx, repo.ID, repo.PRsCompleted, now); err != nil {
		e.abort(ctx, repo, res, err, logger)
		return
	}
	repo.SyncStatus = model.SyncComplete
	repo.SyncProgressPercent = 100
	repo.LastSyncAt = &now
	logger.Info("Sync run finished",
		"prs", res.PRsSynced, "reviews", res.ReviewsSynced,
		"commits", res.CommitsSynced, "files", res.FilesSynced,
		"errors", len(res.Errors))
}

// recoverRun converts a panic anywhere in the run into an error entry plus
// an error status; the partial result accumulated so far is still returned.
func (e *Engine) recoverRun(ctx context.Context, repo *model.TrackedRepository, res *model.SyncRunResult) {
	if r := recover(); r != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("unexpected failure: %v", r))
		e.logger.Error("Sync run panicked", "repo", repo.FullName, "panic", r)
		if err := e.store.UpdateRepoSyncStatus(ctx, repo.ID, model.SyncError); err != nil {
			e.logger.Error("Failed to persist error status", "error", err)
		}
		repo.SyncStatus = model.SyncError
	}
}

// processPullRequest normalizes and upserts one fetched item with its nested
// entities. An error here is isolated to this item by the caller.
func (e *Engine) processPullRequest(ctx context.Context, repo *model.TrackedRepository, item model.RemotePullRequest, res *model.SyncRunResult) error {
	var authorID *int64
	if item.AuthorLogin != "" {
		member, err := e.store.GetTeamMemberByLogin(ctx, repo.TeamID, item.AuthorLogin)
		if err != nil {
			return fmt.Errorf("resolve author: %w", err)
		}
		if member != nil {
			authorID = &member.ID
		}
	}

	det := normalize.Union(
		e.detector.Detect(item.Title+"\n"+item.Body),
		normalize.AuthorSignal(item.AuthorLogin, item.AuthorType),
	)

	pr := &model.PullRequest{
		TeamID:       repo.TeamID,
		RepoFullName: repo.FullName,
		Number:       item.Number,
		Title:        item.Title,
		Body:         item.Body,
		AuthorID:     authorID,
		AuthorLogin:  item.AuthorLogin,
		State:        normalize.PullRequestState(item.State, item.MergedAt),
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
		MergedAt:     item.MergedAt,
		ClosedAt:     item.ClosedAt,
		IsAIAssisted: det.IsAssisted,
		AITools:      det.Tools,
	}
	if item.MergedAt != nil {
		h := normalize.HoursBetween(item.CreatedAt, *item.MergedAt)
		pr.CycleTimeHours = &h
	}

	prID, _, err := e.store.UpsertPullRequest(ctx, pr)
	if err != nil {
		return fmt.Errorf("upsert pull request: %w", err)
	}
	res.PRsSynced++

	var earliest *time.Time
	for _, rv := range item.Reviews {
		if rv.ExternalID == 0 && rv.SubmittedAt == nil {
			continue // no usable key
		}
		review := &model.Review{
			TeamID:        repo.TeamID,
			PullRequestID: prID,
			Reviewer:      rv.Reviewer,
			State:         normalize.ReviewState(rv.State),
			Body:          rv.Body,
		}
		if rv.ExternalID != 0 {
			id := rv.ExternalID
			review.ExternalID = &id
		}
		if rv.SubmittedAt != nil {
			review.SubmittedAt = *rv.SubmittedAt
		}
		if _, _, err := e.store.UpsertReview(ctx, review); err != nil {
			return fmt.Errorf("upsert review: %w", err)
		}
		res.ReviewsSynced++
		if rv.SubmittedAt != nil && (earliest == nil || rv.SubmittedAt.Before(*earliest)) {
			earliest = rv.SubmittedAt
		}
	}
	if earliest != nil {
		hours := normalize.HoursBetween(item.CreatedAt, *earliest)
		if err := e.store.SetFirstReviewIfEarlier(ctx, prID, *earliest, hours); err != nil {
			return fmt.Errorf("update first review: %w", err)
		}
	}

	for _, cm := range item.Commits {
		if cm.SHA == "" {
			continue
		}
		commit := &model.Commit{
			TeamID:        repo.TeamID,
			PullRequestID: prID,
			SHA:           cm.SHA,
			AuthorName:    cm.AuthorName,
			AuthorEmail:   cm.AuthorEmail,
			Message:       cm.Message,
			CommittedAt:   cm.CommittedAt,
		}
		if _, _, err := e.store.UpsertCommit(ctx, commit); err != nil {
			return fmt.Errorf("upsert commit: %w", err)
		}
		res.CommitsSynced++
	}

	for _, f := range item.Files {
		file := &model.ChangedFile{
			TeamID:        repo.TeamID,
			PullRequestID: prID,
			Filename:      f.Filename,
			ChangeType:    normalize.ChangeType(f.Status),
			Category:      normalize.FileCategory(f.Filename),
			Additions:     f.Additions,
			Deletions:     f.Deletions,
			Changes:       f.Additions + f.Deletions,
		}
		if _, _, err := e.store.UpsertChangedFile(ctx, file); err != nil {
			return fmt.Errorf("upsert changed file: %w", err)
		}
		res.FilesSynced++
	}

	return nil
}

// SyncMembers pulls the repository's collaborators into the team's member
// set, keyed by login.
func (e *Engine) SyncMembers(ctx context.Context, repo *model.TrackedRepository) error {
	owner, name, err := splitFullName(repo.FullName)
	if err != nil {
		return err
	}
	token, err := e.creds.Token(repo.CredentialRef)
	if err != nil {
		return err
	}

	members, err := e.clients(token).ListMembers(ctx, owner, name)
	if err != nil {
		return err
	}
	for _, m := range members {
		tm := &model.TeamMember{
			TeamID: repo.TeamID,
			Login:  m.Login,
			Name:   m.Name,
			IsBot:  strings.EqualFold(m.Type, "Bot") || strings.HasSuffix(strings.ToLower(m.Login), "[bot]"),
		}
		if _, _, err := e.store.UpsertTeamMember(ctx, tm); err != nil {
			return fmt.Errorf("upsert member %s: %w", m.Login, err)
		}
	}
	e.logger.Info("Synced repository members", "repo", repo.FullName, "count", len(members))
	return nil
}

func splitFullName(fullName string) (owner, name string, err error) {
	parts := strings.Split(fullName, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", &apperrors.ErrInvalidRepoFormat{Repo: fullName}
	}
	return parts[0], parts[1], nil
}
