// internal/github/client.go
package github

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	apperrors "collab-sync/internal/errors"
	"collab-sync/internal/model"
)

const perPage = 100

// Client is a wrapper around the go-github client exposing the paginated
// fetch surface the sync engine consumes. Cursors are opaque tokens minted
// from the provider's page numbers.
//
// Precondition relied on by incremental sync: pages from FetchUpdatedSince
// are ordered by update time descending. GitHub guarantees this for
// sort=updated direction=desc; a provider that returns unordered pages
// would silently break the engine's early-termination optimization.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:     github.NewClient(tc),
		logger: logger,
	}
}

// SetBaseURL points the client at a different API endpoint. Used by tests.
func (c *Client) SetBaseURL(url string) error {
	gh, err := c.gh.WithEnterpriseURLs(url, url)
	if err != nil {
		return err
	}
	c.gh = gh
	return nil
}

// FetchPage fetches one page of pull requests (newest first by creation
// time) with their nested reviews, commits and changed files.
func (c *Client) FetchPage(ctx context.Context, owner, name, cursor string) (*model.Page, error) {
	opts := &github.PullRequestListOptions{
		State:     "all",
		Sort:      "created",
		Direction: "desc",
	}
	return c.fetchPRPage(ctx, owner, name, cursor, opts)
}

// FetchUpdatedSince fetches one page of pull requests ordered by update
// time descending, for incremental catch-up.
func (c *Client) FetchUpdatedSince(ctx context.Context, owner, name string, since time.Time, cursor string) (*model.Page, error) {
	opts := &github.PullRequestListOptions{
		State:     "all",
		Sort:      "updated",
		Direction: "desc",
	}
	return c.fetchPRPage(ctx, owner, name, cursor, opts)
}

func (c *Client) fetchPRPage(ctx context.Context, owner, name, cursor string, opts *github.PullRequestListOptions) (*model.Page, error) {
	page := 1
	if cursor != "" {
		p, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, &apperrors.ProviderError{Message: fmt.Sprintf("malformed cursor %q", cursor)}
		}
		page = p
	}
	opts.ListOptions = github.ListOptions{PerPage: perPage, Page: page}

	c.logger.Debug("Fetching pull request page", "owner", owner, "repo", name, "page", page)
	prs, resp, err := c.gh.PullRequests.List(ctx, owner, name, opts)
	if err != nil {
		return nil, translateError(err)
	}

	items := make([]model.RemotePullRequest, 0, len(prs))
	for _, pr := range prs {
		item, err := c.hydrate(ctx, owner, name, pr)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	p := &model.Page{Items: items, HasNextPage: resp.NextPage != 0}
	if resp.NextPage != 0 {
		p.EndCursor = strconv.Itoa(resp.NextPage)
	}
	return p, nil
}

// hydrate attaches a PR's reviews, commits and files. Each nested list is
// paged to exhaustion; in practice a single page suffices for nearly all PRs.
func (c *Client) hydrate(ctx context.Context, owner, name string, pr *github.PullRequest) (model.RemotePullRequest, error) {
	item := toRemotePullRequest(pr)
	num := pr.GetNumber()

	opts := &github.ListOptions{PerPage: perPage}
	for {
		reviews, resp, err := c.gh.PullRequests.ListReviews(ctx, owner, name, num, opts)
		if err != nil {
			return item, translateError(err)
		}
		for _, rv := range reviews {
			item.Reviews = append(item.Reviews, toRemoteReview(rv))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	opts = &github.ListOptions{PerPage: perPage}
	for {
		commits, resp, err := c.gh.PullRequests.ListCommits(ctx, owner, name, num, opts)
		if err != nil {
			return item, translateError(err)
		}
		for _, cm := range commits {
			item.Commits = append(item.Commits, toRemoteCommit(cm))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	opts = &github.ListOptions{PerPage: perPage}
	for {
		files, resp, err := c.gh.PullRequests.ListFiles(ctx, owner, name, num, opts)
		if err != nil {
			return item, translateError(err)
		}
		for _, f := range files {
			item.Files = append(item.Files, toRemoteFile(f))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return item, nil
}

// CountInRange returns the provider's count of pull requests created in
// [since, until), via the search API. Best effort: callers treat a failure
// as "no authoritative count".
func (c *Client) CountInRange(ctx context.Context, owner, name string, since, until time.Time) (int, error) {
	query := fmt.Sprintf("repo:%s/%s is:pr created:%s..%s",
		owner, name, since.Format("2006-01-02"), until.Format("2006-01-02"))
	result, _, err := c.gh.Search.Issues(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return 0, translateError(err)
	}
	return result.GetTotal(), nil
}

// ListMembers fetches the repository's collaborators.
func (c *Client) ListMembers(ctx context.Context, owner, name string) ([]model.RemoteMember, error) {
	var members []model.RemoteMember
	opts := &github.ListCollaboratorsOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	for {
		users, resp, err := c.gh.Repositories.ListCollaborators(ctx, owner, name, opts)
		if err != nil {
			return nil, translateError(err)
		}
		for _, u := range users {
			members = append(members, model.RemoteMember{
				Login: u.GetLogin(),
				Name:  u.GetName(),
				Type:  u.GetType(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return members, nil
}

// translateError maps go-github failures onto the engine's error taxonomy.
func translateError(err error) error {
	switch e := err.(type) {
	case *github.RateLimitError:
		return &apperrors.RateLimitError{RetryAfter: time.Until(e.Rate.Reset.Time)}
	case *github.AbuseRateLimitError:
		var retryAfter time.Duration
		if e.RetryAfter != nil {
			retryAfter = *e.RetryAfter
		}
		return &apperrors.RateLimitError{RetryAfter: retryAfter}
	default:
		return &apperrors.ProviderError{Message: "request failed", Err: err}
	}
}

func toRemotePullRequest(pr *github.PullRequest) model.RemotePullRequest {
	item := model.RemotePullRequest{
		Number:      pr.GetNumber(),
		Title:       pr.GetTitle(),
		Body:        pr.GetBody(),
		AuthorLogin: pr.GetUser().GetLogin(),
		AuthorType:  pr.GetUser().GetType(),
		State:       pr.GetState(),
		CreatedAt:   pr.GetCreatedAt().Time,
		UpdatedAt:   pr.GetUpdatedAt().Time,
	}
	if pr.MergedAt != nil {
		t := pr.GetMergedAt().Time
		item.MergedAt = &t
	}
	if pr.ClosedAt != nil {
		t := pr.GetClosedAt().Time
		item.ClosedAt = &t
	}
	return item
}

func toRemoteReview(rv *github.PullRequestReview) model.RemoteReview {
	out := model.RemoteReview{
		ExternalID: rv.GetID(),
		Reviewer:   rv.GetUser().GetLogin(),
		State:      rv.GetState(),
		Body:       rv.GetBody(),
	}
	if rv.SubmittedAt != nil {
		t := rv.GetSubmittedAt().Time
		out.SubmittedAt = &t
	}
	return out
}

func toRemoteCommit(cm *github.RepositoryCommit) model.RemoteCommit {
	return model.RemoteCommit{
		SHA:         cm.GetSHA(),
		AuthorName:  cm.GetCommit().GetAuthor().GetName(),
		AuthorEmail: cm.GetCommit().GetAuthor().GetEmail(),
		Message:     cm.GetCommit().GetMessage(),
		CommittedAt: cm.GetCommit().GetAuthor().GetDate().Time,
	}
}

func toRemoteFile(f *github.CommitFile) model.RemoteFile {
	return model.RemoteFile{
		Filename:  f.GetFilename(),
		Status:    f.GetStatus(),
		Additions: f.GetAdditions(),
		Deletions: f.GetDeletions(),
	}
}
