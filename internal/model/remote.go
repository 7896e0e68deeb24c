// internal/model/remote.go
package model

import "time"

// RemotePullRequest is one pull request as reported by the provider, with its
// nested reviews, commits and changed files, before normalization. State and
// change-type fields carry the provider's raw vocabulary.
type RemotePullRequest struct {
	Number      int
	Title       string
	Body        string
	AuthorLogin string
	AuthorType  string // provider account type, e.g. "User" or "Bot"
	State       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	MergedAt    *time.Time
	ClosedAt    *time.Time
	Reviews     []RemoteReview
	Commits     []RemoteCommit
	Files       []RemoteFile
}

// RemoteReview carries the provider's review id when one exists; ExternalID
// of zero means the provider supplied none.
type RemoteReview struct {
	ExternalID  int64
	Reviewer    string
	State       string
	Body        string
	SubmittedAt *time.Time
}

type RemoteCommit struct {
	SHA         string
	AuthorName  string
	AuthorEmail string
	Message     string
	CommittedAt time.Time
}

type RemoteFile struct {
	Filename  string
	Status    string
	Additions int
	Deletions int
}

// RemoteMember is a repository collaborator as reported by the provider.
type RemoteMember struct {
	Login string
	Name  string
	Type  string
}

// Page is one cursor-paginated slice of provider results. EndCursor is an
// opaque token valid only for the request that produced it.
type Page struct {
	Items       []RemotePullRequest
	EndCursor   string
	HasNextPage bool
}
