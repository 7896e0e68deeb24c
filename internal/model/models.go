// internal/model/models.go
package model

import "time"

// SyncStatus tracks the lifecycle of one repository sync run.
type SyncStatus string

const (
	SyncIdle     SyncStatus = "idle"
	SyncSyncing  SyncStatus = "syncing"
	SyncComplete SyncStatus = "complete"
	SyncError    SyncStatus = "error"
)

// PipelineStatus is a team's position in the onboarding pipeline.
// Transitions run forward only; Failed is reachable from any
// non-terminal status.
type PipelineStatus string

const (
	PipelineNotStarted        PipelineStatus = "not_started"
	PipelineSyncingMembers    PipelineStatus = "syncing_members"
	PipelineSyncing           PipelineStatus = "syncing"
	PipelineLLMProcessing     PipelineStatus = "llm_processing"
	PipelineComputingMetrics  PipelineStatus = "computing_metrics"
	PipelineComputingInsights PipelineStatus = "computing_insights"
	PipelinePhase1Complete    PipelineStatus = "phase1_complete"
	PipelineBackgroundSyncing PipelineStatus = "background_syncing"
	PipelineBackgroundLLM     PipelineStatus = "background_llm"
	PipelineComplete          PipelineStatus = "complete"
	PipelineFailed            PipelineStatus = "failed"
)

// Terminal reports whether no further work is dispatched from this status.
func (s PipelineStatus) Terminal() bool {
	return s == PipelineComplete || s == PipelineFailed
}

// Team is the pipeline-relevant slice of a team row.
type Team struct {
	ID                            int64
	Name                          string
	OnboardingPipelineStatus      PipelineStatus
	OnboardingPipelineError       *string
	OnboardingPipelineStartedAt   *time.Time
	OnboardingPipelineCompletedAt *time.Time
	BackgroundSyncProgressPercent int
	BackgroundLLMProgressPercent  int
}

// TeamMember is a known collaborator within a team, keyed by GitHub login.
type TeamMember struct {
	ID     int64
	TeamID int64
	Login  string
	Name   string
	IsBot  bool
}

// TrackedRepository identifies one remote repository being synced for a team.
// Mutated only by the sync engine while a run is in flight.
type TrackedRepository struct {
	ID                  int64
	TeamID              int64
	FullName            string // "owner/name"
	CredentialRef       string
	SyncStatus          SyncStatus
	SyncProgressPercent int
	PRsCompleted        int
	PRsTotal            int
	LastSyncAt          *time.Time
}

// PRState is the canonical pull request state vocabulary.
type PRState string

const (
	PROpen   PRState = "open"
	PRMerged PRState = "merged"
	PRClosed PRState = "closed"
)

// ReviewState is the canonical review outcome vocabulary.
type ReviewState string

const (
	ReviewApproved         ReviewState = "approved"
	ReviewChangesRequested ReviewState = "changes_requested"
	ReviewCommented        ReviewState = "commented"
	ReviewDismissed        ReviewState = "dismissed"
	ReviewPending          ReviewState = "pending"
)

// ChangeType is the canonical file change vocabulary.
type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
	ChangeRenamed  ChangeType = "renamed"
)

// FileCategory classifies a changed file by the part of the codebase it touches.
type FileCategory string

const (
	CategoryTest     FileCategory = "test"
	CategoryFrontend FileCategory = "frontend"
	CategoryBackend  FileCategory = "backend"
	CategoryDocs     FileCategory = "docs"
	CategoryConfig   FileCategory = "config"
	CategoryOther    FileCategory = "other"
)

// PullRequest is the normalized local copy of an external pull request,
// keyed by (team, repo full name, external PR number).
type PullRequest struct {
	ID              int64
	TeamID          int64
	RepoFullName    string
	Number          int
	Title           string
	Body            string
	AuthorID        *int64
	AuthorLogin     string
	State           PRState
	CreatedAt       time.Time
	UpdatedAt       time.Time
	MergedAt        *time.Time
	ClosedAt        *time.Time
	CycleTimeHours  *float64
	FirstReviewAt   *time.Time
	ReviewTimeHours *float64
	IsAIAssisted    bool
	AITools         []string
	AIAnalyzedAt    *time.Time
}

// Review is keyed by (team, external review id) when the provider supplies a
// stable id, else by (team, pull request, reviewer, submitted at).
type Review struct {
	ID            int64
	TeamID        int64
	PullRequestID int64
	ExternalID    *int64
	Reviewer      string
	State         ReviewState
	Body          string
	SubmittedAt   time.Time
}

// Commit is keyed by (team, sha).
type Commit struct {
	ID            int64
	TeamID        int64
	PullRequestID int64
	SHA           string
	AuthorName    string
	AuthorEmail   string
	Message       string
	CommittedAt   time.Time
}

// ChangedFile is keyed by (team, pull request, filename).
type ChangedFile struct {
	ID            int64
	TeamID        int64
	PullRequestID int64
	Filename      string
	ChangeType    ChangeType
	Category      FileCategory
	Additions     int
	Deletions     int
	Changes       int
}

// WeeklyMetric is one aggregated week of a team's PR activity.
type WeeklyMetric struct {
	ID                 int64
	TeamID             int64
	WeekStart          time.Time
	PRsOpened          int
	PRsMerged          int
	AvgCycleTimeHours  *float64
	AvgReviewTimeHours *float64
	AIAssistedCount    int
}

// Insight is one computed observation shown on the team dashboard.
type Insight struct {
	ID      int64
	TeamID  int64
	Kind    string
	Message string
}

// SyncRunResult summarizes one sync engine invocation. Ephemeral: returned
// to the caller and logged, never persisted.
type SyncRunResult struct {
	PRsSynced     int
	ReviewsSynced int
	CommitsSynced int
	FilesSynced   int
	Errors        []string
}
