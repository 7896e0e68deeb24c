// internal/pipeline/pipeline.go

// Package pipeline owns the onboarding state machine: it persists a team's
// status transitions and dispatches the next unit of work exactly once per
// real status change.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"collab-sync/internal/model"
)

// Work-queue job kinds, one per dispatchable pipeline stage.
const (
	JobMemberSync         = "member_sync"
	JobHistoricalSync     = "historical_sync"
	JobAIAnalysis         = "ai_analysis"
	JobMetricAggregation  = "metric_aggregation"
	JobInsightComputation = "insight_computation"
	JobPhase2Kickoff      = "phase2_kickoff"
)

// Phase windows for the two-stage historical backfill. Phase 1 covers the
// recent month so the dashboard unblocks fast; phase 2 fills in days 31..90
// in the background, skipping what phase 1 already covered.
const (
	Phase1DaysBack   = 30
	Phase1SkipRecent = 0
	Phase2DaysBack   = 90
	Phase2SkipRecent = 30
)

// Job is one enqueued unit of pipeline work.
type Job struct {
	Kind       string `json:"kind"`
	TeamID     int64  `json:"team_id"`
	DaysBack   int    `json:"days_back,omitempty"`
	SkipRecent int    `json:"skip_recent,omitempty"`
}

// Queue is the fire-and-forget work dispatch surface. The state machine
// relies on no return value beyond the error.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
}

// TeamStore persists pipeline transitions.
type TeamStore interface {
	SaveTeamPipeline(ctx context.Context, team *model.Team) error
}

// Machine drives a team's onboarding status forward.
type Machine struct {
	store  TeamStore
	queue  Queue
	logger *slog.Logger
	now    func() time.Time
}

func NewMachine(store TeamStore, queue Queue, logger *slog.Logger) *Machine {
	return &Machine{store: store, queue: queue, logger: logger, now: time.Now}
}

// Transition moves the team to next, persists the change, and dispatches the
// stage's work item if the status actually changed. The comparison runs
// against the in-memory status as loaded, never a re-read: two consecutive
// transitions to the same status dispatch exactly once.
//
// The persisted write is the source of truth. A dispatch failure is logged
// and swallowed; it never rolls back or surfaces past this call. Only a
// persistence failure returns an error.
func (m *Machine) Transition(ctx context.Context, team *model.Team, next model.PipelineStatus, errMsg string) error {
	previous := team.OnboardingPipelineStatus
	team.OnboardingPipelineStatus = next

	now := m.now()
	if next == model.PipelineSyncing && team.OnboardingPipelineStartedAt == nil {
		team.OnboardingPipelineStartedAt = &now
	}
	if next.Terminal() {
		team.OnboardingPipelineCompletedAt = &now
	}
	if next == model.PipelineFailed {
		team.OnboardingPipelineError = &errMsg
	} else {
		team.OnboardingPipelineError = nil
	}

	if err := m.store.SaveTeamPipeline(ctx, team); err != nil {
		return err
	}

	m.logger.Info("Pipeline transition", "team_id", team.ID, "from", previous, "to", next)

	if next != previous {
		if err := m.dispatch(ctx, team.ID, next); err != nil {
			m.logger.Error("Dispatch failed; recorded transition stands",
				"team_id", team.ID, "status", next, "error", err)
		}
	}
	return nil
}

// dispatch maps a status to exactly one enqueue, or none for terminal and
// unmapped statuses.
func (m *Machine) dispatch(ctx context.Context, teamID int64, status model.PipelineStatus) error {
	var job Job
	switch status {
	case model.PipelineSyncingMembers:
		job = Job{Kind: JobMemberSync, TeamID: teamID}
	case model.PipelineSyncing:
		job = Job{Kind: JobHistoricalSync, TeamID: teamID, DaysBack: Phase1DaysBack, SkipRecent: Phase1SkipRecent}
	case model.PipelineLLMProcessing:
		job = Job{Kind: JobAIAnalysis, TeamID: teamID}
	case model.PipelineComputingMetrics:
		job = Job{Kind: JobMetricAggregation, TeamID: teamID}
	case model.PipelineComputingInsights:
		job = Job{Kind: JobInsightComputation, TeamID: teamID}
	case model.PipelinePhase1Complete:
		job = Job{Kind: JobPhase2Kickoff, TeamID: teamID}
	case model.PipelineBackgroundSyncing:
		job = Job{Kind: JobHistoricalSync, TeamID: teamID, DaysBack: Phase2DaysBack, SkipRecent: Phase2SkipRecent}
	case model.PipelineBackgroundLLM:
		job = Job{Kind: JobAIAnalysis, TeamID: teamID}
	default:
		return nil
	}
	return m.queue.Enqueue(ctx, job)
}
