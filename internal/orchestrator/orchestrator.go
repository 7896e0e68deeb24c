// internal/orchestrator/orchestrator.go

// Package orchestrator is the glue between the work queue and the pipeline:
// it starts onboarding, runs each dispatched stage, and advances the team's
// status when a stage completes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"collab-sync/internal/analysis"
	"collab-sync/internal/model"
	"collab-sync/internal/pipeline"
	"collab-sync/internal/queue"
	"collab-sync/internal/store"
	"collab-sync/internal/syncer"
)

// Number of repositories to sync in parallel within one team's stage.
const repoConcurrency = 5

// ErrOnboardingInProgress is returned when onboarding is requested for a team
// whose pipeline is already running or finished.
var ErrOnboardingInProgress = errors.New("onboarding already in progress")

// Orchestrator wires the sync engine, the analysis service and the state
// machine into the queue's job handlers.
type Orchestrator struct {
	store    store.Store
	engine   *syncer.Engine
	analysis *analysis.Service
	machine  *pipeline.Machine
	logger   *slog.Logger
}

func New(st store.Store, engine *syncer.Engine, svc *analysis.Service, machine *pipeline.Machine, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    st,
		engine:   engine,
		analysis: svc,
		machine:  machine,
		logger:   logger,
	}
}

// StartOnboarding kicks a team into the pipeline. Only teams that have not
// started (or previously failed) can be scheduled.
func (o *Orchestrator) StartOnboarding(ctx context.Context, teamID int64) error {
	team, err := o.store.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	switch team.OnboardingPipelineStatus {
	case model.PipelineNotStarted, model.PipelineFailed:
	default:
		return fmt.Errorf("team %d (status %s): %w", teamID, team.OnboardingPipelineStatus, ErrOnboardingInProgress)
	}
	return o.machine.Transition(ctx, team, model.PipelineSyncingMembers, "")
}

// Handlers returns the job router for the worker pool.
func (o *Orchestrator) Handlers() map[string]queue.Handler {
	return map[string]queue.Handler{
		pipeline.JobMemberSync:         o.runMemberSync,
		pipeline.JobHistoricalSync:     o.runHistoricalSync,
		pipeline.JobAIAnalysis:         o.runAIAnalysis,
		pipeline.JobMetricAggregation:  o.runMetricAggregation,
		pipeline.JobInsightComputation: o.runInsightComputation,
		pipeline.JobPhase2Kickoff:      o.runPhase2Kickoff,
	}
}

func (o *Orchestrator) runMemberSync(ctx context.Context, job pipeline.Job) error {
	return o.runStage(ctx, job.TeamID, func(ctx context.Context, team *model.Team) error {
		repos, err := o.store.ListTrackedRepositories(ctx, team.ID)
		if err != nil {
			return err
		}
		for i := range repos {
			if err := o.engine.SyncMembers(ctx, &repos[i]); err != nil {
				return err
			}
		}
		return o.machine.Transition(ctx, team, model.PipelineSyncing, "")
	})
}

func (o *Orchestrator) runHistoricalSync(ctx context.Context, job pipeline.Job) error {
	return o.runStage(ctx, job.TeamID, func(ctx context.Context, team *model.Team) error {
		repos, err := o.store.ListTrackedRepositories(ctx, team.ID)
		if err != nil {
			return err
		}

		background := team.OnboardingPipelineStatus == model.PipelineBackgroundSyncing

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(repoConcurrency)
		var done atomic.Int64
		for i := range repos {
			repo := &repos[i]
			g.Go(func() error {
				res := o.engine.SyncFull(gctx, repo, job.DaysBack, job.SkipRecent)
				if repo.SyncStatus == model.SyncError {
					return fmt.Errorf("sync %s failed: %v", repo.FullName, res.Errors)
				}
				n := done.Add(1)
				if background && len(repos) > 0 {
					// Coarse per-repo progress on the team row.
					_ = o.store.UpdateTeamSyncProgress(gctx, team.ID, int(n)*100/len(repos))
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		if background {
			if err := o.store.UpdateTeamSyncProgress(ctx, team.ID, 100); err != nil {
				return err
			}
			return o.machine.Transition(ctx, team, model.PipelineBackgroundLLM, "")
		}
		return o.machine.Transition(ctx, team, model.PipelineLLMProcessing, "")
	})
}

func (o *Orchestrator) runAIAnalysis(ctx context.Context, job pipeline.Job) error {
	return o.runStage(ctx, job.TeamID, func(ctx context.Context, team *model.Team) error {
		if err := o.analysis.RunAIBatch(ctx, team.ID); err != nil {
			return err
		}
		if team.OnboardingPipelineStatus == model.PipelineBackgroundLLM {
			return o.machine.Transition(ctx, team, model.PipelineComplete, "")
		}
		return o.machine.Transition(ctx, team, model.PipelineComputingMetrics, "")
	})
}

func (o *Orchestrator) runMetricAggregation(ctx context.Context, job pipeline.Job) error {
	return o.runStage(ctx, job.TeamID, func(ctx context.Context, team *model.Team) error {
		if err := o.analysis.AggregateMetrics(ctx, team.ID); err != nil {
			return err
		}
		return o.machine.Transition(ctx, team, model.PipelineComputingInsights, "")
	})
}

func (o *Orchestrator) runInsightComputation(ctx context.Context, job pipeline.Job) error {
	return o.runStage(ctx, job.TeamID, func(ctx context.Context, team *model.Team) error {
		if err := o.analysis.ComputeInsights(ctx, team.ID); err != nil {
			return err
		}
		return o.machine.Transition(ctx, team, model.PipelinePhase1Complete, "")
	})
}

// runPhase2Kickoff auto-advances a phase1-complete team into the background
// backfill.
func (o *Orchestrator) runPhase2Kickoff(ctx context.Context, job pipeline.Job) error {
	return o.runStage(ctx, job.TeamID, func(ctx context.Context, team *model.Team) error {
		return o.machine.Transition(ctx, team, model.PipelineBackgroundSyncing, "")
	})
}

// runStage loads the team fresh, runs the stage, and routes any failure to
// the failed status. A cancelled context is not a stage failure: the status
// stays put so a supervisor can re-schedule.
func (o *Orchestrator) runStage(ctx context.Context, teamID int64, stage func(ctx context.Context, team *model.Team) error) error {
	team, err := o.store.GetTeam(ctx, teamID)
	if err != nil {
		return err
	}
	if team.OnboardingPipelineStatus.Terminal() {
		o.logger.Warn("Ignoring job for terminal pipeline", "team_id", teamID, "status", team.OnboardingPipelineStatus)
		return nil
	}

	if err := stage(ctx, team); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		o.logger.Error("Pipeline stage failed", "team_id", teamID, "status", team.OnboardingPipelineStatus, "error", err)
		if terr := o.machine.Transition(ctx, team, model.PipelineFailed, err.Error()); terr != nil {
			o.logger.Error("Failed to record pipeline failure", "team_id", teamID, "error", terr)
		}
		return err
	}
	return nil
}
