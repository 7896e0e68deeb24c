// internal/analysis/analysis.go

// Package analysis implements the pipeline stages that run after history
// sync: the AI-assistance batch classification, the weekly metric rollup
// and the insight computation.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"collab-sync/internal/model"
	"collab-sync/internal/normalize"
)

const analysisBatchSize = 200

// Store is the slice of the persistence layer these stages consume.
type Store interface {
	ListPullRequestsForAnalysis(ctx context.Context, teamID int64, limit int) ([]model.PullRequest, error)
	MarkPullRequestAnalyzed(ctx context.Context, prID int64, assisted bool, tools []string, at time.Time) error
	UpdateTeamLLMProgress(ctx context.Context, teamID int64, percent int) error
	AggregateWeeklyMetrics(ctx context.Context, teamID int64) (int, error)
	ListWeeklyMetrics(ctx context.Context, teamID int64) ([]model.WeeklyMetric, error)
	ReplaceInsights(ctx context.Context, teamID int64, insights []model.Insight) error
}

// Service runs the post-sync stages for one team at a time.
type Service struct {
	store    Store
	detector normalize.Detector
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(st Store, detector normalize.Detector, logger *slog.Logger) *Service {
	return &Service{store: st, detector: detector, logger: logger, now: time.Now}
}

// RunAIBatch classifies every not-yet-analyzed pull request of the team,
// combining the text signal with the author-identity signal and recording
// progress on the team row as batches drain.
func (s *Service) RunAIBatch(ctx context.Context, teamID int64) error {
	analyzed := 0
	for {
		prs, err := s.store.ListPullRequestsForAnalysis(ctx, teamID, analysisBatchSize)
		if err != nil {
			return fmt.Errorf("list pull requests: %w", err)
		}
		if len(prs) == 0 {
			break
		}
		for _, pr := range prs {
			det := normalize.Union(
				s.detector.Detect(pr.Title+"\n"+pr.Body),
				normalize.AuthorSignal(pr.AuthorLogin, ""),
			)
			if err := s.store.MarkPullRequestAnalyzed(ctx, pr.ID, det.IsAssisted, det.Tools, s.now()); err != nil {
				return fmt.Errorf("mark pr %d analyzed: %w", pr.ID, err)
			}
			analyzed++
		}
		if len(prs) < analysisBatchSize {
			break
		}
		// The remaining count is unknown; a full batch means at least one
		// more is waiting, so estimate the remainder as one batch. The
		// percentage rises with every batch drained.
		estimated := analyzed + analysisBatchSize
		if err := s.store.UpdateTeamLLMProgress(ctx, teamID, analyzed*100/estimated); err != nil {
			return err
		}
	}
	if err := s.store.UpdateTeamLLMProgress(ctx, teamID, 100); err != nil {
		return err
	}
	s.logger.Info("AI analysis batch finished", "team_id", teamID, "analyzed", analyzed)
	return nil
}

// AggregateMetrics recomputes the team's weekly rollups.
func (s *Service) AggregateMetrics(ctx context.Context, teamID int64) error {
	n, err := s.store.AggregateWeeklyMetrics(ctx, teamID)
	if err != nil {
		return fmt.Errorf("aggregate weekly metrics: %w", err)
	}
	s.logger.Info("Weekly metrics aggregated", "team_id", teamID, "weeks", n)
	return nil
}

// ComputeInsights derives dashboard observations from the latest metrics
// and replaces the team's stored set.
func (s *Service) ComputeInsights(ctx context.Context, teamID int64) error {
	metrics, err := s.store.ListWeeklyMetrics(ctx, teamID)
	if err != nil {
		return fmt.Errorf("list weekly metrics: %w", err)
	}

	insights := buildInsights(teamID, metrics)
	if err := s.store.ReplaceInsights(ctx, teamID, insights); err != nil {
		return fmt.Errorf("replace insights: %w", err)
	}
	s.logger.Info("Insights computed", "team_id", teamID, "count", len(insights))
	return nil
}

func buildInsights(teamID int64, metrics []model.WeeklyMetric) []model.Insight {
	var insights []model.Insight
	if len(metrics) == 0 {
		return insights
	}

	var opened, merged, aiAssisted int
	var cycleSum float64
	var cycleWeeks int
	for _, m := range metrics {
		opened += m.PRsOpened
		merged += m.PRsMerged
		aiAssisted += m.AIAssistedCount
		if m.AvgCycleTimeHours != nil {
			cycleSum += *m.AvgCycleTimeHours
			cycleWeeks++
		}
	}

	if opened > 0 {
		insights = append(insights, model.Insight{
			TeamID: teamID,
			Kind:   "throughput",
			Message: fmt.Sprintf("%d pull requests opened and %d merged over the last %d weeks",
				opened, merged, len(metrics)),
		})
		share := aiAssisted * 100 / opened
		insights = append(insights, model.Insight{
			TeamID:  teamID,
			Kind:    "ai_adoption",
			Message: fmt.Sprintf("%d%% of pull requests show signs of AI assistance", share),
		})
	}
	if cycleWeeks > 0 {
		insights = append(insights, model.Insight{
			TeamID:  teamID,
			Kind:    "cycle_time",
			Message: fmt.Sprintf("average cycle time is %.1f hours", cycleSum/float64(cycleWeeks)),
		})
	}
	return insights
}
