// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"collab-sync/internal/model"
	"collab-sync/internal/orchestrator"
	"collab-sync/internal/store"
)

// Store is the read surface the API serves from.
type Store interface {
	GetTeam(ctx context.Context, id int64) (*model.Team, error)
	GetTrackedRepository(ctx context.Context, id int64) (*model.TrackedRepository, error)
}

// Onboarder schedules the onboarding pipeline for a team.
type Onboarder interface {
	StartOnboarding(ctx context.Context, teamID int64) error
}

// Handler is the container for API dependencies.
type Handler struct {
	store        Store
	orchestrator Onboarder
	logger       *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(st Store, orch Onboarder, logger *slog.Logger) http.Handler {
	h := &Handler{
		store:        st,
		orchestrator: orch,
		logger:       logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/teams/{teamID}/onboarding", h.startOnboarding)
		r.Get("/teams/{teamID}/pipeline", h.getPipeline)
		r.Get("/repos/{repoID}/sync-status", h.getSyncStatus)
	})

	return r
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// startOnboarding schedules the onboarding pipeline for a team.
// POST /v1/teams/{teamID}/onboarding
func (h *Handler) startOnboarding(w http.ResponseWriter, r *http.Request) {
	teamID, err := strconv.ParseInt(chi.URLParam(r, "teamID"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid team id")
		return
	}

	if err := h.orchestrator.StartOnboarding(r.Context(), teamID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Team not found")
			return
		}
		if errors.Is(err, orchestrator.ErrOnboardingInProgress) {
			respondWithError(w, http.StatusConflict, "Onboarding already in progress")
			return
		}
		h.logger.Error("Failed to start onboarding", "team_id", teamID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	respondWithJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

// getPipeline reports a team's onboarding pipeline state.
// GET /v1/teams/{teamID}/pipeline
func (h *Handler) getPipeline(w http.ResponseWriter, r *http.Request) {
	teamID, err := strconv.ParseInt(chi.URLParam(r, "teamID"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid team id")
		return
	}

	team, err := h.store.GetTeam(r.Context(), teamID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Team not found")
			return
		}
		h.logger.Error("Failed to get team", "team_id", teamID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"status":              team.OnboardingPipelineStatus,
		"error":               team.OnboardingPipelineError,
		"started_at":          team.OnboardingPipelineStartedAt,
		"completed_at":        team.OnboardingPipelineCompletedAt,
		"background_sync_pct": team.BackgroundSyncProgressPercent,
		"background_llm_pct":  team.BackgroundLLMProgressPercent,
	})
}

// getSyncStatus reports a tracked repository's live sync progress.
// GET /v1/repos/{repoID}/sync-status
func (h *Handler) getSyncStatus(w http.ResponseWriter, r *http.Request) {
	repoID, err := strconv.ParseInt(chi.URLParam(r, "repoID"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid repository id")
		return
	}

	repo, err := h.store.GetTrackedRepository(r.Context(), repoID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondWithError(w, http.StatusNotFound, "Repository not found")
			return
		}
		h.logger.Error("Failed to get repository", "repo_id", repoID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]any{
		"full_name":        repo.FullName,
		"sync_status":      repo.SyncStatus,
		"progress_percent": repo.SyncProgressPercent,
		"prs_completed":    repo.PRsCompleted,
		"prs_total":        repo.PRsTotal,
		"last_sync_at":     repo.LastSyncAt,
	})
}

func respondWithJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, map[string]string{"error": message})
}
