package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
)

func (s *Server) limitsSummaryHandler(w http.ResponseWriter, r *http.Request) {
	contextName := chi.URLParam(r, "context")
	summary, err := s.tracker.GetLimitsSummary(r.Context(), contextName)
	if err != nil {
		writeError(w, "limitsSummaryHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]any{
		"context": contextName,
		"day":     s.tracker.Today(),
		"limits":  summary,
	}))
}

func (s *Server) checkLimitHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.tracker.CheckDailyLimit(r.Context(), models.ActionType(chi.URLParam(r, "action")), chi.URLParam(r, "context"))
	if err != nil {
		writeError(w, "checkLimitHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

// incrementHandler records an action performed outside the dispatcher. The
// count may pass the ceiling.
func (s *Server) incrementHandler(w http.ResponseWriter, r *http.Request) {
	actionType := models.ActionType(chi.URLParam(r, "action"))
	contextName := chi.URLParam(r, "context")
	if _, err := s.tracker.IncrementDailyCount(r.Context(), actionType, contextName); err != nil {
		writeError(w, "incrementHandler", err)
		return
	}
	res, err := s.tracker.CheckDailyLimit(r.Context(), actionType, contextName)
	if err != nil {
		writeError(w, "incrementHandler", err)
		return
	}
	slog.Info("Server.incrementHandler: counter incremented", "context", contextName, "actionType", actionType, "current", res.Current)
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}

// acquireHandler grants one unit only while the counter is below its ceiling.
func (s *Server) acquireHandler(w http.ResponseWriter, r *http.Request) {
	actionType := models.ActionType(chi.URLParam(r, "action"))
	contextName := chi.URLParam(r, "context")
	res, err := s.tracker.TryAcquire(r.Context(), actionType, contextName)
	if err != nil {
		writeError(w, "acquireHandler", err)
		return
	}
	if !res.Allowed {
		writeJSONResponse(w, http.StatusOK, models.Deferred(res))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(res))
}
