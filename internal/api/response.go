// Package api provides HTTP response utilities for GrowthGovernor.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
	"github.com/BTreeMap/GrowthGovernor/internal/outreach"
	"github.com/BTreeMap/GrowthGovernor/internal/quota"
	"github.com/BTreeMap/GrowthGovernor/internal/store"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

// init validates that our fallback responses can be marshaled
func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	// Marshal first so an encoding error can still produce a clean 500.
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// statusForError maps governor errors onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, outreach.ErrInvalidRequest),
		errors.Is(err, quota.ErrUnknownActionType),
		errors.Is(err, quota.ErrInvalidContext):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrOutreachNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrStaleTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err using statusForError. Internal errors are logged and
// replaced by a generic message.
func writeError(w http.ResponseWriter, op string, err error) {
	status := statusForError(err)
	if status == http.StatusInternalServerError {
		slog.Error("Server."+op+": internal error", "error", err)
		writeJSONResponse(w, status, models.Error("Internal server error"))
		return
	}

	var terr *store.TransitionError
	if errors.As(err, &terr) {
		slog.Warn("Server."+op+": stale transition", "id", terr.ID, "current", terr.Current, "target", terr.To)
		writeJSONResponse(w, status, models.ErrorWithResult(err.Error(), map[string]any{
			"id":             terr.ID,
			"current_status": terr.Current,
		}))
		return
	}
	slog.Warn("Server."+op+": request rejected", "status", status, "error", err)
	writeJSONResponse(w, status, models.Error(err.Error()))
}
