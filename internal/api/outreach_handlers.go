// Package api provides HTTP handlers for the outreach queue endpoints.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
	"github.com/BTreeMap/GrowthGovernor/internal/outreach"
)


func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"service": "growthgovernor"}))
}

// decodeOptionalJSON decodes r.Body into v. An empty body leaves v untouched.
func decodeOptionalJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) queueOutreachHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	var req outreach.QueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.queueOutreachHandler: failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	item, err := s.queue.QueueOutreach(r.Context(), req)
	if err != nil {
		writeError(w, "queueOutreachHandler", err)
		return
	}
	slog.Info("Server.queueOutreachHandler: outreach queued", "id", item.ID, "context", item.Context, "channel", item.Channel)
	writeJSONResponse(w, http.StatusCreated, models.Queued(item))
}

func (s *Server) listOutreachHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := outreach.ListOptions{
		Channel: models.Channel(q.Get("channel")),
		Status:  models.OutreachStatus(q.Get("status")),
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be a non-negative integer"))
			return
		}
		opts.Limit = n
	}
	if raw := q.Get("due_before"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("due_before must be an RFC 3339 timestamp"))
			return
		}
		opts.DueBefore = &t
	}

	items, err := s.queue.GetQueuedOutreach(r.Context(), q.Get("context"), opts)
	if err != nil {
		writeError(w, "listOutreachHandler", err)
		return
	}
	if items == nil {
		items = []models.OutreachItem{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(items))
}

func (s *Server) getOutreachHandler(w http.ResponseWriter, r *http.Request) {
	item, err := s.queue.GetOutreach(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "getOutreachHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(item))
}

// writeItem answers a successful transition with the item's new state.
func (s *Server) writeItem(w http.ResponseWriter, r *http.Request, op, id string) {
	item, err := s.queue.GetOutreach(r.Context(), id)
	if err != nil {
		writeError(w, op, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(item))
}

func (s *Server) markSentHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Metadata map[string]any `json:"metadata"`
	}
	if err := decodeOptionalJSON(r, &body); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := s.queue.MarkOutreachSent(r.Context(), id, body.Metadata); err != nil {
		writeError(w, "markSentHandler", err)
		return
	}
	s.writeItem(w, r, "markSentHandler", id)
}

func (s *Server) markRespondedHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		ResponseText string `json:"response_text"`
	}
	if err := decodeOptionalJSON(r, &body); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := s.queue.MarkOutreachResponded(r.Context(), id, body.ResponseText); err != nil {
		writeError(w, "markRespondedHandler", err)
		return
	}
	s.writeItem(w, r, "markRespondedHandler", id)
}

func (s *Server) markFailedHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		ErrorMessage string `json:"error_message"`
	}
	if err := decodeOptionalJSON(r, &body); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	if err := s.queue.MarkOutreachFailed(r.Context(), id, body.ErrorMessage); err != nil {
		writeError(w, "markFailedHandler", err)
		return
	}
	s.writeItem(w, r, "markFailedHandler", id)
}

func (s *Server) cancelOutreachHandler(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.queue.CancelOutreach(r.Context(), id); err != nil {
		writeError(w, "cancelOutreachHandler", err)
		return
	}
	s.writeItem(w, r, "cancelOutreachHandler", id)
}

// parseDateParam parses a YYYY-MM-DD query value in the queue's time zone,
// falling back to def.
func (s *Server) parseDateParam(raw string, def time.Time) (time.Time, error) {
	if raw == "" {
		return def, nil
	}
	return s.queue.ParseDay(raw)
}

func (s *Server) outreachStatsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	today := s.now()
	start, err := s.parseDateParam(q.Get("start"), today)
	if err != nil {
		writeError(w, "outreachStatsHandler", err)
		return
	}
	end, err := s.parseDateParam(q.Get("end"), today)
	if err != nil {
		writeError(w, "outreachStatsHandler", err)
		return
	}

	stats, err := s.queue.GetOutreachStats(r.Context(), q.Get("context"), start, end)
	if err != nil {
		writeError(w, "outreachStatsHandler", err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stats))
}

func (s *Server) staleOutreachHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	olderThan := 72 * time.Hour
	if raw := q.Get("older_than"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("older_than must be a duration such as 72h"))
			return
		}
		olderThan = d
	}
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("limit must be an integer"))
			return
		}
		limit = n
	}

	items, err := s.queue.ListStaleSent(r.Context(), q.Get("context"), olderThan, limit)
	if err != nil {
		writeError(w, "staleOutreachHandler", err)
		return
	}
	if items == nil {
		items = []models.OutreachItem{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(items))
}
