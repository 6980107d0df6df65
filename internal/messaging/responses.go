package messaging

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
)

// ResponseFeed is a stoppable, buffered stream of prospect replies shared by
// actuator implementations.
type ResponseFeed struct {
	responses chan models.ProspectResponse
	mu        sync.RWMutex
	stopped   bool
}

func NewResponseFeed() *ResponseFeed {
	return &ResponseFeed{responses: make(chan models.ProspectResponse, DefaultChannelBufferSize)}
}

// C returns the receive side of the feed.
func (f *ResponseFeed) C() <-chan models.ProspectResponse {
	return f.responses
}

// Emit pushes a reply, dropping it when the feed is stopped or stays full for
// DefaultChannelTimeout. It reports whether the reply was accepted.
func (f *ResponseFeed) Emit(resp models.ProspectResponse) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.stopped {
		slog.Warn("ResponseFeed dropping response (feed stopped)", "outreachID", resp.OutreachID)
		return false
	}

	select {
	case f.responses <- resp:
		slog.Debug("ResponseFeed emitted response", "outreachID", resp.OutreachID)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("ResponseFeed channel blocked, dropping response", "outreachID", resp.OutreachID)
		return false
	}
}

// Close stops the feed and closes its channel. It is safe to call twice.
func (f *ResponseFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return
	}
	f.stopped = true
	close(f.responses)
}

// webhookPayload is the JSON body accepted by WebhookHandler.
type webhookPayload struct {
	OutreachID string     `json:"outreach_id"`
	Text       string     `json:"text"`
	At         *time.Time `json:"at,omitempty"`
}

// WebhookHandler accepts reply notifications from an external delivery
// provider and emits them into the feed.
func (f *ResponseFeed) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	var p webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		slog.Warn("ResponseFeed.WebhookHandler: invalid JSON", "error", err)
		writeJSON(w, http.StatusBadRequest, models.Error("invalid JSON format"))
		return
	}
	if strings.TrimSpace(p.OutreachID) == "" {
		writeJSON(w, http.StatusBadRequest, models.Error("outreach_id is required"))
		return
	}

	resp := models.ProspectResponse{OutreachID: p.OutreachID, Text: p.Text, At: time.Now().UTC()}
	if p.At != nil && !p.At.IsZero() {
		resp.At = p.At.UTC()
	}
	if !f.Emit(resp) {
		writeJSON(w, http.StatusServiceUnavailable, models.Error("response feed unavailable"))
		return
	}
	slog.Info("ResponseFeed.WebhookHandler: reply received", "outreachID", p.OutreachID)
	writeJSON(w, http.StatusAccepted, models.SuccessWithMessage("response accepted", nil))
}

func writeJSON(w http.ResponseWriter, status int, body models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("messaging.writeJSON: encode failed", "error", err)
	}
}
