package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/BTreeMap/GrowthGovernor/internal/messaging"
	"github.com/BTreeMap/GrowthGovernor/internal/models"
	"github.com/BTreeMap/GrowthGovernor/internal/outreach"
	"github.com/BTreeMap/GrowthGovernor/internal/quota"
	"github.com/BTreeMap/GrowthGovernor/internal/ratelimit"
	"github.com/BTreeMap/GrowthGovernor/internal/store"
	"github.com/BTreeMap/GrowthGovernor/internal/testutil"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, limits quota.Limits, rl ratelimit.Options) *Server {
	t.Helper()
	st := store.NewInMemoryStore()
	clock := func() time.Time { return testNow }
	return NewServer(Config{
		Tracker:   quota.NewTracker(st, quota.WithLimits(limits), quota.WithClock(clock)),
		Queue:     outreach.NewQueue(st, outreach.WithClock(clock)),
		RateLimit: rl,
		Webhook:   messaging.NewResponseFeed().WebhookHandler,
		Now:       clock,
	})
}

func do(t *testing.T, s *Server, method, path, body string) (*httptest.ResponseRecorder, models.APIResponse) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
	}
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr, testutil.DecodeAPIResponse(t, rr)
}

func queueOne(t *testing.T, s *Server) models.OutreachItem {
	t.Helper()
	rr, resp := do(t, s, http.MethodPost, "/outreach", `{"context":"acme","channel":"email","prospect_name":"Dana","subject":"Hi","body":"Hello Dana"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if resp.Status != string(models.APIStatusQueued) {
		t.Fatalf("expected queued status, got %q", resp.Status)
	}
	var item models.OutreachItem
	testutil.DecodeResult(t, resp, &item)
	return item
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, quota.DefaultLimits(), ratelimit.Options{})
	rr, resp := do(t, s, http.MethodGet, "/health", "")
	if rr.Code != http.StatusOK || resp.Status != string(models.APIStatusOK) {
		t.Errorf("unexpected health response %d %+v", rr.Code, resp)
	}
}

func TestQueueOutreach_Validation(t *testing.T) {
	s := newTestServer(t, quota.DefaultLimits(), ratelimit.Options{})
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"context":`},
		{"missing body", `{"context":"acme","channel":"email","prospect_name":"Dana"}`},
		{"bad channel", `{"context":"acme","channel":"fax","prospect_name":"Dana","body":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr, resp := do(t, s, http.MethodPost, "/outreach", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rr.Code)
			}
			if resp.Status != string(models.APIStatusError) {
				t.Errorf("expected error status, got %q", resp.Status)
			}
		})
	}
}

func TestOutreachLifecycle(t *testing.T) {
	s := newTestServer(t, quota.DefaultLimits(), ratelimit.Options{})
	item := queueOne(t, s)

	rr, resp := do(t, s, http.MethodGet, "/outreach?context=acme&channel=email", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rr.Code)
	}
	var listed []models.OutreachItem
	testutil.DecodeResult(t, resp, &listed)
	if len(listed) != 1 || listed[0].ID != item.ID {
		t.Fatalf("unexpected listing %+v", listed)
	}

	rr, resp = do(t, s, http.MethodPost, "/outreach/"+item.ID+"/sent", `{"metadata":{"provider_id":"abc"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("sent: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var sent models.OutreachItem
	testutil.DecodeResult(t, resp, &sent)
	if sent.Status != models.OutreachStatusSent || sent.SentAt == nil || sent.Metadata["provider_id"] != "abc" {
		t.Errorf("unexpected sent item %+v", sent)
	}

	// A second send of the same item is a stale transition.
	rr, resp = do(t, s, http.MethodPost, "/outreach/"+item.ID+"/sent", "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("resend: expected 409, got %d", rr.Code)
	}
	var detail map[string]any
	testutil.DecodeResult(t, resp, &detail)
	if detail["current_status"] != string(models.OutreachStatusSent) {
		t.Errorf("expected current_status sent, got %v", detail)
	}

	rr, _ = do(t, s, http.MethodPost, "/outreach/"+item.ID+"/responded", `{"response_text":"Sure, let's talk"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("responded: expected 200, got %d", rr.Code)
	}
	rr, resp = do(t, s, http.MethodGet, "/outreach/"+item.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", rr.Code)
	}
	var got models.OutreachItem
	testutil.DecodeResult(t, resp, &got)
	if got.Status != models.OutreachStatusResponded || got.ResponseText != "Sure, let's talk" {
		t.Errorf("unexpected item %+v", got)
	}

	rr, _ = do(t, s, http.MethodPost, "/outreach/"+item.ID+"/cancel", "")
	if rr.Code != http.StatusConflict {
		t.Errorf("cancel responded: expected 409, got %d", rr.Code)
	}
}

func TestOutreach_NotFound(t *testing.T) {
	s := newTestServer(t, quota.DefaultLimits(), ratelimit.Options{})
	if rr, _ := do(t, s, http.MethodGet, "/outreach/out_missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("get: expected 404, got %d", rr.Code)
	}
	if rr, _ := do(t, s, http.MethodPost, "/outreach/out_missing/cancel", ""); rr.Code != http.StatusNotFound {
		t.Errorf("cancel: expected 404, got %d", rr.Code)
	}
}

func TestOutreachFailedAndStats(t *testing.T) {
	s := newTestServer(t, quota.DefaultLimits(), ratelimit.Options{})
	failed := queueOne(t, s)
	sent := queueOne(t, s)
	queueOne(t, s)

	if rr, _ := do(t, s, http.MethodPost, "/outreach/"+failed.ID+"/failed", `{"error_message":"bounced"}`); rr.Code != http.StatusOK {
		t.Fatalf("failed: expected 200, got %d", rr.Code)
	}
	if rr, _ := do(t, s, http.MethodPost, "/outreach/"+sent.ID+"/sent", ""); rr.Code != http.StatusOK {
		t.Fatalf("sent: expected 200, got %d", rr.Code)
	}

	rr, resp := do(t, s, http.MethodGet, "/outreach/stats?context=acme&start=2026-03-01&end=2026-03-01", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", rr.Code)
	}
	var stats models.OutreachStats
	testutil.DecodeResult(t, resp, &stats)
	if stats.Total != 3 || stats.Queued != 1 || stats.Sent != 1 || stats.Failed != 1 || stats.ResponseRate != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}

	if rr, _ := do(t, s, http.MethodGet, "/outreach/stats?context=acme&start=March", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("bad date: expected 400, got %d", rr.Code)
	}
	if rr, _ := do(t, s, http.MethodGet, "/outreach/stats", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("missing context: expected 400, got %d", rr.Code)
	}
}

func TestQuotaEndpoints(t *testing.T) {
	limits := quota.DefaultLimits()
	limits[models.ActionConnectionRequest] = 2
	s := newTestServer(t, limits, ratelimit.Options{})

	for i := 0; i < 3; i++ {
		if rr, _ := do(t, s, http.MethodPost, "/quota/acme/connection_request/increment", ""); rr.Code != http.StatusOK {
			t.Fatalf("increment %d: expected 200, got %d", i, rr.Code)
		}
	}

	rr, resp := do(t, s, http.MethodGet, "/quota/acme/connection_request", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("check: expected 200, got %d", rr.Code)
	}
	var res models.DailyLimitResult
	testutil.DecodeResult(t, resp, &res)
	if res.Allowed || res.Current != 3 || res.Remaining != 0 || res.Limit != 2 {
		t.Errorf("unexpected check result %+v", res)
	}

	rr, resp = do(t, s, http.MethodPost, "/quota/acme/connection_request/acquire", "")
	if rr.Code != http.StatusOK || resp.Status != string(models.APIStatusDeferred) {
		t.Errorf("acquire over ceiling: expected deferred, got %d %q", rr.Code, resp.Status)
	}

	rr, resp = do(t, s, http.MethodGet, "/quota/acme", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("summary: expected 200, got %d", rr.Code)
	}
	var summary struct {
		Day    string                `json:"day"`
		Limits []models.LimitSummary `json:"limits"`
	}
	testutil.DecodeResult(t, resp, &summary)
	if summary.Day != "2026-03-01" || len(summary.Limits) != len(models.AllActionTypes) {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if row := summary.Limits[1]; row.ActionType != models.ActionConnectionRequest || row.PercentageUsed != 150 {
		t.Errorf("unexpected connection_request row %+v", row)
	}

	if rr, _ := do(t, s, http.MethodGet, "/quota/acme/tweet", ""); rr.Code != http.StatusBadRequest {
		t.Errorf("unknown action: expected 400, got %d", rr.Code)
	}
}

func TestRateLimitedTriggers(t *testing.T) {
	s := newTestServer(t, quota.DefaultLimits(), ratelimit.Options{
		Limiter:     ratelimit.NewLimiter(ratelimit.NewMemoryStore()),
		Window:      time.Minute,
		MaxRequests: 1,
	})

	queueOne(t, s)
	rr, resp := do(t, s, http.MethodPost, "/outreach", `{"context":"acme","channel":"email","prospect_name":"Dana","body":"again"}`)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	if resp.Message != "rate limit exceeded" {
		t.Errorf("unexpected message %q", resp.Message)
	}

	// Read endpoints are not limited.
	for i := 0; i < 3; i++ {
		if rr, _ := do(t, s, http.MethodGet, "/outreach?context=acme", ""); rr.Code != http.StatusOK {
			t.Errorf("list %d: expected 200, got %d", i, rr.Code)
		}
	}
}

func TestRateLimit_ForwardedForHeader(t *testing.T) {
	tests := []struct {
		name         string
		trust        bool
		wantRejected int
	}{
		{"untrusted header keeps the peer address", false, 8},
		{"trusted header keys by client", true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, quota.DefaultLimits(), ratelimit.Options{
				Limiter:            ratelimit.NewLimiter(ratelimit.NewMemoryStore()),
				Window:             time.Minute,
				MaxRequests:        2,
				TrustXForwardedFor: tt.trust,
			})

			rejected := 0
			for i := 0; i < 10; i++ {
				req := httptest.NewRequest(http.MethodPost, "/quota/acme/message/increment", nil)
				req.RemoteAddr = "203.0.113.7:4000"
				req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
				rr := httptest.NewRecorder()
				s.Handler().ServeHTTP(rr, req)
				if rr.Code == http.StatusTooManyRequests {
					rejected++
				}
			}
			if rejected != tt.wantRejected {
				t.Errorf("expected %d rejected requests, got %d", tt.wantRejected, rejected)
			}
		})
	}
}

func TestOutreachStats_NonUTCDay(t *testing.T) {
	toronto, err := time.LoadLocation("America/Toronto")
	if err != nil {
		t.Fatalf("LoadLocation failed: %v", err)
	}
	st := store.NewInMemoryStore()
	clock := testutil.NewClock(time.Date(2026, 10, 14, 12, 0, 0, 0, toronto))
	s := NewServer(Config{
		Tracker: quota.NewTracker(st, quota.WithLocation(toronto), quota.WithClock(clock.Now)),
		Queue:   outreach.NewQueue(st, outreach.WithLocation(toronto), outreach.WithClock(clock.Now)),
		Now:     clock.Now,
	})
	queueOne(t, s)

	tests := []struct {
		query string
		want  int
	}{
		{"context=acme&start=2026-10-14&end=2026-10-14", 1},
		{"context=acme", 1},
		{"context=acme&start=2026-10-13&end=2026-10-13", 0},
		{"context=acme&start=2026-10-15&end=2026-10-15", 0},
	}
	for _, tt := range tests {
		rr, resp := do(t, s, http.MethodGet, "/outreach/stats?"+tt.query, "")
		testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, tt.query)
		var stats models.OutreachStats
		testutil.DecodeResult(t, resp, &stats)
		if stats.Total != tt.want {
			t.Errorf("%s: expected total %d, got %d", tt.query, tt.want, stats.Total)
		}
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	s := NewServer(Config{
		Addr:  "127.0.0.1:0",
		Queue: outreach.NewQueue(store.NewInMemoryStore()),
	})
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := s.Start(); !errors.Is(err, http.ErrServerClosed) {
		t.Errorf("expected ErrServerClosed, got %v", err)
	}
}

func TestWebhookRoute(t *testing.T) {
	s := newTestServer(t, quota.DefaultLimits(), ratelimit.Options{})
	rr, _ := do(t, s, http.MethodPost, "/webhooks/responses", `{"outreach_id":"out_1","text":"hi"}`)
	if rr.Code != http.StatusAccepted {
		t.Errorf("expected 202, got %d", rr.Code)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{outreach.ErrInvalidRequest, http.StatusBadRequest},
		{quota.ErrUnknownActionType, http.StatusBadRequest},
		{quota.ErrInvalidContext, http.StatusBadRequest},
		{store.ErrOutreachNotFound, http.StatusNotFound},
		{&store.TransitionError{ID: "out_1", Current: models.OutreachStatusSent}, http.StatusConflict},
		{http.ErrHandlerTimeout, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestSQLiteBackedQuotaDay(t *testing.T) {
	st := testutil.NewSQLiteStore(t)
	clock := testutil.NewClock(time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC))
	limits := quota.DefaultLimits()
	limits[models.ActionMessage] = 1
	s := NewServer(Config{
		Tracker: quota.NewTracker(st, quota.WithLimits(limits), quota.WithClock(clock.Now)),
		Queue:   outreach.NewQueue(st, outreach.WithClock(clock.Now)),
		Now:     clock.Now,
	})

	send := func(label string, want int) models.APIResponse {
		t.Helper()
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, testutil.CreateHTTPRequest(t, http.MethodPost, "/quota/acme/message/acquire", nil))
		testutil.AssertHTTPStatus(t, want, rr.Code, label)
		return testutil.DecodeAPIResponse(t, rr)
	}

	if resp := send("first acquire", http.StatusOK); resp.Status != string(models.APIStatusOK) {
		t.Errorf("first acquire: expected ok, got %q", resp.Status)
	}
	if resp := send("second acquire", http.StatusOK); resp.Status != string(models.APIStatusDeferred) {
		t.Errorf("second acquire: expected deferred, got %q", resp.Status)
	}

	// Counters roll over with the calendar day.
	clock.Advance(2 * time.Minute)
	if resp := send("next day", http.StatusOK); resp.Status != string(models.APIStatusOK) {
		t.Errorf("next day: expected ok, got %q", resp.Status)
	}

	rr := httptest.NewRecorder()
	req := testutil.CreateHTTPRequest(t, http.MethodPost, "/outreach", map[string]any{
		"context":       "acme",
		"channel":       "email",
		"prospect_name": "Dana",
		"body":          "Hello",
	})
	s.Handler().ServeHTTP(rr, req)
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "queue via SQLite")
}
