package ratelimit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
)

func TestMiddleware_AllowsThenRejects(t *testing.T) {
	calls := 0
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})

	h := Middleware(Options{
		Limiter:             NewLimiter(NewMemoryStore()),
		Window:              time.Minute,
		MaxRequests:         1,
		AddRateLimitHeaders: true,
	})(next)

	r1 := httptest.NewRequest(http.MethodPost, "http://example/outreach", nil)
	r1.RemoteAddr = "10.0.0.1:1234"
	w1 := httptest.NewRecorder()
	h.ServeHTTP(w1, r1)
	if w1.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w1.Code)
	}
	if got := w1.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}

	r2 := httptest.NewRequest(http.MethodPost, "http://example/outreach", nil)
	r2.RemoteAddr = "10.0.0.1:5678"
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, r2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w2.Code)
	}
	if got := w2.Header().Get("Retry-After"); got != "60" {
		t.Errorf("Retry-After = %q, want 60", got)
	}

	var body models.APIResponse
	if err := json.NewDecoder(w2.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != string(models.APIStatusError) || body.Message != "rate limit exceeded" {
		t.Errorf("unexpected body %+v", body)
	}
	result, ok := body.Result.(map[string]any)
	if !ok || result["retry_after_seconds"] != float64(60) {
		t.Errorf("unexpected result %v", body.Result)
	}

	if calls != 1 {
		t.Errorf("expected next handler to be called once, got %d", calls)
	}
}

func TestDefaultKeyFunc(t *testing.T) {
	tests := []struct {
		name      string
		keyHeader string
		trustXFF  bool
		headers   map[string]string
		remote    string
		want      string
	}{
		{"remote addr", "", false, nil, "10.0.0.1:1234", "10.0.0.1"},
		{"api key header", "X-Api-Key", false, map[string]string{"X-Api-Key": "k1"}, "10.0.0.1:1234", "k1"},
		{"xff ignored when untrusted", "", false, map[string]string{"X-Forwarded-For": "1.2.3.4"}, "10.0.0.1:1234", "10.0.0.1"},
		{"xff first hop", "", true, map[string]string{"X-Forwarded-For": "1.2.3.4, 10.0.0.9"}, "10.0.0.1:1234", "1.2.3.4"},
		{"bare remote addr", "", false, nil, "pipe", "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := DefaultKeyFunc(tt.keyHeader, tt.trustXFF)(r); got != tt.want {
				t.Errorf("key = %q, want %q", got, tt.want)
			}
		})
	}
}
