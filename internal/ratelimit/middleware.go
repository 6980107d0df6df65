package ratelimit

import (
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/GrowthGovernor/internal/models"
)

// KeyFunc derives the caller identity of a request.
type KeyFunc func(r *http.Request) string

// Options configures Middleware.
type Options struct {
	Limiter             *Limiter
	Window              time.Duration
	MaxRequests         int
	KeyFn               KeyFunc
	KeyHeader           string
	TrustXForwardedFor  bool
	AddRateLimitHeaders bool
}

// DefaultKeyFunc uses keyHeader when present, then the first X-Forwarded-For
// hop when trustXFF is set, then the host part of RemoteAddr.
func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Middleware rejects callers over the limit with 429 and a Retry-After header.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)
			dec := opts.Limiter.CheckRateLimit(r.Context(), key, opts.Window, opts.MaxRequests)

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(dec.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(dec.Remaining))
			}
			if !dec.Allowed {
				retry := strconv.Itoa(dec.RetryAfterSeconds)
				w.Header().Set("Retry-After", retry)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				body := models.ErrorWithResult("rate limit exceeded", map[string]int{"retry_after_seconds": dec.RetryAfterSeconds})
				if err := json.NewEncoder(w).Encode(body); err != nil {
					slog.Error("ratelimit.Middleware: failed to encode rejection", "error", err, "key", key)
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
