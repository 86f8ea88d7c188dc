package ratelimit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/BrainsyETH/clawsight/internal/auth"
)

// Middleware returns an HTTP middleware that enforces per-account rate
// limits. It expects an authenticated account in the request context (set by
// auth.AccountAuthMiddleware or auth.SessionAuthMiddleware) and uses the
// account ID as the window key. Requests with no account in context pass
// through unlimited.
//
// Rate-limit headers are always set on the response:
//
//	X-RateLimit-Limit     — maximum requests allowed in the window
//	X-RateLimit-Remaining — requests remaining in the current window
//	X-RateLimit-Reset     — Unix timestamp when the window rolls over
//
// When the limit is exceeded the middleware responds with HTTP 429 and a JSON
// error body. When the backing store is unreachable the request is allowed
// through with a logged warning: a counter outage should not take the API
// down with it.
func Middleware(limiter *Limiter, logger *slog.Logger, onReject ...func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := auth.AccountFromContext(r.Context())
			if account == nil {
				next.ServeHTTP(w, r)
				return
			}
			limitRequest(limiter, logger, "acct:"+account.ID, w, r, next, onReject)
		})
	}
}

// IPMiddleware returns an HTTP middleware that enforces per-client-IP rate
// limits. It protects unauthenticated endpoints such as sign-in nonce
// issuance, where there is no account to key on yet.
func IPMiddleware(limiter *Limiter, logger *slog.Logger, onReject ...func()) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limitRequest(limiter, logger, "ip:"+clientIP(r), w, r, next, onReject)
		})
	}
}

func limitRequest(limiter *Limiter, logger *slog.Logger, key string, w http.ResponseWriter, r *http.Request, next http.Handler, onReject []func()) {
	res, err := limiter.Allow(r.Context(), key, 0)
	if err != nil {
		logger.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
		next.ServeHTTP(w, r)
		return
	}

	// Always set headers so callers can inspect their quota.
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", res.Limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", res.Remaining))
	w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", res.ResetAt.Unix()))

	if !res.Allowed {
		for _, fn := range onReject {
			fn()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{
				"code":    "rate_limited",
				"message": "Rate limit exceeded. Try again later.",
			},
		})
		return
	}

	next.ServeHTTP(w, r)
}

// clientIP extracts the caller's IP from RemoteAddr. Forwarding headers are
// deliberately ignored: they are caller-controlled unless a trusted proxy
// strips them, and a spoofable key makes the limit worthless.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
