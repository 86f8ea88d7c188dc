package api

import (
	"context"
	"net/http"

	"github.com/BrainsyETH/clawsight/internal/account"
	"github.com/BrainsyETH/clawsight/internal/auth"
	"github.com/BrainsyETH/clawsight/internal/gate"
	"github.com/BrainsyETH/clawsight/internal/idempotency"
	"github.com/BrainsyETH/clawsight/internal/ledger"
	"github.com/BrainsyETH/clawsight/internal/metrics"
	"github.com/BrainsyETH/clawsight/internal/nonce"
	"github.com/BrainsyETH/clawsight/internal/ratelimit"
	"github.com/BrainsyETH/clawsight/internal/skills"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	Accounts  *account.Store
	Ledger    *ledger.Store
	Skills    *skills.Service
	Gate      *gate.Gate
	Caps      gate.CapChecker
	Keys      *idempotency.Store
	Auth      *auth.Service
	Sessions  *auth.SessionStore
	Nonces    *nonce.Issuer
	Limiter   *ratelimit.Limiter // per-account, agent and dashboard routes
	IPLimiter *ratelimit.Limiter // per-IP, unauthenticated auth routes
	Metrics   *metrics.Metrics
	AdminKey  string
	MaxCap    float64
	PingDB    func(ctx context.Context) error

	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))
	r.Use(slogRequestLogger)
	r.Use(metricsMiddleware(deps.Metrics))

	// A nil *Store must stay a nil interface or the handler's presence check
	// would pass and dereference it.
	var keys keyClaimer
	if deps.Keys != nil {
		keys = deps.Keys
	}

	// Handlers.
	sync := newSyncHandler(deps.Gate, keys, deps.Metrics)
	heartbeat := newHeartbeatHandler(deps.Gate, deps.Caps, deps.Metrics)
	configs := newConfigsHandler(deps.Skills, deps.Gate)
	usage := newUsageHandler(deps.Caps, deps.Ledger, deps.Gate)
	wallet := newAuthHandler(deps.Accounts, deps.Nonces, deps.Sessions, deps.Metrics)
	accounts := newAccountsHandler(deps.Accounts, deps.MaxCap)

	var acctRejects, ipRejects []func()
	if deps.Metrics != nil {
		acctRejects = append(acctRejects, func() { deps.Metrics.IncRateLimitRejection("account") })
		ipRejects = append(ipRejects, func() { deps.Metrics.IncRateLimitRejection("ip") })
	}

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]string{"status": "ok", "database": "connected"}
		code := http.StatusOK
		if deps.PingDB != nil {
			if err := deps.PingDB(r.Context()); err != nil {
				resp["status"] = "degraded"
				resp["database"] = "unreachable"
				code = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, code, resp)
	})

	// Well-known manifest.
	r.Get("/.well-known/clawsight.json", WellKnownHandler)

	// Wallet sign-in, rate limited by client IP since there is no account yet.
	r.Route("/api/v1/auth", func(ar chi.Router) {
		ar.Use(ratelimit.IPMiddleware(deps.IPLimiter, nil, ipRejects...))
		ar.Post("/nonce", wallet.Nonce)
		ar.Post("/verify", wallet.Verify)
	})

	// Operator routes (require admin key).
	r.Route("/api/v1/admin", func(ar chi.Router) {
		ar.Use(auth.AdminKeyMiddleware(deps.AdminKey))

		ar.Post("/accounts", accounts.CreateAccount)
		ar.Get("/accounts", accounts.ListAccounts)
		ar.Get("/accounts/{id}", accounts.GetAccount)
		ar.Put("/accounts/{id}/caps", accounts.UpdateCaps)
		ar.Delete("/accounts/{id}", accounts.DeleteAccount)

		ar.Get("/usage", usage.AdminOverview)
		ar.Get("/usage/entries", usage.AdminListEntries)
	})

	// Metrics summary for the operator dashboard.
	if deps.Metrics != nil {
		r.With(auth.AdminKeyMiddleware(deps.AdminKey)).Get("/api/v1/metrics", deps.Metrics.Handler())
	}

	// Dashboard routes (require wallet session).
	r.Route("/api/v1/dashboard", func(dr chi.Router) {
		dr.Use(auth.SessionAuthMiddleware(deps.Sessions))
		dr.Use(sessionAccount)
		dr.Use(ratelimit.Middleware(deps.Limiter, nil, acctRejects...))

		dr.Get("/auth/me", wallet.Me)
		dr.Post("/auth/logout", wallet.Logout)
		dr.Get("/usage", usage.GetUsage)
		dr.Get("/usage/entries", usage.ListEntries)
		dr.Get("/skills/configs", configs.ListConfigs)
		dr.Get("/skills/configs/{slug}", configs.GetConfig)
		dr.Put("/skills/configs/{slug}", configs.PutConfig)
	})

	// Agent routes (require API key + rate limiting).
	r.Route("/api/v1", func(ar chi.Router) {
		ar.Use(auth.AccountAuthMiddleware(deps.Auth))
		ar.Use(ratelimit.Middleware(deps.Limiter, nil, acctRejects...))

		ar.Post("/events/sync", sync.SyncEvents)
		ar.Post("/heartbeat", heartbeat.Heartbeat)

		ar.Get("/skills/configs", configs.ListConfigs)
		ar.Get("/skills/configs/{slug}", configs.GetConfig)
		ar.Put("/skills/configs/{slug}", configs.PutConfig)
		ar.Post("/skills/configs/{slug}/applied", configs.AckApplied)

		ar.Get("/usage", usage.GetUsage)
		ar.Get("/usage/entries", usage.ListEntries)
		ar.Get("/usage/export", usage.ExportEntries)
	})

	return r
}
