package routes

import (
	"net/http"
	"time"

	"github.com/AnshRaj112/abuseguard/internal/abuse"
	"github.com/AnshRaj112/abuseguard/internal/config"
	"github.com/AnshRaj112/abuseguard/internal/handlers"
	"github.com/AnshRaj112/abuseguard/internal/middleware"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Gateway is what the sensitive-prefix chain needs besides the handlers.
type Gateway struct {
	Engine   middleware.AbuseEngine
	Tracker  middleware.IPTracker
	Limiter  middleware.RequestCounter
	Tokens   abuse.CaptchaTokens
	Upstream http.Handler // nil disables the proxied prefixes
}

// Deps groups the shared middleware inputs.
type Deps struct {
	Config        *config.Config
	UserSessions  middleware.SessionValidator
	AdminSessions middleware.SessionValidator
	Gateway       Gateway
}

// sensitiveIPBurst and sensitiveIPRate size the per-(ip, endpoint) bucket. A
// request beyond it is recorded as an IP violation.
const sensitiveIPBurst = 30

var sensitiveIPRate = rate.Every(2 * time.Second)

func SetupRoutes(r *chi.Mux, h *handlers.Handlers, deps Deps) {
	cfg := deps.Config

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Sidecar routes for other services
	if cfg.APIToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAPIToken(cfg.APIToken))
			r.Post("/api/abuse/evaluate", h.Evaluate)
			r.Post("/api/abuse/record", h.Record)
		})
	}

	// Admin auth routes (signup removed - admin accounts must be created directly in database)
	r.Post("/api/admin/signin", h.AdminSignin)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAdmin(deps.AdminSessions))

		r.Post("/api/admin/signout", h.AdminSignout)

		r.Get("/api/admin/appeals", h.ListAppeals)
		r.Get("/api/admin/appeals/{id}", h.GetAppeal)
		r.Put("/api/admin/appeals/{id}/approve", h.ApproveAppeal)
		r.Put("/api/admin/appeals/{id}/deny", h.DenyAppeal)

		r.Get("/api/admin/abuse-states/{userID}", h.GetAbuseState)
		r.Delete("/api/admin/violations", h.ClearViolations)
		r.Get("/api/admin/violations/log", h.GetViolationLog)

		r.Get("/api/admin/abuse-config", h.GetAbuseConfig)
		r.Put("/api/admin/abuse-config", h.UpdateAbuseConfig)
		r.Delete("/api/admin/abuse-config", h.ResetAbuseConfig)
	})

	// Admin appeal feed authenticates inside the handler (token may be a query param)
	r.Get("/ws/admin/appeals", h.AppealFeed)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(deps.UserSessions))

		r.With(middleware.RequireUser).Post("/api/captcha/verify", h.VerifyCaptcha)
		r.With(middleware.RequireUser).Post("/api/appeals", h.SubmitAppeal)

		gw := deps.Gateway
		if gw.Upstream == nil {
			return
		}
		limiters := middleware.NewIPLimiters(sensitiveIPRate, sensitiveIPBurst)
		sensitive := r.With(
			middleware.IPCooldown(gw.Tracker, cfg.SensitivePrefixes, limiters),
			middleware.AbusePrevention(gw.Engine, gw.Limiter, gw.Tokens, cfg.FailOpen),
		)
		for _, p := range cfg.SensitivePrefixes {
			sensitive.Handle(p.Prefix+"*", gw.Upstream)
		}
	})
}
