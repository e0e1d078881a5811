package adminapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fleetmind/acpd/internal/acpserver"
	"github.com/fleetmind/acpd/internal/auth"
	"github.com/fleetmind/acpd/internal/orchestrator"
	"github.com/fleetmind/acpd/internal/rl"
	"github.com/fleetmind/acpd/internal/store"
	"github.com/fleetmind/acpd/internal/telemetry"
)

// RouterConfig holds the dependencies needed to build the admin router.
type RouterConfig struct {
	Server       *acpserver.Server
	Orchestrator *orchestrator.Orchestrator
	RLEngine     *rl.Engine
	Patterns     store.PatternStore
	JWTManager   *auth.JWTManager
	Registry     *telemetry.Registry
	Logger       *zap.Logger
}

// NewRouter builds the Chi router for the admin API. All routes except
// /healthz require a valid operator bearer token; routes under
// /ops/* additionally require the "admin" role.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(chimw.Recoverer)

	// /healthz is registered outside the authenticated group: it is the one
	// fixed bypass path exempt from bearer-token auth regardless of
	// configuration, mirroring the original daemon's auth-bypass list
	// (supplemented feature, see SPEC_FULL.md).
	r.Get("/healthz", healthHandler)

	conns := &connectionsHandler{server: cfg.Server}
	rlh := &rlHandler{engine: cfg.RLEngine}
	tasks := &tasksHandler{orch: cfg.Orchestrator}
	patterns := &patternsHandler{patterns: cfg.Patterns}

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.JWTManager))

		r.Handle("/metrics", promhttp.HandlerFor(cfg.Registry.Gatherer(), promhttp.HandlerOpts{}))

		r.Route("/ops", func(r chi.Router) {
			r.Use(RequireRole("admin"))

			r.Get("/connections", conns.List)
			r.Get("/connections/backpressure", conns.Backpressure)
			r.Get("/rl/stats", rlh.Stats)
			r.Get("/rl/params", rlh.Params)
			r.Get("/tasks/{id}", tasks.GetByID)
			r.Get("/patterns", patterns.List)
		})
	})

	return r
}
