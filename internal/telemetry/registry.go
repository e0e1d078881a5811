package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/fleetmind/acpd/internal/acpserver"
	"github.com/fleetmind/acpd/internal/rl"
)

// Registry bundles the daemon's Prometheus registry with the collectors
// feeding it, mirroring the teacher's MetricsCollectorManager: one place
// that owns collector lifetimes and hands out a ready-to-serve registry.
type Registry struct {
	registry *prometheus.Registry
	logger   *zap.Logger
}

// NewRegistry builds a *prometheus.Registry wired to the daemon's connection
// backpressure state, RL policy stats, and rate-limiter rejections, plus the
// standard Go runtime and process collectors.
func NewRegistry(server *acpserver.Server, rlEngine *rl.Engine, rejectionCounts func() map[string]int64, logger *zap.Logger) *Registry {
	reg := prometheus.NewRegistry()

	reg.MustRegister(
		NewBackpressureCollector(server),
		NewRLCollector(rlEngine),
		NewRateLimitCollector(rejectionCounts),
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return &Registry{registry: reg, logger: logger}
}

// Gatherer returns the underlying prometheus.Gatherer for handing to
// promhttp.HandlerFor in the admin API's /metrics route.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}
