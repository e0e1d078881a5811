package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetmind/acpd/internal/acpserver"
	"github.com/fleetmind/acpd/internal/rl"
)

// BackpressureCollector exposes per-connection queue depth and drop counters
// from acpserver.Server.BackpressureSnapshots (§4.4).
type BackpressureCollector struct {
	server *acpserver.Server

	fullnessDesc *prometheus.Desc
	lenDesc      *prometheus.Desc
	sentDesc     *prometheus.Desc
	droppedDesc  *prometheus.Desc
	warningDesc  *prometheus.Desc
}

// NewBackpressureCollector returns a collector reading live state from
// server on every scrape; it holds no cache of its own.
func NewBackpressureCollector(server *acpserver.Server) *BackpressureCollector {
	return &BackpressureCollector{
		server: server,

		fullnessDesc: prometheus.NewDesc(
			"acpd_connection_queue_fullness",
			"Outbound queue fullness (0-1) per connection",
			[]string{"agent_id"}, nil,
		),
		lenDesc: prometheus.NewDesc(
			"acpd_connection_queue_length",
			"Outbound queue length per connection",
			[]string{"agent_id"}, nil,
		),
		sentDesc: prometheus.NewDesc(
			"acpd_connection_frames_sent_total",
			"Frames sent per connection",
			[]string{"agent_id"}, nil,
		),
		droppedDesc: prometheus.NewDesc(
			"acpd_connection_frames_dropped_total",
			"Frames dropped per connection due to backpressure",
			[]string{"agent_id"}, nil,
		),
		warningDesc: prometheus.NewDesc(
			"acpd_connection_backpressure_warning",
			"1 if the connection has crossed the backpressure warning threshold",
			[]string{"agent_id"}, nil,
		),
	}
}

func (c *BackpressureCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.fullnessDesc
	ch <- c.lenDesc
	ch <- c.sentDesc
	ch <- c.droppedDesc
	ch <- c.warningDesc
}

func (c *BackpressureCollector) Collect(ch chan<- prometheus.Metric) {
	for _, snap := range c.server.BackpressureSnapshots() {
		agentID := string(snap.AgentID)
		ch <- prometheus.MustNewConstMetric(c.fullnessDesc, prometheus.GaugeValue, snap.Fullness, agentID)
		ch <- prometheus.MustNewConstMetric(c.lenDesc, prometheus.GaugeValue, float64(snap.Len), agentID)
		ch <- prometheus.MustNewConstMetric(c.sentDesc, prometheus.CounterValue, float64(snap.Sent), agentID)
		ch <- prometheus.MustNewConstMetric(c.droppedDesc, prometheus.CounterValue, float64(snap.Dropped), agentID)
		warning := 0.0
		if snap.IsWarning {
			warning = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.warningDesc, prometheus.GaugeValue, warning, agentID)
	}
}

// RLCollector exposes the active RL policy's learning progress from
// rl.Engine.Stats (§4.7).
type RLCollector struct {
	engine *rl.Engine

	qTableSizeDesc  *prometheus.Desc
	bufferSizeDesc  *prometheus.Desc
	updateCountDesc *prometheus.Desc
	epsilonDesc     *prometheus.Desc
	trainLossDesc   *prometheus.Desc
}

// NewRLCollector returns a collector reading live state from engine on
// every scrape.
func NewRLCollector(engine *rl.Engine) *RLCollector {
	return &RLCollector{
		engine: engine,

		qTableSizeDesc: prometheus.NewDesc(
			"acpd_rl_q_table_size", "Number of distinct states in the Q-table",
			[]string{"algorithm"}, nil,
		),
		bufferSizeDesc: prometheus.NewDesc(
			"acpd_rl_replay_buffer_size", "Experiences currently held in the replay buffer",
			[]string{"algorithm"}, nil,
		),
		updateCountDesc: prometheus.NewDesc(
			"acpd_rl_update_count_total", "Number of TD updates applied",
			[]string{"algorithm"}, nil,
		),
		epsilonDesc: prometheus.NewDesc(
			"acpd_rl_epsilon", "Current epsilon-greedy exploration rate",
			[]string{"algorithm"}, nil,
		),
		trainLossDesc: prometheus.NewDesc(
			"acpd_rl_last_train_loss", "Mean squared TD error from the last Train() batch",
			[]string{"algorithm"}, nil,
		),
	}
}

func (c *RLCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.qTableSizeDesc
	ch <- c.bufferSizeDesc
	ch <- c.updateCountDesc
	ch <- c.epsilonDesc
	ch <- c.trainLossDesc
}

func (c *RLCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.engine.Stats()
	ch <- prometheus.MustNewConstMetric(c.qTableSizeDesc, prometheus.GaugeValue, float64(stats.QTableSize), stats.Algorithm)
	ch <- prometheus.MustNewConstMetric(c.bufferSizeDesc, prometheus.GaugeValue, float64(stats.BufferSize), stats.Algorithm)
	ch <- prometheus.MustNewConstMetric(c.updateCountDesc, prometheus.CounterValue, float64(stats.UpdateCount), stats.Algorithm)
	ch <- prometheus.MustNewConstMetric(c.epsilonDesc, prometheus.GaugeValue, stats.Epsilon, stats.Algorithm)
	ch <- prometheus.MustNewConstMetric(c.trainLossDesc, prometheus.GaugeValue, stats.LastTrainLoss, stats.Algorithm)
}

// RateLimitCollector exposes rejection counts from the token-bucket limiter
// (§4.3), fed by whatever call site observes a 429.
type RateLimitCollector struct {
	rejectedDesc *prometheus.Desc
	counts       func() map[string]int64
}

// NewRateLimitCollector wraps a snapshot function (typically
// ratelimit.Limiter.RejectionCounts) so the collector stays decoupled from
// the limiter's internal locking.
func NewRateLimitCollector(counts func() map[string]int64) *RateLimitCollector {
	return &RateLimitCollector{
		rejectedDesc: prometheus.NewDesc(
			"acpd_ratelimit_rejected_total", "Requests rejected by the token-bucket rate limiter",
			[]string{"limit_type"}, nil,
		),
		counts: counts,
	}
}

func (c *RateLimitCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.rejectedDesc
}

func (c *RateLimitCollector) Collect(ch chan<- prometheus.Metric) {
	for limitType, count := range c.counts() {
		ch <- prometheus.MustNewConstMetric(c.rejectedDesc, prometheus.CounterValue, float64(count), limitType)
	}
}
