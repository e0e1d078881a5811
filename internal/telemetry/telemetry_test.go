package telemetry

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"

	"github.com/fleetmind/acpd/internal/acpserver"
	"github.com/fleetmind/acpd/internal/protocol"
	"github.com/fleetmind/acpd/internal/rl"
)

func newTestServer(t *testing.T) *acpserver.Server {
	t.Helper()
	handler := func(ctx context.Context, conn *acpserver.Connection, msg *protocol.Message) (*protocol.Message, error) {
		return nil, nil
	}
	srv, err := acpserver.NewServer(acpserver.Config{DevAllowUnauthenticated: true}, nil, nil, handler, zap.NewNop())
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	return srv
}

func TestRegistry_GatherIncludesRLAndRateLimitMetrics(t *testing.T) {
	server := newTestServer(t)
	engine := rl.NewEngine(zap.NewNop())

	counts := func() map[string]int64 {
		return map[string]int64{"ip": 3, "api_key": 1}
	}

	reg := NewRegistry(server, engine, counts, zap.NewNop())

	families, err := reg.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	names := make(map[string]bool)
	for _, mf := range families {
		names[mf.GetName()] = true
	}

	for _, want := range []string{
		"acpd_rl_q_table_size",
		"acpd_rl_epsilon",
		"acpd_ratelimit_rejected_total",
	} {
		if !names[want] {
			t.Errorf("Gather() missing metric family %q", want)
		}
	}
}

func TestRateLimitCollector_EmitsOneSeriesPerLimitType(t *testing.T) {
	counts := func() map[string]int64 {
		return map[string]int64{"ip": 2, "global": 5}
	}
	c := NewRateLimitCollector(counts)

	ch := make(chan prometheus.Metric, 10)
	c.Collect(ch)
	close(ch)

	got := 0
	for m := range ch {
		var d dto.Metric
		if err := m.Write(&d); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		got++
	}
	if got != 2 {
		t.Errorf("Collect() emitted %d series, want 2", got)
	}
}

func TestRLCollector_ReflectsEngineStats(t *testing.T) {
	engine := rl.NewEngine(zap.NewNop())
	c := NewRLCollector(engine)

	ch := make(chan prometheus.Metric, 10)
	c.Collect(ch)
	close(ch)

	var found bool
	for m := range ch {
		var d dto.Metric
		if err := m.Write(&d); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		found = true
	}
	if !found {
		t.Error("Collect() emitted no series for a fresh engine")
	}
}

func TestCollectHost_PopulatesNonNegativePercentages(t *testing.T) {
	snap := CollectHost(context.Background())
	if snap.CPUPercent < 0 || snap.MemPercent < 0 || snap.DiskPercent < 0 {
		t.Errorf("CollectHost() = %+v, want all fields >= 0", snap)
	}
}
