package store

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/fleetmind/acpd/internal/rl"
)

func TestExperienceStore_RecordSampleCount(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite", DSN: "file::memory:?cache=shared&_busy_timeout=5000", Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	es := NewExperienceStore(db)
	ctx := context.Background()

	exp := rl.Experience{
		State:  rl.State{Complexity: 0.4, TokenUsage: 0.2},
		Action: rl.RouteToAgent("backend"),
		Reward: 1.0,
		Done:   true,
	}

	if err := es.Record(ctx, "q_learning", exp); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	count, err := es.Count(ctx, "q_learning")
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 1 {
		t.Fatalf("Count() = %d, want 1", count)
	}

	sample, err := es.Sample(ctx, "q_learning", 10)
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if len(sample) != 1 {
		t.Fatalf("Sample() returned %d, want 1", len(sample))
	}
	if sample[0].Action.Role != "backend" {
		t.Errorf("decoded action role = %q, want backend", sample[0].Action.Role)
	}
}

func TestPatternStore_CreateAndRecordOutcome(t *testing.T) {
	db, err := Open(Config{Driver: "sqlite", DSN: "file::memory:?cache=shared&_busy_timeout=5000", Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	ps := NewPatternStore(db)
	ctx := context.Background()

	p := &Pattern{PatternType: "delegation_template", Content: "..."}
	if err := ps.Create(ctx, p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := ps.RecordOutcome(ctx, p.ID.String(), true); err != nil {
		t.Fatalf("RecordOutcome() error = %v", err)
	}

	got, err := ps.GetByID(ctx, p.ID.String())
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.SuccessCount != 1 || got.SuccessRate() != 1.0 {
		t.Errorf("got = %+v, want SuccessCount=1 SuccessRate=1.0", got)
	}
}
