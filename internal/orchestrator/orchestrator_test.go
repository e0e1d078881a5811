package orchestrator

import (
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/fleetmind/acpd/internal/model"
)

func newTestOrchestrator() *Orchestrator {
	return New(Config{}, nil, nil, zap.NewNop())
}

func TestHandleCoordinatorOutput_Direct(t *testing.T) {
	o := newTestOrchestrator()
	task := &model.Task{ID: model.NewTaskID(), Status: model.TaskInProgress, Metadata: map[string]any{}}

	o.handleCoordinatorOutput(nil, task, `{"action":"direct"}`)

	if task.Status != model.TaskFailed {
		t.Fatalf("status = %v, want Failed", task.Status)
	}
	if task.Error == "" {
		t.Error("expected a rule-violation error message")
	}
}

func TestHandleCoordinatorOutput_Error(t *testing.T) {
	o := newTestOrchestrator()
	task := &model.Task{ID: model.NewTaskID(), Status: model.TaskInProgress, Metadata: map[string]any{}}

	o.handleCoordinatorOutput(nil, task, `{"action":"error","error":"budget exceeded"}`)

	if task.Status != model.TaskFailed || task.Error != "budget exceeded" {
		t.Fatalf("task = %+v, want Failed/budget exceeded", task)
	}
}

func TestHandleCoordinatorOutput_UnknownActionFallsBackToPlainText(t *testing.T) {
	o := newTestOrchestrator()
	task := &model.Task{ID: model.NewTaskID(), Status: model.TaskInProgress, Metadata: map[string]any{}}

	o.handleCoordinatorOutput(nil, task, `{"action":"reticulate_splines"}`)

	if task.Status != model.TaskCompleted {
		t.Fatalf("status = %v, want Completed", task.Status)
	}
}

func TestHandleCoordinatorOutput_UnparseableFallsBackToPlainTextCompleted(t *testing.T) {
	o := newTestOrchestrator()
	task := &model.Task{ID: model.NewTaskID(), Status: model.TaskInProgress, Metadata: map[string]any{}}

	o.handleCoordinatorOutput(nil, task, "Sure thing, I handled it directly, no JSON here.")

	if task.Status != model.TaskCompleted {
		t.Fatalf("status = %v, want Completed", task.Status)
	}
	if task.Metadata["output"] == nil {
		t.Error("expected the raw text to be preserved as output")
	}
}

func TestHandleCoordinatorOutput_DelegateWithNoEntriesCompletesTrivially(t *testing.T) {
	o := newTestOrchestrator()
	task := &model.Task{ID: model.NewTaskID(), Status: model.TaskInProgress, Metadata: map[string]any{}}

	o.handleCoordinatorOutput(nil, task, `{"action":"delegate","delegations":[]}`)

	if task.Status != model.TaskCompleted {
		t.Fatalf("status = %v, want Completed", task.Status)
	}
}

func TestLeastLoaded_PrefersSmallestCurrentTasksThenOldestConnect(t *testing.T) {
	o := newTestOrchestrator()
	a := model.NewAgentID()
	b := model.NewAgentID()
	c := model.NewAgentID()

	o.workloads[a] = &model.AgentWorkload{AgentID: a, CurrentTasks: 2, MaxTasks: 4}
	o.workloads[b] = &model.AgentWorkload{AgentID: b, CurrentTasks: 1, MaxTasks: 4}
	o.workloads[c] = &model.AgentWorkload{AgentID: c, CurrentTasks: 1, MaxTasks: 4}

	candidates := []candidate{
		{id: a, connectedAt: 100},
		{id: b, connectedAt: 300},
		{id: c, connectedAt: 200}, // same load as b, connected earlier
	}

	got, ok := o.leastLoaded(candidates)
	if !ok {
		t.Fatal("expected a candidate")
	}
	if got != c {
		t.Errorf("leastLoaded() = %v, want %v (tie broken by oldest connect time)", got, c)
	}
}

func TestLeastLoaded_EmptyCandidatesReturnsFalse(t *testing.T) {
	o := newTestOrchestrator()
	if _, ok := o.leastLoaded(nil); ok {
		t.Error("expected leastLoaded(nil) to report no candidate")
	}
}

func TestIsAllowedRole(t *testing.T) {
	allowed := []string{"frontend", "backend", "dba", "devops", "security", "qa"}
	for _, r := range allowed {
		if !isAllowedRole(r) {
			t.Errorf("isAllowedRole(%q) = false, want true", r)
		}
	}
	disallowed := []string{"coordinator", "root", ""}
	for _, r := range disallowed {
		if isAllowedRole(r) {
			t.Errorf("isAllowedRole(%q) = true, want false", r)
		}
	}
}

func TestFinishWorkload_UpdatesSuccessRateAndCurrentTasks(t *testing.T) {
	o := newTestOrchestrator()
	id := model.NewAgentID()
	o.workloads[id] = &model.AgentWorkload{AgentID: id, CurrentTasks: 1, MaxTasks: 4}

	o.finishWorkload(id, true, 150)

	w := o.workloads[id]
	if w.CurrentTasks != 0 {
		t.Errorf("CurrentTasks = %d, want 0", w.CurrentTasks)
	}
	if w.SuccessRate() != 1.0 {
		t.Errorf("SuccessRate() = %v, want 1.0", w.SuccessRate())
	}
}

func TestAggregation_CombinesResultsAndTracksPartialStatus(t *testing.T) {
	o := newTestOrchestrator()
	task := &model.Task{ID: model.NewTaskID(), Status: model.TaskInProgress, Metadata: map[string]any{}}

	sub1, sub2 := model.NewTaskID(), model.NewTaskID()
	agg := model.NewPendingAggregation(task.ID, []model.TaskID{sub1, sub2})
	o.aggregations[task.ID] = agg

	agg.AddResult(model.TaskResult{TaskID: sub1, Label: "backend", Success: true, Output: "RA", TokensUsed: 10, DurationMS: 5})
	done := agg.AddResult(model.TaskResult{TaskID: sub2, Label: "qa", Success: false, Output: "RB", Error: "boom", DurationMS: 7})
	if !done {
		t.Fatal("expected aggregation to be complete after both results")
	}

	combined := agg.Combine()
	if combined.Success {
		t.Error("expected overall success=false when one subtask failed")
	}
	if combined.TokensUsed != 10 || combined.DurationMS != 12 {
		t.Errorf("combined totals = %+v, want tokens=10 duration=12", combined)
	}
	if combined.Error != "boom" {
		t.Errorf("combined error = %q, want %q", combined.Error, "boom")
	}

	// S1: combined output is headed by each delegation's role, not its
	// opaque subtask id.
	for _, want := range []string{"## backend", "RA", "## qa", "RB"} {
		if !strings.Contains(combined.Output, want) {
			t.Errorf("combined output = %q, want it to contain %q", combined.Output, want)
		}
	}
}
