package model

import "time"

// TaskStatus is the lifecycle state of a Task. Transitions are monotonic
// toward a terminal state (Completed, Failed, Cancelled).
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskPartial    TaskStatus = "partial"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether status is one a Task cannot transition out of.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskCompleted, TaskFailed, TaskCancelled:
		return true
	default:
		return false
	}
}

// Task is a unit of work submitted by a client and, possibly, decomposed by
// the coordinator into delegations to role-specialized workers.
type Task struct {
	ID          TaskID
	Description string
	Status      TaskStatus
	AssignedTo  *AgentID
	Parent      *TaskID
	Priority    uint8
	TokenBudget *int64
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Metadata    map[string]any
}

// Start transitions Pending -> InProgress, setting StartedAt. No-op if the
// task is already past Pending.
func (t *Task) Start(now time.Time) {
	if t.Status != TaskPending {
		return
	}
	t.Status = TaskInProgress
	started := now
	t.StartedAt = &started
}

// Finish transitions the task to a terminal status, setting CompletedAt.
// errMsg is stored on the task as given, whatever the status.
func (t *Task) Finish(status TaskStatus, errMsg string, now time.Time) {
	if t.Status.IsTerminal() {
		return
	}
	t.Status = status
	t.Error = errMsg
	completed := now
	t.CompletedAt = &completed
}

// TaskResult is the outcome of executing a task (or a single delegation).
// Label carries the delegation's role (e.g. "backend", "qa") so Combine can
// head each subtask's section by role rather than by its opaque subtask id.
type TaskResult struct {
	TaskID     TaskID
	Label      string
	Success    bool
	Output     string
	TokensUsed int64
	DurationMS int64
	Error      string
	Metadata   map[string]any
}

// AgentWorkload tracks per-agent throughput and success statistics, updated
// by the orchestrator on every completed (or failed) delegation.
type AgentWorkload struct {
	AgentID            AgentID
	Role               string
	CurrentTasks       int
	MaxTasks           int
	Capabilities       []string
	TasksCompleted     int64
	TasksFailed        int64
	AvgCompletionMsEMA float64
}

// emaAlpha is the exponential-moving-average smoothing factor for
// avg_completion_time, fixed at 0.2 per the design.
const emaAlpha = 0.2

// SuccessRate returns completed/(completed+failed), or 0 when no results
// have been recorded yet.
func (w *AgentWorkload) SuccessRate() float64 {
	total := w.TasksCompleted + w.TasksFailed
	if total == 0 {
		return 0
	}
	return float64(w.TasksCompleted) / float64(total)
}

// RecordResult updates the completed/failed counters and the completion-time
// EMA for one finished delegation, then decrements CurrentTasks (floored at
// zero).
func (w *AgentWorkload) RecordResult(success bool, durationMS int64) {
	if success {
		w.TasksCompleted++
	} else {
		w.TasksFailed++
	}

	d := float64(durationMS)
	if w.AvgCompletionMsEMA == 0 {
		w.AvgCompletionMsEMA = d
	} else {
		w.AvgCompletionMsEMA = emaAlpha*d + (1-emaAlpha)*w.AvgCompletionMsEMA
	}

	if w.CurrentTasks > 0 {
		w.CurrentTasks--
	}
}

// HasCapacity reports whether the agent can accept another task.
func (w *AgentWorkload) HasCapacity() bool {
	return w.CurrentTasks < w.MaxTasks
}

// PendingAggregation tracks a multi-delegation parent task awaiting all of
// its subtask results. Invariant I7: it resolves (and is removed) the
// instant len(Results) reaches RequiredCount.
type PendingAggregation struct {
	ParentTaskID TaskID
	SubtaskIDs   []TaskID
	Results      map[TaskID]TaskResult
	RequiredCount int
}

// NewPendingAggregation creates an aggregation tracker for the given
// subtasks.
func NewPendingAggregation(parent TaskID, subtasks []TaskID) *PendingAggregation {
	return &PendingAggregation{
		ParentTaskID:  parent,
		SubtaskIDs:    append([]TaskID(nil), subtasks...),
		Results:       make(map[TaskID]TaskResult, len(subtasks)),
		RequiredCount: len(subtasks),
	}
}

// AddResult records one subtask's result. It reports whether the
// aggregation is now complete (I7).
func (p *PendingAggregation) AddResult(r TaskResult) bool {
	p.Results[r.TaskID] = r
	return len(p.Results) >= p.RequiredCount
}

// Combine merges all recorded results into one TaskResult: outputs are
// concatenated (each headed by its delegation's role label, e.g. "##
// backend"), tokens and duration are summed, success is the logical AND of
// every subtask, and errors are joined with "; ".
func (p *PendingAggregation) Combine() TaskResult {
	combined := TaskResult{TaskID: p.ParentTaskID, Success: true}
	var output, errs []string

	for _, id := range p.SubtaskIDs {
		r, ok := p.Results[id]
		if !ok {
			continue
		}
		combined.TokensUsed += r.TokensUsed
		combined.DurationMS += r.DurationMS
		combined.Success = combined.Success && r.Success
		header := r.Label
		if header == "" {
			header = id.String()
		}
		output = append(output, "## "+header+"\n"+r.Output)
		if r.Error != "" {
			errs = append(errs, r.Error)
		}
	}

	combined.Output = joinNonEmpty(output, "\n\n")
	combined.Error = joinNonEmpty(errs, "; ")
	return combined
}

func joinNonEmpty(parts []string, sep string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += sep
		}
		out += p
	}
	return out
}
