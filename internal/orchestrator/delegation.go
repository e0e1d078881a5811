package orchestrator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fleetmind/acpd/internal/model"
	"github.com/fleetmind/acpd/internal/protocol"
)

// runDelegations executes every delegation in order, aggregates their
// results via PendingAggregation, and finishes the parent task: completed
// iff every delegation succeeded, else partial (§4.8).
func (o *Orchestrator) runDelegations(ctx context.Context, task *model.Task, delegations []DelegationSpec) {
	if len(delegations) == 0 {
		task.Finish(model.TaskCompleted, "", time.Now())
		return
	}

	subtaskIDs := make([]model.TaskID, len(delegations))
	for i := range delegations {
		subtaskIDs[i] = model.NewTaskID()
	}

	agg := model.NewPendingAggregation(task.ID, subtaskIDs)
	o.mu.Lock()
	o.aggregations[task.ID] = agg
	o.mu.Unlock()

	var maxTokens int64
	if task.TokenBudget != nil {
		maxTokens = *task.TokenBudget
	}

	for i, spec := range delegations {
		result := o.executeDelegation(ctx, subtaskIDs[i], spec, maxTokens)

		o.mu.Lock()
		done := agg.AddResult(result)
		if done {
			delete(o.aggregations, task.ID)
		}
		o.mu.Unlock()
	}

	combined := agg.Combine()
	status := model.TaskCompleted
	if !combined.Success {
		status = model.TaskPartial
	}
	task.Finish(status, combined.Error, time.Now())
	task.Metadata["output"] = combined.Output
	task.Metadata["tokens_used"] = combined.TokensUsed
	task.Metadata["duration_ms"] = combined.DurationMS
}

// executeDelegation runs one {role, task, context?} delegation: validates
// the role, finds a candidate agent, issues task.execute, and maps the
// result (§4.8's delegation execution steps 1-5).
func (o *Orchestrator) executeDelegation(ctx context.Context, subtaskID model.TaskID, spec DelegationSpec, maxTokens int64) model.TaskResult {
	if !isAllowedRole(spec.Role) {
		return model.TaskResult{TaskID: subtaskID, Label: spec.Role, Success: false, Error: "invalid role: " + spec.Role}
	}

	agentID, err := o.pickCandidate(spec.Role)
	if err != nil {
		return model.TaskResult{TaskID: subtaskID, Label: spec.Role, Success: false, Error: "no connected agent for role " + spec.Role}
	}

	message := spec.Task
	if spec.Context != "" {
		message += "\n\nContext:\n" + spec.Context
	}

	o.trackAssignment(agentID, spec.Role)

	started := time.Now()
	resp, err := o.server.SendRequest(ctx, agentID, protocol.MethodTaskExecute, map[string]any{
		"task":    message,
		"context": spec.Context,
	}, o.cfg.DelegationTimeout)
	duration := time.Since(started)

	if err != nil {
		reason := failureReason(err, o.cfg.DelegationTimeout)
		o.finishWorkload(agentID, false, duration.Milliseconds())
		o.recordFeedback(agentID, spec.Role, false, 0, duration.Milliseconds(), maxTokens)
		return model.TaskResult{TaskID: subtaskID, Label: spec.Role, Success: false, Error: reason, DurationMS: duration.Milliseconds()}
	}

	if resp.Error != nil {
		o.finishWorkload(agentID, false, duration.Milliseconds())
		o.recordFeedback(agentID, spec.Role, false, 0, duration.Milliseconds(), maxTokens)
		return model.TaskResult{TaskID: subtaskID, Label: spec.Role, Success: false, Error: resp.Error.Message, DurationMS: duration.Milliseconds()}
	}

	var result struct {
		Output     string `json:"output"`
		Success    bool   `json:"success"`
		TokensUsed int64  `json:"tokens_used"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		o.finishWorkload(agentID, false, duration.Milliseconds())
		o.recordFeedback(agentID, spec.Role, false, 0, duration.Milliseconds(), maxTokens)
		return model.TaskResult{TaskID: subtaskID, Label: spec.Role, Success: false, Error: "invalid response from agent", DurationMS: duration.Milliseconds()}
	}

	o.finishWorkload(agentID, result.Success, duration.Milliseconds())
	o.recordFeedback(agentID, spec.Role, result.Success, result.TokensUsed, duration.Milliseconds(), maxTokens)

	if !result.Success {
		return model.TaskResult{TaskID: subtaskID, Label: spec.Role, Success: false, Error: "delegation reported failure", TokensUsed: result.TokensUsed, DurationMS: duration.Milliseconds()}
	}
	return model.TaskResult{TaskID: subtaskID, Label: spec.Role, Success: true, Output: result.Output, TokensUsed: result.TokensUsed, DurationMS: duration.Milliseconds()}
}
