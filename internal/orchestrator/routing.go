package orchestrator

import (
	"github.com/fleetmind/acpd/internal/model"
	"github.com/fleetmind/acpd/internal/rl"
)

// workloadFor returns (creating if absent) the tracked AgentWorkload for
// id/role.
func (o *Orchestrator) workloadFor(id model.AgentID, role string) *model.AgentWorkload {
	if w, ok := o.workloads[id]; ok {
		return w
	}
	w := &model.AgentWorkload{AgentID: id, Role: role, MaxTasks: o.cfg.DefaultMaxTasks}
	o.workloads[id] = w
	return w
}

// trackAssignment increments the chosen agent's current task count.
func (o *Orchestrator) trackAssignment(id model.AgentID, role string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w := o.workloadFor(id, role)
	w.CurrentTasks++
}

// finishWorkload records a completed (or failed) delegation's outcome
// against the assigned agent's workload (§4.8's workload accounting).
func (o *Orchestrator) finishWorkload(id model.AgentID, success bool, durationMS int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	w, ok := o.workloads[id]
	if !ok {
		return
	}
	w.RecordResult(success, durationMS)
}

// RouteTaskAuto implements route_task_auto(task, required_role) from §4.8
// for callers routing a single-role task directly, outside the coordinator
// delegate flow.
func (o *Orchestrator) RouteTaskAuto(role string) (model.AgentID, error) {
	return o.pickCandidate(role)
}

// pickCandidate selects the agent to route to for role, preferring an
// RL-predicted RouteToAgent action when RL is enabled, otherwise the
// heuristic: smallest current_tasks, ties broken by oldest connect time.
// Returns model.ErrNoCandidateAgent if no eligible agent is connected.
func (o *Orchestrator) pickCandidate(role string) (model.AgentID, error) {
	candidates := o.connectedCandidates(role)
	if len(candidates) == 0 {
		return model.NilAgentID, model.ErrNoCandidateAgent
	}

	if o.cfg.RLEnabled && o.rl != nil {
		state := o.buildState(role, candidates)
		action := o.rl.Predict(state)
		if r, ok := action.RouteRole(); ok && r == role {
			if id, ok := o.leastLoaded(candidates); ok {
				return id, nil
			}
		}
	}

	id, ok := o.leastLoaded(candidates)
	if !ok {
		return model.NilAgentID, model.ErrNoCandidateAgent
	}
	return id, nil
}

type candidate struct {
	id          model.AgentID
	connectedAt int64
}

// connectedCandidates returns every authenticated, connected agent of role
// with spare capacity (current_tasks < max_tasks).
func (o *Orchestrator) connectedCandidates(role string) []candidate {
	summaries := o.server.ConnectedAgents()

	o.mu.Lock()
	defer o.mu.Unlock()

	var out []candidate
	for _, s := range summaries {
		if !s.Authenticated || s.Role != role {
			continue
		}
		w := o.workloadFor(s.AgentID, role)
		if !w.HasCapacity() {
			continue
		}
		out = append(out, candidate{id: s.AgentID, connectedAt: s.ConnectedAt})
	}
	return out
}

// leastLoaded picks the candidate with the smallest current_tasks, ties
// broken by oldest connect time.
func (o *Orchestrator) leastLoaded(candidates []candidate) (model.AgentID, bool) {
	if len(candidates) == 0 {
		return model.NilAgentID, false
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	best := candidates[0]
	bestLoad := o.workloads[best.id].CurrentTasks
	for _, c := range candidates[1:] {
		load := o.workloads[c.id].CurrentTasks
		if load < bestLoad || (load == bestLoad && c.connectedAt < best.connectedAt) {
			best = c
			bestLoad = load
		}
	}
	return best.id, true
}

// buildState assembles an rl.State snapshot for a routing decision over
// candidates of role.
func (o *Orchestrator) buildState(role string, candidates []candidate) rl.State {
	o.mu.Lock()
	defer o.mu.Unlock()

	agents := make([]rl.AgentSnapshot, 0, len(candidates))
	var successes []float64
	for _, c := range candidates {
		w := o.workloads[c.id]
		agents = append(agents, rl.AgentSnapshot{
			Role:              w.Role,
			IsBusy:            w.CurrentTasks > 0,
			SuccessRate:       w.SuccessRate(),
			AvgCompletionTime: w.AvgCompletionMsEMA,
		})
		successes = append(successes, w.SuccessRate())
	}

	return rl.State{
		TaskType:        role,
		AvailableAgents: agents,
		SuccessHistory:  successes,
	}
}

// recordFeedback computes the §4.7 reward for a completed delegation and
// submits an Experience to the RL engine (each task treated as a single
// step: done=true, next_state=nil). maxTokens is the delegation's token
// budget (0 if unset); maxDuration is o.cfg.DelegationTimeout in
// milliseconds, the budget every delegation is actually bounded by.
func (o *Orchestrator) recordFeedback(id model.AgentID, role string, success bool, tokensUsed int64, durationMS int64, maxTokens int64) {
	if !o.cfg.RLEnabled || o.rl == nil {
		return
	}

	o.mu.Lock()
	w, ok := o.workloads[id]
	var agents []rl.AgentSnapshot
	if ok {
		agents = append(agents, rl.AgentSnapshot{
			Role:              w.Role,
			IsBusy:            w.CurrentTasks > 0,
			SuccessRate:       w.SuccessRate(),
			AvgCompletionTime: w.AvgCompletionMsEMA,
		})
	}
	o.mu.Unlock()

	state := rl.State{TaskType: role, AvailableAgents: agents}
	reward := rl.Reward(rl.Outcome{
		Success:        success,
		TokensUsed:     float64(tokensUsed),
		MaxTokens:      float64(maxTokens),
		DurationMillis: float64(durationMS),
		MaxDuration:    float64(o.cfg.DelegationTimeout.Milliseconds()),
	})

	o.rl.Record(rl.Experience{
		State:     state,
		Action:    rl.RouteToAgent(role),
		Reward:    reward,
		NextState: nil,
		Done:      true,
	})
}
