package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fleetmind/acpd/internal/acpserver"
	"github.com/fleetmind/acpd/internal/model"
	"github.com/fleetmind/acpd/internal/protocol"
	"github.com/fleetmind/acpd/internal/rl"
)

// Config holds the orchestrator's tunables. Zero values are replaced with
// defaults by New.
type Config struct {
	CoordinatorRole        string // default "coordinator"
	CoordinatorSystemPrompt string
	DelegationTimeout      time.Duration // default 30s
	DefaultMaxTasks        int           // default 4, per agent; the same limit applies to every agent
	RLEnabled              bool
}

func (c *Config) setDefaults() {
	if c.CoordinatorRole == "" {
		c.CoordinatorRole = "coordinator"
	}
	if c.DelegationTimeout <= 0 {
		c.DelegationTimeout = 30 * time.Second
	}
	if c.DefaultMaxTasks <= 0 {
		c.DefaultMaxTasks = 4
	}
}

// Orchestrator drives the task lifecycle: submission to the coordinator,
// its delegate/direct/error contract, delegation execution against C5,
// RL-assisted routing, and result aggregation (§4.8).
type Orchestrator struct {
	cfg    Config
	server *acpserver.Server
	rl     *rl.Engine
	logger *zap.Logger

	mu           sync.Mutex
	tasks        map[model.TaskID]*model.Task
	workloads    map[model.AgentID]*model.AgentWorkload
	aggregations map[model.TaskID]*model.PendingAggregation
}

// New builds an Orchestrator. rlEngine may be nil, in which case routing
// always falls back to the heuristic (§4.8).
func New(cfg Config, server *acpserver.Server, rlEngine *rl.Engine, logger *zap.Logger) *Orchestrator {
	cfg.setDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:          cfg,
		server:       server,
		rl:           rlEngine,
		logger:       logger.Named("orchestrator"),
		tasks:        make(map[model.TaskID]*model.Task),
		workloads:    make(map[model.AgentID]*model.AgentWorkload),
		aggregations: make(map[model.TaskID]*model.PendingAggregation),
	}
}

// TaskByID returns a tracked task, if any.
func (o *Orchestrator) TaskByID(id model.TaskID) (*model.Task, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.tasks[id]
	return t, ok
}

// Submit creates a Task for description, routes it to a connected
// coordinator agent, awaits the reply, and drives it through the
// delegate/direct/error contract to a terminal status.
func (o *Orchestrator) Submit(ctx context.Context, description string) (*model.Task, error) {
	task := &model.Task{
		ID:          model.NewTaskID(),
		Description: description,
		Status:      model.TaskPending,
		CreatedAt:   time.Now(),
		Metadata:    map[string]any{},
	}
	o.mu.Lock()
	o.tasks[task.ID] = task
	o.mu.Unlock()

	agentID, err := o.pickCandidate(o.cfg.CoordinatorRole)
	if err != nil {
		task.Finish(model.TaskFailed, err.Error(), time.Now())
		return task, err
	}

	task.Start(time.Now())
	o.trackAssignment(agentID, o.cfg.CoordinatorRole)

	var maxTokens int64
	if task.TokenBudget != nil {
		maxTokens = *task.TokenBudget
	}

	started := time.Now()
	resp, err := o.server.SendRequest(ctx, agentID, protocol.MethodTaskExecute, map[string]any{
		"task":          description,
		"system_prompt": o.cfg.CoordinatorSystemPrompt,
	}, o.cfg.DelegationTimeout)
	duration := time.Since(started)

	if err != nil {
		reason := failureReason(err, o.cfg.DelegationTimeout)
		o.finishWorkload(agentID, false, duration.Milliseconds())
		o.recordFeedback(agentID, o.cfg.CoordinatorRole, false, 0, duration.Milliseconds(), maxTokens)
		task.Finish(model.TaskFailed, reason, time.Now())
		return task, nil
	}

	if resp.Error != nil {
		o.finishWorkload(agentID, false, duration.Milliseconds())
		o.recordFeedback(agentID, o.cfg.CoordinatorRole, false, 0, duration.Milliseconds(), maxTokens)
		task.Finish(model.TaskFailed, resp.Error.Message, time.Now())
		return task, nil
	}

	var result struct {
		Output     string `json:"output"`
		Success    bool   `json:"success"`
		TokensUsed int64  `json:"tokens_used"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		o.finishWorkload(agentID, false, duration.Milliseconds())
		o.recordFeedback(agentID, o.cfg.CoordinatorRole, false, 0, duration.Milliseconds(), maxTokens)
		task.Finish(model.TaskFailed, "invalid response from agent", time.Now())
		return task, nil
	}

	o.finishWorkload(agentID, result.Success, duration.Milliseconds())
	o.recordFeedback(agentID, o.cfg.CoordinatorRole, result.Success, result.TokensUsed, duration.Milliseconds(), maxTokens)

	o.handleCoordinatorOutput(ctx, task, result.Output)
	return task, nil
}

// handleCoordinatorOutput extracts and parses the coordinator's JSON
// contract and drives task to a terminal status per its action.
func (o *Orchestrator) handleCoordinatorOutput(ctx context.Context, task *model.Task, raw string) {
	candidate, ok := extractJSON(raw)
	if !ok {
		task.Finish(model.TaskCompleted, "", time.Now())
		task.Metadata["output"] = raw
		return
	}

	var out CoordinatorOutput
	if err := json.Unmarshal([]byte(candidate), &out); err != nil {
		task.Finish(model.TaskCompleted, "", time.Now())
		task.Metadata["output"] = raw
		return
	}

	switch out.Action {
	case "delegate":
		o.runDelegations(ctx, task, out.Delegations)
	case "direct":
		task.Finish(model.TaskFailed, "coordinator attempted direct execution, which is not permitted", time.Now())
	case "error":
		task.Finish(model.TaskFailed, out.Error, time.Now())
	default:
		task.Finish(model.TaskCompleted, "", time.Now())
		if out.Response != "" {
			task.Metadata["output"] = out.Response
		} else {
			task.Metadata["output"] = raw
		}
	}
}

// failureReason maps a SendRequest error to the §4.8 failure-semantics
// strings. timeout is the deadline that was configured for the request,
// used to render the "timeout after Ns" message.
func failureReason(err error, timeout time.Duration) string {
	switch {
	case err == model.ErrTimeout:
		return fmt.Sprintf("timeout after %ds", int(timeout.Seconds()))
	case err == model.ErrChannelClosed:
		return "channel closed"
	case err == model.ErrNotFound:
		return "no connected agent for role"
	default:
		return err.Error()
	}
}
