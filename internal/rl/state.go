// Package rl implements the RL routing policy (§4.7): state/action/experience
// types, a tabular Q-learning engine with epsilon-greedy exploration, and an
// algorithm registry so the policy surface (predict/record/train) can be
// backed by alternative implementations.
package rl

import "fmt"

// AgentSnapshot is one candidate agent's routing-relevant state, as seen by
// the orchestrator at decision time.
type AgentSnapshot struct {
	Role              string
	IsBusy            bool
	SuccessRate       float64
	AvgCompletionTime float64
}

// State is the RL policy's view of the world at a routing decision point.
type State struct {
	TaskType        string
	AvailableAgents []AgentSnapshot
	TokenUsage      float64 // in [0,1]
	SuccessHistory  []float64
	Complexity      float64 // in [0,1]
	Features        []float64
}

// ActionKind tags the variant of Action's union.
type ActionKind int

const (
	ActionRouteToAgent ActionKind = iota
	ActionAllocateTokens
	ActionUsePattern
	ActionCompressContext
	ActionComposite
)

// Action is the tagged union the policy predicts: route to a role,
// allocate a token budget fraction, apply a cached pattern, compress
// context, or a composite of sub-actions.
type Action struct {
	Kind ActionKind

	Role           string  // ActionRouteToAgent
	TokenFraction  float64 // ActionAllocateTokens
	PatternID      string  // ActionUsePattern
	CompressRatio  float64 // ActionCompressContext
	Composite      []Action
}

// RouteToAgent builds a RouteToAgent action.
func RouteToAgent(role string) Action { return Action{Kind: ActionRouteToAgent, Role: role} }

// AllocateTokens builds an AllocateTokens action.
func AllocateTokens(fraction float64) Action {
	return Action{Kind: ActionAllocateTokens, TokenFraction: fraction}
}

// UsePattern builds a UsePattern action.
func UsePattern(id string) Action { return Action{Kind: ActionUsePattern, PatternID: id} }

// CompressContext builds a CompressContext action.
func CompressContext(ratio float64) Action {
	return Action{Kind: ActionCompressContext, CompressRatio: ratio}
}

// CompositeAction builds a Composite action wrapping sub-actions.
func CompositeAction(actions ...Action) Action {
	return Action{Kind: ActionComposite, Composite: actions}
}

// RouteRole reports the role this Action routes to and whether it is (or
// contains, for Composite) a RouteToAgent action — the orchestrator's
// route_task_auto only acts on this shape (§4.8).
func (a Action) RouteRole() (string, bool) {
	switch a.Kind {
	case ActionRouteToAgent:
		return a.Role, true
	case ActionComposite:
		for _, sub := range a.Composite {
			if role, ok := sub.RouteRole(); ok {
				return role, true
			}
		}
	}
	return "", false
}

// actionSpaceSize is the stable size of the discrete action space the
// Q-table indexes into (§3's action-index map: indices 0..11).
const actionSpaceSize = 12

// roleActionIndex is the stable, fixed mapping from a RouteToAgent role
// name to its action index.
var roleActionIndex = map[string]int{
	"coordinator": 0,
	"frontend":    1,
	"backend":     2,
	"dba":         3,
	"devops":      4,
	"security":    5,
	"qa":          6,
	"custom":      7,
}

const (
	idxAllocateTokens   = 8
	idxUsePattern       = 9
	idxCompressContext  = 10
	idxComposite        = 11
)

// actionIndex maps an Action to its stable Q-table index.
func actionIndex(a Action) int {
	switch a.Kind {
	case ActionRouteToAgent:
		if idx, ok := roleActionIndex[a.Role]; ok {
			return idx
		}
		return roleActionIndex["custom"]
	case ActionAllocateTokens:
		return idxAllocateTokens
	case ActionUsePattern:
		return idxUsePattern
	case ActionCompressContext:
		return idxCompressContext
	case ActionComposite:
		return idxComposite
	default:
		return roleActionIndex["custom"]
	}
}

// indexToRole is the inverse of roleActionIndex for the eight routing
// indices; used when an explored (random) action index lands on a
// RouteToAgent slot and must be materialized back into an Action.
var indexToRole = func() map[int]string {
	m := make(map[int]string, len(roleActionIndex))
	for role, idx := range roleActionIndex {
		m[idx] = role
	}
	return m
}()

// actionFromIndex materializes an Action for a Q-table index chosen by
// epsilon-greedy selection.
func actionFromIndex(idx int) Action {
	if role, ok := indexToRole[idx]; ok {
		return RouteToAgent(role)
	}
	switch idx {
	case idxAllocateTokens:
		return AllocateTokens(0.5)
	case idxUsePattern:
		return UsePattern("")
	case idxCompressContext:
		return CompressContext(0.5)
	case idxComposite:
		return CompositeAction()
	default:
		return RouteToAgent("custom")
	}
}

// Experience is one recorded transition: the state the policy acted in,
// the action taken, the reward observed, the resulting state (nil when the
// episode is treated as a single step, per §4.8's RL feedback loop), and
// whether the episode terminated.
type Experience struct {
	State     State
	Action    Action
	Reward    float64
	NextState *State
	Done      bool
}

// stateKey hashes a State to the coarse Q-table key described in §4.7:
// floor(complexity*100)_floor(token_usage*100).
func stateKey(s State) string {
	c := int(s.Complexity * 100)
	t := int(s.TokenUsage * 100)
	return fmt.Sprintf("%d_%d", c, t)
}
