// Package orchestrator implements the task lifecycle (§4.8): submitting
// work to the coordinator, parsing its delegate/direct/error contract,
// executing delegations against role-specialized agents via C5, RL-assisted
// routing, workload accounting, and result aggregation.
package orchestrator

// CoordinatorOutput is the JSON contract the coordinator agent is expected
// to return for every task.execute reply.
type CoordinatorOutput struct {
	Action      string            `json:"action"`
	Delegations []DelegationSpec  `json:"delegations,omitempty"`
	Response    string            `json:"response,omitempty"`
	Error       string            `json:"error,omitempty"`
	Summary     string            `json:"summary,omitempty"`
}

// DelegationSpec is one entry of CoordinatorOutput.Delegations.
type DelegationSpec struct {
	Role    string `json:"role"`
	Task    string `json:"task"`
	Context string `json:"context,omitempty"`
}

// allowedDelegationRoles is the fixed set of roles a coordinator may
// delegate to (§4.8 step 1). Coordinator itself is excluded — it cannot
// delegate back to its own role.
var allowedDelegationRoles = map[string]bool{
	"frontend": true,
	"backend":  true,
	"dba":      true,
	"devops":   true,
	"security": true,
	"qa":       true,
}

func isAllowedRole(role string) bool {
	return allowedDelegationRoles[role]
}
