package acpserver

import (
	"github.com/fleetmind/acpd/internal/model"
)

// AgentSummary is the public, read-only view of a connected agent exposed
// to the orchestrator and the admin surface.
type AgentSummary struct {
	AgentID       model.AgentID
	Role          string
	Authenticated bool
	ConnectedAt   int64 // unix seconds
}

// ConnectionByID returns the live Connection for id, if currently connected.
func (s *Server) ConnectionByID(id model.AgentID) (*Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.connections[id]
	return c, ok
}

// ConnectedAgents returns a snapshot of every currently connected agent.
func (s *Server) ConnectedAgents() []AgentSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AgentSummary, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, AgentSummary{
			AgentID:       c.AgentID,
			Role:          c.Role(),
			Authenticated: c.IsAuthenticated(),
			ConnectedAt:   c.ConnectedAt.Unix(),
		})
	}
	return out
}

// FindAgentsByRole returns every authenticated, connected agent registered
// with the given role. Used by the orchestrator's find_agent_by_role and
// route_task_auto (§4.8).
func (s *Server) FindAgentsByRole(role string) []model.AgentID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.AgentID
	for id, c := range s.connections {
		if c.IsAuthenticated() && c.Role() == role {
			out = append(out, id)
		}
	}
	return out
}

// BackpressureSnapshots returns a point-in-time backpressure view of every
// connected agent, for the admin telemetry surface.
func (s *Server) BackpressureSnapshots() []BackpressureSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]BackpressureSnapshot, 0, len(s.connections))
	for _, c := range s.connections {
		out = append(out, c.Snapshot())
	}
	return out
}

// ConnectionCount reports how many connections are currently tracked.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}
