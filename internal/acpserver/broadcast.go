package acpserver

import (
	"github.com/fleetmind/acpd/internal/model"
	"github.com/fleetmind/acpd/internal/protocol"
)

// BroadcastResult aggregates the outcome of a broadcast across every
// connection (§4.4): sent and dropped counts, plus the ids evicted as a
// result (a dropped connection's socket is closed after the iteration
// completes, not during it, so the iteration itself is never invalidated).
type BroadcastResult struct {
	Sent         int
	Dropped      int
	Disconnected []model.AgentID
}

// Broadcast sends a broadcast notification with the given messageType and
// content to every connected agent, via TrySend — exactly the semantics
// C8's broadcast wraps.
func (s *Server) Broadcast(messageType, content string) (BroadcastResult, error) {
	msg, err := protocol.NewNotification(protocol.MethodBroadcast, map[string]any{
		"message_type": messageType,
		"content":      content,
	})
	if err != nil {
		return BroadcastResult{}, err
	}

	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	var res BroadcastResult
	var toEvict []*Connection

	for _, c := range conns {
		switch c.TrySend(msg) {
		case Sent:
			res.Sent++
		case Dropped:
			res.Dropped++
		case Evict:
			res.Dropped++
			res.Disconnected = append(res.Disconnected, c.AgentID)
			toEvict = append(toEvict, c)
		}
	}

	// Evictions happen only after the iteration completes, so the
	// connection map iteration above is never invalidated mid-flight.
	for _, c := range toEvict {
		s.removeConnection(c)
	}

	return res, nil
}
