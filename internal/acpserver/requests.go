package acpserver

import (
	"context"
	"time"

	"github.com/fleetmind/acpd/internal/model"
	"github.com/fleetmind/acpd/internal/protocol"
)

// SendRequest issues a request to the connection identified by id and
// awaits its response, honoring timeout. This is the server→agent request
// correlation path described in §4.5: allocate a fresh PendingRequest,
// enqueue via the connection's backpressured outbound queue, and await the
// sink.
//
// If the outbound enqueue itself is dropped (queue full) or evicts the
// connection, the pending entry is removed immediately and the caller
// observes model.ErrChannelClosed rather than waiting out the full timeout.
func (s *Server) SendRequest(ctx context.Context, id model.AgentID, method string, params any, timeout time.Duration) (*protocol.Message, error) {
	s.mu.RLock()
	conn, ok := s.connections[id]
	s.mu.RUnlock()
	if !ok {
		return nil, model.ErrNotFound
	}

	reqID, sink := s.pending.Register()
	req, err := protocol.NewRequest(method, params)
	if err != nil {
		s.pending.Cancel(reqID)
		return nil, err
	}
	req.ID = &reqID

	switch conn.TrySend(req) {
	case Evict:
		s.pending.Cancel(reqID)
		s.removeConnection(conn)
		return nil, model.ErrChannelClosed
	case Dropped:
		s.pending.Cancel(reqID)
		return nil, model.ErrChannelClosed
	}

	return s.pending.Await(ctx, reqID, sink, timeout)
}
