package acpserver

import (
	"context"

	"go.uber.org/zap"
)

// Shutdown signals graceful shutdown: no new connections are accepted after
// this returns (ServeHTTP starts rejecting with 503), every live
// connection's socket is closed so its reader/writer terminate after their
// current frame, and in-flight pending requests observe a channel-closed
// error rather than hanging until they time out. It honors ctx for the
// underlying scheduler shutdown only — closing sockets is not blocking.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown = true
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.conn.Close()
	}

	s.pending.DropAll()

	if err := s.sweeper.Shutdown(); err != nil {
		s.logger.Warn("error shutting down stale sweeper", zap.Error(err))
		return err
	}
	return nil
}
