package acpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fleetmind/acpd/internal/auth"
	"github.com/fleetmind/acpd/internal/model"
	"github.com/fleetmind/acpd/internal/pendingreq"
	"github.com/fleetmind/acpd/internal/protocol"
	"github.com/fleetmind/acpd/internal/ratelimit"
)

// Handler processes any message that is not one of the four built-in
// methods (§4.5, "Anything else"). Returning a non-nil Message enqueues it
// as the reply; returning nil sends nothing (appropriate for notifications).
// A panic inside Handler is recovered and converted to an internal-error
// response rather than crashing the server.
type Handler func(ctx context.Context, conn *Connection, msg *protocol.Message) (*protocol.Message, error)

// Config holds the server's tunables. Zero values are replaced with the
// design doc's defaults by NewServer.
type Config struct {
	ChannelCapacity     int           // default 100
	MaxConsecutiveDrops int           // default 5
	WarningThreshold    float64       // default 0.8
	StaleSweepInterval  time.Duration // default 30s
	StaleTTL            time.Duration // default 900s
	RequestTimeout      time.Duration // default 30s

	// RequireAuth enforces A1: production builds must treat this as true
	// regardless of configuration. The zero value (false) is only honored
	// when DevAllowUnauthenticated is explicitly set.
	RequireAuth             bool
	DevAllowUnauthenticated bool

	// TrustProxy governs client-IP resolution for rate limiting (§4.3).
	TrustProxy bool
}

func (c *Config) setDefaults() {
	if c.ChannelCapacity <= 0 {
		c.ChannelCapacity = 100
	}
	if c.MaxConsecutiveDrops <= 0 {
		c.MaxConsecutiveDrops = 5
	}
	if c.WarningThreshold <= 0 {
		c.WarningThreshold = 0.8
	}
	if c.StaleSweepInterval <= 0 {
		c.StaleSweepInterval = 30 * time.Second
	}
	if c.StaleTTL <= 0 {
		c.StaleTTL = 900 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	// A1: only an explicit dev flag may relax require_auth.
	if !c.DevAllowUnauthenticated {
		c.RequireAuth = true
	}
}

// Server is the ACP WebSocket hub: it accepts connections, authenticates
// them, maintains the connection map, and dispatches inbound messages.
type Server struct {
	cfg     Config
	creds   *auth.Credentials
	limiter *ratelimit.Limiter
	handler Handler
	logger  *zap.Logger

	upgrader websocket.Upgrader

	mu          sync.RWMutex
	connections map[model.AgentID]*Connection
	shuttingDown bool

	pending *pendingreq.Table
	sweeper gocron.Scheduler
}

// NewServer builds a Server. creds may be nil only in dev mode (see
// Config.DevAllowUnauthenticated); limiter may be nil to disable rate
// limiting at the WebSocket boundary.
func NewServer(cfg Config, creds *auth.Credentials, limiter *ratelimit.Limiter, handler Handler, logger *zap.Logger) (*Server, error) {
	cfg.setDefaults()

	sweeper, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:         cfg,
		creds:       creds,
		limiter:     limiter,
		handler:     handler,
		logger:      logger.Named("acpserver"),
		connections: make(map[model.AgentID]*Connection),
		pending:     pendingreq.NewTable(),
		sweeper:     sweeper,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	if _, err := sweeper.NewJob(
		gocron.DurationJob(cfg.StaleSweepInterval),
		gocron.NewTask(func() {
			if n := s.pending.SweepStale(cfg.StaleTTL); n > 0 {
				s.logger.Debug("swept stale pending requests", zap.Int("count", n))
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	); err != nil {
		return nil, err
	}
	sweeper.Start()

	return s, nil
}

const (
	readLimitBytes = 1 << 20 // 1 MiB — generous for task.execute payloads
	pongWait       = 60 * time.Second
	writeWait      = 10 * time.Second
)

// ServeHTTP implements http.Handler: it applies rate limiting (if
// configured), upgrades the connection, and runs the connection's
// reader/writer for its lifetime. It blocks until the connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	down := s.shuttingDown
	s.mu.RUnlock()
	if down {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}

	candidateKey := auth.ExtractCandidateKey(r)

	if s.limiter != nil {
		clientIP := ratelimit.ResolveClientIP(r, s.cfg.TrustProxy)
		res := s.limiter.Allow(clientIP, candidateKey)
		if !res.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(res.RetryAfterSeconds))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Type", string(res.RejectedBy))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":              "Too many requests",
				"limit_type":         res.RejectedBy,
				"retry_after_seconds": res.RetryAfterSeconds,
			})
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	id := model.NewAgentID()
	conn := newConnection(id, ws, connConfig{
		ChannelCapacity:     s.cfg.ChannelCapacity,
		MaxConsecutiveDrops: s.cfg.MaxConsecutiveDrops,
		WarningThreshold:    s.cfg.WarningThreshold,
	})

	if s.cfg.RequireAuth && s.creds != nil && s.creds.Authenticate(candidateKey) {
		conn.SetAuthenticated(candidateKey)
	} else if !s.cfg.RequireAuth {
		conn.SetAuthenticated(candidateKey)
	}

	s.addConnection(conn)
	defer s.removeConnection(conn)

	s.logger.Info("agent connected", zap.String("agent_id", id.String()), zap.Bool("authenticated", conn.IsAuthenticated()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump(conn)
	}()
	s.readPump(conn)
	wg.Wait()
}

func (s *Server) addConnection(c *Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connections[c.AgentID] = c
}

func (s *Server) removeConnection(c *Connection) {
	s.mu.Lock()
	_, existed := s.connections[c.AgentID]
	delete(s.connections, c.AgentID)
	s.mu.Unlock()

	if existed {
		c.markClosed()
		_ = c.conn.Close()
	}
}

// writePump drains the outbound queue, writing text frames (JSON-RPC
// messages) or the occasional Pong control frame.
func (s *Server) writePump(c *Connection) {
	for f := range c.outbound {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))

		if f.control != 0 {
			if err := c.conn.WriteMessage(f.control, nil); err != nil {
				s.logger.Warn("write error", zap.String("agent_id", c.AgentID.String()), zap.Error(err))
				return
			}
			continue
		}

		raw, err := protocol.Encode(f.message)
		if err != nil {
			s.logger.Error("failed to encode outbound message", zap.Error(err))
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
			s.logger.Warn("write error", zap.String("agent_id", c.AgentID.String()), zap.Error(err))
			return
		}
	}
}

// readPump reads frames, parses AcpMessage, and dispatches per §4.5.
func (s *Server) readPump(c *Connection) {
	c.conn.SetReadLimit(readLimitBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPingHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if out := c.TrySendPong(); out == Evict {
			return websocket.ErrCloseSent
		}
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			s.logger.Warn("parse failure on inbound message, continuing", zap.Error(err))
			continue
		}

		if out := s.dispatch(c, msg); out == Evict {
			return
		}
	}
}

// dispatch handles one parsed message per §4.5's method table. It returns
// Evict if the connection should be torn down (a handler's reply could not
// be enqueued because the queue is exhausted or already closed).
func (s *Server) dispatch(c *Connection, msg *protocol.Message) SendOutcome {
	shape := msg.Classify()

	if shape == protocol.ShapeResponse {
		if !s.pending.Deliver(*msg.ID, msg) {
			s.logger.Debug("dropped response with no matching pending request", zap.Any("id", msg.ID))
		}
		return Sent
	}

	if !c.IsAuthenticated() && msg.Method != protocol.MethodAgentAuthenticate {
		if shape == protocol.ShapeRequest {
			return c.TrySend(protocol.NewErrorResponse(*msg.ID, protocol.CodeAuthRequired, "authentication required", nil))
		}
		// Notification from an unauthenticated connection: silently dropped.
		return Sent
	}

	switch msg.Method {
	case protocol.MethodAgentAuthenticate:
		return s.handleAuthenticate(c, msg)
	case protocol.MethodAgentRegister:
		return s.handleRegister(c, msg)
	case protocol.MethodHeartbeat:
		return s.handleHeartbeat(c, msg)
	case protocol.MethodGetStatus:
		return s.handleGetStatus(c, msg)
	default:
		return s.forwardToHandler(c, msg)
	}
}

type authenticateParams struct {
	APIKey string `json:"api_key"`
}

func (s *Server) handleAuthenticate(c *Connection, msg *protocol.Message) SendOutcome {
	if msg.Classify() != protocol.ShapeRequest {
		return Sent
	}

	var params authenticateParams
	_ = json.Unmarshal(msg.Params, &params)

	if s.creds == nil || !s.creds.Authenticate(params.APIKey) {
		return c.TrySend(protocol.NewErrorResponse(*msg.ID, protocol.CodeAuthRequired, "invalid api key", nil))
	}

	c.SetAuthenticated(params.APIKey)
	resp, err := protocol.NewResponse(*msg.ID, map[string]any{
		"success":  true,
		"agent_id": c.AgentID.String(),
	})
	if err != nil {
		return c.TrySend(protocol.NewErrorResponse(*msg.ID, protocol.CodeInternal, "internal error", nil))
	}
	return c.TrySend(resp)
}

type registerParams struct {
	Role string `json:"role"`
}

func (s *Server) handleRegister(c *Connection, msg *protocol.Message) SendOutcome {
	if msg.Classify() != protocol.ShapeRequest {
		return Sent
	}

	var params registerParams
	_ = json.Unmarshal(msg.Params, &params)

	// Generic failure on denial: never reveal which roles exist (§4.5).
	if s.creds == nil || !s.creds.IsRoleAuthorized(c.APIKey(), params.Role) {
		resp, _ := protocol.NewResponse(*msg.ID, map[string]any{
			"success": false,
			"error":   "registration failed",
		})
		return c.TrySend(resp)
	}

	c.SetRole(params.Role)
	resp, err := protocol.NewResponse(*msg.ID, map[string]any{
		"success":  true,
		"agent_id": c.AgentID.String(),
		"role":     params.Role,
	})
	if err != nil {
		return c.TrySend(protocol.NewErrorResponse(*msg.ID, protocol.CodeInternal, "internal error", nil))
	}
	return c.TrySend(resp)
}

type heartbeatParams struct {
	Timestamp int64 `json:"timestamp"`
}

func (s *Server) handleHeartbeat(c *Connection, msg *protocol.Message) SendOutcome {
	now := time.Now()
	c.TouchHeartbeat(now)

	if msg.Classify() != protocol.ShapeRequest {
		return Sent
	}

	var params heartbeatParams
	_ = json.Unmarshal(msg.Params, &params)

	resp, err := protocol.NewResponse(*msg.ID, map[string]any{
		"timestamp":   params.Timestamp,
		"server_time": now.Unix(),
	})
	if err != nil {
		return c.TrySend(protocol.NewErrorResponse(*msg.ID, protocol.CodeInternal, "internal error", nil))
	}
	return c.TrySend(resp)
}

func (s *Server) handleGetStatus(c *Connection, msg *protocol.Message) SendOutcome {
	if msg.Classify() != protocol.ShapeRequest {
		return Sent
	}

	state := "connected"
	if c.Role() == "" {
		state = "unregistered"
	}

	resp, err := protocol.NewResponse(*msg.ID, map[string]any{
		"agent_id":       c.AgentID.String(),
		"state":          state,
		"uptime_seconds": int64(time.Since(c.ConnectedAt).Seconds()),
	})
	if err != nil {
		return c.TrySend(protocol.NewErrorResponse(*msg.ID, protocol.CodeInternal, "internal error", nil))
	}
	return c.TrySend(resp)
}

// forwardToHandler dispatches to the user-supplied Handler for any method
// the server does not special-case. A handler panic is converted to an
// internal-error response (only if the inbound message was a request) and
// logged, never allowed to crash the server.
func (s *Server) forwardToHandler(c *Connection, msg *protocol.Message) (outcome SendOutcome) {
	if s.handler == nil {
		if msg.Classify() == protocol.ShapeRequest {
			return c.TrySend(protocol.NewErrorResponse(*msg.ID, protocol.CodeMethodNotFound, "method not found", nil))
		}
		return Sent
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panic", zap.Any("recovered", r), zap.String("method", msg.Method))
			if msg.Classify() == protocol.ShapeRequest {
				outcome = c.TrySend(protocol.NewErrorResponse(*msg.ID, protocol.CodeInternal, "internal error", nil))
			} else {
				outcome = Sent
			}
		}
	}()

	reply, err := s.handler(context.Background(), c, msg)
	if err != nil {
		if msg.Classify() == protocol.ShapeRequest {
			return c.TrySend(protocol.NewErrorResponse(*msg.ID, protocol.CodeInternal, err.Error(), nil))
		}
		return Sent
	}
	if reply != nil {
		return c.TrySend(reply)
	}
	return Sent
}
