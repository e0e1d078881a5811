// Package acpclient implements the reconnecting ACP WebSocket client (§4.6):
// a worker-side connection to the ACP server with automatic reconnection,
// exponential backoff, a heartbeat loop, and the same request/response
// correlation design used by the server.
package acpclient

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/fleetmind/acpd/internal/model"
	"github.com/fleetmind/acpd/internal/pendingreq"
	"github.com/fleetmind/acpd/internal/protocol"
)

// State is the client's connection lifecycle state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

const (
	backoffFactor   = 2.0
	backoffMax      = 60 * time.Second
	jitterMaxMillis = 500
)

// Handler processes an inbound request from the server (e.g. task.execute).
// Its return value, if non-nil, is sent back as the response.
type Handler func(ctx context.Context, msg *protocol.Message) (*protocol.Message, error)

// Config holds the client's tunables. Zero values are replaced with the
// design doc's defaults by NewClient.
type Config struct {
	ServerURL string
	APIKey    string

	ReconnectInterval   time.Duration // default 1s; start of the backoff series
	MaxReconnectAttempts int          // default 0 (unlimited)
	HeartbeatInterval   time.Duration // default 30s
	RequestTimeout      time.Duration // default 30s
}

func (c *Config) setDefaults() {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
}

// Client is a reconnecting ACP WebSocket client.
type Client struct {
	cfg     Config
	handler Handler
	logger  *zap.Logger

	mu      sync.RWMutex
	state   State
	conn    *websocket.Conn
	agentID model.AgentID

	outbound chan *protocol.Message
	pending  *pendingreq.Table
}

// NewClient builds a Client. Call Run to start the connect/reconnect loop.
func NewClient(cfg Config, handler Handler, logger *zap.Logger) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:     cfg,
		handler: handler,
		logger:  logger.Named("acpclient"),
		state:   Disconnected,
		pending: pendingreq.NewTable(),
	}
}

// State returns the client's current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// AgentID returns the id last recorded by Authenticate or SetAgentID. Zero
// value until one of them has run.
func (c *Client) AgentID() model.AgentID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.agentID
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Run drives the connect → session → reconnect loop until ctx is cancelled.
// Each successful session resets the backoff series for the next
// disconnect, mirroring the reference agent's reconnection manager.
func (c *Client) Run(ctx context.Context) {
	backoff := c.cfg.ReconnectInterval
	attempts := 0

	for {
		if ctx.Err() != nil {
			c.setState(Disconnected)
			return
		}

		c.setState(Connecting)
		if err := c.session(ctx); err != nil {
			c.logger.Warn("acp session ended", zap.Error(err))
		}
		if c.State() == Connected {
			backoff = c.cfg.ReconnectInterval
			attempts = 0
		}

		if ctx.Err() != nil {
			c.setState(Disconnected)
			return
		}

		attempts++
		if c.cfg.MaxReconnectAttempts > 0 && attempts >= c.cfg.MaxReconnectAttempts {
			c.logger.Error("max reconnect attempts reached, giving up")
			c.setState(Disconnected)
			return
		}

		c.setState(Reconnecting)
		select {
		case <-ctx.Done():
			c.setState(Disconnected)
			return
		case <-time.After(withJitter(backoff)):
		}
		backoff = nextBackoff(backoff)
	}
}

// session establishes one WebSocket connection, authenticates, and runs the
// reader/writer/heartbeat loops until the connection drops or ctx cancels.
// On any exit path, pending request sinks are dropped so in-flight callers
// observe a channel-closed error (§4.6).
func (c *Client) session(ctx context.Context) error {
	header := make(http.Header)
	header.Set("X-API-Key", c.cfg.APIKey)

	ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.ServerURL, header)
	if err != nil {
		return err
	}
	defer ws.Close()

	c.mu.Lock()
	c.conn = ws
	c.outbound = make(chan *protocol.Message, 64)
	c.mu.Unlock()

	defer func() {
		c.pending.DropAll()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- c.writeLoop(sessionCtx, ws)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- c.heartbeatLoop(sessionCtx)
	}()
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- c.readLoop(sessionCtx, ws)
	}()

	c.setState(Connected)

	err = <-errCh
	cancel()
	wg.Wait()
	return err
}

func (c *Client) writeLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-c.outbound:
			if !ok {
				return nil
			}
			raw, err := protocol.Encode(msg)
			if err != nil {
				c.logger.Error("failed to encode outbound message", zap.Error(err))
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				return err
			}
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
			_, err := c.SendRequest(reqCtx, protocol.MethodHeartbeat, map[string]any{"timestamp": time.Now().Unix()})
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		msg, err := protocol.Decode(raw)
		if err != nil {
			c.logger.Warn("parse failure on inbound message, continuing", zap.Error(err))
			continue
		}

		c.dispatch(ctx, msg)
	}
}

func (c *Client) dispatch(ctx context.Context, msg *protocol.Message) {
	if msg.Classify() == protocol.ShapeResponse {
		if !c.pending.Deliver(*msg.ID, msg) {
			c.logger.Debug("dropped response with no matching pending request", zap.Any("id", msg.ID))
		}
		return
	}

	if msg.Method == "agent.authenticated" {
		// Not a wire method per se, but guard against accidental reentry.
		return
	}

	if c.handler == nil {
		if msg.Classify() == protocol.ShapeRequest {
			c.enqueue(protocol.NewErrorResponse(*msg.ID, protocol.CodeMethodNotFound, "method not found", nil))
		}
		return
	}

	c.invokeHandler(ctx, msg)
}

func (c *Client) invokeHandler(ctx context.Context, msg *protocol.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panic", zap.Any("recovered", r), zap.String("method", msg.Method))
			if msg.Classify() == protocol.ShapeRequest {
				c.enqueue(protocol.NewErrorResponse(*msg.ID, protocol.CodeInternal, "internal error", nil))
			}
		}
	}()

	reply, err := c.handler(ctx, msg)
	if err != nil {
		if msg.Classify() == protocol.ShapeRequest {
			c.enqueue(protocol.NewErrorResponse(*msg.ID, protocol.CodeInternal, err.Error(), nil))
		}
		return
	}
	if reply != nil {
		c.enqueue(reply)
	}
}

func (c *Client) enqueue(msg *protocol.Message) {
	c.mu.RLock()
	ch := c.outbound
	c.mu.RUnlock()
	if ch == nil {
		return
	}
	select {
	case ch <- msg:
	default:
		c.logger.Warn("outbound queue full, dropping message", zap.String("method", msg.Method))
	}
}

// SendRequest issues a request to the server and awaits its response,
// honoring ctx for cancellation/timeout. Mirrors the server's
// request/response correlation design (§4.6).
func (c *Client) SendRequest(ctx context.Context, method string, params any) (*protocol.Message, error) {
	c.mu.RLock()
	ch := c.outbound
	c.mu.RUnlock()
	if ch == nil {
		return nil, model.ErrChannelClosed
	}

	reqID, sink := c.pending.Register()
	req, err := protocol.NewRequest(method, params)
	if err != nil {
		c.pending.Cancel(reqID)
		return nil, err
	}
	req.ID = &reqID

	select {
	case ch <- req:
	default:
		c.pending.Cancel(reqID)
		return nil, model.ErrChannelClosed
	}

	timeout := c.cfg.RequestTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	return c.pending.Await(ctx, reqID, sink, timeout)
}

// SetAgentID records the id the server assigned on a successful
// agent.authenticate response.
func (c *Client) SetAgentID(id model.AgentID) {
	c.mu.Lock()
	c.agentID = id
	c.mu.Unlock()
}

// Authenticate sends an explicit agent.authenticate request (the fallback
// path from §6, for transports/tests that do not carry the key in the
// handshake headers) and records the server-assigned agent id on success.
func (c *Client) Authenticate(ctx context.Context) error {
	resp, err := c.SendRequest(ctx, protocol.MethodAgentAuthenticate, map[string]any{"api_key": c.cfg.APIKey})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return model.NewError(model.KindAuthInvalid, resp.Error.Code, resp.Error.Message)
	}
	var result struct {
		Success bool   `json:"success"`
		AgentID string `json:"agent_id"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return err
	}
	if id, err := model.ParseAgentID(result.AgentID); err == nil {
		c.SetAgentID(id)
	}
	return nil
}

func nextBackoff(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * backoffFactor)
	if next > backoffMax {
		return backoffMax
	}
	return next
}

// withJitter adds uniform jitter in [0, 500) ms to d, per §4.6.
func withJitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Intn(jitterMaxMillis))*time.Millisecond
}
