// Package acpserver implements the ACP messaging server: a JSON-RPC 2.0
// WebSocket hub with handshake authentication, per-connection backpressure,
// pending-request correlation, and broadcast semantics.
package acpserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fleetmind/acpd/internal/model"
	"github.com/fleetmind/acpd/internal/protocol"
)

// SendOutcome is the result of a single TrySend call on a Connection's
// outbound queue.
type SendOutcome int

const (
	// Sent means the message was enqueued; consecutive_drops resets to 0.
	Sent SendOutcome = iota
	// Dropped means the queue was full; the message was discarded.
	Dropped
	// Evict means the connection must be removed — either the queue was
	// already closed, or consecutive drops reached max_consecutive_drops.
	Evict
)

// frame is one entry on a Connection's outbound queue: either a JSON-RPC
// message or a raw control frame (currently only Pong, produced in reply to
// an incoming Ping — §4.5 routes it through the same backpressured queue as
// ordinary messages rather than writing it out-of-band).
type frame struct {
	message *protocol.Message
	control int // websocket.PongMessage, or 0 for a JSON-RPC message
}

// BackpressureCounters tracks per-connection outbound queue health.
type BackpressureCounters struct {
	Sent             int64
	Dropped          int64
	ConsecutiveDrops int
	LastDropTime     time.Time
}

// BackpressureSnapshot is the observability view of a Connection's queue
// state (§4.4): fullness is 1 - remaining_capacity/max_capacity, and
// IsWarning reports whether fullness has crossed the configured threshold.
type BackpressureSnapshot struct {
	AgentID          model.AgentID
	Capacity         int
	Len              int
	Fullness         float64
	IsWarning        bool
	Sent             int64
	Dropped          int64
	ConsecutiveDrops int
}

// Connection is one authenticated (or authenticating) worker's live state:
// its outbound bounded queue, backpressure counters, and auth/role binding.
// Fields mutated outside the owning reader/writer goroutines are guarded by
// mu.
type Connection struct {
	AgentID model.AgentID
	conn    *websocket.Conn

	ConnectedAt time.Time

	mu            sync.Mutex
	role          string
	authenticated bool
	apiKey        string
	lastHeartbeat time.Time

	outbound         chan frame
	closed           bool
	maxConsecDrops   int
	warningThreshold float64
	counters         BackpressureCounters
}

// connConfig bundles the tunables a Connection needs at construction time.
type connConfig struct {
	ChannelCapacity     int
	MaxConsecutiveDrops int
	WarningThreshold    float64
}

func newConnection(id model.AgentID, ws *websocket.Conn, cfg connConfig) *Connection {
	return &Connection{
		AgentID:          id,
		conn:             ws,
		ConnectedAt:      time.Now(),
		outbound:         make(chan frame, cfg.ChannelCapacity),
		maxConsecDrops:   cfg.MaxConsecutiveDrops,
		warningThreshold: cfg.WarningThreshold,
	}
}

// TrySend attempts a non-blocking enqueue of msg onto the outbound queue.
// See the SendOutcome table in §4.4: Sent/Dropped update counters; Evict
// signals the caller (the reader/writer loop, or a broadcast) that this
// Connection must be removed from the connection map and its socket closed.
func (c *Connection) TrySend(msg *protocol.Message) SendOutcome {
	return c.tryEnqueue(frame{message: msg})
}

// TrySendPong enqueues a Pong control frame through the same backpressured
// queue used for JSON-RPC messages (§4.5).
func (c *Connection) TrySendPong() SendOutcome {
	return c.tryEnqueue(frame{control: websocket.PongMessage})
}

func (c *Connection) tryEnqueue(f frame) SendOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Evict
	}

	select {
	case c.outbound <- f:
		c.counters.Sent++
		c.counters.ConsecutiveDrops = 0
		return Sent
	default:
		c.counters.Dropped++
		c.counters.ConsecutiveDrops++
		c.counters.LastDropTime = time.Now()
		if c.counters.ConsecutiveDrops >= c.maxConsecDrops {
			return Evict
		}
		return Dropped
	}
}

// markClosed marks the connection closed so any further TrySend evicts
// immediately, and closes the outbound channel so the writer drains and
// exits. Safe to call more than once.
func (c *Connection) markClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.outbound)
}

// SetAuthenticated records that the connection has passed authentication
// with apiKey. Per I2, no message other than agent.authenticate may be
// dispatched before this is called.
func (c *Connection) SetAuthenticated(apiKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
	c.apiKey = apiKey
}

// IsAuthenticated reports whether the connection has passed authentication.
func (c *Connection) IsAuthenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// APIKey returns the key bound at authentication time, used for
// role-authorization checks on agent.register. Never logged by callers (A2).
func (c *Connection) APIKey() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiKey
}

// SetRole records the role granted by a successful agent.register.
func (c *Connection) SetRole(role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
}

// Role returns the connection's bound role, or "" if unregistered.
func (c *Connection) Role() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// TouchHeartbeat updates last_heartbeat to now.
func (c *Connection) TouchHeartbeat(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastHeartbeat = now
}

// LastHeartbeat returns the last time a heartbeat was observed from this
// connection (the zero Time if none yet).
func (c *Connection) LastHeartbeat() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastHeartbeat
}

// Snapshot returns a point-in-time view of the connection's backpressure
// state for the telemetry surface.
func (c *Connection) Snapshot() BackpressureSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	capacity := cap(c.outbound)
	length := len(c.outbound)
	var fullness float64
	if capacity > 0 {
		fullness = 1 - float64(capacity-length)/float64(capacity)
	}

	return BackpressureSnapshot{
		AgentID:          c.AgentID,
		Capacity:         capacity,
		Len:              length,
		Fullness:         fullness,
		IsWarning:        fullness >= c.warningThreshold,
		Sent:             c.counters.Sent,
		Dropped:          c.counters.Dropped,
		ConsecutiveDrops: c.counters.ConsecutiveDrops,
	}
}
