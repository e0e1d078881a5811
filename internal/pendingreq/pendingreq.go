// Package pendingreq implements the request/response correlation table
// shared by the ACP server and client: allocate a fresh id, register a
// oneshot sink, await it with a timeout, and guarantee exactly one of
// {response delivered, timeout, stale sweep} resolves each entry (I6).
package pendingreq

import (
	"context"
	"sync"
	"time"

	"github.com/fleetmind/acpd/internal/model"
	"github.com/fleetmind/acpd/internal/protocol"
)

type entry struct {
	sink      chan *protocol.Message
	createdAt time.Time
}

// Table is the PendingRequest map (§3). It is safe for concurrent use.
type Table struct {
	mu      sync.Mutex
	entries map[string]entry
}

// NewTable creates an empty Table.
func NewTable() *Table {
	return &Table{entries: make(map[string]entry)}
}

// Register inserts a fresh PendingRequest, returning its id (I4: a fresh
// UUIDv4) and the channel that will receive the response, if any.
func (t *Table) Register() (id string, sink chan *protocol.Message) {
	id = model.NewRequestID()
	sink = make(chan *protocol.Message, 1)

	t.mu.Lock()
	t.entries[id] = entry{sink: sink, createdAt: time.Now()}
	t.mu.Unlock()

	return id, sink
}

// Cancel removes id's entry without delivering a response, for callers that
// registered an entry but failed before ever enqueueing the request (e.g.
// the outbound queue was full or the connection was evicted). Safe to call
// even if the entry was already resolved.
func (t *Table) Cancel(id string) {
	t.remove(id)
}

// remove deletes id's entry if present, returning whether it was found.
// Callers use this to implement "exactly one of {response, timeout, sweep}
// resolves each entry" — whichever of the three wins the race to call
// remove is the one that gets to act.
func (t *Table) remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)
	return true
}

// Deliver routes a response-shaped Message to its PendingRequest's sink, if
// one is still present. Returns false (and the caller should log+drop) when
// no entry matches — the request already timed out, was swept, or the id
// is unknown.
func (t *Table) Deliver(id string, msg *protocol.Message) bool {
	t.mu.Lock()
	e, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	e.sink <- msg
	return true
}

// Await blocks on sink until a response arrives, ctx is cancelled, or
// timeout elapses, whichever comes first. On timeout or cancellation it
// removes id from the table so a subsequently-arriving response is dropped
// rather than delivered into a sink nobody is reading (the race is won by
// whichever path calls remove first).
func (t *Table) Await(ctx context.Context, id string, sink chan *protocol.Message, timeout time.Duration) (*protocol.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg, ok := <-sink:
		if !ok {
			t.remove(id)
			return nil, model.ErrChannelClosed
		}
		return msg, nil
	case <-timer.C:
		t.remove(id)
		return nil, model.ErrTimeout
	case <-ctx.Done():
		t.remove(id)
		return nil, ctx.Err()
	}
}

// DropAll closes every pending sink, causing in-flight Await calls to
// observe a channel-closed error. Used on client disconnect (§4.6) and
// server shutdown.
func (t *Table) DropAll() {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]entry)
	t.mu.Unlock()

	for _, e := range entries {
		close(e.sink)
	}
}

// SweepStale removes entries older than maxAge, closing their sinks so any
// waiting Await observes a channel-closed error (I5). Returns the number
// swept.
func (t *Table) SweepStale(maxAge time.Duration) int {
	now := time.Now()

	t.mu.Lock()
	var stale []entry
	for id, e := range t.entries {
		if now.Sub(e.createdAt) > maxAge {
			stale = append(stale, e)
			delete(t.entries, id)
		}
	}
	t.mu.Unlock()

	for _, e := range stale {
		close(e.sink)
	}
	return len(stale)
}

// Len reports the number of in-flight pending requests. Intended for
// telemetry/tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
