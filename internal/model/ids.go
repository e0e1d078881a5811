// Package model defines the domain types shared across the agent control
// plane: identifiers, tasks, results, and workload snapshots. The JSON-RPC
// envelope lives in package protocol.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// AgentID identifies a connected worker. It is a 128-bit UUID, opaque to
// clients, displayed in canonical hyphenated lowercase. Equality is bitwise
// via the underlying uuid.UUID comparison.
type AgentID uuid.UUID

// NilAgentID is the zero value, never assigned to a real connection.
var NilAgentID AgentID

// NewAgentID generates a fresh random (v4) agent identifier.
func NewAgentID() AgentID {
	return AgentID(uuid.New())
}

// String renders the canonical hyphenated lowercase form.
func (id AgentID) String() string {
	return uuid.UUID(id).String()
}

// ParseAgentID parses a canonical UUID string into an AgentID.
func ParseAgentID(s string) (AgentID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilAgentID, fmt.Errorf("model: invalid agent id %q: %w", s, err)
	}
	return AgentID(u), nil
}

// IsNil reports whether id is the zero value.
func (id AgentID) IsNil() bool {
	return id == NilAgentID
}

// MarshalText implements encoding.TextMarshaler so AgentID round-trips
// through JSON as its canonical string form.
func (id AgentID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *AgentID) UnmarshalText(text []byte) error {
	parsed, err := ParseAgentID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// TaskID identifies a task. Same shape and equality semantics as AgentID.
type TaskID uuid.UUID

// NilTaskID is the zero value.
var NilTaskID TaskID

// NewTaskID generates a fresh random (v4) task identifier.
func NewTaskID() TaskID {
	return TaskID(uuid.New())
}

func (id TaskID) String() string {
	return uuid.UUID(id).String()
}

// ParseTaskID parses a canonical UUID string into a TaskID.
func ParseTaskID(s string) (TaskID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NilTaskID, fmt.Errorf("model: invalid task id %q: %w", s, err)
	}
	return TaskID(u), nil
}

func (id TaskID) IsNil() bool {
	return id == NilTaskID
}

func (id TaskID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *TaskID) UnmarshalText(text []byte) error {
	parsed, err := ParseTaskID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// NewRequestID allocates a fresh UUIDv4 string for a PendingRequest key (I4).
func NewRequestID() string {
	return uuid.New().String()
}
