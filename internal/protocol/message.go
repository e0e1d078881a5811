// Package protocol implements the JSON-RPC 2.0 message envelope used on the
// wire between the ACP server and connected agents: encode/decode,
// constructors for each message shape, and the fixed error-code taxonomy.
//
// Method names are fixed, case-sensitive strings — see methods.go.
package protocol

import (
	"encoding/json"

	"github.com/fleetmind/acpd/internal/model"
)

// Reserved JSON-RPC error codes. Custom codes may be added by callers but
// must not collide with these.
const (
	CodeInvalidRequest  int32 = -32600
	CodeMethodNotFound  int32 = -32601
	CodeInvalidParams   int32 = -32602
	CodeInternal        int32 = -32603
	CodeAuthRequired    int32 = -32001
)

// RPCError is the optional error object carried by a response-shaped
// Message.
type RPCError struct {
	Code    int32  `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Message is the JSON-RPC 2.0 envelope exchanged over the ACP WebSocket
// connection. Exactly one of the three shapes below applies to any given
// instance:
//
//   - request:      ID != nil && Method != ""
//   - notification: ID == nil && Method != ""
//   - response:     ID != nil && Method == "" && (Result xor Error)
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *string         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Shape classifies a Message into one of the three wire shapes.
type Shape int

const (
	ShapeInvalid Shape = iota
	ShapeRequest
	ShapeNotification
	ShapeResponse
)

// Classify determines m's Shape, returning ShapeInvalid for envelopes that
// violate the data model's shape rules (§3): a response-shaped envelope
// must have exactly one of Result/Error, never both and never neither.
func (m *Message) Classify() Shape {
	hasID := m.ID != nil
	hasMethod := m.Method != ""

	switch {
	case hasID && hasMethod:
		return ShapeRequest
	case !hasID && hasMethod:
		return ShapeNotification
	case hasID && !hasMethod:
		hasResult := len(m.Result) > 0
		hasError := m.Error != nil
		if hasResult == hasError {
			// Both present, or neither — not a valid response.
			return ShapeInvalid
		}
		return ShapeResponse
	default:
		return ShapeInvalid
	}
}

const version = "2.0"

// NewRequest builds a request-shaped Message with a fresh UUIDv4 id and the
// given method/params. params is marshaled to JSON; a marshal failure is
// only possible for types that cannot be represented in JSON, which callers
// control and are expected not to pass.
func NewRequest(method string, params any) (*Message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, model.Wrap(model.KindInternal, CodeInternal, "protocol: marshal params", err)
	}
	id := model.NewRequestID()
	return &Message{JSONRPC: version, ID: &id, Method: method, Params: raw}, nil
}

// NewNotification builds a notification-shaped Message (no id).
func NewNotification(method string, params any) (*Message, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, model.Wrap(model.KindInternal, CodeInternal, "protocol: marshal params", err)
	}
	return &Message{JSONRPC: version, Method: method, Params: raw}, nil
}

// NewResponse builds a success response to the request with the given id.
func NewResponse(id string, result any) (*Message, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, model.Wrap(model.KindInternal, CodeInternal, "protocol: marshal result", err)
	}
	return &Message{JSONRPC: version, ID: &id, Result: raw}, nil
}

// NewErrorResponse builds an error response to the request with the given
// id.
func NewErrorResponse(id string, code int32, message string, data any) *Message {
	return &Message{
		JSONRPC: version,
		ID:      &id,
		Error:   &RPCError{Code: code, Message: message, Data: data},
	}
}

// Decode parses raw bytes into a Message and validates its shape. Invalid
// envelopes (malformed JSON, or a shape violating the data model's rules)
// are rejected with a KindInvalidRequest error — callers must not silently
// coerce missing fields.
func Decode(raw []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, model.Wrap(model.KindInvalidRequest, CodeInvalidRequest, "protocol: malformed envelope", err)
	}
	if m.JSONRPC != version {
		return nil, model.NewError(model.KindInvalidRequest, CodeInvalidRequest, "protocol: unsupported jsonrpc version")
	}
	if m.Classify() == ShapeInvalid {
		return nil, model.NewError(model.KindInvalidRequest, CodeInvalidRequest, "protocol: invalid envelope shape")
	}
	return &m, nil
}

// Encode serializes m to its canonical JSON form.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}
