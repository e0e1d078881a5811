package model

import "errors"

// Kind classifies a control-plane error into the taxonomy from the design
// doc's error handling section. Handlers branch on Kind rather than on
// string-matching an error message.
type Kind string

const (
	KindInvalidRequest    Kind = "invalid_request"
	KindMethodNotFound    Kind = "method_not_found"
	KindInvalidParams     Kind = "invalid_params"
	KindAuthRequired      Kind = "auth_required"
	KindAuthInvalid       Kind = "auth_invalid"
	KindBackpressure      Kind = "backpressure"
	KindRateLimited       Kind = "rate_limited"
	KindTimeout           Kind = "timeout"
	KindChannelClosed     Kind = "channel_closed"
	KindPreconditionFail  Kind = "precondition_failed"
	KindInternal          Kind = "internal"
)

// Error is the structured error type propagated across package boundaries.
// It carries enough information to map to a JSON-RPC error response (Code)
// without forcing every caller to know JSON-RPC error codes.
type Error struct {
	Kind    Kind
	Code    int32 // JSON-RPC error code, when this error crosses the wire
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds an *Error with no wrapped cause.
func NewError(kind Kind, code int32, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap builds an *Error that wraps cause.
func Wrap(kind Kind, code int32, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, otherwise
// KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Sentinel errors used with errors.Is for conditions that do not need a
// message or JSON-RPC code attached at the point they are raised.
var (
	// ErrChannelClosed is returned to a caller awaiting a response when the
	// connection is evicted or closed before a reply arrives.
	ErrChannelClosed = errors.New("acp: channel closed")

	// ErrTimeout is returned when a request await elapses its deadline.
	ErrTimeout = errors.New("acp: request timed out")

	// ErrNotFound is returned by lookups (agent, task, pending request)
	// that find nothing matching the key.
	ErrNotFound = errors.New("acp: not found")

	// ErrNoCandidateAgent is returned by routing when no eligible agent is
	// connected for the required role.
	ErrNoCandidateAgent = errors.New("acp: no connected agent for role")
)
