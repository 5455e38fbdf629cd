package relayerr

import (
	"errors"
	"fmt"
)

// Kind classifies a relay error into one of the failure families surfaced
// to clients and peers.
type Kind int

const (
	// Malformed indicates unparseable input: a bad address or a message
	// missing a required field.
	Malformed Kind = iota
	// NotFound indicates a store miss or an unknown network, relay or driver.
	NotFound
	// Transport indicates a peer or driver was unreachable.
	Transport
	// Driver indicates the driver returned a non-Ok ack.
	Driver
	// Peer indicates a remote relay returned a non-Ok ack.
	Peer
	// Protocol indicates an illegal state machine transition or a message
	// that violates the protocol contract.
	Protocol
	// Storage indicates an underlying KV failure, including undecodable
	// stored values.
	Storage
	// Timeout indicates an outbound call deadline was hit.
	Timeout
)

func (k Kind) String() string {
	switch k {
	case Malformed:
		return "malformed"
	case NotFound:
		return "not found"
	case Transport:
		return "transport"
	case Driver:
		return "driver"
	case Peer:
		return "peer"
	case Protocol:
		return "protocol"
	case Storage:
		return "storage"
	case Timeout:
		return "timeout"
	}
	return "unknown"
}

// Error is a relay error carrying its Kind. It wraps an optional cause.
type Error struct {
	Kind  Kind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports kind equality so errors.Is(err, relayerr.New(kind, "")) works
// against any error of the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying cause. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(kind Kind, msg string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf extracts the Kind from err, or returns ok=false for foreign errors.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}
