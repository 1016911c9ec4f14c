// Package kerr defines the error taxonomy shared by the unicast core's
// public operations: a small set of sentinel Kinds and an OpError that
// wraps one with operation context, in the style of the teacher's
// net.ToxNetError.
package kerr

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds named by the spec's error taxonomy.
type Kind string

const (
	NoRoute     Kind = "no_route"     // PFF has no entry for (qos, dst)
	TtlExpired  Kind = "ttl_expired"  // received packet with ttl=0 on forward
	FlowDown    Kind = "flow_down"    // downstream flow unusable
	NoComponent Kind = "no_component" // local EID has no registered component
	Shutdown    Kind = "shutdown"     // operation attempted post-shutdown
	Timeout     Kind = "timeout"      // lookup/request/join exceeded deadline
	Resource    Kind = "resource"     // allocation failure
	Protocol    Kind = "protocol"     // malformed message, bad field width
)

// sentinels so callers can use errors.Is(err, kerr.ErrNoRoute) etc.
// without reaching into an OpError.
var (
	ErrNoRoute     = errors.New(string(NoRoute))
	ErrTtlExpired  = errors.New(string(TtlExpired))
	ErrFlowDown    = errors.New(string(FlowDown))
	ErrNoComponent = errors.New(string(NoComponent))
	ErrShutdown    = errors.New(string(Shutdown))
	ErrTimeout     = errors.New(string(Timeout))
	ErrResource    = errors.New(string(Resource))
	ErrProtocol    = errors.New(string(Protocol))
)

func sentinelFor(k Kind) error {
	switch k {
	case NoRoute:
		return ErrNoRoute
	case TtlExpired:
		return ErrTtlExpired
	case FlowDown:
		return ErrFlowDown
	case NoComponent:
		return ErrNoComponent
	case Shutdown:
		return ErrShutdown
	case Timeout:
		return ErrTimeout
	case Resource:
		return ErrResource
	case Protocol:
		return ErrProtocol
	default:
		return errors.New(string(k))
	}
}

// OpError reports the operation and kind that produced an error, with an
// optional wrapped cause for errors.As/errors.Is chains.
type OpError struct {
	Op   string // e.g. "dt.Send", "dht.Query"
	Kind Kind
	Dst  string // destination/key context, empty if not applicable
	Err  error  // underlying cause, nil if Kind alone is the cause
}

func (e *OpError) Error() string {
	if e.Dst != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.Dst, e.Kind, e.cause())
	}
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.cause())
}

func (e *OpError) cause() error {
	if e.Err != nil {
		return e.Err
	}
	return sentinelFor(e.Kind)
}

func (e *OpError) Unwrap() error { return e.cause() }

// New builds an OpError for op/kind with no destination context.
func New(op string, kind Kind) *OpError {
	return &OpError{Op: op, Kind: kind}
}

// Wrap builds an OpError for op/kind that wraps an underlying cause.
func Wrap(op string, kind Kind, err error) *OpError {
	return &OpError{Op: op, Kind: kind, Err: err}
}

// WithDst attaches destination context (an address, a key) for the error
// message and returns the receiver for chaining.
func (e *OpError) WithDst(dst string) *OpError {
	e.Dst = dst
	return e
}

// Is reports whether err carries the given Kind, checking both OpError
// wrapping and the bare sentinel.
func Is(err error, k Kind) bool {
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind == k
	}
	return errors.Is(err, sentinelFor(k))
}
