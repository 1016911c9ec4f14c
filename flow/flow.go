// Package flow defines the N-1 flow abstraction this layer is built on.
// Flow setup, the shared-memory ring buffer, and the connection-manager
// RPC that admits a flow are black-box collaborators (spec.md §1); this
// package only states the contract DT and the SDU scheduler need against
// an already-admitted flow, plus an in-memory implementation for tests.
package flow

import (
	"context"
	"errors"
)

// ErrClosed is returned by Read/Write after Close.
var ErrClosed = errors.New("flow: closed")

// Kind distinguishes the two neighbor roles a connected peer can hold.
type Kind uint8

const (
	Data Kind = iota
	Management
)

func (k Kind) String() string {
	if k == Management {
		return "management"
	}
	return "data"
}

// Handle identifies one admitted N-1 flow. It is opaque to this package;
// the connection manager assigns it.
type Handle uint64

// Flow is a point-to-point channel admitted by the connection manager.
// Reads and writes carry whole SDUs (no internal framing) — reliability
// and ordering within the SDU boundary are the flow's own concern, not
// this layer's (spec.md Non-goals).
type Flow interface {
	Handle() Handle
	// Read blocks for at most one SDU or until ctx is done.
	Read(ctx context.Context) ([]byte, error)
	// Write sends one SDU. Returns ErrClosed if the flow is down.
	Write(buf []byte) error
	Close() error
}

// Memory is an in-memory Flow backed by a buffered channel, used by tests
// and by the scheduler's own unit tests in place of a real N-1 flow — the
// same role the teacher's async.MockTransport plays for transport tests.
type Memory struct {
	handle Handle
	ch     chan []byte
	peer   *Memory
	closed chan struct{}
}

// NewMemoryPair returns two Memory flows wired to each other: writes on
// one arrive as reads on the other.
func NewMemoryPair(a, b Handle) (*Memory, *Memory) {
	fa := &Memory{handle: a, ch: make(chan []byte, 64), closed: make(chan struct{})}
	fb := &Memory{handle: b, ch: make(chan []byte, 64), closed: make(chan struct{})}
	fa.peer = fb
	fb.peer = fa
	return fa, fb
}

func (m *Memory) Handle() Handle { return m.handle }

func (m *Memory) Read(ctx context.Context) ([]byte, error) {
	select {
	case buf, ok := <-m.ch:
		if !ok {
			return nil, ErrClosed
		}
		return buf, nil
	case <-m.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Memory) Write(buf []byte) error {
	if m.peer == nil {
		return ErrClosed
	}
	cp := append([]byte(nil), buf...)
	select {
	case m.peer.ch <- cp:
		return nil
	case <-m.peer.closed:
		return ErrClosed
	}
}

func (m *Memory) Close() error {
	select {
	case <-m.closed:
	default:
		close(m.closed)
	}
	return nil
}
