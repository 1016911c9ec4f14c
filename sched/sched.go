// Package sched implements the SDU scheduler (§4.5): a single owned
// goroutine that sweeps every QoS cube's admitted N-1 flows in
// round-robin order, reading whatever is ready and handing it to DT.
package sched

import (
	"context"
	"time"

	"github.com/ouroboros-go/unicast/flow"
	"github.com/ouroboros-go/unicast/pcodec"
	"github.com/ouroboros-go/unicast/xlog"
)

var log = xlog.New("sched", "sdu_scheduler")

// Handler receives one packet read off an N-1 flow, in the shape DT's
// Receive method expects.
type Handler func(ingress flow.Handle, cube pcodec.QoS, buf []byte)

// pollTimeout bounds the per-flow wait during a sweep: short enough
// that an empty flow doesn't stall the round-robin pass over the rest
// of the cube's flows, matching spec.md §4.5's "short timeout (~10us
// wall-clock) multi-flow wait" — widened to a value a goroutine-based
// Read can actually honor without busy-spinning (see DESIGN.md).
const pollTimeout = 200 * time.Microsecond

// idleSweepDelay is how long the scheduler pauses after a sweep that
// read nothing from any cube, so an idle layer doesn't spin the CPU.
const idleSweepDelay = 2 * time.Millisecond

// Scheduler is the single reader thread driving every admitted N-1
// flow. It never blocks on routing/DHT state (§5): Handler calls DT
// directly and DT's own locking is confined to PFF/registry lookups
// that never wait on this scheduler.
type Scheduler struct {
	flows   *flow.Registry
	handler Handler

	shutdown chan struct{}
	done     chan struct{}
}

// New returns a Scheduler reading from flows and delivering to handler.
// Call Run in its own goroutine to start the sweep.
func New(flows *flow.Registry, handler Handler) *Scheduler {
	return &Scheduler{
		flows:    flows,
		handler:  handler,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run performs the round-robin sweep until Shutdown is called. It is
// meant to be the scheduler's one owned goroutine (§5).
func (s *Scheduler) Run() {
	defer close(s.done)
	log.Debug("sdu scheduler started", nil)
	for {
		select {
		case <-s.shutdown:
			return
		default:
		}
		if !s.sweepOnce() {
			select {
			case <-s.shutdown:
				return
			case <-time.After(idleSweepDelay):
			}
		}
	}
}

// sweepOnce visits every QoS cube once, reading whatever is ready from
// each of its admitted flows. It returns true if any packet was
// delivered, so Run can skip the idle delay while there's work.
func (s *Scheduler) sweepOnce() bool {
	any := false
	for _, cube := range s.flows.Cubes() {
		for _, h := range s.flows.ByCube(cube) {
			select {
			case <-s.shutdown:
				return any
			default:
			}
			info, ok := s.flows.Get(h)
			if !ok {
				continue
			}
			if s.pollOnce(h, pcodec.QoS(cube), info.Flow) {
				any = true
			}
		}
	}
	return any
}

func (s *Scheduler) pollOnce(h flow.Handle, cube pcodec.QoS, f flow.Flow) bool {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()
	buf, err := f.Read(ctx)
	if err != nil {
		return false
	}
	s.handler(h, cube, buf)
	return true
}

// Shutdown signals the sweep to stop and waits for Run to return,
// within one outer sweep per §4.5's cancellation contract.
func (s *Scheduler) Shutdown() {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
	<-s.done
}
