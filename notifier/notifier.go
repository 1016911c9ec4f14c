// Package notifier implements the process-wide publish/subscribe event
// bus (§4.7) that fans connection-manager and data-plane events out to
// routing, DT, and the DHT. Handlers run synchronously under the bus's
// read lock, matching the teacher's callback-router style of dispatch
// (net/callback_router.go) generalized from a single owner to many.
package notifier

import (
	"sync"

	"github.com/ouroboros-go/unicast/flow"
	"github.com/ouroboros-go/unicast/pcodec"
)

// Event identifies one of the event kinds in scope for this layer.
type Event string

const (
	DataConnAdded   Event = "data_conn_added"
	DataConnRemoved Event = "data_conn_removed"
	DataConnDown    Event = "data_conn_down"
	DataConnQoS     Event = "data_conn_qos"
	MgmtConnAdded   Event = "mgmt_conn_added"
	MgmtConnRemoved Event = "mgmt_conn_removed"
)

// Handler receives an event's payload. The concrete payload type is
// established per Event by convention between publisher and subscriber
// (see ConnEvent); the bus itself stays payload-agnostic.
type Handler func(payload any)

type subscription struct {
	cookie  uint64
	handler Handler
}

// Bus is the shared event bus. The zero value is not usable; use New.
type Bus struct {
	mu   sync.RWMutex
	subs map[Event][]subscription
	next uint64
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Event][]subscription)}
}

// Subscribe registers handler for event and returns a cookie that
// Unsubscribe uses to remove exactly this registration. Subscribing the
// same (event, handler) twice is not deduplicated by identity — Go
// func values aren't comparable — callers needing idempotent
// registration should guard with their own sentinel (see dt.DT.Register
// for the EID-keyed component registration this layer uses).
func (b *Bus) Subscribe(event Event, handler Handler) (cookie uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	cookie = b.next
	b.subs[event] = append(b.subs[event], subscription{cookie: cookie, handler: handler})
	return cookie
}

// Unsubscribe removes the registration identified by cookie, if present.
func (b *Bus) Unsubscribe(event Event, cookie uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[event]
	for i, s := range subs {
		if s.cookie == cookie {
			b.subs[event] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// Publish invokes every handler subscribed to event, in registration
// order, under the bus's read lock. Handlers must not call
// Subscribe/Unsubscribe on this bus (that would deadlock on the
// non-reentrant RWMutex) — register all handlers at construction time.
func (b *Bus) Publish(event Event, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[event] {
		s.handler(payload)
	}
}

// ConnEvent is the payload carried by the four connection-manager
// events (§6): a newly admitted or withdrawn N-1 flow.
type ConnEvent struct {
	Handle flow.Handle
	Peer   pcodec.Addr
	QoS    pcodec.QoS
	Kind   flow.Kind
}
