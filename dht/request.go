package dht

import (
	"sync"
	"time"
)

// reqState is the lifecycle of a single outstanding request (§4.6 REQ):
// a request is created against a cookie, waits for a matching RESPONSE
// or its own expiry, and is torn down exactly once either way.
type reqState int

const (
	reqInit reqState = iota
	reqPending
	reqResponded
	reqTimedOut
	reqDone
)

// request tracks one in-flight FIND_NODE/FIND_VALUE/STORE/JOIN call
// awaiting a cookie-matched RESPONSE.
type request struct {
	mu       sync.Mutex
	cond     *sync.Cond
	cookie   uint32
	state    reqState
	deadline time.Time
	answer   any
}

func newRequest(cookie uint32, timeout time.Duration) *request {
	r := &request{cookie: cookie, state: reqPending, deadline: time.Now().Add(timeout)}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// resolve delivers a RESPONSE payload to a pending request, waking its
// waiter. A request already responded to, timed out, or destroyed
// ignores a late or duplicate resolve.
func (r *request) resolve(answer any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != reqPending {
		return false
	}
	r.answer = answer
	r.state = reqResponded
	r.cond.Broadcast()
	return true
}

// expire marks a pending request timed out, for the periodic sweep that
// garbage-collects requests whose deadline has passed unanswered.
func (r *request) expire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != reqPending {
		return false
	}
	r.state = reqTimedOut
	r.cond.Broadcast()
	return true
}

// destroy cancels a request cooperatively, waking any waiter with no
// answer. Used when the owning lookup gives up early (e.g. enough
// other branches already completed it).
func (r *request) destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == reqPending {
		r.state = reqDone
		r.cond.Broadcast()
	}
}

// wait blocks until the request resolves, expires, or is destroyed,
// returning the RESPONSE answer and whether one arrived. It must never
// be called while holding the DHT's table/entry lock: this method
// parks on its own condition variable, not the DHT-wide one.
func (r *request) wait() (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d := time.Until(r.deadline); d > 0 {
		t := time.AfterFunc(d, func() {
			r.mu.Lock()
			r.cond.Broadcast()
			r.mu.Unlock()
		})
		defer t.Stop()
	}
	for r.state == reqPending {
		if !time.Now().Before(r.deadline) {
			r.state = reqTimedOut
			break
		}
		r.cond.Wait()
	}
	ok := r.state == reqResponded
	answer := r.answer
	r.state = reqDone
	return answer, ok
}

// requestTable allocates 32-bit cookies and tracks outstanding requests
// by cookie, the way componentRegistry allocates EIDs by lowest free
// index — except cookies are sparse, so a map serves better than a
// dense bitmap here.
type requestTable struct {
	mu       sync.Mutex
	next     uint32
	inflight map[uint32]*request
}

func newRequestTable() *requestTable {
	return &requestTable{inflight: make(map[uint32]*request)}
}

func (rt *requestTable) create(timeout time.Duration) *request {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.next++
	cookie := rt.next
	r := newRequest(cookie, timeout)
	rt.inflight[cookie] = r
	return r
}

func (rt *requestTable) resolve(cookie uint32, answer any) bool {
	rt.mu.Lock()
	r, ok := rt.inflight[cookie]
	rt.mu.Unlock()
	if !ok {
		return false
	}
	return r.resolve(answer)
}

func (rt *requestTable) release(cookie uint32) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	delete(rt.inflight, cookie)
}

// sweepExpired expires and releases every request past its deadline,
// the periodic worker's request-GC pass.
func (rt *requestTable) sweepExpired() {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	now := time.Now()
	for cookie, r := range rt.inflight {
		r.mu.Lock()
		past := now.After(r.deadline)
		state := r.state
		r.mu.Unlock()
		if past && state == reqPending {
			r.expire()
			state = reqTimedOut
		}
		if state != reqPending {
			delete(rt.inflight, cookie)
		}
	}
}
