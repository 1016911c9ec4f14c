package dht

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRequestResolveWakesWaiter(t *testing.T) {
	rt := newRequestTable()
	r := rt.create(time.Second)

	done := make(chan struct{})
	var answer any
	var ok bool
	go func() {
		answer, ok = r.wait()
		close(done)
	}()

	assert.True(t, rt.resolve(r.cookie, "reply"))
	<-done
	assert.True(t, ok)
	assert.Equal(t, "reply", answer)
}

func TestRequestTimesOutUnanswered(t *testing.T) {
	r := newRequest(1, 10*time.Millisecond)
	_, ok := r.wait()
	assert.False(t, ok)
}

func TestRequestDestroyWakesWaiterWithNoAnswer(t *testing.T) {
	r := newRequest(1, time.Hour)
	done := make(chan struct{})
	var ok bool
	go func() {
		_, ok = r.wait()
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	r.destroy()
	<-done
	assert.False(t, ok)
}

func TestSweepExpiredRemovesStaleRequests(t *testing.T) {
	rt := newRequestTable()
	r := rt.create(1 * time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	rt.sweepExpired()

	rt.mu.Lock()
	_, exists := rt.inflight[r.cookie]
	rt.mu.Unlock()
	assert.False(t, exists)
}
