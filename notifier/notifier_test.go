package notifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishFansOutInOrder(t *testing.T) {
	b := New()
	var order []int
	b.Subscribe(DataConnAdded, func(any) { order = append(order, 1) })
	b.Subscribe(DataConnAdded, func(any) { order = append(order, 2) })

	b.Publish(DataConnAdded, nil)
	assert.Equal(t, []int{1, 2}, order)
}

func TestUnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	b := New()
	var aCalled, bCalled bool
	ca := b.Subscribe(DataConnRemoved, func(any) { aCalled = true })
	b.Subscribe(DataConnRemoved, func(any) { bCalled = true })

	b.Unsubscribe(DataConnRemoved, ca)
	b.Publish(DataConnRemoved, nil)

	assert.False(t, aCalled)
	assert.True(t, bCalled)
}

func TestPublishWithNoSubscribersIsANoop(t *testing.T) {
	b := New()
	assert.NotPanics(t, func() { b.Publish(MgmtConnAdded, ConnEvent{}) })
}
