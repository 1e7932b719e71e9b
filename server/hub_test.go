package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastReachesSubscribers(t *testing.T) {
	h := newHub[int]()
	a := h.Subscribe(4)
	b := h.Subscribe(4)

	h.Broadcast(7)

	assert.Equal(t, 7, <-a.ch)
	assert.Equal(t, 7, <-b.ch)
}

func TestHubDropsSlowSubscriber(t *testing.T) {
	h := newHub[int]()
	slow := h.Subscribe(1)

	h.Broadcast(1)
	h.Broadcast(2) // dropped, buffer full

	assert.Equal(t, 1, <-slow.ch)
	select {
	case v := <-slow.ch:
		t.Fatalf("unexpected value %d", v)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := newHub[string]()
	sub := h.Subscribe(1)
	h.Unsubscribe(sub)

	_, open := <-sub.ch
	require.False(t, open)

	// Broadcasting after unsubscribe must not panic on the closed channel.
	h.Broadcast("late")
}
