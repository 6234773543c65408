package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastReachesAllReceivers(t *testing.T) {
	bus := NewBus()

	a := bus.Subscribe()
	b := bus.Subscribe()
	assert.Equal(t, 2, bus.ReceiverCount())

	bus.Broadcast(EventStartup)

	assert.Equal(t, EventStartup, <-a)
	assert.Equal(t, EventStartup, <-b)
}

func TestBroadcastDoesNotBlockOnFullReceiver(t *testing.T) {
	bus := NewBus()

	stuck := bus.Subscribe()
	live := bus.Subscribe()

	// Fill the stuck receiver well past its buffer; Broadcast must not hang
	for i := 0; i < receiverBuffer*2; i++ {
		bus.Broadcast(EventRestart)
	}
	bus.Broadcast(EventShutdown)

	// The live receiver drained nothing either, but the newest event must
	// still be present at the tail of its buffer
	var last CoreEvent
	for {
		select {
		case ev := <-live:
			last = ev
			continue
		default:
		}
		break
	}
	assert.Equal(t, EventShutdown, last)

	// The stuck receiver kept the newest event too, at the cost of older ones
	var sawShutdown bool
	for {
		select {
		case ev := <-stuck:
			if ev == EventShutdown {
				sawShutdown = true
			}
			continue
		default:
		}
		break
	}
	assert.True(t, sawShutdown)
}

func TestReceiverFIFO(t *testing.T) {
	bus := NewBus()
	rx := bus.Subscribe()

	bus.Broadcast(EventStartup)
	bus.Broadcast(EventRestart)
	bus.Broadcast(EventShutdown)

	assert.Equal(t, EventStartup, <-rx)
	assert.Equal(t, EventRestart, <-rx)
	assert.Equal(t, EventShutdown, <-rx)
}

func TestUnsubscribeClosesReceiver(t *testing.T) {
	bus := NewBus()
	rx := bus.Subscribe()

	bus.Unsubscribe(rx)
	assert.Equal(t, 0, bus.ReceiverCount())

	_, open := <-rx
	require.False(t, open)

	// Double unsubscribe is a no-op, not a panic
	bus.Unsubscribe(rx)
}

func TestBusUsableAfterShutdownBroadcast(t *testing.T) {
	bus := NewBus()
	before := bus.Subscribe()

	bus.Broadcast(EventShutdown)
	assert.Equal(t, EventShutdown, <-before)

	// Receivers created before shutdown keep working until dropped
	bus.Broadcast(EventRestart)
	assert.Equal(t, EventRestart, <-before)
}
