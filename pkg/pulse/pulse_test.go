package pulse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swarmsync/swarmsync/pkg/events"
)

func testPeriods() Periods {
	return Periods{
		Slow:   50 * time.Millisecond,
		Medium: 20 * time.Millisecond,
		Fast:   5 * time.Millisecond,
	}
}

func TestTicksArrivePerTier(t *testing.T) {
	bus := events.NewBus()
	b := NewBroadcasterWithPeriods(bus, testPeriods())
	b.Start()
	defer b.Stop()

	slow := b.SubscribeSlow()
	medium := b.SubscribeMedium()
	fast := b.SubscribeFast()

	waitTick := func(ticks Ticks, want Tier) {
		t.Helper()
		select {
		case got := <-ticks:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("no %s tick within 1s", want)
		}
	}

	waitTick(fast, TierFast)
	waitTick(medium, TierMedium)
	waitTick(slow, TierSlow)
}

func TestMissedTicksCoalesce(t *testing.T) {
	bus := events.NewBus()
	b := NewBroadcasterWithPeriods(bus, testPeriods())
	b.Start()
	defer b.Stop()

	fast := b.SubscribeFast()

	// Ignore the channel long enough for many ticks to fire
	time.Sleep(100 * time.Millisecond)

	// Exactly one tick is pending; missed ones were coalesced into it
	select {
	case <-fast:
	default:
		t.Fatal("expected a pending tick")
	}

	// Draining again immediately may or may not find a fresh tick, but never
	// a backlog deeper than one
	drained := 0
	for {
		select {
		case <-fast:
			drained++
			continue
		default:
		}
		break
	}
	assert.LessOrEqual(t, drained, 1)
}

func TestShutdownEventStopsTickers(t *testing.T) {
	bus := events.NewBus()
	b := NewBroadcasterWithPeriods(bus, testPeriods())
	b.Start()

	fast := b.SubscribeFast()

	bus.Broadcast(events.EventShutdown)

	// Stop returns once every ticker goroutine has exited
	done := make(chan struct{})
	go func() {
		b.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcaster did not stop after shutdown event")
	}

	// Drain anything emitted before the stop, then verify silence
	for {
		select {
		case <-fast:
			continue
		default:
		}
		break
	}
	select {
	case _, open := <-fast:
		require.True(t, open) // not closed, just silent
		t.Fatal("tick emitted after shutdown")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribersAreIndependent(t *testing.T) {
	bus := events.NewBus()
	b := NewBroadcasterWithPeriods(bus, testPeriods())
	b.Start()
	defer b.Stop()

	a := b.SubscribeMedium()
	c := b.SubscribeMedium()

	// Receiving on one must not consume the other's tick
	select {
	case <-a:
	case <-time.After(time.Second):
		t.Fatal("no tick on first subscriber")
	}
	select {
	case <-c:
	case <-time.After(time.Second):
		t.Fatal("no tick on second subscriber")
	}
}
