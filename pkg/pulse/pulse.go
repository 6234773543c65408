package pulse

import (
	"sync"
	"time"

	"github.com/swarmsync/swarmsync/pkg/events"
)

// Tier identifies one of the three pulse cadences
type Tier string

const (
	TierSlow   Tier = "slow"
	TierMedium Tier = "medium"
	TierFast   Tier = "fast"
)

// Default tier periods
const (
	DefaultSlowPeriod   = 10 * time.Second
	DefaultMediumPeriod = 1 * time.Second
	DefaultFastPeriod   = 50 * time.Millisecond
)

// Periods holds the tick period per tier. Tests shrink these to keep the
// clock fast.
type Periods struct {
	Slow   time.Duration
	Medium time.Duration
	Fast   time.Duration
}

// DefaultPeriods returns the production cadences
func DefaultPeriods() Periods {
	return Periods{
		Slow:   DefaultSlowPeriod,
		Medium: DefaultMediumPeriod,
		Fast:   DefaultFastPeriod,
	}
}

// Ticks is a receiver for one tier. The channel holds at most one pending
// tick: a subscriber that falls behind coalesces missed ticks into the one
// already pending, which it must treat as "at least one tick elapsed".
// Ticks are never replayed and never reordered.
type Ticks chan Tier

// Broadcaster emits periodic ticks on three independent tiers and stops all
// of them when the lifecycle bus broadcasts shutdown. Tiers are not phase
// aligned.
type Broadcaster struct {
	periods Periods

	mu    sync.RWMutex
	tiers map[Tier]map[Ticks]bool

	lifecycle events.Receiver
	stopCh    chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewBroadcaster creates a broadcaster with production periods, wired to the
// given lifecycle bus
func NewBroadcaster(bus *events.Bus) *Broadcaster {
	return NewBroadcasterWithPeriods(bus, DefaultPeriods())
}

// NewBroadcasterWithPeriods creates a broadcaster with explicit periods
func NewBroadcasterWithPeriods(bus *events.Bus, periods Periods) *Broadcaster {
	return &Broadcaster{
		periods: periods,
		tiers: map[Tier]map[Ticks]bool{
			TierSlow:   {},
			TierMedium: {},
			TierFast:   {},
		},
		lifecycle: bus.Subscribe(),
		stopCh:    make(chan struct{}),
	}
}

// Start spawns one ticker goroutine per tier plus the lifecycle watcher
func (b *Broadcaster) Start() {
	b.wg.Add(4)
	go b.tick(TierSlow, b.periods.Slow)
	go b.tick(TierMedium, b.periods.Medium)
	go b.tick(TierFast, b.periods.Fast)
	go b.watchLifecycle()
}

// Stop terminates all tickers. Safe to call more than once.
func (b *Broadcaster) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()
}

// SubscribeSlow returns an independent receiver for the slow tier
func (b *Broadcaster) SubscribeSlow() Ticks { return b.subscribe(TierSlow) }

// SubscribeMedium returns an independent receiver for the medium tier
func (b *Broadcaster) SubscribeMedium() Ticks { return b.subscribe(TierMedium) }

// SubscribeFast returns an independent receiver for the fast tier
func (b *Broadcaster) SubscribeFast() Ticks { return b.subscribe(TierFast) }

func (b *Broadcaster) subscribe(tier Tier) Ticks {
	b.mu.Lock()
	defer b.mu.Unlock()

	ticks := make(Ticks, 1)
	b.tiers[tier][ticks] = true
	return ticks
}

// Unsubscribe removes a receiver from its tier
func (b *Broadcaster) Unsubscribe(ticks Ticks) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, subs := range b.tiers {
		if subs[ticks] {
			delete(subs, ticks)
			close(ticks)
			return
		}
	}
}

func (b *Broadcaster) tick(tier Tier, period time.Duration) {
	defer b.wg.Done()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			b.broadcast(tier)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broadcaster) broadcast(tier Tier) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ticks := range b.tiers[tier] {
		select {
		case ticks <- tier:
		default:
			// A tick is already pending; the subscriber will observe it as
			// "at least one tick elapsed"
		}
	}
}

func (b *Broadcaster) watchLifecycle() {
	defer b.wg.Done()

	for {
		select {
		case ev, ok := <-b.lifecycle:
			if !ok {
				return
			}
			if ev == events.EventShutdown {
				b.stopOnce.Do(func() { close(b.stopCh) })
				return
			}
		case <-b.stopCh:
			return
		}
	}
}
