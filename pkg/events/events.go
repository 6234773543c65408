package events

import (
	"sync"
)

// CoreEvent is a lifecycle signal broadcast to every module
type CoreEvent string

const (
	EventStartup  CoreEvent = "startup"
	EventShutdown CoreEvent = "shutdown"
	EventRestart  CoreEvent = "restart"
)

// Receiver is a channel that receives core events. Each receiver is
// independent and buffered; a receiver that falls behind loses the oldest
// pending events rather than blocking the sender.
type Receiver chan CoreEvent

// receiverBuffer is sized for the tiny lifecycle event volume; overflow only
// happens when a module has stopped draining its receiver
const receiverBuffer = 16

// Bus fans lifecycle events out to every live receiver. Shutdown is a
// one-way signal: the bus keeps handing out already-created receivers after
// it is sent, and broadcasting never blocks on a slow receiver.
type Bus struct {
	mu        sync.RWMutex
	receivers map[Receiver]bool
}

// NewBus creates a new core event bus
func NewBus() *Bus {
	return &Bus{
		receivers: make(map[Receiver]bool),
	}
}

// Subscribe creates a new independent receiver
func (b *Bus) Subscribe() Receiver {
	b.mu.Lock()
	defer b.mu.Unlock()

	r := make(Receiver, receiverBuffer)
	b.receivers[r] = true
	return r
}

// Unsubscribe removes a receiver and closes it
func (b *Bus) Unsubscribe(r Receiver) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.receivers[r] {
		delete(b.receivers, r)
		close(r)
	}
}

// Broadcast delivers the event to every live receiver without blocking on
// any one. A receiver with a full buffer has its oldest pending event
// dropped so the newest lifecycle signal is never lost.
func (b *Bus) Broadcast(event CoreEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for r := range b.receivers {
		select {
		case r <- event:
		default:
			// Drop the oldest pending event to make room. The receiver
			// observes the gap as lag, not as reordering.
			select {
			case <-r:
			default:
			}
			select {
			case r <- event:
			default:
			}
		}
	}
}

// ReceiverCount returns the number of live receivers
func (b *Bus) ReceiverCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.receivers)
}
