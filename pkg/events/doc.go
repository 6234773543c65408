/*
Package events provides the lifecycle event bus for the SwarmSync Core.

Modules never call each other directly; lifecycle coordination flows through
a broadcast bus carrying CoreEvent values (startup, shutdown, restart). Each
subscriber gets an independent buffered receiver, and broadcasting never
blocks on a slow receiver: a full buffer has its oldest pending event dropped
so the newest signal always lands. Delivery per receiver is FIFO.

Shutdown is one-way. After it is broadcast the bus stays usable so late
readers still observe the signal; tearing the bus down is simply dropping
the receivers.

# Usage

	bus := events.NewBus()

	rx := bus.Subscribe()
	defer bus.Unsubscribe(rx)

	go func() {
		for ev := range rx {
			if ev == events.EventShutdown {
				return
			}
		}
	}()

	bus.Broadcast(events.EventStartup)
*/
package events
