// Package core assembles the SwarmSync control plane: store, lifecycle
// bus, pulse tickers, journal, and the six orchestration modules. Modules
// never call each other; they cooperate through the store, the event bus,
// and the pulses, and core is the only place that knows the full wiring.
package core
