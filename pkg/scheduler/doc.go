// Package scheduler assigns queued jobs to idle workers.
//
// One cycle runs per medium pulse. Jobs go first-come first-served by
// creation time; workers go freshest heartbeat first. A job never holds
// more than one active assignment, enforced by the store.
package scheduler
