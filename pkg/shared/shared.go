// Package shared carries the handles every Core module needs: the lifecycle
// event bus, the pulse broadcaster, and the journal. A single Resources
// value is built at process start and passed to each module constructor;
// it is read-only after construction and must not be rebuilt, so singletons
// like the journal exist exactly once.
package shared

import (
	"github.com/swarmsync/swarmsync/pkg/events"
	"github.com/swarmsync/swarmsync/pkg/journal"
	"github.com/swarmsync/swarmsync/pkg/pulse"
)

// Resources is the immutable bundle of cross-module handles
type Resources struct {
	Events  *events.Bus
	Pulse   *pulse.Broadcaster
	Journal *journal.Journal
}

// New bundles the three handles
func New(bus *events.Bus, broadcaster *pulse.Broadcaster, j *journal.Journal) *Resources {
	return &Resources{
		Events:  bus,
		Pulse:   broadcaster,
		Journal: j,
	}
}
