package metrics

import (
	"time"

	"github.com/swarmsync/swarmsync/pkg/storage"
	"github.com/swarmsync/swarmsync/pkg/types"
)

// Collector samples gauge metrics from the store on a fixed interval
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectJobMetrics()
	c.collectWorkerMetrics()
	c.collectAssignmentMetrics()
}

func (c *Collector) collectJobMetrics() {
	jobs, err := c.store.ListJobs()
	if err != nil {
		return
	}

	counts := make(map[types.JobState]int)
	for _, job := range jobs {
		counts[job.State]++
	}

	// Publish every known state so stale gauges drop back to zero
	for _, state := range []types.JobState{
		types.JobStateSubmitted,
		types.JobStateQueued,
		types.JobStateRunning,
		types.JobStateCompleted,
		types.JobStateFailed,
	} {
		JobsTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

func (c *Collector) collectWorkerMetrics() {
	statuses, err := c.store.ListWorkerStatuses()
	if err != nil {
		return
	}

	counts := make(map[types.WorkerState]int)
	for _, status := range statuses {
		counts[status.Status]++
	}

	for _, state := range []types.WorkerState{
		types.WorkerStateIdle,
		types.WorkerStateBusy,
		types.WorkerStateOffline,
		types.WorkerStateUnreachable,
	} {
		WorkersTotal.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}

func (c *Collector) collectAssignmentMetrics() {
	active, err := c.store.ListActiveAssignments()
	if err != nil {
		return
	}
	ActiveAssignments.Set(float64(len(active)))
}
