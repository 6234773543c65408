package archive

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/swarmsync/swarmsync/pkg/events"
	"github.com/swarmsync/swarmsync/pkg/log"
	"github.com/swarmsync/swarmsync/pkg/metrics"
	"github.com/swarmsync/swarmsync/pkg/shared"
	"github.com/swarmsync/swarmsync/pkg/storage"
	"github.com/swarmsync/swarmsync/pkg/types"
)

// DefaultHorizon is how long a terminal job stays in the primary tables
const DefaultHorizon = 30 * 24 * time.Hour

// Archiver sweeps terminal jobs past the retention horizon into the
// archive buckets, dependents included, one job per transaction.
type Archiver struct {
	store   storage.Store
	shared  *shared.Resources
	horizon time.Duration
	logger  zerolog.Logger
	wg      sync.WaitGroup

	now func() time.Time
}

// New creates an archiver with the given retention horizon; zero means the
// default of 30 days
func New(store storage.Store, res *shared.Resources, horizon time.Duration) *Archiver {
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Archiver{
		store:   store,
		shared:  res,
		horizon: horizon,
		logger:  log.WithComponent("archive"),
		now:     time.Now,
	}
}

// Start subscribes to the slow pulse and runs until shutdown
func (a *Archiver) Start() {
	ticks := a.shared.Pulse.SubscribeSlow()
	lifecycle := a.shared.Events.Subscribe()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-ticks:
				a.cycle()
			case ev, ok := <-lifecycle:
				if !ok || ev == events.EventShutdown {
					return
				}
			}
		}
	}()
}

// Wait blocks until the archive loop has exited
func (a *Archiver) Wait() {
	a.wg.Wait()
}

// cycle archives every terminal job whose last transition is older than
// the horizon. Each job moves in its own transaction; a failure on one job
// does not stop the sweep.
func (a *Archiver) cycle() {
	cutoff := a.now().UTC().Add(-a.horizon)

	for _, state := range []types.JobState{types.JobStateCompleted, types.JobStateFailed} {
		jobs, err := a.store.ListJobsByState(state)
		if err != nil {
			a.logger.Error().Err(err).Str("state", string(state)).Msg("failed to list terminal jobs")
			continue
		}
		for _, job := range jobs {
			if job.UpdatedAt.After(cutoff) {
				continue
			}
			if err := a.store.ArchiveJob(job.ID); err != nil {
				a.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to archive job")
				continue
			}
			metrics.JobsArchived.Inc()
			a.shared.Journal.Customf(types.LogLevelInfo, types.ModuleTaskArchive,
				"job %d archived", job.ID)
			a.logger.Info().Int64("job_id", job.ID).Str("state", string(state)).Msg("job archived")
		}
	}
}
