package receiver

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/swarmsync/swarmsync/pkg/events"
	"github.com/swarmsync/swarmsync/pkg/log"
	"github.com/swarmsync/swarmsync/pkg/shared"
	"github.com/swarmsync/swarmsync/pkg/storage"
	"github.com/swarmsync/swarmsync/pkg/types"
)

// Receiver promotes newly submitted jobs into the queue. It runs on the
// medium pulse, validating each submitted job and advancing it to queued,
// or failing it with a message describing the violation. Jobs already past
// submitted are never touched, so the cycle is idempotent.
type Receiver struct {
	store  storage.Store
	shared *shared.Resources
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// New creates a receiver
func New(store storage.Store, res *shared.Resources) *Receiver {
	return &Receiver{
		store:  store,
		shared: res,
		logger: log.WithComponent("receiver"),
	}
}

// Start subscribes to the medium pulse and runs until shutdown
func (r *Receiver) Start() {
	ticks := r.shared.Pulse.SubscribeMedium()
	lifecycle := r.shared.Events.Subscribe()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ticks:
				r.cycle()
			case ev, ok := <-lifecycle:
				if !ok || ev == events.EventShutdown {
					return
				}
			}
		}
	}()
}

// Wait blocks until the receiver loop has exited
func (r *Receiver) Wait() {
	r.wg.Wait()
}

// cycle processes every job still in the submitted state
func (r *Receiver) cycle() {
	jobs, err := r.store.ListJobsByState(types.JobStateSubmitted)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list submitted jobs")
		return
	}

	for _, job := range jobs {
		r.admit(job)
	}
}

// admit validates one submitted job and moves it to queued or failed
func (r *Receiver) admit(job *types.Job) {
	job.UpdatedAt = time.Now().UTC()

	if err := job.Validate(); err != nil {
		job.State = types.JobStateFailed
		job.ErrorMessage = err.Error()
		if uerr := r.store.UpdateJob(job); uerr != nil {
			r.logger.Error().Err(uerr).Int64("job_id", job.ID).Msg("failed to mark job failed")
			return
		}
		r.shared.Journal.Customf(types.LogLevelWarning, types.ModuleReceiver,
			"job %d rejected: %s", job.ID, err)
		return
	}

	job.State = types.JobStateQueued
	if err := r.store.UpdateJob(job); err != nil {
		r.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to queue job")
		return
	}

	r.shared.Journal.JobSubmitted(types.ModuleReceiver, types.JobSubmittedPayload{
		JobID:   job.ID,
		JobName: job.JobName,
	})
	r.logger.Info().Int64("job_id", job.ID).Str("job", job.JobName).Msg("job queued")
}
