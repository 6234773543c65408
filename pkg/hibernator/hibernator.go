package hibernator

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/swarmsync/swarmsync/pkg/events"
	"github.com/swarmsync/swarmsync/pkg/log"
	"github.com/swarmsync/swarmsync/pkg/shared"
	"github.com/swarmsync/swarmsync/pkg/storage"
	"github.com/swarmsync/swarmsync/pkg/types"
)

// Hibernator wakes cron-scheduled jobs. On every slow pulse it looks at
// cron jobs that are not currently queued or running, computes the next
// fire time from the last trigger, and re-queues the ones that are due.
// Because updated_at advances on every transition, a due minute triggers
// at most one run.
type Hibernator struct {
	store  storage.Store
	shared *shared.Resources
	logger zerolog.Logger
	wg     sync.WaitGroup

	// now is swappable for tests
	now func() time.Time
}

// New creates a hibernator
func New(store storage.Store, res *shared.Resources) *Hibernator {
	return &Hibernator{
		store:  store,
		shared: res,
		logger: log.WithComponent("hibernator"),
		now:    time.Now,
	}
}

// Start subscribes to the slow pulse and runs until shutdown
func (h *Hibernator) Start() {
	ticks := h.shared.Pulse.SubscribeSlow()
	lifecycle := h.shared.Events.Subscribe()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ticks:
				h.cycle()
			case ev, ok := <-lifecycle:
				if !ok || ev == events.EventShutdown {
					return
				}
			}
		}
	}()
}

// Wait blocks until the hibernator loop has exited
func (h *Hibernator) Wait() {
	h.wg.Wait()
}

// dormantStates are the states a cron job may be woken from. Queued and
// running jobs already have a pending execution.
var dormantStates = []types.JobState{
	types.JobStateSubmitted,
	types.JobStateCompleted,
	types.JobStateFailed,
}

// cycle examines every dormant cron job once
func (h *Hibernator) cycle() {
	for _, state := range dormantStates {
		jobs, err := h.store.ListJobsByState(state)
		if err != nil {
			h.logger.Error().Err(err).Str("state", string(state)).Msg("failed to list jobs")
			continue
		}
		for _, job := range jobs {
			if job.ScheduleType == types.ScheduleTypeCron {
				h.evaluate(job)
			}
		}
	}
}

// evaluate re-queues one cron job if its next fire time has passed. The
// last trigger is updated_at, so re-queueing pushes the schedule forward.
func (h *Hibernator) evaluate(job *types.Job) {
	schedule, err := cron.ParseStandard(job.CronExpression)
	if err != nil {
		h.fail(job, err)
		return
	}

	now := h.now().UTC()
	if schedule.Next(job.UpdatedAt).After(now) {
		return
	}

	job.State = types.JobStateQueued
	job.ErrorMessage = ""
	job.UpdatedAt = now
	if err := h.store.UpdateJob(job); err != nil {
		h.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to re-queue cron job")
		return
	}

	h.shared.Journal.Customf(types.LogLevelInfo, types.ModuleHibernator,
		"cron job %d woken and queued", job.ID)
	h.logger.Info().Int64("job_id", job.ID).Str("cron", job.CronExpression).Msg("cron job queued")
}

// fail marks a job with an unparseable expression so it is never evaluated
// again until the user fixes it
func (h *Hibernator) fail(job *types.Job, parseErr error) {
	if job.State == types.JobStateFailed {
		return
	}
	job.State = types.JobStateFailed
	job.ErrorMessage = fmt.Sprintf("invalid cron: %s", parseErr)
	job.UpdatedAt = h.now().UTC()
	if err := h.store.UpdateJob(job); err != nil {
		h.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to mark job failed")
		return
	}
	h.shared.Journal.Customf(types.LogLevelWarning, types.ModuleHibernator,
		"job %d has an invalid cron expression: %s", job.ID, parseErr)
}
