package scheduler

import (
	"errors"
	"sort"
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

// Scheduler matches queued jobs with idle workers and creates assignments.
// It runs one cycle per medium pulse.
type Scheduler struct {
	store  storage.Store
	shared *shared.Resources
	logger zerolog.Logger
	wg     sync.WaitGroup
}

// New creates a scheduler
func New(store storage.Store, res *shared.Resources) *Scheduler {
	return &Scheduler{
		store:  store,
		shared: res,
		logger: log.WithComponent("scheduler"),
	}
}

// Start subscribes to the medium pulse and runs until shutdown
func (s *Scheduler) Start() {
	ticks := s.shared.Pulse.SubscribeMedium()
	lifecycle := s.shared.Events.Subscribe()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ticks:
				s.cycle()
			case ev, ok := <-lifecycle:
				if !ok || ev == events.EventShutdown {
					return
				}
			}
		}
	}()
}

// Wait blocks until the scheduler loop has exited
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// cycle performs one scheduling pass: snapshot ready jobs and eligible
// workers, then assign head-to-head until either list runs out
func (s *Scheduler) cycle() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SchedulingLatency)

	jobs, err := s.readyJobs()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list queued jobs")
		return
	}
	if len(jobs) == 0 {
		return
	}

	workers, err := s.eligibleWorkers()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list eligible workers")
		return
	}

	next := 0
	for _, job := range jobs {
		if next >= len(workers) {
			break
		}
		if s.assign(job, workers[next]) {
			next++
		}
	}
}

// readyJobs returns queued jobs in FCFS order: created_at ascending, id
// ascending as tiebreak
func (s *Scheduler) readyJobs() ([]*types.Job, error) {
	jobs, err := s.store.ListJobsByState(types.JobStateQueued)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].ID < jobs[j].ID
	})
	return jobs, nil
}

// eligibleWorkers returns idle workers with no active assignment, freshest
// heartbeat first, id ascending as tiebreak
func (s *Scheduler) eligibleWorkers() ([]*types.WorkerStatus, error) {
	statuses, err := s.store.ListWorkerStatuses()
	if err != nil {
		return nil, err
	}
	active, err := s.store.ListActiveAssignments()
	if err != nil {
		return nil, err
	}

	busy := make(map[int64]bool, len(active))
	for _, a := range active {
		busy[a.WorkerID] = true
	}

	var eligible []*types.WorkerStatus
	for _, status := range statuses {
		if status.Status == types.WorkerStateIdle && !busy[status.WorkerID] {
			eligible = append(eligible, status)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		hi, hj := heartbeatOf(eligible[i]), heartbeatOf(eligible[j])
		if !hi.Equal(hj) {
			return hi.After(hj)
		}
		return eligible[i].WorkerID < eligible[j].WorkerID
	})
	return eligible, nil
}

func heartbeatOf(status *types.WorkerStatus) time.Time {
	if status.LastHeartbeat == nil {
		return time.Time{}
	}
	return *status.LastHeartbeat
}

// assign binds one job to one worker. Returns true when the worker was
// consumed; a conflict on the assignment insert skips the job and leaves
// the worker available for the next one.
func (s *Scheduler) assign(job *types.Job, status *types.WorkerStatus) bool {
	now := time.Now().UTC()
	assignment := &types.JobAssignment{
		JobID:      job.ID,
		WorkerID:   status.WorkerID,
		AssignedAt: now,
	}

	if err := s.store.CreateAssignment(assignment); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			s.logger.Warn().Int64("job_id", job.ID).Msg("job already has an active assignment, skipping")
			return false
		}
		s.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to create assignment")
		return false
	}

	job.State = types.JobStateRunning
	job.UpdatedAt = now
	if err := s.store.UpdateJob(job); err != nil {
		// Back the assignment out so the job stays schedulable next cycle
		s.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to mark job running, releasing assignment")
		assignment.FinishedAt = &now
		if rerr := s.store.UpdateAssignment(assignment); rerr != nil {
			s.logger.Error().Err(rerr).Int64("assignment_id", assignment.ID).Msg("failed to release assignment")
		}
		return false
	}

	status.Status = types.WorkerStateBusy
	status.ActiveJobID = &job.ID
	status.UpdatedAt = now
	if err := s.store.UpsertWorkerStatus(status); err != nil {
		s.logger.Error().Err(err).Int64("worker_id", status.WorkerID).Msg("failed to mark worker busy")
	}

	metrics.JobsScheduled.Inc()
	s.shared.Journal.Customf(types.LogLevelInfo, types.ModuleScheduler,
		"job %d assigned to worker %d", job.ID, status.WorkerID)
	s.logger.Info().Int64("job_id", job.ID).Int64("worker_id", status.WorkerID).Msg("job assigned")
	return true
}
