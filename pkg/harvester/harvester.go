package harvester

import (
	"context"
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

// PollStatus is what an executor reports for an in-flight assignment
type PollStatus string

const (
	PollPending   PollStatus = "pending"
	PollSucceeded PollStatus = "succeeded"
	PollFailed    PollStatus = "failed"
)

// PollResult carries the execution outcome back from a worker. Output and
// statistics are only meaningful once Status is terminal.
type PollResult struct {
	Status       PollStatus
	Started      bool
	Stdout       string
	Files        map[string][]byte
	ExitCode     int
	DurationSec  float64
	CPUUsagePct  float64
	MemUsageMB   float64
	ErrorMessage string
}

// WorkerExecutor asks a worker about one assignment. Implementations talk
// to the worker over its execution transport; tests substitute a fake.
type WorkerExecutor interface {
	Poll(ctx context.Context, assignment *types.JobAssignment) (*PollResult, error)
}

// PendingExecutor reports every assignment as still running. It is the
// executor of last resort when no execution transport is configured;
// assignments stay active until one is wired in.
type PendingExecutor struct{}

func (PendingExecutor) Poll(context.Context, *types.JobAssignment) (*PollResult, error) {
	return &PollResult{Status: PollPending}, nil
}

// Harvester collects results from running assignments. On every medium
// pulse it polls each active assignment and, when one has finished,
// commits the terminal job state, result, metric, assignment close, and
// worker status flip in a single store transaction.
type Harvester struct {
	store    storage.Store
	shared   *shared.Resources
	executor WorkerExecutor
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

// New creates a harvester
func New(store storage.Store, res *shared.Resources, executor WorkerExecutor) *Harvester {
	return &Harvester{
		store:    store,
		shared:   res,
		executor: executor,
		logger:   log.WithComponent("harvester"),
	}
}

// Start subscribes to the medium pulse and runs until shutdown
func (h *Harvester) Start() {
	ticks := h.shared.Pulse.SubscribeMedium()
	lifecycle := h.shared.Events.Subscribe()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		ctx := context.Background()
		for {
			select {
			case <-ticks:
				h.cycle(ctx)
			case ev, ok := <-lifecycle:
				if !ok || ev == events.EventShutdown {
					return
				}
			}
		}
	}()
}

// Wait blocks until the harvester loop has exited
func (h *Harvester) Wait() {
	h.wg.Wait()
}

// cycle polls every active assignment once
func (h *Harvester) cycle(ctx context.Context) {
	assignments, err := h.store.ListActiveAssignments()
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list active assignments")
		return
	}

	for _, assignment := range assignments {
		h.poll(ctx, assignment)
	}
}

// poll asks the executor about one assignment and finalizes it when done.
// A poll error leaves the assignment active; the reachability sweep deals
// with workers that stay silent.
func (h *Harvester) poll(ctx context.Context, assignment *types.JobAssignment) {
	result, err := h.executor.Poll(ctx, assignment)
	if err != nil {
		h.logger.Warn().Err(err).
			Int64("assignment_id", assignment.ID).
			Int64("worker_id", assignment.WorkerID).
			Msg("poll failed, will retry next pulse")
		return
	}

	if result.Status == PollPending {
		if result.Started && assignment.StartedAt == nil {
			now := time.Now().UTC()
			assignment.StartedAt = &now
			if err := h.store.UpdateAssignment(assignment); err != nil {
				h.logger.Error().Err(err).Int64("assignment_id", assignment.ID).Msg("failed to record start time")
			}
		}
		return
	}

	h.finalize(assignment, result)
}

// finalize commits the terminal state of one execution atomically
func (h *Harvester) finalize(assignment *types.JobAssignment, result *PollResult) {
	job, err := h.store.GetJob(assignment.JobID)
	if err != nil {
		h.logger.Error().Err(err).Int64("job_id", assignment.JobID).Msg("failed to load job for finalization")
		return
	}

	now := time.Now().UTC()
	outcome := "success"
	level := types.LogLevelSuccess

	if result.Status == PollSucceeded {
		job.State = types.JobStateCompleted
	} else {
		job.State = types.JobStateFailed
		job.ErrorMessage = result.ErrorMessage
		outcome = "failure"
		level = types.LogLevelError
	}
	job.UpdatedAt = now
	assignment.FinishedAt = &now

	jobResult := &types.JobResult{
		JobID:   job.ID,
		Stdout:  result.Stdout,
		Files:   result.Files,
		SavedAt: now,
	}
	metric := &types.JobMetric{
		JobID:       job.ID,
		WorkerID:    assignment.WorkerID,
		DurationSec: &result.DurationSec,
		CPUUsagePct: &result.CPUUsagePct,
		MemUsageMB:  &result.MemUsageMB,
		ExitCode:    &result.ExitCode,
		Timestamp:   now,
	}

	status, err := h.store.GetWorkerStatus(assignment.WorkerID)
	if err != nil {
		status = &types.WorkerStatus{WorkerID: assignment.WorkerID}
	}
	status.Status = types.WorkerStateIdle
	status.ActiveJobID = nil
	status.UpdatedAt = now

	if err := h.store.FinalizeAssignment(job, assignment, jobResult, metric, status); err != nil {
		h.logger.Error().Err(err).Int64("job_id", job.ID).Msg("failed to finalize assignment")
		return
	}

	metrics.JobsCompleted.WithLabelValues(outcome).Inc()
	h.shared.Journal.JobCompleted(level, types.ModuleHarvester, types.JobCompletedPayload{
		JobID:    job.ID,
		WorkerID: assignment.WorkerID,
		ExitCode: result.ExitCode,
	})
	h.logger.Info().
		Int64("job_id", job.ID).
		Int64("worker_id", assignment.WorkerID).
		Str("outcome", outcome).
		Msg("assignment finalized")
}
