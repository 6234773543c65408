package storage

import (
	"errors"
	"time"

	"github.com/swarmsync/swarmsync/pkg/types"
)

var (
	// ErrNotFound is returned when an entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write loses to a concurrent state change,
	// e.g. creating a second active assignment for the same job
	ErrConflict = errors.New("conflict")
)

// Store defines the interface for Core state storage
// This is implemented by BoltDB-backed storage
type Store interface {
	// Users
	CreateUser(user *types.User) error
	GetUser(id int64) (*types.User, error)

	// Jobs
	CreateJob(job *types.Job) error
	GetJob(id int64) (*types.Job, error)
	ListJobs() ([]*types.Job, error)
	ListJobsByState(state types.JobState) ([]*types.Job, error)
	UpdateJob(job *types.Job) error
	DeleteJob(id int64) error

	// Workers
	CreateWorker(worker *types.Worker) error
	GetWorker(id int64) (*types.Worker, error)
	ListWorkers() ([]*types.Worker, error)
	UpdateWorker(worker *types.Worker) error
	DeleteWorker(id int64) error

	// Worker status (one row per worker, written by the dispatcher)
	UpsertWorkerStatus(status *types.WorkerStatus) error
	GetWorkerStatus(workerID int64) (*types.WorkerStatus, error)
	ListWorkerStatuses() ([]*types.WorkerStatus, error)

	// Assignments
	CreateAssignment(assignment *types.JobAssignment) error
	GetAssignment(id int64) (*types.JobAssignment, error)
	ListAssignments() ([]*types.JobAssignment, error)
	ListActiveAssignments() ([]*types.JobAssignment, error)
	ListAssignmentsByJob(jobID int64) ([]*types.JobAssignment, error)
	UpdateAssignment(assignment *types.JobAssignment) error

	// Results and metrics
	CreateResult(result *types.JobResult) error
	ListResultsByJob(jobID int64) ([]*types.JobResult, error)
	UpsertMetric(metric *types.JobMetric) error
	GetMetric(jobID, workerID int64) (*types.JobMetric, error)

	// FinalizeAssignment writes the terminal state of an execution in a
	// single transaction: job, assignment, result, metric, and worker status
	FinalizeAssignment(job *types.Job, assignment *types.JobAssignment, result *types.JobResult, metric *types.JobMetric, status *types.WorkerStatus) error

	// Journal
	AppendLogs(entries []types.DBLogEntry) error
	ListLogs() ([]*types.DBLogEntry, error)
	DeleteExpiredLogs(now time.Time) (int, error)

	// Archive
	ArchiveJob(jobID int64) error
	ListArchivedJobs() ([]*types.Job, error)

	// Utility
	Close() error
}
