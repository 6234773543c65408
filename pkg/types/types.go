package types

import (
	"fmt"
	"time"
)

// User owns jobs and workers. Created via the external API; the core only
// reads user rows to resolve ownership.
type User struct {
	ID           int64
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// JobState is the lifecycle state of a Job
type JobState string

const (
	JobStateSubmitted JobState = "submitted"
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// IsTerminal reports whether the state is absorbing
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// ImageFormat defines how the job image is delivered
type ImageFormat string

const (
	ImageFormatTarball        ImageFormat = "tarball"
	ImageFormatDockerRegistry ImageFormat = "docker-registry"
)

// OutputType defines what a job produces
type OutputType string

const (
	OutputTypeStdout OutputType = "stdout"
	OutputTypeFiles  OutputType = "files"
)

// ScheduleType defines when a job runs
type ScheduleType string

const (
	ScheduleTypeOnce ScheduleType = "once"
	ScheduleTypeCron ScheduleType = "cron"
)

// Job represents a container-based workload submitted by a user
type Job struct {
	ID             int64
	UserID         int64
	JobName        string
	ImageURL       string
	ImageFormat    ImageFormat
	DockerFlags    string
	OutputType     OutputType
	OutputPaths    []string
	ScheduleType   ScheduleType
	CronExpression string
	Notes          string
	State          JobState
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate checks the structural invariants of a job. It does not touch the
// store; state transitions are validated by the modules that perform them.
func (j *Job) Validate() error {
	if j.JobName == "" {
		return fmt.Errorf("job name is required")
	}
	if j.ImageURL == "" {
		return fmt.Errorf("image url is required")
	}
	switch j.ImageFormat {
	case ImageFormatTarball, ImageFormatDockerRegistry:
	default:
		return fmt.Errorf("unknown image format: %q", j.ImageFormat)
	}
	switch j.OutputType {
	case OutputTypeStdout:
	case OutputTypeFiles:
		if len(j.OutputPaths) == 0 {
			return fmt.Errorf("output type %q requires output paths", j.OutputType)
		}
	default:
		return fmt.Errorf("unknown output type: %q", j.OutputType)
	}
	switch j.ScheduleType {
	case ScheduleTypeOnce:
	case ScheduleTypeCron:
		if j.CronExpression == "" {
			return fmt.Errorf("schedule type %q requires a cron expression", j.ScheduleType)
		}
	default:
		return fmt.Errorf("unknown schedule type: %q", j.ScheduleType)
	}
	return nil
}

// Worker represents a remote execution node registered by a user
type Worker struct {
	ID            int64
	UserID        int64
	Label         string
	IPAddress     string
	Hostname      string
	OS            string
	Arch          string
	DockerVersion string
	Tags          []string
	CreatedAt     time.Time
	LastSeenAt    *time.Time
}

// WorkerState is the liveness state of a worker as maintained by the dispatcher
type WorkerState string

const (
	WorkerStateIdle        WorkerState = "idle"
	WorkerStateBusy        WorkerState = "busy"
	WorkerStateOffline     WorkerState = "offline"
	WorkerStateUnreachable WorkerState = "unreachable"
)

// WorkerStatus is the one-per-worker liveness record. Status transitions are
// exclusively owned by the dispatcher.
type WorkerStatus struct {
	WorkerID      int64
	Status        WorkerState
	LastHeartbeat *time.Time
	ActiveJobID   *int64
	UptimeSec     *int64
	LoadAvg       *float64
	LastError     string
	UpdatedAt     time.Time
}

// JobAssignment binds a job to a worker for a single execution attempt.
// At most one assignment per job may be active (FinishedAt == nil).
type JobAssignment struct {
	ID         int64
	JobID      int64
	WorkerID   int64
	AssignedAt time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// Active reports whether the assignment represents an in-flight execution
func (a *JobAssignment) Active() bool {
	return a.FinishedAt == nil
}

// JobResult holds the output of a completed execution
type JobResult struct {
	ID      int64
	JobID   int64
	Stdout  string
	Files   map[string][]byte
	SavedAt time.Time
}

// JobMetric holds execution statistics, upserted on (JobID, WorkerID)
type JobMetric struct {
	ID          int64
	JobID       int64
	WorkerID    int64
	DurationSec *float64
	CPUUsagePct *float64
	MemUsageMB  *float64
	ExitCode    *int
	Timestamp   time.Time
}
