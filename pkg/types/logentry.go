package types

import "time"

// LogLevel is the severity of a journal entry
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelSuccess LogLevel = "success"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
	LogLevelFatal   LogLevel = "fatal"
)

// TTL returns how long an entry of this level is retained in the store
func (l LogLevel) TTL() time.Duration {
	switch l {
	case LogLevelInfo:
		return 5 * time.Minute
	case LogLevelSuccess:
		return 24 * time.Hour
	case LogLevelWarning:
		return 3 * 24 * time.Hour
	default: // error, fatal
		return 7 * 24 * time.Hour
	}
}

// Module identifies the core module that emitted a journal entry
type Module string

const (
	ModuleDispatcher  Module = "dispatcher"
	ModuleHarvester   Module = "harvester"
	ModuleHibernator  Module = "hibernator"
	ModuleReceiver    Module = "receiver"
	ModuleScheduler   Module = "scheduler"
	ModuleTaskArchive Module = "task-archive"

	// ModuleJournal marks entries emitted by the log subsystem itself,
	// e.g. buffer overflow warnings
	ModuleJournal Module = "journal"

	// ModuleCore marks process-level lifecycle entries
	ModuleCore Module = "core"
)

// LogAction classifies what a journal entry records
type LogAction string

const (
	ActionClientConnected LogAction = "client-connected"
	ActionJobSubmitted    LogAction = "job-submitted"
	ActionJobCompleted    LogAction = "job-completed"
	ActionSystemStarted   LogAction = "system-started"
	ActionSystemShutdown  LogAction = "system-shutdown"
	ActionCustom          LogAction = "custom"
)

// ClientConnectedPayload records a worker appearing on the liveness channel
type ClientConnectedPayload struct {
	WorkerID int64
	Address  string
}

// JobSubmittedPayload records a job entering the queue
type JobSubmittedPayload struct {
	JobID   int64
	JobName string
}

// JobCompletedPayload records a job reaching a terminal state
type JobCompletedPayload struct {
	JobID    int64
	WorkerID int64
	ExitCode int
}

// LogEntry is the in-memory journal entry as emitted by modules. At most one
// of the payload pointers is set, matching the action.
type LogEntry struct {
	Level           LogLevel
	Module          Module
	Action          LogAction
	CreatedAt       time.Time
	ExpiresAt       time.Time
	ClientConnected *ClientConnectedPayload
	JobSubmitted    *JobSubmittedPayload
	JobCompleted    *JobCompletedPayload
	CustomMsg       string
}

// DBLogEntry is the stored shape of a journal entry with the optional
// payloads flattened into nullable columns.
type DBLogEntry struct {
	ID                string
	Level             LogLevel
	Module            Module
	Action            LogAction
	CreatedAt         time.Time
	ExpiresAt         time.Time
	ClientWorkerID    *int64
	ClientAddress     *string
	SubmittedJobID    *int64
	SubmittedJobName  *string
	CompletedJobID    *int64
	CompletedWorkerID *int64
	CompletedExitCode *int
	CustomMsg         string
}

// NewDBLogEntry flattens an in-memory entry for storage. The caller assigns
// the row ID.
func NewDBLogEntry(e LogEntry) DBLogEntry {
	db := DBLogEntry{
		Level:     e.Level,
		Module:    e.Module,
		Action:    e.Action,
		CreatedAt: e.CreatedAt,
		ExpiresAt: e.ExpiresAt,
		CustomMsg: e.CustomMsg,
	}
	if p := e.ClientConnected; p != nil {
		db.ClientWorkerID = ptr(p.WorkerID)
		db.ClientAddress = ptr(p.Address)
	}
	if p := e.JobSubmitted; p != nil {
		db.SubmittedJobID = ptr(p.JobID)
		db.SubmittedJobName = ptr(p.JobName)
	}
	if p := e.JobCompleted; p != nil {
		db.CompletedJobID = ptr(p.JobID)
		db.CompletedWorkerID = ptr(p.WorkerID)
		db.CompletedExitCode = ptr(p.ExitCode)
	}
	return db
}

// ToLogEntry hydrates the flattened payloads back into the in-memory shape
func (db DBLogEntry) ToLogEntry() LogEntry {
	e := LogEntry{
		Level:     db.Level,
		Module:    db.Module,
		Action:    db.Action,
		CreatedAt: db.CreatedAt,
		ExpiresAt: db.ExpiresAt,
		CustomMsg: db.CustomMsg,
	}
	if db.ClientWorkerID != nil {
		e.ClientConnected = &ClientConnectedPayload{
			WorkerID: *db.ClientWorkerID,
			Address:  deref(db.ClientAddress),
		}
	}
	if db.SubmittedJobID != nil {
		e.JobSubmitted = &JobSubmittedPayload{
			JobID:   *db.SubmittedJobID,
			JobName: deref(db.SubmittedJobName),
		}
	}
	if db.CompletedJobID != nil {
		p := &JobCompletedPayload{JobID: *db.CompletedJobID}
		if db.CompletedWorkerID != nil {
			p.WorkerID = *db.CompletedWorkerID
		}
		if db.CompletedExitCode != nil {
			p.ExitCode = *db.CompletedExitCode
		}
		e.JobCompleted = p
	}
	return e
}

func ptr[T any](v T) *T { return &v }

func deref[T any](p *T) T {
	if p == nil {
		var zero T
		return zero
	}
	return *p
}
