package journal

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/swarmsync/swarmsync/pkg/events"
	"github.com/swarmsync/swarmsync/pkg/log"
	"github.com/swarmsync/swarmsync/pkg/metrics"
	"github.com/swarmsync/swarmsync/pkg/pulse"
	"github.com/swarmsync/swarmsync/pkg/storage"
	"github.com/swarmsync/swarmsync/pkg/types"
)

// maxBuffer caps the in-memory buffer. When the cap is hit the oldest entry
// is dropped and the next flush records how many were lost.
const maxBuffer = 10000

// Journal is the buffered, leveled log sink shared by every module. Log
// never blocks beyond the buffer lock; entries drain to the store on each
// slow pulse and on restart/shutdown.
type Journal struct {
	store  storage.Store
	logger zerolog.Logger

	mu      sync.Mutex
	buffer  []types.LogEntry
	dropped int

	wg sync.WaitGroup
}

// New creates a journal backed by the given store
func New(store storage.Store) *Journal {
	return &Journal{
		store:  store,
		logger: log.WithComponent("journal"),
	}
}

// Log appends one entry to the buffer. CreatedAt and ExpiresAt are assigned
// here from the level's TTL. Never returns an error to the caller.
func (j *Journal) Log(entry types.LogEntry) {
	now := time.Now().UTC()
	entry.CreatedAt = now
	entry.ExpiresAt = now.Add(entry.Level.TTL())

	j.mu.Lock()
	defer j.mu.Unlock()

	if len(j.buffer) >= maxBuffer {
		j.buffer = j.buffer[1:]
		j.dropped++
	}
	j.buffer = append(j.buffer, entry)
	metrics.JournalBufferSize.Set(float64(len(j.buffer)))
}

// Custom logs a free-form message
func (j *Journal) Custom(level types.LogLevel, module types.Module, msg string) {
	j.Log(types.LogEntry{
		Level:     level,
		Module:    module,
		Action:    types.ActionCustom,
		CustomMsg: msg,
	})
}

// Customf logs a formatted free-form message
func (j *Journal) Customf(level types.LogLevel, module types.Module, format string, args ...any) {
	j.Custom(level, module, fmt.Sprintf(format, args...))
}

// ClientConnected logs a worker appearing on the liveness channel
func (j *Journal) ClientConnected(module types.Module, payload types.ClientConnectedPayload) {
	j.Log(types.LogEntry{
		Level:           types.LogLevelInfo,
		Module:          module,
		Action:          types.ActionClientConnected,
		ClientConnected: &payload,
	})
}

// JobSubmitted logs a job entering the queue
func (j *Journal) JobSubmitted(module types.Module, payload types.JobSubmittedPayload) {
	j.Log(types.LogEntry{
		Level:        types.LogLevelSuccess,
		Module:       module,
		Action:       types.ActionJobSubmitted,
		JobSubmitted: &payload,
	})
}

// JobCompleted logs a job reaching a terminal state
func (j *Journal) JobCompleted(level types.LogLevel, module types.Module, payload types.JobCompletedPayload) {
	j.Log(types.LogEntry{
		Level:        level,
		Module:       module,
		Action:       types.ActionJobCompleted,
		JobCompleted: &payload,
	})
}

// System logs a lifecycle action for a module
func (j *Journal) System(module types.Module, action types.LogAction) {
	j.Log(types.LogEntry{
		Level:  types.LogLevelInfo,
		Module: module,
		Action: action,
	})
}

// Start runs the drain loop: expiry sweep plus flush on every slow pulse,
// flush only on restart, flush and exit on shutdown
func (j *Journal) Start(slow pulse.Ticks, lifecycle events.Receiver) {
	j.wg.Add(1)
	go j.run(slow, lifecycle)
}

// Wait blocks until the drain loop has exited
func (j *Journal) Wait() {
	j.wg.Wait()
}

func (j *Journal) run(slow pulse.Ticks, lifecycle events.Receiver) {
	defer j.wg.Done()

	for {
		select {
		case <-slow:
			j.tryClean()
			j.Flush()
		case ev, ok := <-lifecycle:
			if !ok {
				j.Flush()
				return
			}
			switch ev {
			case events.EventRestart:
				j.Flush()
			case events.EventShutdown:
				j.Flush()
				return
			}
		}
	}
}

// tryClean deletes stored rows whose TTL has lapsed
func (j *Journal) tryClean() {
	deleted, err := j.store.DeleteExpiredLogs(time.Now().UTC())
	if err != nil {
		j.logger.Error().Err(err).Msg("failed to delete expired log rows")
		return
	}
	if deleted > 0 {
		metrics.JournalEntriesExpired.Add(float64(deleted))
	}
}

// Flush drains the buffer to the store in submission order. On store failure
// the drained entries are put back at the front of the buffer so nothing is
// lost short of a crash.
func (j *Journal) Flush() {
	j.mu.Lock()
	batch := j.buffer
	dropped := j.dropped
	j.buffer = nil
	j.dropped = 0
	j.mu.Unlock()

	if dropped > 0 {
		overflow := types.LogEntry{
			Level:     types.LogLevelWarning,
			Module:    types.ModuleJournal,
			Action:    types.ActionCustom,
			CustomMsg: fmt.Sprintf("journal buffer overflow, %d entries dropped", dropped),
		}
		now := time.Now().UTC()
		overflow.CreatedAt = now
		overflow.ExpiresAt = now.Add(overflow.Level.TTL())
		batch = append(batch, overflow)
	}

	if len(batch) == 0 {
		return
	}

	timer := metrics.NewTimer()
	rows := make([]types.DBLogEntry, len(batch))
	for i, entry := range batch {
		row := types.NewDBLogEntry(entry)
		row.ID = uuid.New().String()
		rows[i] = row
	}

	if err := j.store.AppendLogs(rows); err != nil {
		j.logger.Error().Err(err).Int("entries", len(batch)).Msg("journal flush failed, retrying next pulse")
		j.mu.Lock()
		// The overflow marker is already part of the batch, so the dropped
		// counter stays reset
		j.buffer = append(batch, j.buffer...)
		j.mu.Unlock()
		return
	}

	timer.ObserveDuration(metrics.JournalFlushDuration)
	metrics.JournalEntriesFlushed.Add(float64(len(rows)))
	metrics.JournalBufferSize.Set(float64(j.BufferLen()))
}

// BufferLen reports the number of entries waiting to be flushed
func (j *Journal) BufferLen() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.buffer)
}
