package dispatcher

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/swarmsync/swarmsync/pkg/events"
	"github.com/swarmsync/swarmsync/pkg/log"
	"github.com/swarmsync/swarmsync/pkg/metrics"
	"github.com/swarmsync/swarmsync/pkg/pulse"
	"github.com/swarmsync/swarmsync/pkg/shared"
	"github.com/swarmsync/swarmsync/pkg/storage"
	"github.com/swarmsync/swarmsync/pkg/types"
)

const (
	// DefaultPort is the well-known UDP heartbeat port
	DefaultPort = 5001

	// DefaultReachableTimeout is how long a worker may stay silent before
	// the sweep declares it unreachable (40 missed heartbeats at 50ms)
	DefaultReachableTimeout = 2 * time.Second
)

// Config holds dispatcher tunables
type Config struct {
	Port             int
	ReachableTimeout time.Duration
}

// DefaultConfig returns the production dispatcher settings
func DefaultConfig() Config {
	return Config{
		Port:             DefaultPort,
		ReachableTimeout: DefaultReachableTimeout,
	}
}

// liveness is the in-memory record per worker: metadata, current state,
// and the monotonic instant of the last frame. seq orders transitions so
// persisted status is always a prefix of the in-memory history.
type liveness struct {
	meta     *types.Worker
	status   types.WorkerState
	lastSeen time.Time
	seq      uint64

	// persistMu serializes store writes for this worker; persistedSeq
	// tracks the newest transition already written
	persistMu    sync.Mutex
	persistedSeq uint64
}

// Dispatcher owns worker liveness. It decodes UDP heartbeat frames into
// state transitions, sweeps for silent workers on the fast pulse, and is
// the only writer of WorkerStatus rows.
type Dispatcher struct {
	store  storage.Store
	shared *shared.Resources
	cfg    Config
	logger zerolog.Logger

	// mu guards workers; it is held briefly and never across a store call
	mu      sync.Mutex
	workers map[int64]*liveness

	conn *net.UDPConn
	wg   sync.WaitGroup
}

// New creates a dispatcher
func New(store storage.Store, res *shared.Resources, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:   store,
		shared:  res,
		cfg:     cfg,
		logger:  log.WithComponent("dispatcher"),
		workers: make(map[int64]*liveness),
	}
}

// Start loads the worker table, binds the heartbeat socket, and spawns the
// receive and sweep loops. Binding failure is fatal for the process.
func (d *Dispatcher) Start() error {
	if err := d.loadWorkers(); err != nil {
		return fmt.Errorf("failed to load workers: %w", err)
	}

	addr := &net.UDPAddr{Port: d.cfg.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		d.shared.Journal.Customf(types.LogLevelFatal, types.ModuleDispatcher,
			"cannot bind heartbeat socket on port %d: %s", d.cfg.Port, err)
		return fmt.Errorf("failed to bind udp port %d: %w", d.cfg.Port, err)
	}
	d.conn = conn
	d.logger.Info().Int("port", d.cfg.Port).Msg("heartbeat socket bound")

	// Subscribe before spawning so a broadcast issued right after Start
	// returns is never lost
	ticks := d.shared.Pulse.SubscribeFast()
	sweepLifecycle := d.shared.Events.Subscribe()
	watchLifecycle := d.shared.Events.Subscribe()

	d.wg.Add(3)
	go d.receiveLoop()
	go d.sweepLoop(ticks, sweepLifecycle)
	go d.watchLifecycle(watchLifecycle)
	return nil
}

// Wait blocks until every dispatcher task has exited
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// LocalAddr returns the bound heartbeat address, or nil before Start
func (d *Dispatcher) LocalAddr() net.Addr {
	if d.conn == nil {
		return nil
	}
	return d.conn.LocalAddr()
}

// loadWorkers fills the liveness table from the store. Every worker starts
// offline; initial status rows are persisted so the store and the table
// agree at startup.
func (d *Dispatcher) loadWorkers() error {
	workers, err := d.store.ListWorkers()
	if err != nil {
		return err
	}

	now := time.Now()
	var added []*types.Worker

	d.mu.Lock()
	for _, w := range workers {
		if _, ok := d.workers[w.ID]; ok {
			continue
		}
		d.workers[w.ID] = &liveness{
			meta:     w,
			status:   types.WorkerStateOffline,
			lastSeen: now,
			seq:      1,
		}
		added = append(added, w)
	}
	d.mu.Unlock()

	// Only newly tracked workers get an initial status row; a reload must
	// not clobber the live status of workers already heartbeating
	wall := time.Now().UTC()
	for _, w := range added {
		status := &types.WorkerStatus{
			WorkerID:  w.ID,
			Status:    types.WorkerStateOffline,
			UpdatedAt: wall,
		}
		if err := d.store.UpsertWorkerStatus(status); err != nil {
			d.logger.Error().Err(err).Int64("worker_id", w.ID).Msg("failed to persist initial status")
		}
	}

	d.logger.Info().Int("workers", len(workers)).Int("new", len(added)).Msg("worker table loaded")
	return nil
}

// receiveLoop reads heartbeat datagrams until the socket is closed
func (d *Dispatcher) receiveLoop() {
	defer d.wg.Done()

	buf := make([]byte, 256)
	for {
		n, _, err := d.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			d.logger.Error().Err(err).Msg("heartbeat read failed")
			continue
		}

		f, err := parseFrame(buf[:n])
		if err != nil {
			metrics.MalformedFrames.Inc()
			d.logger.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}

		metrics.HeartbeatsReceived.Inc()
		d.handleFrame(f)
	}
}

// handleFrame applies one frame to the state machine. The map mutation and
// last-seen refresh happen inside the critical section; persistence runs
// after it with the values captured there.
func (d *Dispatcher) handleFrame(f frame) {
	now := time.Now()

	d.mu.Lock()
	lv, ok := d.workers[f.workerID]
	if !ok {
		d.mu.Unlock()
		// Worker was never registered; not a liveness event
		d.logger.Debug().Int64("worker_id", f.workerID).Msg("heartbeat from unknown worker ignored")
		return
	}

	prev := lv.status
	next, changed := nextState(prev, f.verb)
	lv.lastSeen = now
	if changed {
		lv.status = next
		lv.seq++
	}
	seq := lv.seq
	d.mu.Unlock()

	d.persist(lv, next, seq, changed)

	if changed {
		if prev == types.WorkerStateOffline {
			d.shared.Journal.ClientConnected(types.ModuleDispatcher, types.ClientConnectedPayload{
				WorkerID: f.workerID,
				Address:  lv.meta.IPAddress,
			})
		}
		d.shared.Journal.Customf(types.LogLevelInfo, types.ModuleDispatcher,
			"Worker %d status -> %s", f.workerID, next)
		d.logger.Info().Int64("worker_id", f.workerID).
			Str("from", string(prev)).Str("to", string(next)).Msg("worker transition")
	}
}

// sweepLoop marks silent idle/busy workers unreachable on every fast pulse
func (d *Dispatcher) sweepLoop(ticks pulse.Ticks, lifecycle events.Receiver) {
	defer d.wg.Done()

	for {
		select {
		case <-ticks:
			d.sweep()
		case ev, ok := <-lifecycle:
			if !ok || ev == events.EventShutdown {
				return
			}
		}
	}
}

// sweep collects stale workers under the lock, then persists outside it.
// Offline workers are declaratively gone and never swept; last-seen is
// left untouched so recovery is driven solely by fresh frames.
func (d *Dispatcher) sweep() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SweepDuration)

	now := time.Now()

	type stale struct {
		lv  *liveness
		seq uint64
	}
	var marked []stale

	d.mu.Lock()
	for _, lv := range d.workers {
		reachable := lv.status == types.WorkerStateIdle || lv.status == types.WorkerStateBusy
		if reachable && now.Sub(lv.lastSeen) > d.cfg.ReachableTimeout {
			lv.status = types.WorkerStateUnreachable
			lv.seq++
			marked = append(marked, stale{lv: lv, seq: lv.seq})
		}
	}
	d.mu.Unlock()

	for _, m := range marked {
		d.persist(m.lv, types.WorkerStateUnreachable, m.seq, true)
		metrics.UnreachableSweeps.Inc()
		d.shared.Journal.Customf(types.LogLevelWarning, types.ModuleDispatcher,
			"Worker %d is UNREACHABLE, no heartbeat for %s", m.lv.meta.ID, d.cfg.ReachableTimeout)
		d.logger.Warn().Int64("worker_id", m.lv.meta.ID).Msg("worker unreachable")
	}
}

// persist writes the worker row and status row for one frame or sweep hit.
// Writes for a worker are serialized and stale sequences are skipped, so
// the persisted status history lags the in-memory one but never forks.
// Only a transition may touch Status and ActiveJobID: a routine heartbeat
// refreshes last-seen and last-heartbeat and leaves the status fields to
// their owner (the scheduler sets Busy with the active job before the
// worker's first BUSY frame arrives). Store failures are logged and not
// retried; the next frame writes fresh state.
func (d *Dispatcher) persist(lv *liveness, state types.WorkerState, seq uint64, transition bool) {
	lv.persistMu.Lock()
	defer lv.persistMu.Unlock()

	if seq < lv.persistedSeq {
		return
	}

	wall := time.Now().UTC()

	worker := *lv.meta
	worker.LastSeenAt = &wall
	if err := d.store.UpdateWorker(&worker); err != nil {
		d.logger.Error().Err(err).Int64("worker_id", worker.ID).Msg("failed to persist worker last-seen")
	}

	status, err := d.store.GetWorkerStatus(worker.ID)
	if err != nil {
		status = &types.WorkerStatus{WorkerID: worker.ID, Status: state}
	}
	status.LastHeartbeat = &wall
	status.UpdatedAt = wall
	if transition {
		status.Status = state
		if state != types.WorkerStateBusy {
			// active_job_id implies busy
			status.ActiveJobID = nil
		}
	}
	if err := d.store.UpsertWorkerStatus(status); err != nil {
		d.logger.Error().Err(err).Int64("worker_id", worker.ID).Msg("failed to persist worker status")
		return
	}
	lv.persistedSeq = seq
}

// watchLifecycle closes the heartbeat socket on shutdown so the receive
// loop unblocks immediately, and reloads the worker table on restart so
// newly registered workers are picked up.
func (d *Dispatcher) watchLifecycle(lifecycle events.Receiver) {
	defer d.wg.Done()

	for ev := range lifecycle {
		switch ev {
		case events.EventShutdown:
			d.conn.Close()
			return
		case events.EventRestart:
			if err := d.loadWorkers(); err != nil {
				d.logger.Error().Err(err).Msg("failed to reload workers")
			}
		}
	}
	d.conn.Close()
}
