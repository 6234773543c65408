package dispatcher

import (
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swarmsync/swarmsync/pkg/events"
	"github.com/swarmsync/swarmsync/pkg/journal"
	"github.com/swarmsync/swarmsync/pkg/pulse"
	"github.com/swarmsync/swarmsync/pkg/shared"
	"github.com/swarmsync/swarmsync/pkg/storage"
	"github.com/swarmsync/swarmsync/pkg/types"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    frame
		wantErr bool
	}{
		{name: "connect", input: "7,CONNECT", want: frame{workerID: 7, verb: VerbConnect}},
		{name: "idle with newline", input: "12,IDLE\n", want: frame{workerID: 12, verb: VerbIdle}},
		{name: "busy with crlf", input: "3,BUSY\r\n", want: frame{workerID: 3, verb: VerbBusy}},
		{name: "disconnect", input: "99,DISCONNECT", want: frame{workerID: 99, verb: VerbDisconnect}},
		{name: "missing verb", input: "7", wantErr: true},
		{name: "too many fields", input: "7,IDLE,extra", wantErr: true},
		{name: "non-numeric id", input: "abc,IDLE", wantErr: true},
		{name: "unknown verb", input: "7,PING", wantErr: true},
		{name: "lowercase verb", input: "7,idle", wantErr: true},
		{name: "empty", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFrame([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextState(t *testing.T) {
	tests := []struct {
		name    string
		current types.WorkerState
		verb    Verb
		want    types.WorkerState
		changed bool
	}{
		{"connect from offline", types.WorkerStateOffline, VerbConnect, types.WorkerStateIdle, true},
		{"connect from unreachable", types.WorkerStateUnreachable, VerbConnect, types.WorkerStateIdle, true},
		{"connect while idle is a no-op", types.WorkerStateIdle, VerbConnect, types.WorkerStateIdle, false},
		{"connect while busy is a no-op", types.WorkerStateBusy, VerbConnect, types.WorkerStateBusy, false},
		{"idle from busy", types.WorkerStateBusy, VerbIdle, types.WorkerStateIdle, true},
		{"idle from unreachable", types.WorkerStateUnreachable, VerbIdle, types.WorkerStateIdle, true},
		{"repeated idle is a no-op", types.WorkerStateIdle, VerbIdle, types.WorkerStateIdle, false},
		{"busy from idle", types.WorkerStateIdle, VerbBusy, types.WorkerStateBusy, true},
		{"busy from unreachable", types.WorkerStateUnreachable, VerbBusy, types.WorkerStateBusy, true},
		{"repeated busy is a no-op", types.WorkerStateBusy, VerbBusy, types.WorkerStateBusy, false},
		{"busy from offline is ignored", types.WorkerStateOffline, VerbBusy, types.WorkerStateOffline, false},
		{"disconnect from idle", types.WorkerStateIdle, VerbDisconnect, types.WorkerStateOffline, true},
		{"disconnect from busy", types.WorkerStateBusy, VerbDisconnect, types.WorkerStateOffline, true},
		{"repeated disconnect is a no-op", types.WorkerStateOffline, VerbDisconnect, types.WorkerStateOffline, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := nextState(tt.current, tt.verb)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func newTestDispatcher(t *testing.T, cfg Config) (*Dispatcher, storage.Store) {
	t.Helper()

	store, err := storage.NewBoltStoreAt(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	bus := events.NewBus()
	broadcaster := pulse.NewBroadcaster(bus)
	res := shared.New(bus, broadcaster, journal.New(store))

	return New(store, res, cfg), store
}

func registerWorker(t *testing.T, store storage.Store, id int64) {
	t.Helper()
	require.NoError(t, store.CreateWorker(&types.Worker{
		ID:        id,
		UserID:    1,
		Label:     "test-worker",
		IPAddress: "10.0.0.1",
		CreatedAt: time.Now().UTC(),
	}))
}

func TestLoadWorkersStartsOffline(t *testing.T) {
	d, store := newTestDispatcher(t, DefaultConfig())
	registerWorker(t, store, 1)
	registerWorker(t, store, 2)

	require.NoError(t, d.loadWorkers())

	for _, id := range []int64{1, 2} {
		status, err := store.GetWorkerStatus(id)
		require.NoError(t, err)
		assert.Equal(t, types.WorkerStateOffline, status.Status)
	}
}

func TestReloadKeepsLiveWorkerStatus(t *testing.T) {
	d, store := newTestDispatcher(t, DefaultConfig())
	registerWorker(t, store, 1)
	require.NoError(t, d.loadWorkers())

	d.handleFrame(frame{workerID: 1, verb: VerbConnect})

	registerWorker(t, store, 2)
	require.NoError(t, d.loadWorkers())

	status, err := store.GetWorkerStatus(1)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateIdle, status.Status, "reload must not reset a live worker")

	status, err = store.GetWorkerStatus(2)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateOffline, status.Status)
}

func TestHandleFrameTransitionsAndPersists(t *testing.T) {
	d, store := newTestDispatcher(t, DefaultConfig())
	registerWorker(t, store, 1)
	require.NoError(t, d.loadWorkers())

	d.handleFrame(frame{workerID: 1, verb: VerbConnect})
	status, err := store.GetWorkerStatus(1)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateIdle, status.Status)
	require.NotNil(t, status.LastHeartbeat)

	d.handleFrame(frame{workerID: 1, verb: VerbBusy})
	status, err = store.GetWorkerStatus(1)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateBusy, status.Status)

	d.handleFrame(frame{workerID: 1, verb: VerbDisconnect})
	status, err = store.GetWorkerStatus(1)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateOffline, status.Status)

	worker, err := store.GetWorker(1)
	require.NoError(t, err)
	assert.NotNil(t, worker.LastSeenAt)
}

func TestHandleFrameRepeatedFramesAreIdempotent(t *testing.T) {
	d, store := newTestDispatcher(t, DefaultConfig())
	registerWorker(t, store, 1)
	require.NoError(t, d.loadWorkers())

	d.handleFrame(frame{workerID: 1, verb: VerbConnect})
	for i := 0; i < 5; i++ {
		d.handleFrame(frame{workerID: 1, verb: VerbIdle})
	}

	status, err := store.GetWorkerStatus(1)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateIdle, status.Status)
}

func TestHandleFrameUnknownWorkerDropped(t *testing.T) {
	d, store := newTestDispatcher(t, DefaultConfig())
	registerWorker(t, store, 1)
	require.NoError(t, d.loadWorkers())

	d.handleFrame(frame{workerID: 42, verb: VerbConnect})

	_, err := store.GetWorkerStatus(42)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSweepMarksSilentWorkersUnreachable(t *testing.T) {
	cfg := Config{Port: 0, ReachableTimeout: 20 * time.Millisecond}
	d, store := newTestDispatcher(t, cfg)
	registerWorker(t, store, 1) // will go idle, then silent
	registerWorker(t, store, 2) // stays offline
	require.NoError(t, d.loadWorkers())

	d.handleFrame(frame{workerID: 1, verb: VerbConnect})
	time.Sleep(2 * cfg.ReachableTimeout)
	d.sweep()

	status, err := store.GetWorkerStatus(1)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateUnreachable, status.Status)

	// Offline workers said goodbye explicitly and are left alone
	status, err = store.GetWorkerStatus(2)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateOffline, status.Status)
}

func TestSweepLeavesFreshWorkersAlone(t *testing.T) {
	cfg := Config{Port: 0, ReachableTimeout: time.Minute}
	d, store := newTestDispatcher(t, cfg)
	registerWorker(t, store, 1)
	require.NoError(t, d.loadWorkers())

	d.handleFrame(frame{workerID: 1, verb: VerbBusy})
	// offline -> BUSY is ignored, go through idle first
	d.handleFrame(frame{workerID: 1, verb: VerbConnect})
	d.handleFrame(frame{workerID: 1, verb: VerbBusy})
	d.sweep()

	status, err := store.GetWorkerStatus(1)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateBusy, status.Status)
}

func TestUnreachableWorkerRecoversOnNextFrame(t *testing.T) {
	cfg := Config{Port: 0, ReachableTimeout: 10 * time.Millisecond}
	d, store := newTestDispatcher(t, cfg)
	registerWorker(t, store, 1)
	require.NoError(t, d.loadWorkers())

	d.handleFrame(frame{workerID: 1, verb: VerbConnect})
	time.Sleep(2 * cfg.ReachableTimeout)
	d.sweep()

	status, err := store.GetWorkerStatus(1)
	require.NoError(t, err)
	require.Equal(t, types.WorkerStateUnreachable, status.Status)

	d.handleFrame(frame{workerID: 1, verb: VerbIdle})
	status, err = store.GetWorkerStatus(1)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateIdle, status.Status)
}

func TestRoutineIdleFrameKeepsScheduledAssignment(t *testing.T) {
	d, store := newTestDispatcher(t, DefaultConfig())
	registerWorker(t, store, 1)
	require.NoError(t, d.loadWorkers())

	d.handleFrame(frame{workerID: 1, verb: VerbConnect})

	// Scheduler marks the worker busy before its first BUSY frame lands
	jobID := int64(5)
	status, err := store.GetWorkerStatus(1)
	require.NoError(t, err)
	status.Status = types.WorkerStateBusy
	status.ActiveJobID = &jobID
	require.NoError(t, store.UpsertWorkerStatus(status))
	prevHeartbeat := *status.LastHeartbeat

	// The worker has not started the job yet and keeps heartbeating IDLE;
	// a no-transition frame must not rewrite the status fields
	d.handleFrame(frame{workerID: 1, verb: VerbIdle})

	status, err = store.GetWorkerStatus(1)
	require.NoError(t, err)
	assert.Equal(t, types.WorkerStateBusy, status.Status)
	require.NotNil(t, status.ActiveJobID)
	assert.Equal(t, jobID, *status.ActiveJobID)
	require.NotNil(t, status.LastHeartbeat)
	assert.False(t, status.LastHeartbeat.Before(prevHeartbeat), "heartbeat must still be refreshed")
}

func TestBusyStateClearsActiveJobOnIdle(t *testing.T) {
	d, store := newTestDispatcher(t, DefaultConfig())
	registerWorker(t, store, 1)
	require.NoError(t, d.loadWorkers())

	d.handleFrame(frame{workerID: 1, verb: VerbConnect})

	// Scheduler owns the busy transition and pins the active job
	jobID := int64(5)
	status, err := store.GetWorkerStatus(1)
	require.NoError(t, err)
	status.Status = types.WorkerStateBusy
	status.ActiveJobID = &jobID
	require.NoError(t, store.UpsertWorkerStatus(status))
	d.handleFrame(frame{workerID: 1, verb: VerbBusy})

	status, err = store.GetWorkerStatus(1)
	require.NoError(t, err)
	require.NotNil(t, status.ActiveJobID)
	assert.Equal(t, jobID, *status.ActiveJobID)

	d.handleFrame(frame{workerID: 1, verb: VerbIdle})
	status, err = store.GetWorkerStatus(1)
	require.NoError(t, err)
	assert.Nil(t, status.ActiveJobID)
}

func TestDispatcherOverUDP(t *testing.T) {
	cfg := Config{Port: 0, ReachableTimeout: time.Second}
	d, store := newTestDispatcher(t, cfg)
	registerWorker(t, store, 1)

	require.NoError(t, d.Start())
	defer func() {
		d.shared.Events.Broadcast(events.EventShutdown)
		d.Wait()
	}()

	conn, err := net.Dial("udp", d.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("1,CONNECT\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := store.GetWorkerStatus(1)
		return err == nil && status.Status == types.WorkerStateIdle
	}, 2*time.Second, 10*time.Millisecond)

	_, err = conn.Write([]byte("garbage"))
	require.NoError(t, err)
	_, err = conn.Write([]byte("1,BUSY\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := store.GetWorkerStatus(1)
		return err == nil && status.Status == types.WorkerStateBusy
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherStopsOnShutdown(t *testing.T) {
	cfg := Config{Port: 0, ReachableTimeout: time.Second}
	d, store := newTestDispatcher(t, cfg)
	registerWorker(t, store, 1)

	require.NoError(t, d.Start())
	d.shared.Events.Broadcast(events.EventShutdown)

	done := make(chan struct{})
	go func() {
		d.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after shutdown event")
	}
}

func TestRestartPicksUpNewWorkers(t *testing.T) {
	cfg := Config{Port: 0, ReachableTimeout: time.Second}
	d, store := newTestDispatcher(t, cfg)
	registerWorker(t, store, 1)

	require.NoError(t, d.Start())
	defer func() {
		d.shared.Events.Broadcast(events.EventShutdown)
		d.Wait()
	}()

	registerWorker(t, store, 2)
	d.shared.Events.Broadcast(events.EventRestart)

	require.Eventually(t, func() bool {
		d.mu.Lock()
		_, ok := d.workers[2]
		d.mu.Unlock()
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	conn, err := net.Dial("udp", d.LocalAddr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("2,CONNECT\n"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		status, err := store.GetWorkerStatus(2)
		return err == nil && status.Status == types.WorkerStateIdle
	}, 2*time.Second, 10*time.Millisecond)
}
