package core

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/swarmsync/swarmsync/pkg/agent"
	"github.com/swarmsync/swarmsync/pkg/config"
	"github.com/swarmsync/swarmsync/pkg/harvester"
	"github.com/swarmsync/swarmsync/pkg/pulse"
	"github.com/swarmsync/swarmsync/pkg/types"
)

// successExecutor finishes every assignment on first poll
type successExecutor struct{}

func (successExecutor) Poll(_ context.Context, _ *types.JobAssignment) (*harvester.PollResult, error) {
	return &harvester.PollResult{Status: harvester.PollSucceeded, Stdout: "ok\n"}, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "core.db")
	cfg.HeartbeatPort = 0 // ephemeral
	cfg.ReachableTimeout = config.Duration(time.Second)
	cfg.MetricsAddr = "" // no server in tests
	return cfg
}

func fastPeriods() pulse.Periods {
	return pulse.Periods{
		Slow:   50 * time.Millisecond,
		Medium: 10 * time.Millisecond,
		Fast:   5 * time.Millisecond,
	}
}

func TestCoreRunsJobEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, WithExecutor(successExecutor{}), WithPulsePeriods(fastPeriods()))
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, c.Store().CreateWorker(&types.Worker{
		ID: 1, UserID: 1, Label: "w1", IPAddress: "127.0.0.1", CreatedAt: now,
	}))
	require.NoError(t, c.Store().CreateJob(&types.Job{
		ID:           1,
		UserID:       1,
		JobName:      "hello",
		ImageURL:     "registry.local/hello:1",
		ImageFormat:  types.ImageFormatDockerRegistry,
		OutputType:   types.OutputTypeStdout,
		ScheduleType: types.ScheduleTypeOnce,
		State:        types.JobStateSubmitted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return c.dispatcher.LocalAddr() != nil
	}, 2*time.Second, 10*time.Millisecond)

	a := agent.NewWithInterval(1, c.dispatcher.LocalAddr().String(), 5*time.Millisecond)
	require.NoError(t, a.Start())
	defer a.Stop()

	require.Eventually(t, func() bool {
		job, err := c.Store().GetJob(1)
		return err == nil && job.State == types.JobStateCompleted
	}, 10*time.Second, 20*time.Millisecond, "job should travel submitted -> queued -> running -> completed")

	results, err := c.Store().ListResultsByJob(1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ok\n", results[0].Stdout)

	cancel()
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("core did not shut down")
	}
}

func TestCoreRejectsInvalidJob(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, WithPulsePeriods(fastPeriods()))
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, c.Store().CreateJob(&types.Job{
		ID:           1,
		UserID:       1,
		JobName:      "broken",
		ImageFormat:  types.ImageFormatTarball, // no image url
		OutputType:   types.OutputTypeStdout,
		ScheduleType: types.ScheduleTypeOnce,
		State:        types.JobStateSubmitted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		job, err := c.Store().GetJob(1)
		return err == nil && job.State == types.JobStateFailed
	}, 5*time.Second, 20*time.Millisecond)

	job, err := c.Store().GetJob(1)
	require.NoError(t, err)
	assert.Contains(t, job.ErrorMessage, "image url")

	cancel()
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("core did not shut down")
	}
}

func TestCoreShutdownFlushesJournal(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, WithPulsePeriods(fastPeriods()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return c.dispatcher.LocalAddr() != nil
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("core did not shut down")
	}

	// The store is closed after shutdown; reopen it to inspect the journal
	reopened, err := New(cfg)
	require.NoError(t, err)
	rows, err := reopened.Store().ListLogs()
	require.NoError(t, err)

	var started, stopped bool
	for _, row := range rows {
		if row.Module == types.ModuleCore && row.Action == types.ActionSystemStarted {
			started = true
		}
		if row.Module == types.ModuleCore && row.Action == types.ActionSystemShutdown {
			stopped = true
		}
	}
	assert.True(t, started, "system-started entry should survive shutdown")
	assert.True(t, stopped, "system-shutdown entry should survive shutdown")
	require.NoError(t, reopened.Store().Close())
}

func TestCoreRestartReloadsWorkers(t *testing.T) {
	cfg := testConfig(t)
	c, err := New(cfg, WithPulsePeriods(fastPeriods()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- c.Run(ctx) }()
	defer func() {
		cancel()
		<-runDone
	}()

	require.Eventually(t, func() bool {
		return c.dispatcher.LocalAddr() != nil
	}, 2*time.Second, 10*time.Millisecond)

	now := time.Now().UTC()
	require.NoError(t, c.Store().CreateWorker(&types.Worker{
		ID: 9, UserID: 1, Label: "late", IPAddress: "127.0.0.1", CreatedAt: now,
	}))
	c.Restart()

	a := agent.NewWithInterval(9, c.dispatcher.LocalAddr().String(), 5*time.Millisecond)
	require.NoError(t, a.Start())
	defer a.Stop()

	require.Eventually(t, func() bool {
		status, err := c.Store().GetWorkerStatus(9)
		return err == nil && status.Status == types.WorkerStateIdle
	}, 5*time.Second, 20*time.Millisecond)
}
