package core

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/swarmsync/swarmsync/pkg/archive"
	"github.com/swarmsync/swarmsync/pkg/config"
	"github.com/swarmsync/swarmsync/pkg/dispatcher"
	"github.com/swarmsync/swarmsync/pkg/events"
	"github.com/swarmsync/swarmsync/pkg/harvester"
	"github.com/swarmsync/swarmsync/pkg/hibernator"
	"github.com/swarmsync/swarmsync/pkg/journal"
	"github.com/swarmsync/swarmsync/pkg/log"
	"github.com/swarmsync/swarmsync/pkg/metrics"
	"github.com/swarmsync/swarmsync/pkg/pulse"
	"github.com/swarmsync/swarmsync/pkg/receiver"
	"github.com/swarmsync/swarmsync/pkg/scheduler"
	"github.com/swarmsync/swarmsync/pkg/shared"
	"github.com/swarmsync/swarmsync/pkg/storage"
	"github.com/swarmsync/swarmsync/pkg/types"
)

// Core wires the store, the event bus, the pulse broadcaster, the journal,
// and the six worker modules into one process. It is the single owner of
// their lifecycles: Run starts everything and blocks until the context is
// cancelled, then drives an orderly shutdown.
type Core struct {
	cfg    config.Config
	store  storage.Store
	bus    *events.Bus
	pulse  *pulse.Broadcaster
	jrnl   *journal.Journal
	shared *shared.Resources
	logger zerolog.Logger

	receiver   *receiver.Receiver
	scheduler  *scheduler.Scheduler
	dispatcher *dispatcher.Dispatcher
	harvester  *harvester.Harvester
	hibernator *hibernator.Hibernator
	archiver   *archive.Archiver
	collector  *metrics.Collector

	httpServer *http.Server
}

// Option adjusts core construction
type Option func(*options)

type options struct {
	executor harvester.WorkerExecutor
	periods  pulse.Periods
}

// WithExecutor sets the execution transport the harvester polls through
func WithExecutor(executor harvester.WorkerExecutor) Option {
	return func(o *options) { o.executor = executor }
}

// WithPulsePeriods overrides the tick cadences; tests shrink them
func WithPulsePeriods(periods pulse.Periods) Option {
	return func(o *options) { o.periods = periods }
}

// New opens the store and builds every module. Nothing runs until Run.
func New(cfg config.Config, opts ...Option) (*Core, error) {
	o := options{
		executor: harvester.PendingExecutor{},
		periods:  pulse.DefaultPeriods(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	var store storage.Store
	var err error
	if cfg.DatabasePath != "" {
		store, err = storage.NewBoltStoreAt(cfg.DatabasePath)
	} else {
		store, err = storage.NewBoltStore(cfg.DataDir)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	bus := events.NewBus()
	broadcaster := pulse.NewBroadcasterWithPeriods(bus, o.periods)
	jrnl := journal.New(store)
	res := shared.New(bus, broadcaster, jrnl)

	c := &Core{
		cfg:    cfg,
		store:  store,
		bus:    bus,
		pulse:  broadcaster,
		jrnl:   jrnl,
		shared: res,
		logger: log.WithComponent("core"),

		receiver:  receiver.New(store, res),
		scheduler: scheduler.New(store, res),
		dispatcher: dispatcher.New(store, res, dispatcher.Config{
			Port:             cfg.HeartbeatPort,
			ReachableTimeout: cfg.ReachableTimeout.Std(),
		}),
		harvester:  harvester.New(store, res, o.executor),
		hibernator: hibernator.New(store, res),
		archiver:   archive.New(store, res, cfg.ArchiveHorizon.Std()),
		collector:  metrics.NewCollector(store),
	}
	return c, nil
}

// Run starts every module and blocks until ctx is cancelled. On return the
// modules have exited, the journal is flushed, and the store is closed.
func (c *Core) Run(ctx context.Context) error {
	metrics.RegisterComponent("store", true, "")

	// The journal drains on the slow pulse, so it subscribes before the
	// tickers start
	c.jrnl.Start(c.pulse.SubscribeSlow(), c.bus.Subscribe())
	c.pulse.Start()
	metrics.RegisterComponent("pulse", true, "")

	if err := c.dispatcher.Start(); err != nil {
		metrics.RegisterComponent("dispatcher", false, err.Error())
		c.shutdown()
		return err
	}
	metrics.RegisterComponent("dispatcher", true, "")

	c.receiver.Start()
	c.scheduler.Start()
	c.harvester.Start()
	c.hibernator.Start()
	c.archiver.Start()
	c.collector.Start()
	c.startHTTP()

	c.bus.Broadcast(events.EventStartup)
	c.jrnl.System(types.ModuleCore, types.ActionSystemStarted)
	c.logger.Info().Int("heartbeat_port", c.cfg.HeartbeatPort).Msg("core started")

	<-ctx.Done()
	c.logger.Info().Msg("core stopping")
	c.shutdown()
	return nil
}

// Restart tells every module to reload its derived state, e.g. the
// dispatcher's worker table
func (c *Core) Restart() {
	c.jrnl.Customf(types.LogLevelInfo, types.ModuleCore, "restart requested")
	c.bus.Broadcast(events.EventRestart)
}

// shutdown broadcasts the stop signal and joins everything in dependency
// order: modules first, then the tickers they subscribe to, then the
// journal's final flush, then the store.
func (c *Core) shutdown() {
	c.jrnl.System(types.ModuleCore, types.ActionSystemShutdown)
	c.bus.Broadcast(events.EventShutdown)

	c.dispatcher.Wait()
	c.receiver.Wait()
	c.scheduler.Wait()
	c.harvester.Wait()
	c.hibernator.Wait()
	c.archiver.Wait()

	c.collector.Stop()
	c.pulse.Stop()
	c.jrnl.Wait()
	// Entries journaled while modules were winding down
	c.jrnl.Flush()

	if c.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.httpServer.Shutdown(shutdownCtx); err != nil {
			c.logger.Error().Err(err).Msg("metrics server shutdown failed")
		}
	}

	if err := c.store.Close(); err != nil {
		c.logger.Error().Err(err).Msg("failed to close store")
	}
	c.logger.Info().Msg("core stopped")
}

// startHTTP serves Prometheus metrics and the health endpoints
func (c *Core) startHTTP() {
	if c.cfg.MetricsAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())

	c.httpServer = &http.Server{Addr: c.cfg.MetricsAddr, Handler: mux}
	go func() {
		if err := c.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			c.logger.Error().Err(err).Str("addr", c.cfg.MetricsAddr).Msg("metrics server failed")
		}
	}()
	c.logger.Info().Str("addr", c.cfg.MetricsAddr).Msg("metrics server listening")
}

// Store exposes the underlying store for the external facade
func (c *Core) Store() storage.Store {
	return c.store
}
