package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/swarmsync/swarmsync/pkg/agent"
	"github.com/swarmsync/swarmsync/pkg/config"
	"github.com/swarmsync/swarmsync/pkg/core"
	"github.com/swarmsync/swarmsync/pkg/log"
	"github.com/swarmsync/swarmsync/pkg/metrics"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "swarmsync",
	Short: "SwarmSync - Distributed job orchestration",
	Long: `SwarmSync schedules container-based jobs onto remote workers.

The core process tracks worker liveness over UDP heartbeats, matches
queued jobs with idle workers, collects results, wakes cron schedules,
and archives finished work.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"SwarmSync version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(coreCmd)
	rootCmd.AddCommand(agentCmd)
}

var coreCmd = &cobra.Command{
	Use:   "core",
	Short: "Run the orchestration core",
	Long: `Run the SwarmSync core: store, journal, pulse tickers, and the
receiver, scheduler, dispatcher, harvester, hibernator, and archive
modules. SIGINT or SIGTERM shuts the core down cleanly; SIGHUP makes it
reload derived state such as the dispatcher's worker table.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON,
		})
		metrics.SetVersion(Version)

		c, err := core.New(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		go func() {
			for sig := range sigCh {
				if sig == syscall.SIGHUP {
					c.Restart()
					continue
				}
				cancel()
				return
			}
		}()

		return c.Run(ctx)
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a worker heartbeat agent",
	Long: `Run the worker-side heartbeat agent. It announces the worker to
the core and keeps reporting its state until interrupted, then says
goodbye so the core marks the worker offline rather than unreachable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		workerID, _ := cmd.Flags().GetInt64("worker-id")
		coreAddr, _ := cmd.Flags().GetString("core-addr")
		logLevel, _ := cmd.Flags().GetString("log-level")

		if workerID <= 0 {
			return fmt.Errorf("--worker-id is required")
		}

		log.Init(log.Config{Level: log.Level(logLevel)})

		a := agent.New(workerID, coreAddr)
		if err := a.Start(); err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		a.Stop()
		return nil
	},
}

func init() {
	coreCmd.Flags().String("config", "", "Path to the core YAML config file")

	agentCmd.Flags().Int64("worker-id", 0, "Registered worker id")
	agentCmd.Flags().String("core-addr", "127.0.0.1:5001", "Core heartbeat address")
	agentCmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
}
