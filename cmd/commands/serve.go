package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/dohr-michael/magpie/internal/config"
	"github.com/dohr-michael/magpie/internal/drivers"
	"github.com/dohr-michael/magpie/internal/events"
	"github.com/dohr-michael/magpie/internal/gateway"
	"github.com/dohr-michael/magpie/internal/heartbeat"
	"github.com/dohr-michael/magpie/internal/maintenance"
	"github.com/dohr-michael/magpie/internal/storage"
	"github.com/dohr-michael/magpie/internal/tasks"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the magpie scrape service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
			&cli.IntFlag{
				Name:  "drivers",
				Usage: "Browser driver pool capacity",
			},
			&cli.BoolFlag{
				Name:  "visible",
				Usage: "Show browser windows instead of running headless",
			},
		},
		Action: runServe,
	}
}

func runServe(_ context.Context, cmd *cli.Command) error {
	// Load config
	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}

	setupLogging(cfg.Logging, cmd.Bool("debug"))

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Server.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Server.Port = cmd.Int("port")
	}
	if cmd.IsSet("drivers") {
		cfg.Drivers.Capacity = cmd.Int("drivers")
	}
	if cmd.IsSet("visible") {
		cfg.Drivers.Visible = cmd.Bool("visible")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// SIGHUP re-reads the config file and re-applies logging
	reloader := config.NewReloader(configPath, config.DotenvPath(), cfg)
	reloader.OnReload(func(c *config.Config) {
		setupLogging(c.Logging, cmd.Bool("debug"))
	})
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-hup:
				if err := reloader.Reload(); err != nil {
					slog.Warn("config reload failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// Event bus
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	// Site profile for the browser drivers
	profile := drivers.DefaultProfile()
	if cfg.Drivers.ProfilePath != "" {
		profile, err = drivers.LoadProfile(cfg.Drivers.ProfilePath)
		if err != nil {
			return fmt.Errorf("load site profile: %w", err)
		}
	}

	// Driver pool
	factory := drivers.NewRodFactory(drivers.RodConfig{
		Profile:       profile,
		Visible:       cfg.Drivers.Visible,
		BrowserPath:   cfg.Drivers.BrowserPath,
		NavTimeout:    cfg.Drivers.NavTimeout.Duration(),
		StableTimeout: cfg.Drivers.StableTimeout.Duration(),
	})
	pool := drivers.NewPool(factory, cfg.Drivers.Capacity, bus)
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("start driver pool: %w", err)
	}
	defer pool.Shutdown()

	// Task manager
	manager := tasks.NewManager(tasks.NewRegistry(), pool, bus, tasks.ManagerConfig{
		MaxWorkers:   cfg.Scheduler.MaxWorkers,
		PollInterval: cfg.Scheduler.PollInterval.Duration(),
		TickInterval: cfg.Scheduler.TickInterval.Duration(),
	})
	manager.Start()

	// On-disk archive with its sqlite index
	dataDir := cfg.Storage.DataDir
	index, err := storage.OpenIndex(filepath.Join(dataDir, "index.db"))
	if err != nil {
		return fmt.Errorf("open archive index: %w", err)
	}
	defer index.Close()
	archive, err := storage.NewArchive(filepath.Join(dataDir, "archive"), index)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	unwatch := archive.WatchBus(bus, func(id string) (tasks.Task, bool) {
		t, err := manager.GetStatus(id)
		return t, err == nil
	})
	defer unwatch()

	// Event log and daily counters
	eventLog := storage.NewEventLog(filepath.Join(dataDir, "events.jsonl"), bus)
	defer eventLog.Close()
	stats, err := storage.NewStatsTracker(filepath.Join(dataDir, "stats"), bus)
	if err != nil {
		return fmt.Errorf("open stats: %w", err)
	}
	defer stats.Close()

	// Optional NATS event sink
	if cfg.Events.NATS.Enabled {
		sink, err := storage.NewNATSSink(cfg.Events.NATS.URL, cfg.Events.NATS.SubjectPrefix, bus)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer sink.Close()
	}

	// Periodic maintenance sweep
	sweeper, err := maintenance.NewSweeper(manager, bus, cfg.Maintenance.SweepSchedule, cfg.Maintenance.EvictAfter.Duration())
	if err != nil {
		return fmt.Errorf("parse sweep schedule: %w", err)
	}
	go sweeper.Run(ctx)

	// Heartbeat file for `magpie status`
	hb := heartbeat.NewWriter(filepath.Join(config.MagpiePath(), "heartbeat.json"), func() heartbeat.Snapshot {
		s := manager.Stats()
		live := s.Tasks[tasks.StatusCreated] + s.Tasks[tasks.StatusPending] +
			s.Tasks[tasks.StatusRunning] + s.Tasks[tasks.StatusStopping]
		return heartbeat.Snapshot{
			LiveTasks:    live,
			PoolCapacity: s.Pool.Capacity,
			PoolIdle:     s.Pool.Idle,
			PoolActive:   s.Pool.Active,
		}
	})
	hb.Start()
	defer hb.Stop()

	// Gateway server
	server := gateway.NewServer(bus, manager, cfg.Server.Host, cfg.Server.Port)
	server.SetStats(stats)
	server.SetArchive(archive, index)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for signal or error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server shutdown", "error", err)
		}
		return manager.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// setupLogging installs the default slog handler per config. The debug flag
// forces debug level regardless of config.
func setupLogging(cfg config.LoggingConfig, debug bool) {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		// auto: human-readable on a terminal, JSON when piped
		if term.IsTerminal(int(os.Stderr.Fd())) {
			handler = slog.NewTextHandler(os.Stderr, opts)
		} else {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		}
	}
	slog.SetDefault(slog.New(handler))
}
