package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/marcushq/marcus/internal/ai"
	"github.com/marcushq/marcus/internal/assignments"
	"github.com/marcushq/marcus/internal/board"
	"github.com/marcushq/marcus/internal/config"
	"github.com/marcushq/marcus/internal/coordinator"
	"github.com/marcushq/marcus/internal/events"
	"github.com/marcushq/marcus/internal/mcptools"
	"github.com/marcushq/marcus/internal/monitor"
	"github.com/marcushq/marcus/internal/storage"
)

// runtime bundles the wired coordinator stack shared by serve and gateway.
type runtime struct {
	cfg      *config.Config
	coord    *coordinator.Coordinator
	registry *mcptools.Registry
	bus      *events.Bus
	mon      *monitor.Monitor
	eventLog *storage.EventLogger
	log      *slog.Logger
}

func (rt *runtime) Close() {
	if rt.eventLog != nil {
		rt.eventLog.Close()
	}
	if rt.bus != nil {
		rt.bus.Close()
	}
}

// setupRuntime loads config and wires the board, assignment store, AI
// enricher, event bus and coordinator. A missing config file falls back to
// defaults; an invalid one is an error. When strict_startup is set an
// unreachable board aborts with exit code 2.
func setupRuntime(ctx context.Context, cmd *cli.Command, log *slog.Logger) (*runtime, error) {
	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load config: %w", err)
		}
		log.Warn("config not found, using defaults", "path", configPath)
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	provider, err := board.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init board: %w", err)
	}

	store := assignments.NewFileStore(cfg.PersistencePath)

	enricher, err := ai.New(ctx, cfg.AI, log)
	if err != nil {
		return nil, fmt.Errorf("init ai: %w", err)
	}

	bus := events.NewBus(1024)
	eventLog := storage.NewEventLogger(config.EventLogDir(), bus)

	coord := coordinator.New(provider, store, enricher, bus, cfg.Monitor.StallThreshold.Duration(), log)
	if err := coord.Recover(ctx); err != nil {
		bus.Close()
		return nil, fmt.Errorf("recover assignments: %w", err)
	}

	if err := provider.Connect(ctx); err != nil {
		if cfg.StrictStartup {
			bus.Close()
			return nil, cli.Exit(fmt.Sprintf("board unreachable: %v", err), 2)
		}
		log.Warn("board unreachable, continuing", "error", err)
	}

	mon, err := monitor.New(coord, cfg.Monitor.Interval.Duration(), cfg.Monitor.StallSweepCron, log)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("init monitor: %w", err)
	}

	registry := mcptools.BuildRegistry(coord, cfg.ToolCallTimeout.Duration())

	return &runtime{
		cfg:      cfg,
		coord:    coord,
		registry: registry,
		bus:      bus,
		mon:      mon,
		eventLog: eventLog,
		log:      log,
	}, nil
}

func stderrLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
