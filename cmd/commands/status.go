package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/marcushq/marcus/internal/assignments"
	"github.com/marcushq/marcus/internal/config"
	"github.com/marcushq/marcus/internal/heartbeat"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show Marcus server status and active assignments",
		Action: runStatus,
	}
}

func runStatus(_ context.Context, cmd *cli.Command) error {
	status, hb, err := heartbeat.Check(config.HeartbeatPath(), 2*time.Minute)
	if err != nil {
		return fmt.Errorf("check heartbeat: %w", err)
	}

	switch status {
	case heartbeat.StatusAlive:
		fmt.Printf("Marcus: ALIVE (PID %d, transport %s, uptime %s)\n",
			hb.PID, hb.Transport, hb.Uptime)
	case heartbeat.StatusStale:
		fmt.Printf("Marcus: STALE (PID %d, last heartbeat %s ago)\n",
			hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
	case heartbeat.StatusDead:
		fmt.Println("Marcus: NOT RUNNING")
	}

	path := persistencePath(cmd)
	store := assignments.NewFileStore(path)
	active, err := store.LoadAll()
	if err != nil {
		return fmt.Errorf("load assignments: %w", err)
	}

	if len(active) == 0 {
		fmt.Println("Active assignments: none")
		return nil
	}
	fmt.Printf("Active assignments: %d\n", len(active))
	for _, a := range active {
		fmt.Printf("  %s -> %s (%d%%, since %s)\n",
			a.AgentID, a.TaskID, a.ProgressPercent, a.AssignedAt.Format(time.RFC3339))
	}
	return nil
}

// persistencePath resolves the assignment store path from config, falling
// back to the default when no config file exists.
func persistencePath(cmd *cli.Command) string {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		cfg = config.Default()
	}
	return cfg.PersistencePath
}
