// Package monitor runs the background assignment health loop.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/marcushq/marcus/internal/coordinator"
)

// Reconciler is the slice of the coordinator the monitor drives.
type Reconciler interface {
	Reconcile(ctx context.Context) (*coordinator.ReconcileReport, error)
}

// Monitor periodically reconciles persisted assignments against the board
// and, on a cron schedule, reports stalled assignments for operators.
type Monitor struct {
	rec      Reconciler
	interval time.Duration
	sweep    *sweepSchedule
	log      *slog.Logger
}

// New builds a Monitor. sweepExpr schedules the stall report; an empty
// expression disables it.
func New(rec Reconciler, interval time.Duration, sweepExpr string, log *slog.Logger) (*Monitor, error) {
	if interval <= 0 {
		interval = time.Minute
	}

	var sweep *sweepSchedule
	if sweepExpr != "" {
		var err error
		sweep, err = parseSweep(sweepExpr)
		if err != nil {
			return nil, err
		}
		log.Info("stall sweep scheduled",
			"cron", sweep.String(),
			"next", sweep.next(time.Now()).Format(time.RFC3339))
	}

	return &Monitor{
		rec:      rec,
		interval: interval,
		sweep:    sweep,
		log:      log,
	}, nil
}

// Run reconciles on every tick until ctx is cancelled. Errors are logged
// and the loop keeps going; a flaky board must not kill the monitor.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.tick(ctx)
	for {
		select {
		case <-ticker.C:
			m.tick(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	report, err := m.rec.Reconcile(ctx)
	if err != nil {
		m.log.Warn("reconciliation failed", "error", err)
		return
	}

	if report.Lost > 0 || report.Orphaned > 0 || report.CompletedExternal > 0 || report.ReleasedClaims > 0 {
		m.log.Info("reconciliation applied changes",
			"completed_external", report.CompletedExternal,
			"lost", report.Lost,
			"orphaned", report.Orphaned,
			"released_claims", report.ReleasedClaims,
			"cleared_agent_slots", report.ClearedAgentSlots)
	}

	if m.sweep != nil && m.sweep.due(time.Now()) {
		for _, taskID := range report.StalledAssignments {
			m.log.Warn("assignment stalled past threshold", "task_id", taskID)
		}
	}
}
