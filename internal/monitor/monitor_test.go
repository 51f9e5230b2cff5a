package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcushq/marcus/internal/coordinator"
)

type countingReconciler struct {
	calls atomic.Int64
	fail  bool
}

func (r *countingReconciler) Reconcile(_ context.Context) (*coordinator.ReconcileReport, error) {
	r.calls.Add(1)
	if r.fail {
		return nil, fmt.Errorf("board down")
	}
	return &coordinator.ReconcileReport{}, nil
}

func TestMonitorTicks(t *testing.T) {
	rec := &countingReconciler{}
	m, err := New(rec, 20*time.Millisecond, "", slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	// One immediate tick plus several interval ticks.
	if got := rec.calls.Load(); got < 3 {
		t.Errorf("ticks: got %d, want at least 3", got)
	}
}

func TestMonitorSurvivesReconcileErrors(t *testing.T) {
	rec := &countingReconciler{fail: true}
	m, err := New(rec, 20*time.Millisecond, "", slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 70*time.Millisecond)
	defer cancel()
	m.Run(ctx)

	if got := rec.calls.Load(); got < 2 {
		t.Errorf("loop died after error: %d ticks", got)
	}
}

func TestNewRejectsBadCron(t *testing.T) {
	if _, err := New(&countingReconciler{}, time.Minute, "not a cron", slog.New(slog.DiscardHandler)); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestParseSweepValid(t *testing.T) {
	sweep, err := parseSweep("*/5 * * * *")
	if err != nil {
		t.Fatalf("parseSweep: %v", err)
	}
	if sweep.String() != "*/5 * * * *" {
		t.Fatalf("expected raw %q, got %q", "*/5 * * * *", sweep.String())
	}
}

func TestSweepNext(t *testing.T) {
	sweep, err := parseSweep("0 12 * * *") // every day at noon
	if err != nil {
		t.Fatalf("parseSweep: %v", err)
	}

	base := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	next := sweep.next(base)

	expected := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if !next.Equal(expected) {
		t.Fatalf("expected next %v, got %v", expected, next)
	}
}

func TestSweepDue(t *testing.T) {
	sweep, err := parseSweep("0 * * * *") // hourly
	if err != nil {
		t.Fatalf("parseSweep: %v", err)
	}

	if !sweep.due(time.Date(2026, 6, 15, 14, 0, 45, 0, time.UTC)) {
		t.Fatal("expected due on the hour")
	}
	if sweep.due(time.Date(2026, 6, 15, 14, 31, 0, 0, time.UTC)) {
		t.Fatal("expected not due at 14:31")
	}
}
