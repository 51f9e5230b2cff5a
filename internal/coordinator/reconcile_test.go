package coordinator

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/marcushq/marcus/internal/ai"
	"github.com/marcushq/marcus/internal/assignments"
	"github.com/marcushq/marcus/internal/board"
)

func TestReconcileConsistentAssignment(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	b.Put(todoTask("t1", "work", nil, board.PriorityMedium))
	c.RegisterAgent("a1", "One", "Dev", nil)
	if _, err := c.RequestNextTask(ctx, "a1"); err != nil {
		t.Fatalf("request: %v", err)
	}

	report, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Checked != 1 {
		t.Errorf("checked: got %d, want 1", report.Checked)
	}
	if report.Lost != 0 || report.Orphaned != 0 || report.CompletedExternal != 0 || report.ReleasedClaims != 0 {
		t.Errorf("consistent assignment was touched: %+v", report)
	}

	agent, _ := c.AgentStatus("a1")
	if agent.CurrentTaskID != "t1" {
		t.Errorf("assignment cleared: %q", agent.CurrentTaskID)
	}
}

func TestReconcileExternalCompletion(t *testing.T) {
	c, b, store := newTestCoordinator(t)
	ctx := context.Background()

	b.Put(todoTask("t1", "work", nil, board.PriorityMedium))
	c.RegisterAgent("a1", "One", "Dev", nil)
	if _, err := c.RequestNextTask(ctx, "a1"); err != nil {
		t.Fatalf("request: %v", err)
	}

	// A human drags the card to DONE on the board.
	if err := b.CompleteTask(ctx, "t1"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	report, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.CompletedExternal != 1 {
		t.Errorf("completed external: got %d, want 1", report.CompletedExternal)
	}

	agent, _ := c.AgentStatus("a1")
	if agent.CurrentTaskID != "" {
		t.Errorf("agent slot not cleared: %q", agent.CurrentTaskID)
	}
	if agent.CompletedCount != 1 {
		t.Errorf("completed count: got %d, want 1", agent.CompletedCount)
	}
	if _, ok := store.Get("t1"); ok {
		t.Error("assignment still persisted")
	}
}

func TestReconcileLostAssignment(t *testing.T) {
	c, b, store := newTestCoordinator(t)
	ctx := context.Background()

	b.Put(todoTask("t1", "work", nil, board.PriorityMedium))
	c.RegisterAgent("a1", "One", "Dev", nil)
	if _, err := c.RequestNextTask(ctx, "a1"); err != nil {
		t.Fatalf("request: %v", err)
	}

	// A human drags the card back to TODO.
	if err := b.UpdateTaskStatus(ctx, "t1", board.StatusTodo); err != nil {
		t.Fatalf("update: %v", err)
	}

	report, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Lost != 1 {
		t.Errorf("lost: got %d, want 1", report.Lost)
	}
	if _, ok := store.Get("t1"); ok {
		t.Error("assignment still persisted")
	}
	agent, _ := c.AgentStatus("a1")
	if agent.CurrentTaskID != "" {
		t.Errorf("agent slot not cleared: %q", agent.CurrentTaskID)
	}
	if agent.CompletedCount != 0 {
		t.Errorf("lost task counted as completed")
	}
}

func TestReconcileTaskNotFound(t *testing.T) {
	c, _, store := newTestCoordinator(t)
	ctx := context.Background()

	// Persisted assignment for a task the board has never heard of.
	now := time.Now().UTC()
	store.Record(assignments.Assignment{
		TaskID: "ghost", AgentID: "a1", AssignedAt: now, LastUpdateAt: now,
	})

	report, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Checked != 1 {
		t.Errorf("checked: got %d, want 1", report.Checked)
	}
	if _, ok := store.Get("ghost"); ok {
		t.Error("assignment still persisted")
	}
}

// Restart scenario: assignments are persisted, agents are not. The orphaned
// assignment is released and the task returns to TODO.
func TestReconcileOrphanedAfterRestart(t *testing.T) {
	dir := t.TempDir()
	b := board.NewMemoryBoard()
	b.Put(todoTask("t1", "work", nil, board.PriorityMedium))

	// First process: register, assign, "crash".
	first := newCoordinatorOver(t, b, dir)
	first.RegisterAgent("a1", "One", "Dev", nil)
	if _, err := first.RequestNextTask(context.Background(), "a1"); err != nil {
		t.Fatalf("request: %v", err)
	}

	// Second process: same store file, empty registry.
	second := newCoordinatorOver(t, b, dir)
	if err := second.Recover(context.Background()); err != nil {
		t.Fatalf("recover: %v", err)
	}
	if got := len(second.ListAgents()); got != 0 {
		t.Fatalf("agents survived restart: %d", got)
	}

	report, err := second.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.Orphaned != 1 {
		t.Errorf("orphaned: got %d, want 1", report.Orphaned)
	}

	got, _ := b.GetTask(context.Background(), "t1")
	if got.Status != board.StatusTodo || got.AssignedTo != "" {
		t.Errorf("task not released: %s assigned to %q", got.Status, got.AssignedTo)
	}
}

// Crash window between the board claim and the persistence write: the card
// is IN_PROGRESS with an assignee, but no record survives. Reconcile must
// return it to TODO so it can be selected again.
func TestReconcileReleasesUnrecordedClaim(t *testing.T) {
	ctx := context.Background()
	b := board.NewMemoryBoard()
	b.Put(todoTask("t1", "work", nil, board.PriorityMedium))

	// The claim landed on the board, then the process died before Record.
	if err := b.ClaimTask(ctx, "t1", "a1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Restarted process: empty store, empty registry.
	c := newCoordinatorOver(t, b, t.TempDir())
	if err := c.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	report, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.ReleasedClaims != 1 {
		t.Errorf("released claims: got %d, want 1", report.ReleasedClaims)
	}

	got, _ := b.GetTask(ctx, "t1")
	if got.Status != board.StatusTodo || got.AssignedTo != "" {
		t.Errorf("task not released: %s assigned to %q", got.Status, got.AssignedTo)
	}

	// The released task is selectable again.
	c.RegisterAgent("a2", "Two", "Dev", nil)
	offer, err := c.RequestNextTask(ctx, "a2")
	if err != nil {
		t.Fatalf("request after release: %v", err)
	}
	if offer.Task.ID != "t1" {
		t.Errorf("selected %q, want t1", offer.Task.ID)
	}
}

func TestReconcileClearsDanglingAgentSlot(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	b.Put(todoTask("t1", "work", nil, board.PriorityMedium))
	c.RegisterAgent("a1", "One", "Dev", nil)

	// Force an inconsistent slot with no persisted assignment behind it.
	c.mu.Lock()
	c.agents["a1"].CurrentTaskID = "t1"
	c.mu.Unlock()

	report, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.ClearedAgentSlots != 1 {
		t.Errorf("cleared slots: got %d, want 1", report.ClearedAgentSlots)
	}
	agent, _ := c.AgentStatus("a1")
	if agent.CurrentTaskID != "" {
		t.Errorf("slot not cleared: %q", agent.CurrentTaskID)
	}
}

func TestReconcileFlagsStalledAssignments(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	b.Put(todoTask("t1", "work", nil, board.PriorityMedium))
	c.RegisterAgent("a1", "One", "Dev", nil)
	if _, err := c.RequestNextTask(ctx, "a1"); err != nil {
		t.Fatalf("request: %v", err)
	}

	// Jump the clock past the stall threshold.
	c.mu.Lock()
	c.now = func() time.Time { return time.Now().UTC().Add(25 * time.Hour) }
	c.mu.Unlock()

	report, err := c.Reconcile(ctx)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(report.StalledAssignments) != 1 || report.StalledAssignments[0] != "t1" {
		t.Errorf("stalled: %v", report.StalledAssignments)
	}

	// Stalls are flagged, never cancelled.
	agent, _ := c.AgentStatus("a1")
	if agent.CurrentTaskID != "t1" {
		t.Errorf("stalled assignment cancelled: %q", agent.CurrentTaskID)
	}
}

func TestCheckHealth(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	b.Put(todoTask("t1", "work", nil, board.PriorityMedium))
	c.RegisterAgent("a1", "One", "Dev", nil)
	if _, err := c.RequestNextTask(ctx, "a1"); err != nil {
		t.Fatalf("request: %v", err)
	}

	report, err := c.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("check health: %v", err)
	}
	if report.Status != "healthy" {
		t.Errorf("status: got %s, issues: %v", report.Status, report.Issues)
	}
	if report.Metrics.ActiveAssignments != 1 || report.Metrics.RegisteredAgents != 1 {
		t.Errorf("metrics: %+v", report.Metrics)
	}
	if report.Metrics.TotalAssigned != 1 {
		t.Errorf("total assigned: got %d", report.Metrics.TotalAssigned)
	}
}

// newCoordinatorOver builds a coordinator over an existing board and a
// shared store directory, simulating process restarts.
func newCoordinatorOver(t *testing.T, b *board.MemoryBoard, dir string) *Coordinator {
	t.Helper()
	store := assignments.NewFileStore(filepath.Join(dir, "assignments.json"))
	return New(b, store, ai.NewFallbackEnricher(), nil, 24*time.Hour, slog.New(slog.DiscardHandler))
}
