package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marcushq/marcus/internal/ai"
	"github.com/marcushq/marcus/internal/assignments"
	"github.com/marcushq/marcus/internal/board"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *board.MemoryBoard, *assignments.FileStore) {
	t.Helper()
	b := board.NewMemoryBoard()
	store := assignments.NewFileStore(filepath.Join(t.TempDir(), "assignments.json"))
	log := slog.New(slog.DiscardHandler)
	c := New(b, store, ai.NewFallbackEnricher(), nil, 24*time.Hour, log)
	return c, b, store
}

func todoTask(id, name string, labels []string, priority board.Priority) *board.Task {
	return &board.Task{
		ID:        id,
		Name:      name,
		Status:    board.StatusTodo,
		Priority:  priority,
		Labels:    labels,
		CreatedAt: time.Now().UTC(),
	}
}

func TestRegisterAgentTwice(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	if _, err := c.RegisterAgent("a1", "Agent One", "Backend", []string{"python"}); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if _, err := c.RegisterAgent("a1", "Agent One", "Backend", nil); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("second register: got %v, want ErrAlreadyRegistered", err)
	}
	if got := len(c.ListAgents()); got != 1 {
		t.Errorf("registry size: got %d, want 1", got)
	}
}

func TestRegisterAgentValidation(t *testing.T) {
	c, _, _ := newTestCoordinator(t)

	if _, err := c.RegisterAgent("", "name", "role", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty id: got %v", err)
	}
	if _, err := c.RegisterAgent("a1", "", "role", nil); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("empty name: got %v", err)
	}
}

// Full register, request, progress, complete flow.
func TestAssignmentLifecycle(t *testing.T) {
	c, b, store := newTestCoordinator(t)
	ctx := context.Background()

	b.Put(todoTask("t1", "Build endpoint", []string{"python", "api"}, board.PriorityHigh))

	if _, err := c.RegisterAgent("a1", "Agent One", "Backend", []string{"python", "api"}); err != nil {
		t.Fatalf("register: %v", err)
	}

	offer, err := c.RequestNextTask(ctx, "a1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if offer.Task.ID != "t1" {
		t.Fatalf("offered task: got %s, want t1", offer.Task.ID)
	}
	if offer.Instructions == "" {
		t.Fatal("empty instructions")
	}

	got, err := b.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Status != board.StatusInProgress || got.AssignedTo != "a1" {
		t.Fatalf("board state after claim: %s assigned to %q", got.Status, got.AssignedTo)
	}

	if err := c.ReportProgress(ctx, "a1", "t1", ProgressInProgress, 50, "halfway"); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if err := c.ReportProgress(ctx, "a1", "t1", ProgressCompleted, 100, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	got, _ = b.GetTask(ctx, "t1")
	if got.Status != board.StatusDone {
		t.Errorf("board status: got %s, want DONE", got.Status)
	}

	agent, err := c.AgentStatus("a1")
	if err != nil {
		t.Fatalf("agent status: %v", err)
	}
	if agent.CurrentTaskID != "" {
		t.Errorf("agent still holds %s", agent.CurrentTaskID)
	}
	if agent.CompletedCount != 1 {
		t.Errorf("completed count: got %d, want 1", agent.CompletedCount)
	}

	if active := store.ListActive(); len(active) != 0 {
		t.Errorf("persistence not empty: %v", active)
	}
}

func TestRequestNextTaskErrors(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	if _, err := c.RequestNextTask(ctx, "ghost"); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("unregistered: got %v", err)
	}

	b.Put(todoTask("t1", "only task", nil, board.PriorityMedium))
	c.RegisterAgent("a1", "One", "Dev", nil)

	if _, err := c.RequestNextTask(ctx, "a1"); err != nil {
		t.Fatalf("first request: %v", err)
	}
	if _, err := c.RequestNextTask(ctx, "a1"); !errors.Is(err, ErrAlreadyAssigned) {
		t.Errorf("second request: got %v, want ErrAlreadyAssigned", err)
	}
}

func TestRequestNextTaskNoneAvailable(t *testing.T) {
	c, _, _ := newTestCoordinator(t)
	c.RegisterAgent("a1", "One", "Dev", nil)

	if _, err := c.RequestNextTask(context.Background(), "a1"); !errors.Is(err, ErrNoTaskAvailable) {
		t.Errorf("got %v, want ErrNoTaskAvailable", err)
	}
}

// Two agents race for a single task: exactly one wins.
func TestConcurrentRequestsOneTask(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	b.Put(todoTask("t1", "contested", nil, board.PriorityMedium))
	c.RegisterAgent("a1", "One", "Dev", nil)
	c.RegisterAgent("a2", "Two", "Dev", nil)

	var wg sync.WaitGroup
	results := make([]error, 2)
	offers := make([]*TaskOffer, 2)
	for i, id := range []string{"a1", "a2"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			offers[i], results[i] = c.RequestNextTask(ctx, id)
		}(i, id)
	}
	wg.Wait()

	var wins, misses int
	for i := range results {
		switch {
		case results[i] == nil && offers[i].Task.ID == "t1":
			wins++
		case errors.Is(results[i], ErrNoTaskAvailable):
			misses++
		default:
			t.Fatalf("unexpected result: offer=%v err=%v", offers[i], results[i])
		}
	}
	if wins != 1 || misses != 1 {
		t.Errorf("wins=%d misses=%d, want 1 and 1", wins, misses)
	}
}

// Instructions come from the fallback template when AI is disabled.
func TestFallbackInstructions(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	b.Put(todoTask("t1", "Build endpoint", []string{"python"}, board.PriorityHigh))
	c.RegisterAgent("a1", "One", "Dev", []string{"python"})

	offer, err := c.RequestNextTask(ctx, "a1")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if offer.Source != ai.SourceFallback {
		t.Errorf("source: got %s, want fallback", offer.Source)
	}
	if !strings.Contains(offer.Instructions, "Build endpoint") {
		t.Errorf("instructions missing task name: %q", offer.Instructions)
	}
	hasPhase := false
	for _, phase := range []string{"Setup", "Implementation", "Testing"} {
		if strings.Contains(offer.Instructions, phase) {
			hasPhase = true
		}
	}
	if !hasPhase {
		t.Errorf("instructions missing phase labels: %q", offer.Instructions)
	}
}

// failingStore rejects Record calls after a trigger to test compensation.
type failingStore struct {
	assignments.Store
	failRecord bool
}

func (f *failingStore) Record(a assignments.Assignment) error {
	if f.failRecord {
		return fmt.Errorf("disk full")
	}
	return f.Store.Record(a)
}

func TestPersistenceFailureCompensates(t *testing.T) {
	b := board.NewMemoryBoard()
	store := &failingStore{
		Store:      assignments.NewFileStore(filepath.Join(t.TempDir(), "assignments.json")),
		failRecord: true,
	}
	c := New(b, store, ai.NewFallbackEnricher(), nil, 24*time.Hour, slog.New(slog.DiscardHandler))
	ctx := context.Background()

	b.Put(todoTask("t1", "doomed", nil, board.PriorityMedium))
	c.RegisterAgent("a1", "One", "Dev", nil)

	if _, err := c.RequestNextTask(ctx, "a1"); err == nil {
		t.Fatal("expected persistence error")
	}

	// The claim was compensated: task is back to TODO and unassigned.
	got, _ := b.GetTask(ctx, "t1")
	if got.Status != board.StatusTodo || got.AssignedTo != "" {
		t.Errorf("compensation failed: %s assigned to %q", got.Status, got.AssignedTo)
	}
	agent, _ := c.AgentStatus("a1")
	if agent.CurrentTaskID != "" {
		t.Errorf("agent slot not rolled back: %s", agent.CurrentTaskID)
	}
}

func TestProgressCommentDeduplication(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	b.Put(todoTask("t1", "work", nil, board.PriorityMedium))
	c.RegisterAgent("a1", "One", "Dev", nil)
	if _, err := c.RequestNextTask(ctx, "a1"); err != nil {
		t.Fatalf("request: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := c.ReportProgress(ctx, "a1", "t1", ProgressInProgress, 50, "halfway"); err != nil {
			t.Fatalf("progress %d: %v", i, err)
		}
	}

	if got := len(b.Comments("t1")); got != 1 {
		t.Errorf("comments: got %d, want 1 (deduplicated)", got)
	}

	// A different percent produces a new comment.
	if err := c.ReportProgress(ctx, "a1", "t1", ProgressInProgress, 75, "halfway"); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if got := len(b.Comments("t1")); got != 2 {
		t.Errorf("comments: got %d, want 2", got)
	}
}

func TestProgressMonotonicAndClamped(t *testing.T) {
	c, b, store := newTestCoordinator(t)
	ctx := context.Background()

	b.Put(todoTask("t1", "work", nil, board.PriorityMedium))
	c.RegisterAgent("a1", "One", "Dev", nil)
	if _, err := c.RequestNextTask(ctx, "a1"); err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := c.ReportProgress(ctx, "a1", "t1", ProgressInProgress, 150, ""); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if a, _ := store.Get("t1"); a.ProgressPercent != 100 {
		t.Errorf("clamp: got %d, want 100", a.ProgressPercent)
	}

	// A lower report never decreases the recorded percent.
	if err := c.ReportProgress(ctx, "a1", "t1", ProgressInProgress, 30, ""); err != nil {
		t.Fatalf("progress: %v", err)
	}
	if a, _ := store.Get("t1"); a.ProgressPercent != 100 {
		t.Errorf("monotonic: got %d, want 100", a.ProgressPercent)
	}
}

func TestProgressValidation(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	b.Put(todoTask("t1", "work", nil, board.PriorityMedium))
	c.RegisterAgent("a1", "One", "Dev", nil)
	c.RegisterAgent("a2", "Two", "Dev", nil)
	if _, err := c.RequestNextTask(ctx, "a1"); err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := c.ReportProgress(ctx, "ghost", "t1", ProgressInProgress, 10, ""); !errors.Is(err, ErrNotRegistered) {
		t.Errorf("unregistered: got %v", err)
	}
	// a2 does not hold t1.
	if err := c.ReportProgress(ctx, "a2", "t1", ProgressInProgress, 10, ""); !errors.Is(err, ErrNotAssigned) {
		t.Errorf("wrong agent: got %v", err)
	}
	if err := c.ReportProgress(ctx, "a1", "nope", ProgressInProgress, 10, ""); !errors.Is(err, ErrNotAssigned) {
		t.Errorf("wrong task: got %v", err)
	}
	if _, err := ParseProgressStatus("paused"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("bad status: got %v", err)
	}
}

func TestBlockerFlow(t *testing.T) {
	c, b, store := newTestCoordinator(t)
	ctx := context.Background()

	b.Put(todoTask("t1", "deploy", []string{"infra"}, board.PriorityHigh))
	c.RegisterAgent("a1", "One", "Dev", nil)
	if _, err := c.RequestNextTask(ctx, "a1"); err != nil {
		t.Fatalf("request: %v", err)
	}

	suggestions, source, err := c.ReportBlocker(ctx, "a1", "t1", "DB unreachable", "high")
	if err != nil {
		t.Fatalf("report blocker: %v", err)
	}
	if suggestions == "" {
		t.Error("empty suggestions")
	}
	if source != ai.SourceFallback {
		t.Errorf("source: got %s, want fallback", source)
	}

	got, _ := b.GetTask(ctx, "t1")
	if got.Status != board.StatusBlocked {
		t.Errorf("board status: got %s, want BLOCKED", got.Status)
	}

	found := false
	for _, comment := range b.Comments("t1") {
		if strings.Contains(comment, "BLOCKER[high]") && strings.Contains(comment, "DB unreachable") {
			found = true
		}
	}
	if !found {
		t.Errorf("tagged blocker comment missing: %v", b.Comments("t1"))
	}

	// The assignment is retained through a blocker.
	agent, _ := c.AgentStatus("a1")
	if agent.CurrentTaskID != "t1" {
		t.Errorf("assignment released: %q", agent.CurrentTaskID)
	}
	if _, ok := store.Get("t1"); !ok {
		t.Error("persisted assignment cleared by blocker")
	}

	blockers := c.Blockers()
	if len(blockers) != 1 || blockers[0].Severity != SeverityHigh {
		t.Errorf("blockers: %+v", blockers)
	}
}

func TestBlockedProgressStatusKeepsAssignment(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	b.Put(todoTask("t1", "work", nil, board.PriorityMedium))
	c.RegisterAgent("a1", "One", "Dev", nil)
	if _, err := c.RequestNextTask(ctx, "a1"); err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := c.ReportProgress(ctx, "a1", "t1", ProgressBlocked, 0, "waiting on review"); err != nil {
		t.Fatalf("blocked progress: %v", err)
	}

	got, _ := b.GetTask(ctx, "t1")
	if got.Status != board.StatusBlocked {
		t.Errorf("board status: got %s, want BLOCKED", got.Status)
	}
	agent, _ := c.AgentStatus("a1")
	if agent.CurrentTaskID != "t1" {
		t.Errorf("assignment released: %q", agent.CurrentTaskID)
	}
	// This path records no blocker; report_blocker is the full flow.
	if got := len(c.Blockers()); got != 0 {
		t.Errorf("blockers: got %d, want 0", got)
	}
}

func TestProjectStatus(t *testing.T) {
	c, b, _ := newTestCoordinator(t)
	ctx := context.Background()

	b.Put(todoTask("t1", "one", nil, board.PriorityMedium))
	b.Put(todoTask("t2", "two", nil, board.PriorityMedium))
	done := todoTask("t3", "three", nil, board.PriorityMedium)
	done.Status = board.StatusDone
	b.Put(done)

	c.RegisterAgent("a1", "One", "Dev", nil)
	if _, err := c.RequestNextTask(ctx, "a1"); err != nil {
		t.Fatalf("request: %v", err)
	}

	snap, err := c.ProjectStatus(ctx)
	if err != nil {
		t.Fatalf("project status: %v", err)
	}
	if snap.Total != 3 || snap.Completed != 1 || snap.InProgress != 1 || snap.Todo != 1 {
		t.Errorf("counts: %+v", snap)
	}
	if snap.CompletionPercentage < 33.2 || snap.CompletionPercentage > 33.4 {
		t.Errorf("completion: got %f", snap.CompletionPercentage)
	}
	if snap.Workers.Total != 1 || snap.Workers.Active != 1 || snap.Workers.Available != 0 {
		t.Errorf("workers: %+v", snap.Workers)
	}
}
