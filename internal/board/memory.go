package board

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"
)

// MemoryBoard is an in-process Provider used by the "memory" backend and by
// tests. It applies the same optimistic claim check the remote backends do.
type MemoryBoard struct {
	mu       sync.RWMutex
	tasks    map[string]*Task
	comments map[string][]string
	progress map[string]int
}

// NewMemoryBoard creates an empty in-process board.
func NewMemoryBoard() *MemoryBoard {
	return &MemoryBoard{
		tasks:    make(map[string]*Task),
		comments: make(map[string][]string),
		progress: make(map[string]int),
	}
}

// LoadSeedFile populates the board from a JSON array of tasks.
func (b *MemoryBoard) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read seed file: %w", err)
	}

	var tasks []*Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return fmt.Errorf("unmarshal seed file: %w", err)
	}

	now := time.Now().UTC()
	for _, t := range tasks {
		if t.Status == "" {
			t.Status = StatusTodo
		}
		if t.Priority == "" {
			t.Priority = PriorityMedium
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		if t.UpdatedAt.IsZero() {
			t.UpdatedAt = t.CreatedAt
		}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("seed task: %w", err)
		}
		b.Put(t)
	}

	all := make([]*Task, 0, len(tasks))
	all = append(all, tasks...)
	return CheckDependencyCycles(all)
}

// Put inserts or replaces a task. Intended for seeding and tests.
func (b *MemoryBoard) Put(t *Task) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := *t
	b.tasks[t.ID] = &cp
}

// Comments returns the comments recorded for a task.
func (b *MemoryBoard) Comments(id string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.comments[id]))
	copy(out, b.comments[id])
	return out
}

func (b *MemoryBoard) Connect(ctx context.Context) error { return nil }

func (b *MemoryBoard) ListAvailableTasks(ctx context.Context) ([]*Task, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*Task
	for _, t := range b.tasks {
		if t.Status == StatusTodo && t.AssignedTo == "" {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *MemoryBoard) ListTasks(ctx context.Context) ([]*Task, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Task, 0, len(b.tasks))
	for _, t := range b.tasks {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *MemoryBoard) GetTask(ctx context.Context, id string) (*Task, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	t, ok := b.tasks[id]
	if !ok {
		return nil, NewError(ErrNotFound, "get_task", fmt.Errorf("task %s", id))
	}
	cp := *t
	return &cp, nil
}

func (b *MemoryBoard) ClaimTask(ctx context.Context, id, agentID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[id]
	if !ok {
		return NewError(ErrNotFound, "claim_task", fmt.Errorf("task %s", id))
	}
	if t.Status != StatusTodo || t.AssignedTo != "" {
		return NewError(ErrConflict, "claim_task", fmt.Errorf("task %s already claimed", id))
	}

	t.Status = StatusInProgress
	t.AssignedTo = agentID
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (b *MemoryBoard) UpdateTaskStatus(ctx context.Context, id string, status Status) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[id]
	if !ok {
		return NewError(ErrNotFound, "update_task_status", fmt.Errorf("task %s", id))
	}

	t.Status = status
	if status == StatusTodo {
		t.AssignedTo = ""
	}
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (b *MemoryBoard) SetProgress(ctx context.Context, id string, percent int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tasks[id]; !ok {
		return NewError(ErrNotFound, "set_progress", fmt.Errorf("task %s", id))
	}
	b.progress[id] = percent
	return nil
}

func (b *MemoryBoard) AddComment(ctx context.Context, id, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.tasks[id]; !ok {
		return NewError(ErrNotFound, "add_comment", fmt.Errorf("task %s", id))
	}
	b.comments[id] = append(b.comments[id], text)
	return nil
}

func (b *MemoryBoard) CompleteTask(ctx context.Context, id string) error {
	return b.UpdateTaskStatus(ctx, id, StatusDone)
}

var _ Provider = (*MemoryBoard)(nil)
