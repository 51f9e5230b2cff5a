package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/marcushq/marcus/internal/board"
)

// WorkerCounts summarizes the agent registry.
type WorkerCounts struct {
	Total     int `json:"total"`
	Active    int `json:"active"`    // agents with a current task
	Available int `json:"available"` // agents without one
}

// ProjectSnapshot is a derived view of the board and the registry. It is
// never persisted.
type ProjectSnapshot struct {
	Total                int          `json:"total"`
	Todo                 int          `json:"todo"`
	InProgress           int          `json:"in_progress"`
	Completed            int          `json:"completed"`
	Blocked              int          `json:"blocked"`
	CompletionPercentage float64      `json:"completion_percentage"`
	OverdueTasks         []string     `json:"overdue_tasks,omitempty"`
	Workers              WorkerCounts `json:"workers"`
	RefreshedAt          time.Time    `json:"refreshed_at"`
}

// ProjectStatus builds a fresh snapshot from the board and the registry.
func (c *Coordinator) ProjectStatus(ctx context.Context) (*ProjectSnapshot, error) {
	tasks, err := c.provider.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	snap := &ProjectSnapshot{
		Total:       len(tasks),
		RefreshedAt: now,
	}
	for _, t := range tasks {
		switch t.Status {
		case board.StatusTodo:
			snap.Todo++
		case board.StatusInProgress:
			snap.InProgress++
		case board.StatusDone:
			snap.Completed++
		case board.StatusBlocked:
			snap.Blocked++
		}
		if t.IsOverdue(now) {
			snap.OverdueTasks = append(snap.OverdueTasks, t.ID)
		}
	}
	if snap.Total > 0 {
		snap.CompletionPercentage = 100 * float64(snap.Completed) / float64(snap.Total)
	}

	snap.Workers.Total = len(c.agents)
	for _, a := range c.agents {
		if a.CurrentTaskID != "" {
			snap.Workers.Active++
		} else {
			snap.Workers.Available++
		}
	}
	return snap, nil
}
