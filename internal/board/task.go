// Package board defines the kanban task model and the provider contract
// Marcus uses to talk to board backends.
package board

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a board task.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
	StatusBlocked    Status = "BLOCKED"
)

// ParseStatus converts a wire string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusTodo, StatusInProgress, StatusDone, StatusBlocked:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown task status %q", s)
}

// Priority represents the scheduling priority of a task.
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Weight returns the numeric selection weight of a priority.
// Unknown priorities weigh the same as LOW.
func (p Priority) Weight() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	default:
		return 1
	}
}

// ParsePriority converts a wire string into a Priority.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return Priority(s), nil
	}
	return "", fmt.Errorf("unknown task priority %q", s)
}

// Task is the cached view of a board card. The board backend owns the
// authoritative state; Marcus refreshes this view on demand.
type Task struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description"`
	Status         Status     `json:"status"`
	Priority       Priority   `json:"priority"`
	Labels         []string   `json:"labels,omitempty"`
	Dependencies   []string   `json:"dependencies,omitempty"`
	AssignedTo     string     `json:"assigned_to,omitempty"`
	EstimatedHours float64    `json:"estimated_hours,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DueDate        *time.Time `json:"due_date,omitempty"`
}

// Validate checks the task's internal invariants.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("task has empty id")
	}
	if _, err := ParseStatus(string(t.Status)); err != nil {
		return err
	}
	if _, err := ParsePriority(string(t.Priority)); err != nil {
		return err
	}
	if t.EstimatedHours < 0 {
		return fmt.Errorf("task %s has negative estimated hours", t.ID)
	}
	switch t.Status {
	case StatusInProgress:
		if t.AssignedTo == "" {
			return fmt.Errorf("task %s is IN_PROGRESS without an assignee", t.ID)
		}
	case StatusTodo:
		if t.AssignedTo != "" {
			return fmt.Errorf("task %s is TODO with assignee %s", t.ID, t.AssignedTo)
		}
	}
	return nil
}

// IsOverdue reports whether the task has a due date in the past and is not done.
func (t *Task) IsOverdue(now time.Time) bool {
	return t.DueDate != nil && t.Status != StatusDone && t.DueDate.Before(now)
}

// CheckDependencyCycles verifies that the dependency graph over the given
// tasks has no cycles. Dependencies pointing outside the set are ignored.
func CheckDependencyCycles(tasks []*Task) error {
	byID := make(map[string]*Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(tasks))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visiting:
			return fmt.Errorf("dependency cycle through task %s", id)
		case done:
			return nil
		}
		state[id] = visiting
		if t := byID[id]; t != nil {
			for _, dep := range t.Dependencies {
				if _, known := byID[dep]; !known {
					continue
				}
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		state[id] = done
		return nil
	}

	for _, t := range tasks {
		if err := visit(t.ID); err != nil {
			return err
		}
	}
	return nil
}
