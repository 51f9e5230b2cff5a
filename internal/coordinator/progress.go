package coordinator

import (
	"context"
	"fmt"

	"github.com/marcushq/marcus/internal/ai"
	"github.com/marcushq/marcus/internal/assignments"
	"github.com/marcushq/marcus/internal/board"
	"github.com/marcushq/marcus/internal/events"
)

// ProgressStatus is the status an agent reports on its assignment.
type ProgressStatus string

const (
	ProgressInProgress ProgressStatus = "in_progress"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressBlocked    ProgressStatus = "blocked"
)

// ParseProgressStatus converts a wire string into a ProgressStatus.
func ParseProgressStatus(s string) (ProgressStatus, error) {
	switch ProgressStatus(s) {
	case ProgressInProgress, ProgressCompleted, ProgressBlocked:
		return ProgressStatus(s), nil
	}
	return "", fmt.Errorf("%w: unknown progress status %q", ErrInvalidInput, s)
}

// ReportProgress records an agent's progress on its active assignment.
//
// in_progress updates the persisted percent and mirrors it to the board;
// completed finishes the task and frees the agent; blocked moves the card
// to BLOCKED but keeps the assignment. Blocked here is a plain status
// transition; report_blocker is the canonical path when analysis and a
// recorded blocker are wanted.
func (c *Coordinator) ReportProgress(ctx context.Context, agentID, taskID string, status ProgressStatus, percent int, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, a, err := c.activeAssignment(agentID, taskID)
	if err != nil {
		return err
	}

	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	// Progress never goes backwards within one assignment.
	if percent < a.ProgressPercent {
		percent = a.ProgressPercent
	}

	switch status {
	case ProgressInProgress:
		return c.recordProgress(ctx, agent, a.TaskID, percent, message)
	case ProgressCompleted:
		return c.completeTask(ctx, agent, a.TaskID)
	case ProgressBlocked:
		return c.markBlocked(ctx, agent, a.TaskID, message)
	default:
		return fmt.Errorf("%w: unknown progress status %q", ErrInvalidInput, status)
	}
}

// activeAssignment validates that taskID is agentID's active assignment.
// Callers hold c.mu.
func (c *Coordinator) activeAssignment(agentID, taskID string) (*Agent, assignments.Assignment, error) {
	agent, ok := c.agents[agentID]
	if !ok {
		return nil, assignments.Assignment{}, ErrNotRegistered
	}
	agent.LastSeenAt = c.now()

	a, ok := c.store.Get(taskID)
	if !ok || a.AgentID != agentID {
		return nil, assignments.Assignment{}, ErrNotAssigned
	}
	return agent, a, nil
}

func (c *Coordinator) recordProgress(ctx context.Context, agent *Agent, taskID string, percent int, message string) error {
	a, _ := c.store.Get(taskID)
	a.ProgressPercent = percent
	a.LastUpdateAt = c.now()
	if err := c.store.Record(a); err != nil {
		return fmt.Errorf("persist progress: %w", err)
	}

	if err := c.provider.SetProgress(ctx, taskID, percent); err != nil {
		c.log.Warn("set board progress failed", "task_id", taskID, "error", err)
	}

	// One comment per distinct (task, percent, message) so provider retries
	// and duplicate reports do not spam the card.
	key := commentKey{taskID: taskID, percent: percent, message: message}
	if !c.seenComments[key] {
		text := fmt.Sprintf("Progress %d%%", percent)
		if message != "" {
			text = fmt.Sprintf("Progress %d%%: %s", percent, message)
		}
		if err := c.provider.AddComment(ctx, taskID, text); err != nil {
			c.log.Warn("progress comment failed", "task_id", taskID, "error", err)
		} else {
			c.seenComments[key] = true
		}
	}

	c.publish(events.EventTaskProgress, map[string]any{
		"task_id":  taskID,
		"agent_id": agent.ID,
		"percent":  percent,
	})
	return nil
}

func (c *Coordinator) completeTask(ctx context.Context, agent *Agent, taskID string) error {
	if err := c.provider.CompleteTask(ctx, taskID); err != nil {
		return fmt.Errorf("complete task %s: %w", taskID, err)
	}

	if err := c.store.Clear(taskID); err != nil {
		// The board already shows DONE; reconciliation re-clears on next tick.
		c.log.Error("clear assignment failed after completion", "task_id", taskID, "error", err)
	}

	agent.CurrentTaskID = ""
	agent.CompletedCount++
	c.totalCompleted++

	c.publish(events.EventTaskCompleted, map[string]any{
		"task_id":  taskID,
		"agent_id": agent.ID,
	})
	c.log.Info("task completed", "task_id", taskID, "agent_id", agent.ID, "completed_count", agent.CompletedCount)
	return nil
}

func (c *Coordinator) markBlocked(ctx context.Context, agent *Agent, taskID, message string) error {
	if err := c.provider.UpdateTaskStatus(ctx, taskID, board.StatusBlocked); err != nil {
		return fmt.Errorf("mark task %s blocked: %w", taskID, err)
	}
	if message != "" {
		if err := c.provider.AddComment(ctx, taskID, message); err != nil {
			c.log.Warn("blocked comment failed", "task_id", taskID, "error", err)
		}
	}

	a, _ := c.store.Get(taskID)
	a.LastUpdateAt = c.now()
	if err := c.store.Record(a); err != nil {
		c.log.Warn("persist blocked update failed", "task_id", taskID, "error", err)
	}

	c.publish(events.EventTaskBlocked, map[string]any{
		"task_id":  taskID,
		"agent_id": agent.ID,
	})
	return nil
}

// ReportBlocker records a blocker on the agent's active assignment, moves
// the card to BLOCKED with a tagged comment, and returns resolution
// suggestions. The assignment is kept; blocked work still belongs to the
// agent that reported it.
func (c *Coordinator) ReportBlocker(ctx context.Context, agentID, taskID, description, severity string) (string, ai.Source, error) {
	if description == "" {
		return "", "", fmt.Errorf("%w: blocker description is required", ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	agent, a, err := c.activeAssignment(agentID, taskID)
	if err != nil {
		return "", "", err
	}

	task, err := c.provider.GetTask(ctx, taskID)
	if err != nil {
		return "", "", fmt.Errorf("fetch task %s: %w", taskID, err)
	}

	sev := ParseSeverity(severity)
	if severity == "" {
		severity = "medium"
	}

	if err := c.provider.UpdateTaskStatus(ctx, taskID, board.StatusBlocked); err != nil {
		return "", "", fmt.Errorf("mark task %s blocked: %w", taskID, err)
	}
	comment := fmt.Sprintf("BLOCKER[%s] %s", severity, description)
	if err := c.provider.AddComment(ctx, taskID, comment); err != nil {
		c.log.Warn("blocker comment failed", "task_id", taskID, "error", err)
	}

	suggestions, source := c.enricher.AnalyzeBlocker(ctx, description, task, string(sev))

	c.blockers = append(c.blockers, &Blocker{
		TaskID:      taskID,
		AgentID:     agentID,
		Description: description,
		Severity:    sev,
		ReportedAt:  c.now(),
		Suggestions: suggestions,
	})

	rec := a
	rec.LastUpdateAt = c.now()
	if err := c.store.Record(rec); err != nil {
		c.log.Warn("persist blocker update failed", "task_id", taskID, "error", err)
	}

	c.publish(events.EventBlockerReported, map[string]any{
		"task_id":  taskID,
		"agent_id": agent.ID,
		"severity": string(sev),
		"source":   string(source),
	})
	c.log.Info("blocker reported", "task_id", taskID, "agent_id", agentID, "severity", sev)

	return suggestions, source, nil
}
