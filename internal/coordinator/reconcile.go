package coordinator

import (
	"context"
	"fmt"

	"github.com/marcushq/marcus/internal/board"
	"github.com/marcushq/marcus/internal/events"
)

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Checked            int      `json:"checked"`
	CompletedExternal  int      `json:"completed_external"`
	Lost               int      `json:"lost"`
	Orphaned           int      `json:"orphaned"`
	ReleasedClaims     int      `json:"released_claims"`
	ClearedAgentSlots  int      `json:"cleared_agent_slots"`
	StalledAssignments []string `json:"stalled_assignments,omitempty"`
}

// Reconcile makes the persisted assignment set agree with the board.
//
// For every persisted assignment the board must show the task in
// IN_PROGRESS or BLOCKED with the matching assignee. Tasks finished or
// reassigned out-of-band release the assignment; assignments whose agent is
// gone (process restart) release the task back to TODO. Stalled
// assignments are flagged, never cancelled.
func (c *Coordinator) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	tasks, err := c.provider.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	byID := make(map[string]*board.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	report := &ReconcileReport{}
	now := c.now()

	for _, a := range c.store.ListActive() {
		report.Checked++
		task, found := byID[a.TaskID]
		agent := c.agents[a.AgentID]

		switch {
		case !found:
			// The card disappeared; nothing left to coordinate.
			c.clearAssignment(a.TaskID, agent, report)
			c.log.Warn("assignment task not found on board", "task_id", a.TaskID)

		case task.Status == board.StatusDone:
			// Finished out-of-band; credit the agent if it is still around.
			c.clearAssignment(a.TaskID, agent, report)
			if agent != nil {
				agent.CompletedCount++
			}
			c.totalCompleted++
			report.CompletedExternal++
			c.log.Info("task completed externally", "task_id", a.TaskID, "agent_id", a.AgentID)

		case task.Status == board.StatusTodo || task.AssignedTo != a.AgentID:
			// Moved back or reassigned; the assignment was lost.
			c.clearAssignment(a.TaskID, agent, report)
			report.Lost++
			c.publish(events.EventAssignmentLost, map[string]any{
				"task_id":  a.TaskID,
				"agent_id": a.AgentID,
			})
			c.log.Warn("assignment lost on board", "task_id", a.TaskID, "agent_id", a.AgentID,
				"board_status", task.Status, "board_assignee", task.AssignedTo)

		case agent == nil:
			// Consistent on the board, but the owning agent is gone
			// (restart wiped the registry). Release the task.
			if uerr := c.provider.UpdateTaskStatus(ctx, a.TaskID, board.StatusTodo); uerr != nil {
				c.log.Error("release orphaned task failed", "task_id", a.TaskID, "error", uerr)
				continue
			}
			c.clearAssignment(a.TaskID, nil, report)
			report.Orphaned++
			c.log.Warn("released orphaned assignment", "task_id", a.TaskID, "agent_id", a.AgentID)

		default:
			if c.stallAfter > 0 && now.Sub(a.LastUpdateAt) > c.stallAfter {
				report.StalledAssignments = append(report.StalledAssignments, a.TaskID)
				c.publish(events.EventStallDetected, map[string]any{
					"task_id":        a.TaskID,
					"agent_id":       a.AgentID,
					"last_update_at": a.LastUpdateAt,
				})
			}
		}
	}

	// Claims that never reached the store: a crash between the board claim
	// and the persistence write leaves the card IN_PROGRESS with an assignee
	// nobody tracks. Release such cards so they can be selected again. The
	// mutex is held here, so no legitimate claim is in flight.
	for _, task := range tasks {
		if task.Status != board.StatusInProgress && task.Status != board.StatusBlocked {
			continue
		}
		if task.AssignedTo == "" {
			continue
		}
		if _, ok := c.store.Get(task.ID); ok {
			continue
		}
		if uerr := c.provider.UpdateTaskStatus(ctx, task.ID, board.StatusTodo); uerr != nil {
			c.log.Error("release unrecorded claim failed", "task_id", task.ID, "error", uerr)
			continue
		}
		report.ReleasedClaims++
		c.publish(events.EventAssignmentCleared, map[string]any{"task_id": task.ID})
		c.log.Warn("released claim with no persisted assignment",
			"task_id", task.ID, "assignee", task.AssignedTo)
	}

	// Agents pointing at a task with no persisted assignment.
	for _, agent := range c.agents {
		if agent.CurrentTaskID == "" {
			continue
		}
		if _, ok := c.store.Get(agent.CurrentTaskID); !ok {
			c.log.Warn("agent slot without assignment, clearing",
				"agent_id", agent.ID, "task_id", agent.CurrentTaskID)
			agent.CurrentTaskID = ""
			report.ClearedAgentSlots++
		}
	}

	c.publish(events.EventReconcileTick, map[string]any{
		"checked": report.Checked,
	})
	return report, nil
}

// clearAssignment drops the persisted record and the agent slot. Callers
// hold c.mu.
func (c *Coordinator) clearAssignment(taskID string, agent *Agent, report *ReconcileReport) {
	if err := c.store.Clear(taskID); err != nil {
		c.log.Error("clear assignment failed", "task_id", taskID, "error", err)
	}
	if agent != nil && agent.CurrentTaskID == taskID {
		agent.CurrentTaskID = ""
		report.ClearedAgentSlots++
	}
	c.publish(events.EventAssignmentCleared, map[string]any{"task_id": taskID})
}
