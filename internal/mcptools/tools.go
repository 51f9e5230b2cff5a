package mcptools

import (
	"context"
	"errors"
	"time"

	"github.com/marcushq/marcus/internal/board"
	"github.com/marcushq/marcus/internal/coordinator"
)

// BuildRegistry binds the full tool catalog to a coordinator.
func BuildRegistry(coord *coordinator.Coordinator, timeout time.Duration) *Registry {
	r := NewRegistry(timeout)
	b := &binder{coord: coord}

	r.Register(&ToolSpec{
		Name:        "register_agent",
		Description: "Register an agent so it can request tasks.",
		Parameters: map[string]ParamSpec{
			"agent_id": {Type: "string", Description: "Unique agent identifier", Required: true},
			"name":     {Type: "string", Description: "Human-readable agent name", Required: true},
			"role":     {Type: "string", Description: "Agent role, e.g. Backend Developer", Required: true},
			"skills":   {Type: "array", Items: "string", Description: "Skill labels used for task matching"},
		},
	}, b.registerAgent)

	r.Register(&ToolSpec{
		Name:        "request_next_task",
		Description: "Select, claim, and assign the best available task for the agent.",
		Parameters: map[string]ParamSpec{
			"agent_id": {Type: "string", Description: "Requesting agent", Required: true},
		},
	}, b.requestNextTask)

	r.Register(&ToolSpec{
		Name:        "report_task_progress",
		Description: "Report progress on the agent's active assignment.",
		Parameters: map[string]ParamSpec{
			"agent_id": {Type: "string", Description: "Reporting agent", Required: true},
			"task_id":  {Type: "string", Description: "Task being worked on", Required: true},
			"status":   {Type: "string", Description: "New status", Required: true, Enum: []string{"in_progress", "completed", "blocked"}},
			"progress": {Type: "integer", Description: "Percent complete, 0-100"},
			"message":  {Type: "string", Description: "Progress note posted to the board"},
		},
	}, b.reportProgress)

	r.Register(&ToolSpec{
		Name:        "report_blocker",
		Description: "Report a blocker on the agent's active assignment and get resolution suggestions.",
		Parameters: map[string]ParamSpec{
			"agent_id":            {Type: "string", Description: "Reporting agent", Required: true},
			"task_id":             {Type: "string", Description: "Blocked task", Required: true},
			"blocker_description": {Type: "string", Description: "What is blocking the work", Required: true},
			"severity":            {Type: "string", Description: "Blocker severity", Enum: []string{"low", "medium", "high"}},
		},
	}, b.reportBlocker)

	r.Register(&ToolSpec{
		Name:        "get_project_status",
		Description: "Summarize the board and the worker pool.",
		Parameters:  map[string]ParamSpec{},
	}, b.projectStatus)

	r.Register(&ToolSpec{
		Name:        "get_agent_status",
		Description: "Fetch one agent's registry entry.",
		Parameters: map[string]ParamSpec{
			"agent_id": {Type: "string", Description: "Agent to look up", Required: true},
		},
	}, b.agentStatus)

	r.Register(&ToolSpec{
		Name:        "list_registered_agents",
		Description: "List all registered agents.",
		Parameters:  map[string]ParamSpec{},
	}, b.listAgents)

	r.Register(&ToolSpec{
		Name:        "ping",
		Description: "Liveness check. Echoes back the optional payload.",
		Parameters: map[string]ParamSpec{
			"echo": {Type: "string", Description: "Text to echo back"},
		},
	}, b.ping)

	r.Register(&ToolSpec{
		Name:        "check_assignment_health",
		Description: "Run an on-demand reconciliation and report assignment health.",
		Parameters:  map[string]ParamSpec{},
	}, b.checkHealth)

	return r
}

type binder struct {
	coord *coordinator.Coordinator
}

func (b *binder) registerAgent(_ context.Context, args map[string]any) (map[string]any, error) {
	agent, err := b.coord.RegisterAgent(
		stringArg(args, "agent_id"),
		stringArg(args, "name"),
		stringArg(args, "role"),
		stringSliceArg(args, "skills"),
	)
	if err != nil {
		return failure(err), nil
	}
	return map[string]any{"success": true, "agent_id": agent.ID}, nil
}

func (b *binder) requestNextTask(ctx context.Context, args map[string]any) (map[string]any, error) {
	offer, err := b.coord.RequestNextTask(ctx, stringArg(args, "agent_id"))
	if errors.Is(err, coordinator.ErrNoTaskAvailable) {
		return map[string]any{"success": true, "message": "no tasks"}, nil
	}
	if err != nil {
		return failure(err), nil
	}
	return map[string]any{
		"success": true,
		"task": map[string]any{
			"id":           offer.Task.ID,
			"name":         offer.Task.Name,
			"description":  offer.Task.Description,
			"priority":     offer.Task.Priority,
			"instructions": offer.Instructions,
			"dependencies": offer.Task.Dependencies,
		},
		"instructions_source": offer.Source,
	}, nil
}

func (b *binder) reportProgress(ctx context.Context, args map[string]any) (map[string]any, error) {
	status, err := coordinator.ParseProgressStatus(stringArg(args, "status"))
	if err != nil {
		return failure(err), nil
	}
	err = b.coord.ReportProgress(ctx,
		stringArg(args, "agent_id"),
		stringArg(args, "task_id"),
		status,
		intArg(args, "progress"),
		stringArg(args, "message"),
	)
	if err != nil {
		return failure(err), nil
	}
	return map[string]any{"success": true}, nil
}

func (b *binder) reportBlocker(ctx context.Context, args map[string]any) (map[string]any, error) {
	suggestions, source, err := b.coord.ReportBlocker(ctx,
		stringArg(args, "agent_id"),
		stringArg(args, "task_id"),
		stringArg(args, "blocker_description"),
		stringArg(args, "severity"),
	)
	if err != nil {
		return failure(err), nil
	}
	return map[string]any{
		"success":     true,
		"suggestions": suggestions,
		"source":      source,
	}, nil
}

func (b *binder) projectStatus(ctx context.Context, _ map[string]any) (map[string]any, error) {
	snap, err := b.coord.ProjectStatus(ctx)
	if err != nil {
		return failure(err), nil
	}
	return map[string]any{
		"success":               true,
		"total":                 snap.Total,
		"todo":                  snap.Todo,
		"in_progress":           snap.InProgress,
		"completed":             snap.Completed,
		"blocked":               snap.Blocked,
		"completion_percentage": snap.CompletionPercentage,
		"overdue_tasks":         snap.OverdueTasks,
		"workers": map[string]any{
			"total":     snap.Workers.Total,
			"active":    snap.Workers.Active,
			"available": snap.Workers.Available,
		},
	}, nil
}

func (b *binder) agentStatus(_ context.Context, args map[string]any) (map[string]any, error) {
	agent, err := b.coord.AgentStatus(stringArg(args, "agent_id"))
	if err != nil {
		return failure(err), nil
	}
	return map[string]any{"success": true, "agent": agent}, nil
}

func (b *binder) listAgents(_ context.Context, _ map[string]any) (map[string]any, error) {
	agents := b.coord.ListAgents()
	active := 0
	for _, a := range agents {
		if a.CurrentTaskID != "" {
			active++
		}
	}
	return map[string]any{
		"success":   true,
		"agents":    agents,
		"total":     len(agents),
		"active":    active,
		"available": len(agents) - active,
	}, nil
}

func (b *binder) ping(_ context.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{
		"success":   true,
		"status":    "online",
		"echo":      stringArg(args, "echo"),
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

func (b *binder) checkHealth(ctx context.Context, _ map[string]any) (map[string]any, error) {
	report, err := b.coord.CheckHealth(ctx)
	if err != nil {
		return failure(err), nil
	}
	return map[string]any{
		"success":       true,
		"health_status": report.Status,
		"checks":        report.Checks,
		"metrics":       report.Metrics,
		"issues":        report.Issues,
	}, nil
}

// failure formats an application error as a tool payload. Transient board
// failures carry a retry hint.
func failure(err error) map[string]any {
	out := map[string]any{
		"success":    false,
		"error":      err.Error(),
		"error_code": errorCode(err),
	}
	if board.IsRetryable(err) {
		out["retryable"] = true
		out["retry_after_ms"] = 500
	}
	return out
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, coordinator.ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, coordinator.ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, coordinator.ErrAlreadyAssigned):
		return "already_assigned"
	case errors.Is(err, coordinator.ErrNotAssigned):
		return "not_assigned_to_agent"
	case errors.Is(err, coordinator.ErrInvalidInput):
		return "invalid_input"
	}
	var be *board.Error
	if errors.As(err, &be) {
		return string(be.Kind)
	}
	return "internal"
}
