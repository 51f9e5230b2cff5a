// Package assignments provides the durable record of agent-task bindings.
package assignments

import "time"

// Assignment binds one agent to one task while it is active. It is the only
// state Marcus persists across restarts.
type Assignment struct {
	TaskID          string    `json:"task_id"`
	AgentID         string    `json:"agent_id"`
	AssignedAt      time.Time `json:"assigned_at"`
	Instructions    string    `json:"instructions"`
	ProgressPercent int       `json:"progress_percent"`
	LastUpdateAt    time.Time `json:"last_update_at"`
}
