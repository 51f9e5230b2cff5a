package coordinator

import "time"

// Agent is the in-memory record of a registered worker. Agents are not
// persisted; a restart empties the registry and reconciliation releases
// whatever tasks the lost agents held.
type Agent struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Role           string    `json:"role"`
	Skills         []string  `json:"skills"`
	CurrentTaskID  string    `json:"current_task_id,omitempty"`
	CompletedCount int       `json:"completed_count"`
	RegisteredAt   time.Time `json:"registered_at"`
	LastSeenAt     time.Time `json:"last_seen_at"`
}

// clone returns a copy safe to hand out without the coordinator lock.
func (a *Agent) clone() *Agent {
	out := *a
	out.Skills = append([]string(nil), a.Skills...)
	return &out
}
