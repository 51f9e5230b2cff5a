package coordinator

import (
	"context"
	"fmt"
	"time"
)

// HealthMetrics are the counters exposed by check_assignment_health.
type HealthMetrics struct {
	RegisteredAgents  int     `json:"registered_agents"`
	ActiveAssignments int     `json:"active_assignments"`
	TotalAssigned     int     `json:"total_assigned"`
	TotalCompleted    int     `json:"total_completed"`
	SuccessRate       float64 `json:"success_rate"`
}

// HealthReport is the result of an on-demand assignment health check.
type HealthReport struct {
	Status    string          `json:"health_status"` // "healthy" or "degraded"
	Checks    map[string]bool `json:"checks"`
	Metrics   HealthMetrics   `json:"metrics"`
	Issues    []string        `json:"issues,omitempty"`
	CheckedAt time.Time       `json:"checked_at"`
}

// CheckHealth runs a reconciliation pass and reports on assignment health.
func (c *Coordinator) CheckHealth(ctx context.Context) (*HealthReport, error) {
	report := &HealthReport{
		Checks: map[string]bool{
			"board_reachable":        true,
			"assignments_consistent": true,
			"no_stalled_assignments": true,
		},
	}

	rec, err := c.Reconcile(ctx)
	if err != nil {
		report.Checks["board_reachable"] = false
		report.Issues = append(report.Issues, fmt.Sprintf("board unreachable: %v", err))
	} else {
		if rec.Lost > 0 || rec.Orphaned > 0 || rec.ReleasedClaims > 0 {
			report.Checks["assignments_consistent"] = false
			report.Issues = append(report.Issues,
				fmt.Sprintf("%d assignment(s) lost, %d orphaned, %d unrecorded claim(s) released",
					rec.Lost, rec.Orphaned, rec.ReleasedClaims))
		}
		for _, taskID := range rec.StalledAssignments {
			report.Checks["no_stalled_assignments"] = false
			report.Issues = append(report.Issues, fmt.Sprintf("assignment %s is stalled", taskID))
		}
	}

	c.mu.Lock()
	report.Metrics = HealthMetrics{
		RegisteredAgents:  len(c.agents),
		ActiveAssignments: len(c.store.ListActive()),
		TotalAssigned:     c.totalAssigned,
		TotalCompleted:    c.totalCompleted,
	}
	report.CheckedAt = c.now()
	c.mu.Unlock()

	if report.Metrics.TotalAssigned > 0 {
		report.Metrics.SuccessRate = float64(report.Metrics.TotalCompleted) / float64(report.Metrics.TotalAssigned)
	}

	report.Status = "healthy"
	for _, ok := range report.Checks {
		if !ok {
			report.Status = "degraded"
			break
		}
	}
	return report, nil
}
