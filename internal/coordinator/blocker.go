package coordinator

import (
	"strings"
	"time"
)

// Severity classifies a reported blocker.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// ParseSeverity normalizes a wire severity string. Empty or unknown values
// default to MEDIUM.
func ParseSeverity(s string) Severity {
	switch Severity(strings.ToUpper(s)) {
	case SeverityLow:
		return SeverityLow
	case SeverityHigh:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

// Blocker records an obstacle an agent reported on its task. Blockers live
// in memory only.
type Blocker struct {
	TaskID      string    `json:"task_id"`
	AgentID     string    `json:"agent_id"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	ReportedAt  time.Time `json:"reported_at"`
	Resolved    bool      `json:"resolved"`
	Resolution  string    `json:"resolution,omitempty"`
	Suggestions string    `json:"suggestions"`
}
