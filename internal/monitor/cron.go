package monitor

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// sweepSchedule gates the stall warning sweep to specific minutes so the
// operator log is not spammed on every reconcile tick.
type sweepSchedule struct {
	expr     string
	schedule cron.Schedule
}

// parseSweep parses a standard 5-field cron expression.
func parseSweep(expr string) (*sweepSchedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parse stall sweep cron %q: %w", expr, err)
	}
	return &sweepSchedule{expr: expr, schedule: schedule}, nil
}

// due reports whether t falls in the same minute as a scheduled activation.
// Cron has minute resolution, so t is truncated before comparing against the
// activation that follows the previous minute.
func (s *sweepSchedule) due(t time.Time) bool {
	truncated := t.Truncate(time.Minute)
	return s.schedule.Next(truncated.Add(-time.Minute)).Equal(truncated)
}

// next returns the first activation after t.
func (s *sweepSchedule) next(t time.Time) time.Time {
	return s.schedule.Next(t)
}

func (s *sweepSchedule) String() string {
	return s.expr
}
