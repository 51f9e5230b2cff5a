package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/marcushq/marcus/internal/board"
)

// FallbackEnricher builds enrichment text from deterministic templates. It is
// the terminal path behind ChatEnricher and is used directly when no API key
// is configured.
type FallbackEnricher struct{}

func NewFallbackEnricher() *FallbackEnricher { return &FallbackEnricher{} }

func (f *FallbackEnricher) GenerateInstructions(_ context.Context, task *board.Task, agentName string, _ []string) (string, Source) {
	return InstructionsTemplate(task, agentName), SourceFallback
}

func (f *FallbackEnricher) AnalyzeBlocker(_ context.Context, description string, task *board.Task, severity string) (string, Source) {
	return BlockerTemplate(description, task, severity), SourceFallback
}

// InstructionsTemplate builds deterministic instructions from the task fields.
func InstructionsTemplate(task *board.Task, agentName string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Task: %s\n", task.Name)
	if agentName != "" {
		fmt.Fprintf(&b, "Assigned to: %s\n", agentName)
	}
	if task.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", task.Description)
	}
	if len(task.Labels) > 0 {
		fmt.Fprintf(&b, "\nLabels: %s\n", strings.Join(task.Labels, ", "))
	}
	if task.EstimatedHours > 0 {
		fmt.Fprintf(&b, "Estimated effort: %.1f hours\n", task.EstimatedHours)
	}

	b.WriteString("\nSuggested approach:\n")
	fmt.Fprintf(&b, "1. Setup: review the task description and any linked dependencies for %q.\n", task.Name)
	b.WriteString("2. Implementation: make the change in small, verifiable steps.\n")
	b.WriteString("3. Testing: verify the result and report progress as you go.\n")

	return b.String()
}

// BlockerTemplate builds a deterministic resolution checklist from the
// blocker severity and the task labels.
func BlockerTemplate(description string, task *board.Task, severity string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Blocker on %q (severity %s):\n%s\n", task.Name, severity, description)
	b.WriteString("\nSuggested next steps:\n")

	switch strings.ToUpper(severity) {
	case "HIGH":
		b.WriteString("- Escalate to a human operator now; do not wait for the next check-in.\n")
		b.WriteString("- Capture the exact error output and the steps that reproduce it.\n")
	case "MEDIUM":
		b.WriteString("- Retry the failing step once to rule out a transient cause.\n")
		b.WriteString("- Document what was attempted before escalating.\n")
	default:
		b.WriteString("- Re-read the task description; the answer is often already there.\n")
		b.WriteString("- Continue with unblocked parts of the task where possible.\n")
	}

	if len(task.Labels) > 0 {
		fmt.Fprintf(&b, "- Check recent changes touching: %s.\n", strings.Join(task.Labels, ", "))
	}
	b.WriteString("- Update the blocker report once resolved so the task can resume.\n")

	return b.String()
}

var _ Enricher = (*FallbackEnricher)(nil)
