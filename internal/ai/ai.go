// Package ai wraps the LLM provider used to enrich assignments. Every call
// degrades to a deterministic template, so callers never see an error.
package ai

import (
	"context"

	"github.com/marcushq/marcus/internal/board"
)

// Source records where an enrichment result came from.
type Source string

const (
	SourceAI       Source = "ai"
	SourceFallback Source = "fallback"
)

// Enricher generates task instructions and blocker analyses.
type Enricher interface {
	// GenerateInstructions produces working instructions for an agent picking
	// up a task. The result is never empty.
	GenerateInstructions(ctx context.Context, task *board.Task, agentName string, skills []string) (string, Source)

	// AnalyzeBlocker produces suggestions for resolving a reported blocker.
	// Severity is one of LOW, MEDIUM, HIGH.
	AnalyzeBlocker(ctx context.Context, description string, task *board.Task, severity string) (string, Source)
}
