package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/marcushq/marcus/internal/board"
)

const instructionsSystemPrompt = `You are a technical coordinator preparing work instructions for an
autonomous coding agent. Produce concise, actionable instructions covering a
Setup phase, an Implementation phase, and a Testing phase. Do not invent
requirements beyond the task description.`

const blockerSystemPrompt = `You are a technical coordinator helping an autonomous coding agent get
unblocked. Suggest concrete, ordered resolution steps. Be brief.`

// ChatEnricher calls an LLM with a hard timeout and bounded retries, and
// degrades to the fallback templates when the model fails or returns nothing.
type ChatEnricher struct {
	model    model.BaseChatModel
	fallback *FallbackEnricher
	timeout  time.Duration
	log      *slog.Logger
}

// NewChatEnricher wraps a chat model. Timeout bounds each enrichment call
// end to end, retries included.
func NewChatEnricher(m model.BaseChatModel, timeout time.Duration, log *slog.Logger) *ChatEnricher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ChatEnricher{
		model:    m,
		fallback: NewFallbackEnricher(),
		timeout:  timeout,
		log:      log,
	}
}

func (e *ChatEnricher) GenerateInstructions(ctx context.Context, task *board.Task, agentName string, skills []string) (string, Source) {
	prompt := instructionsPrompt(task, agentName, skills)

	text, err := e.generate(ctx, instructionsSystemPrompt, prompt)
	if err != nil {
		e.log.Warn("instruction generation failed, using fallback",
			"task_id", task.ID, "error", err)
		return e.fallback.GenerateInstructions(ctx, task, agentName, skills)
	}
	return text, SourceAI
}

func (e *ChatEnricher) AnalyzeBlocker(ctx context.Context, description string, task *board.Task, severity string) (string, Source) {
	prompt := blockerPrompt(description, task, severity)

	text, err := e.generate(ctx, blockerSystemPrompt, prompt)
	if err != nil {
		e.log.Warn("blocker analysis failed, using fallback",
			"task_id", task.ID, "error", err)
		return e.fallback.AnalyzeBlocker(ctx, description, task, severity)
	}
	return text, SourceAI
}

// generate runs one chat completion under the enricher's deadline, retrying
// transient failures with exponential backoff.
func (e *ChatEnricher) generate(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	messages := []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(user),
	}

	var text string
	err := retry.Do(
		func() error {
			resp, err := e.model.Generate(ctx, messages)
			if err != nil {
				return err
			}
			if resp == nil || strings.TrimSpace(resp.Content) == "" {
				return fmt.Errorf("model returned empty response")
			}
			text = resp.Content
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	return text, err
}

func instructionsPrompt(task *board.Task, agentName string, skills []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Name)
	if task.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", task.Description)
	}
	if len(task.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(task.Labels, ", "))
	}
	if task.EstimatedHours > 0 {
		fmt.Fprintf(&b, "Estimated hours: %.1f\n", task.EstimatedHours)
	}
	fmt.Fprintf(&b, "Priority: %s\n", task.Priority)
	if agentName != "" {
		fmt.Fprintf(&b, "Agent: %s\n", agentName)
	}
	if len(skills) > 0 {
		fmt.Fprintf(&b, "Agent skills: %s\n", strings.Join(skills, ", "))
	}
	return b.String()
}

func blockerPrompt(description string, task *board.Task, severity string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", task.Name)
	fmt.Fprintf(&b, "Severity: %s\n", severity)
	fmt.Fprintf(&b, "Blocker: %s\n", description)
	if len(task.Labels) > 0 {
		fmt.Fprintf(&b, "Labels: %s\n", strings.Join(task.Labels, ", "))
	}
	return b.String()
}

var _ Enricher = (*ChatEnricher)(nil)
