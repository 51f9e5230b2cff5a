// Package coordinator serializes all agent, task, and assignment mutations.
// Every write to shared state flows through one Coordinator and its mutex.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/marcushq/marcus/internal/ai"
	"github.com/marcushq/marcus/internal/assignments"
	"github.com/marcushq/marcus/internal/board"
	"github.com/marcushq/marcus/internal/events"
)

// Validation and conflict errors surfaced to tool callers.
var (
	ErrAlreadyRegistered = errors.New("agent already registered")
	ErrNotRegistered     = errors.New("agent not registered")
	ErrAlreadyAssigned   = errors.New("agent already has an active assignment")
	ErrNotAssigned       = errors.New("task is not assigned to this agent")
	ErrNoTaskAvailable   = errors.New("no task available")
	ErrInvalidInput      = errors.New("invalid input")
)

// claimRetries bounds how many claim conflicts one request_next_task call
// absorbs before giving up.
const claimRetries = 3

// TaskOffer is the result of a successful task request.
type TaskOffer struct {
	Task         *board.Task
	Instructions string
	Source       ai.Source
}

type commentKey struct {
	taskID  string
	percent int
	message string
}

// Coordinator owns the agent registry, the active assignment set, and the
// blocker list. All mutations happen under its mutex; the lock is held
// across the provider claim and the persistence write so a task can never
// be offered twice.
type Coordinator struct {
	mu       sync.Mutex
	provider board.Provider
	store    assignments.Store
	enricher ai.Enricher
	bus      *events.Bus
	log      *slog.Logger

	agents       map[string]*Agent
	blockers     []*Blocker
	seenComments map[commentKey]bool
	stallAfter   time.Duration

	totalAssigned  int
	totalCompleted int

	// now is swapped in tests.
	now func() time.Time
}

// New builds a Coordinator. The bus may be nil.
func New(provider board.Provider, store assignments.Store, enricher ai.Enricher, bus *events.Bus, stallAfter time.Duration, log *slog.Logger) *Coordinator {
	if stallAfter <= 0 {
		stallAfter = 24 * time.Hour
	}
	return &Coordinator{
		provider:     provider,
		store:        store,
		enricher:     enricher,
		bus:          bus,
		log:          log,
		agents:       make(map[string]*Agent),
		seenComments: make(map[commentKey]bool),
		stallAfter:   stallAfter,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Recover loads persisted assignments on startup. Agents are not persisted,
// so recovered assignments have no owner until reconciliation either
// confirms or releases them.
func (c *Coordinator) Recover(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	loaded, err := c.store.LoadAll()
	if err != nil {
		return fmt.Errorf("load assignments: %w", err)
	}
	if len(loaded) > 0 {
		c.log.Info("recovered persisted assignments", "count", len(loaded))
	}
	return nil
}

// RegisterAgent adds an agent to the in-memory registry.
func (c *Coordinator) RegisterAgent(id, name, role string, skills []string) (*Agent, error) {
	if id == "" || name == "" {
		return nil, fmt.Errorf("%w: agent_id and name are required", ErrInvalidInput)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.agents[id]; exists {
		return nil, ErrAlreadyRegistered
	}

	now := c.now()
	agent := &Agent{
		ID:           id,
		Name:         name,
		Role:         role,
		Skills:       append([]string(nil), skills...),
		RegisteredAt: now,
		LastSeenAt:   now,
	}
	c.agents[id] = agent

	c.publish(events.EventAgentRegistered, map[string]any{
		"agent_id": id,
		"role":     role,
	})
	c.log.Info("agent registered", "agent_id", id, "role", role, "skills", skills)
	return agent.clone(), nil
}

// RequestNextTask selects, claims, and assigns the best available task for
// the agent. Returns ErrNoTaskAvailable when nothing is ready, and a
// provider error when the board cannot be reached.
func (c *Coordinator) RequestNextTask(ctx context.Context, agentID string) (*TaskOffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[agentID]
	if !ok {
		return nil, ErrNotRegistered
	}
	agent.LastSeenAt = c.now()
	if agent.CurrentTaskID != "" {
		return nil, ErrAlreadyAssigned
	}

	available, err := c.provider.ListAvailableTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh available tasks: %w", err)
	}
	done, err := c.doneSet(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh task snapshot: %w", err)
	}

	claimed, err := c.claimBest(ctx, available, agent, done)
	if err != nil {
		return nil, err
	}

	instructions, source := c.enricher.GenerateInstructions(ctx, claimed, agent.Name, agent.Skills)

	now := c.now()
	a := assignments.Assignment{
		TaskID:       claimed.ID,
		AgentID:      agentID,
		AssignedAt:   now,
		Instructions: instructions,
		LastUpdateAt: now,
	}
	if err := c.store.Record(a); err != nil {
		// Compensate: put the claimed task back so it is not stranded.
		if uerr := c.provider.UpdateTaskStatus(ctx, claimed.ID, board.StatusTodo); uerr != nil {
			c.log.Error("compensation failed, task left claimed",
				"task_id", claimed.ID, "error", uerr)
		}
		return nil, fmt.Errorf("persist assignment: %w", err)
	}

	agent.CurrentTaskID = claimed.ID
	claimed.Status = board.StatusInProgress
	claimed.AssignedTo = agentID
	c.totalAssigned++

	c.publish(events.EventAssignmentCreated, map[string]any{
		"task_id":  claimed.ID,
		"agent_id": agentID,
		"source":   string(source),
	})
	c.log.Info("task assigned", "task_id", claimed.ID, "agent_id", agentID, "instructions_source", source)

	return &TaskOffer{Task: claimed, Instructions: instructions, Source: source}, nil
}

// claimBest runs selection and claiming, re-selecting on claim conflicts.
// Callers hold c.mu.
func (c *Coordinator) claimBest(ctx context.Context, available []*board.Task, agent *Agent, done map[string]bool) (*board.Task, error) {
	for attempt := 0; attempt < claimRetries; attempt++ {
		candidate := SelectTask(available, agent.Skills, done)
		if candidate == nil {
			return nil, ErrNoTaskAvailable
		}

		err := c.provider.ClaimTask(ctx, candidate.ID, agent.ID)
		if err == nil {
			return candidate, nil
		}

		switch board.KindOf(err) {
		case board.ErrConflict, board.ErrNotFound:
			// Someone else took it; drop the candidate and re-select.
			c.log.Debug("claim lost, re-selecting", "task_id", candidate.ID, "error", err)
			available = without(available, candidate.ID)
		default:
			return nil, fmt.Errorf("claim task %s: %w", candidate.ID, err)
		}
	}
	return nil, ErrNoTaskAvailable
}

// doneSet fetches the full board and returns the set of DONE task ids.
// Callers hold c.mu.
func (c *Coordinator) doneSet(ctx context.Context) (map[string]bool, error) {
	all, err := c.provider.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(all))
	for _, t := range all {
		if t.Status == board.StatusDone {
			done[t.ID] = true
		}
	}
	return done, nil
}

func without(tasks []*board.Task, id string) []*board.Task {
	out := tasks[:0]
	for _, t := range tasks {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

// AgentStatus returns a copy of the agent's registry entry.
func (c *Coordinator) AgentStatus(id string) (*Agent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[id]
	if !ok {
		return nil, ErrNotRegistered
	}
	return agent.clone(), nil
}

// ListAgents returns copies of all registered agents, ordered by id.
func (c *Coordinator) ListAgents() []*Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.agentSnapshot()
}

// agentSnapshot copies the registry sorted by id. Callers hold c.mu.
func (c *Coordinator) agentSnapshot() []*Agent {
	out := make([]*Agent, 0, len(c.agents))
	for _, a := range c.agents {
		out = append(out, a.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Blockers returns a copy of the recorded blockers.
func (c *Coordinator) Blockers() []*Blocker {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*Blocker, 0, len(c.blockers))
	for _, b := range c.blockers {
		cp := *b
		out = append(out, &cp)
	}
	return out
}

func (c *Coordinator) publish(eventType events.EventType, payload map[string]any) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.NewEvent(eventType, events.SourceCoordinator, payload))
}
