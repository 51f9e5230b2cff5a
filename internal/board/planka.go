package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Planka list names mapped to task statuses. Boards managed by Marcus are
// expected to carry exactly these four lists.
var plankaListNames = map[string]Status{
	"TODO":        StatusTodo,
	"IN PROGRESS": StatusInProgress,
	"DONE":        StatusDone,
	"BLOCKED":     StatusBlocked,
}

// PlankaBoard talks to a Planka server over its REST API.
type PlankaBoard struct {
	baseURL  string
	email    string
	password string
	boardID  string
	client   *http.Client

	mu    sync.Mutex
	token string

	listsMu sync.RWMutex
	lists   map[Status]string // status -> list id
}

// NewPlankaBoard creates a Planka provider. Connect must be called before use.
func NewPlankaBoard(baseURL, email, password, boardID string) *PlankaBoard {
	return &PlankaBoard{
		baseURL:  strings.TrimRight(baseURL, "/"),
		email:    email,
		password: password,
		boardID:  boardID,
		client:   &http.Client{Timeout: 15 * time.Second},
		lists:    make(map[Status]string),
	}
}

// Connect authenticates and caches the board's list ids. Idempotent: a valid
// token is refreshed in place.
func (p *PlankaBoard) Connect(ctx context.Context) error {
	body, _ := json.Marshal(map[string]string{
		"emailOrUsername": p.email,
		"password":        p.password,
	})

	var resp struct {
		Item string `json:"item"`
	}
	if err := p.doJSON(ctx, http.MethodPost, "/api/access-tokens", bytes.NewReader(body), &resp, false); err != nil {
		return wrapOp(err, "connect")
	}

	p.mu.Lock()
	p.token = resp.Item
	p.mu.Unlock()

	return p.refreshLists(ctx)
}

func (p *PlankaBoard) refreshLists(ctx context.Context) error {
	var resp struct {
		Included struct {
			Lists []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"lists"`
		} `json:"included"`
	}
	path := fmt.Sprintf("/api/boards/%s", p.boardID)
	if err := p.doJSON(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return wrapOp(err, "connect")
	}

	p.listsMu.Lock()
	defer p.listsMu.Unlock()
	for _, l := range resp.Included.Lists {
		if status, ok := plankaListNames[strings.ToUpper(l.Name)]; ok {
			p.lists[status] = l.ID
		}
	}
	if len(p.lists) < len(plankaListNames) {
		return NewError(ErrBackend, "connect", fmt.Errorf("board %s is missing status lists", p.boardID))
	}
	return nil
}

type plankaCard struct {
	ID          string     `json:"id"`
	ListID      string     `json:"listId"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	DueDate     *time.Time `json:"dueDate"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

type plankaCardDetails struct {
	Item     plankaCard `json:"item"`
	Included struct {
		CardLabels []struct {
			Name string `json:"name"`
		} `json:"cardLabels"`
		CardMemberships []struct {
			UserID string `json:"userId"`
		} `json:"cardMemberships"`
	} `json:"included"`
}

func (p *PlankaBoard) statusOfList(listID string) Status {
	p.listsMu.RLock()
	defer p.listsMu.RUnlock()
	for status, id := range p.lists {
		if id == listID {
			return status
		}
	}
	return StatusTodo
}

func (p *PlankaBoard) listID(status Status) string {
	p.listsMu.RLock()
	defer p.listsMu.RUnlock()
	return p.lists[status]
}

func (p *PlankaBoard) cardToTask(d *plankaCardDetails) *Task {
	t := &Task{
		ID:          d.Item.ID,
		Name:        d.Item.Name,
		Status:      p.statusOfList(d.Item.ListID),
		Priority:    PriorityMedium,
		CreatedAt:   d.Item.CreatedAt,
		UpdatedAt:   d.Item.UpdatedAt,
		DueDate:     d.Item.DueDate,
	}
	t.Description, t.Dependencies, t.EstimatedHours = parseCardDescription(d.Item.Description)
	for _, l := range d.Included.CardLabels {
		if pri, ok := strings.CutPrefix(l.Name, "priority:"); ok {
			if parsed, err := ParsePriority(strings.ToUpper(pri)); err == nil {
				t.Priority = parsed
				continue
			}
		}
		t.Labels = append(t.Labels, l.Name)
	}
	for _, m := range d.Included.CardMemberships {
		t.AssignedTo = m.UserID
		break
	}
	return t
}

// parseCardDescription splits structured metadata out of a card description.
// Dependencies are encoded as a "depends-on:" line, estimates as "estimate:".
func parseCardDescription(desc string) (text string, deps []string, hours float64) {
	var kept []string
	for _, line := range strings.Split(desc, "\n") {
		trimmed := strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(trimmed, "depends-on:"); ok {
			for _, id := range strings.Split(rest, ",") {
				if id = strings.TrimSpace(id); id != "" {
					deps = append(deps, id)
				}
			}
			continue
		}
		if rest, ok := strings.CutPrefix(trimmed, "estimate:"); ok {
			fmt.Sscanf(strings.TrimSpace(rest), "%f", &hours)
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), deps, hours
}

func (p *PlankaBoard) ListAvailableTasks(ctx context.Context) ([]*Task, error) {
	tasks, err := p.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Task
	for _, t := range tasks {
		if t.Status == StatusTodo && t.AssignedTo == "" {
			out = append(out, t)
		}
	}
	return out, nil
}

func (p *PlankaBoard) ListTasks(ctx context.Context) ([]*Task, error) {
	var resp struct {
		Included struct {
			Cards []plankaCard `json:"cards"`
		} `json:"included"`
	}
	path := fmt.Sprintf("/api/boards/%s", p.boardID)
	if err := p.doJSON(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, wrapOp(err, "list_tasks")
	}

	tasks := make([]*Task, 0, len(resp.Included.Cards))
	for _, c := range resp.Included.Cards {
		t, err := p.GetTask(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (p *PlankaBoard) GetTask(ctx context.Context, id string) (*Task, error) {
	var resp plankaCardDetails
	path := fmt.Sprintf("/api/cards/%s", id)
	if err := p.doJSON(ctx, http.MethodGet, path, nil, &resp, true); err != nil {
		return nil, wrapOp(err, "get_task")
	}
	return p.cardToTask(&resp), nil
}

// ClaimTask implements the optimistic check: re-read the card, fail with
// conflict if it is no longer claimable, then move it and add the member.
func (p *PlankaBoard) ClaimTask(ctx context.Context, id, agentID string) error {
	current, err := p.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if current.Status != StatusTodo || current.AssignedTo != "" {
		return NewError(ErrConflict, "claim_task", fmt.Errorf("task %s already claimed", id))
	}

	if err := p.moveCard(ctx, id, StatusInProgress); err != nil {
		return wrapOp(err, "claim_task")
	}

	body, _ := json.Marshal(map[string]string{"userId": agentID})
	path := fmt.Sprintf("/api/cards/%s/card-memberships", id)
	if err := p.doJSON(ctx, http.MethodPost, path, bytes.NewReader(body), nil, true); err != nil {
		return wrapOp(err, "claim_task")
	}
	return nil
}

func (p *PlankaBoard) moveCard(ctx context.Context, id string, status Status) error {
	body, _ := json.Marshal(map[string]string{"listId": p.listID(status)})
	path := fmt.Sprintf("/api/cards/%s", id)
	return p.doJSON(ctx, http.MethodPatch, path, bytes.NewReader(body), nil, true)
}

func (p *PlankaBoard) UpdateTaskStatus(ctx context.Context, id string, status Status) error {
	if err := p.moveCard(ctx, id, status); err != nil {
		return wrapOp(err, "update_task_status")
	}
	if status == StatusTodo {
		// Returning to TODO clears the assignee.
		path := fmt.Sprintf("/api/cards/%s/card-memberships", id)
		_ = p.doJSON(ctx, http.MethodDelete, path, nil, nil, true)
	}
	return nil
}

func (p *PlankaBoard) SetProgress(ctx context.Context, id string, percent int) error {
	// Planka has no native progress field; record it as a comment.
	return p.AddComment(ctx, id, fmt.Sprintf("Progress: %d%%", percent))
}

func (p *PlankaBoard) AddComment(ctx context.Context, id, text string) error {
	body, _ := json.Marshal(map[string]string{"text": text})
	path := fmt.Sprintf("/api/cards/%s/comment-actions", id)
	if err := p.doJSON(ctx, http.MethodPost, path, bytes.NewReader(body), nil, true); err != nil {
		return wrapOp(err, "add_comment")
	}
	return nil
}

func (p *PlankaBoard) CompleteTask(ctx context.Context, id string) error {
	if err := p.moveCard(ctx, id, StatusDone); err != nil {
		return wrapOp(err, "complete_task")
	}
	return nil
}

func (p *PlankaBoard) doJSON(ctx context.Context, method, path string, body *bytes.Reader, out any, authed bool) error {
	var reqBody *bytes.Reader
	if body != nil {
		reqBody = body
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return NewError(ErrBackend, method, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		p.mu.Lock()
		req.Header.Set("Authorization", "Bearer "+p.token)
		p.mu.Unlock()
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return NewError(ErrConnection, method, err)
	}
	defer resp.Body.Close()

	if kind := kindForHTTPStatus(resp.StatusCode); kind != "" {
		return NewError(kind, method, fmt.Errorf("http %d", resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return NewError(ErrBackend, method, err)
		}
	}
	return nil
}

// kindForHTTPStatus maps an HTTP status code to an error kind, or "" for success.
func kindForHTTPStatus(code int) ErrorKind {
	switch {
	case code >= 200 && code < 300:
		return ""
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrAuth
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusTooManyRequests:
		return ErrRateLimited
	case code == http.StatusConflict:
		return ErrConflict
	case code >= 500:
		return ErrConnection
	default:
		return ErrBackend
	}
}

// wrapOp rewrites the Op of a board error so failures carry the logical
// operation name rather than the HTTP verb.
func wrapOp(err error, op string) error {
	if err == nil {
		return nil
	}
	if be, ok := err.(*Error); ok {
		return &Error{Kind: be.Kind, Op: op, Err: be.Err}
	}
	return NewError(ErrBackend, op, err)
}

var _ Provider = (*PlankaBoard)(nil)
