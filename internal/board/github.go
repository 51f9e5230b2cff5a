package board

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// GitHub label conventions used to encode board state on issues.
const (
	ghLabelInProgress = "in-progress"
	ghLabelBlocked    = "blocked"
	ghPriorityPrefix  = "priority:"
	ghDependsPrefix   = "depends-on:" // issue body line, comma-separated issue numbers
	ghEstimatePrefix  = "estimate:"
)

// GitHubBoard maps a GitHub Issues repository onto the kanban contract.
// Open issues without assignee are TODO; the in-progress/blocked labels and
// the assignee field carry claims; closed issues are DONE.
type GitHubBoard struct {
	token  string
	owner  string
	repo   string
	apiURL string
	client *http.Client
}

// NewGitHubBoard creates a GitHub Issues provider.
func NewGitHubBoard(token, owner, repo string) *GitHubBoard {
	return &GitHubBoard{
		token:  token,
		owner:  owner,
		repo:   repo,
		apiURL: "https://api.github.com",
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type ghIssue struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	State     string `json:"state"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Assignees []struct {
		Login string `json:"login"`
	} `json:"assignees"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (g *GitHubBoard) issueToTask(is *ghIssue) *Task {
	t := &Task{
		ID:        fmt.Sprintf("%d", is.Number),
		Name:      is.Title,
		Status:    StatusTodo,
		Priority:  PriorityMedium,
		CreatedAt: is.CreatedAt,
		UpdatedAt: is.UpdatedAt,
	}

	if is.State == "closed" {
		t.Status = StatusDone
	}
	for _, l := range is.Labels {
		switch {
		case l.Name == ghLabelBlocked:
			t.Status = StatusBlocked
		case l.Name == ghLabelInProgress && t.Status == StatusTodo:
			t.Status = StatusInProgress
		case strings.HasPrefix(l.Name, ghPriorityPrefix):
			if pri, err := ParsePriority(strings.ToUpper(strings.TrimPrefix(l.Name, ghPriorityPrefix))); err == nil {
				t.Priority = pri
			}
		default:
			t.Labels = append(t.Labels, l.Name)
		}
	}
	if len(is.Assignees) > 0 {
		t.AssignedTo = is.Assignees[0].Login
	}
	t.Description, t.Dependencies, t.EstimatedHours = parseCardDescription(is.Body)
	return t
}

func (g *GitHubBoard) Connect(ctx context.Context) error {
	path := fmt.Sprintf("/repos/%s/%s", g.owner, g.repo)
	if err := g.doJSON(ctx, http.MethodGet, path, nil, nil); err != nil {
		return wrapOp(err, "connect")
	}
	return nil
}

func (g *GitHubBoard) ListAvailableTasks(ctx context.Context) ([]*Task, error) {
	tasks, err := g.ListTasks(ctx)
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

func (g *GitHubBoard) ListTasks(ctx context.Context) ([]*Task, error) {
	path := fmt.Sprintf("/repos/%s/%s/issues?state=all&per_page=100", g.owner, g.repo)
	var issues []ghIssue
	if err := g.doJSON(ctx, http.MethodGet, path, nil, &issues); err != nil {
		return nil, wrapOp(err, "list_tasks")
	}

	tasks := make([]*Task, 0, len(issues))
	for i := range issues {
		tasks = append(tasks, g.issueToTask(&issues[i]))
	}
	return tasks, nil
}

func (g *GitHubBoard) GetTask(ctx context.Context, id string) (*Task, error) {
	var issue ghIssue
	path := fmt.Sprintf("/repos/%s/%s/issues/%s", g.owner, g.repo, id)
	if err := g.doJSON(ctx, http.MethodGet, path, nil, &issue); err != nil {
		return nil, wrapOp(err, "get_task")
	}
	return g.issueToTask(&issue), nil
}

// ClaimTask is optimistic: GitHub has no compare-and-swap on issues, so the
// current state is re-read and the claim fails with conflict if another
// assignee won the race.
func (g *GitHubBoard) ClaimTask(ctx context.Context, id, agentID string) error {
	current, err := g.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if current.Status != StatusTodo || current.AssignedTo != "" {
		return NewError(ErrConflict, "claim_task", fmt.Errorf("issue %s already claimed", id))
	}

	body, _ := json.Marshal(map[string]any{"assignees": []string{agentID}})
	path := fmt.Sprintf("/repos/%s/%s/issues/%s/assignees", g.owner, g.repo, id)
	if err := g.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return wrapOp(err, "claim_task")
	}
	if err := g.addLabel(ctx, id, ghLabelInProgress); err != nil {
		return wrapOp(err, "claim_task")
	}
	return nil
}

func (g *GitHubBoard) UpdateTaskStatus(ctx context.Context, id string, status Status) error {
	var err error
	switch status {
	case StatusTodo:
		err = g.patchIssue(ctx, id, map[string]any{"state": "open", "assignees": []string{}})
		if err == nil {
			err = g.removeLabels(ctx, id, ghLabelInProgress, ghLabelBlocked)
		}
	case StatusInProgress:
		err = g.removeLabels(ctx, id, ghLabelBlocked)
		if err == nil {
			err = g.addLabel(ctx, id, ghLabelInProgress)
		}
	case StatusBlocked:
		err = g.addLabel(ctx, id, ghLabelBlocked)
	case StatusDone:
		err = g.patchIssue(ctx, id, map[string]any{"state": "closed"})
	}
	return wrapOp(err, "update_task_status")
}

func (g *GitHubBoard) SetProgress(ctx context.Context, id string, percent int) error {
	// Issues have no progress field; comments carry it.
	return g.AddComment(ctx, id, fmt.Sprintf("Progress: %d%%", percent))
}

func (g *GitHubBoard) AddComment(ctx context.Context, id, text string) error {
	body, _ := json.Marshal(map[string]string{"body": text})
	path := fmt.Sprintf("/repos/%s/%s/issues/%s/comments", g.owner, g.repo, id)
	if err := g.doJSON(ctx, http.MethodPost, path, body, nil); err != nil {
		return wrapOp(err, "add_comment")
	}
	return nil
}

func (g *GitHubBoard) CompleteTask(ctx context.Context, id string) error {
	if err := g.patchIssue(ctx, id, map[string]any{"state": "closed"}); err != nil {
		return wrapOp(err, "complete_task")
	}
	_ = g.removeLabels(ctx, id, ghLabelInProgress, ghLabelBlocked)
	return nil
}

func (g *GitHubBoard) patchIssue(ctx context.Context, id string, fields map[string]any) error {
	body, _ := json.Marshal(fields)
	path := fmt.Sprintf("/repos/%s/%s/issues/%s", g.owner, g.repo, id)
	return g.doJSON(ctx, http.MethodPatch, path, body, nil)
}

func (g *GitHubBoard) addLabel(ctx context.Context, id, label string) error {
	body, _ := json.Marshal(map[string][]string{"labels": {label}})
	path := fmt.Sprintf("/repos/%s/%s/issues/%s/labels", g.owner, g.repo, id)
	return g.doJSON(ctx, http.MethodPost, path, body, nil)
}

func (g *GitHubBoard) removeLabels(ctx context.Context, id string, labels ...string) error {
	for _, label := range labels {
		path := fmt.Sprintf("/repos/%s/%s/issues/%s/labels/%s", g.owner, g.repo, id, label)
		err := g.doJSON(ctx, http.MethodDelete, path, nil, nil)
		if err != nil && KindOf(err) != ErrNotFound {
			return err
		}
	}
	return nil
}

func (g *GitHubBoard) doJSON(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, g.apiURL+path, bytes.NewReader(body))
	if err != nil {
		return NewError(ErrBackend, method, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+g.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return NewError(ErrConnection, method, err)
	}
	defer resp.Body.Close()

	// GitHub signals secondary rate limits with 403 + Retry-After.
	if resp.StatusCode == http.StatusForbidden && resp.Header.Get("Retry-After") != "" {
		return NewError(ErrRateLimited, method, fmt.Errorf("rate limited"))
	}
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

var _ Provider = (*GitHubBoard)(nil)
