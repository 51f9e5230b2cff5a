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

// LinearBoard maps a Linear team's issues onto the kanban contract over the
// GraphQL API. Workflow state types carry the status: "unstarted" is TODO,
// "started" is IN_PROGRESS (or BLOCKED with the blocked label), "completed"
// is DONE.
type LinearBoard struct {
	apiKey string
	teamID string
	apiURL string
	client *http.Client
}

// NewLinearBoard creates a Linear provider.
func NewLinearBoard(apiKey, teamID string) *LinearBoard {
	return &LinearBoard{
		apiKey: apiKey,
		teamID: teamID,
		apiURL: "https://api.linear.app/graphql",
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type linearIssue struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Priority    float64 `json:"priority"` // 0 none, 1 urgent, 2 high, 3 normal, 4 low
	State       struct {
		Type string `json:"type"`
	} `json:"state"`
	Assignee *struct {
		ID string `json:"id"`
	} `json:"assignee"`
	Labels struct {
		Nodes []struct {
			Name string `json:"name"`
		} `json:"nodes"`
	} `json:"labels"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DueDate   *time.Time `json:"dueDate"`
}

const linearIssueFields = `
	id title description priority
	state { type }
	assignee { id }
	labels { nodes { name } }
	createdAt updatedAt dueDate`

func linearPriority(p float64) Priority {
	switch int(p) {
	case 1:
		return PriorityUrgent
	case 2:
		return PriorityHigh
	case 4:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

func (l *LinearBoard) issueToTask(is *linearIssue) *Task {
	t := &Task{
		ID:        is.ID,
		Name:      is.Title,
		Priority:  linearPriority(is.Priority),
		CreatedAt: is.CreatedAt,
		UpdatedAt: is.UpdatedAt,
		DueDate:   is.DueDate,
	}

	switch is.State.Type {
	case "completed":
		t.Status = StatusDone
	case "started":
		t.Status = StatusInProgress
	default:
		t.Status = StatusTodo
	}
	for _, label := range is.Labels.Nodes {
		if label.Name == ghLabelBlocked {
			t.Status = StatusBlocked
			continue
		}
		t.Labels = append(t.Labels, label.Name)
	}
	if is.Assignee != nil {
		t.AssignedTo = is.Assignee.ID
	}
	t.Description, t.Dependencies, t.EstimatedHours = parseCardDescription(is.Description)
	return t
}

func (l *LinearBoard) Connect(ctx context.Context) error {
	query := `query($id: String!) { team(id: $id) { id } }`
	var resp struct {
		Team *struct {
			ID string `json:"id"`
		} `json:"team"`
	}
	if err := l.query(ctx, query, map[string]any{"id": l.teamID}, &resp); err != nil {
		return wrapOp(err, "connect")
	}
	if resp.Team == nil {
		return NewError(ErrNotFound, "connect", fmt.Errorf("team %s", l.teamID))
	}
	return nil
}

func (l *LinearBoard) ListAvailableTasks(ctx context.Context) ([]*Task, error) {
	tasks, err := l.ListTasks(ctx)
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

func (l *LinearBoard) ListTasks(ctx context.Context) ([]*Task, error) {
	query := fmt.Sprintf(`query($teamId: ID) {
		issues(filter: {team: {id: {eq: $teamId}}}, first: 100) {
			nodes {%s}
		}
	}`, linearIssueFields)

	var resp struct {
		Issues struct {
			Nodes []linearIssue `json:"nodes"`
		} `json:"issues"`
	}
	if err := l.query(ctx, query, map[string]any{"teamId": l.teamID}, &resp); err != nil {
		return nil, wrapOp(err, "list_tasks")
	}

	tasks := make([]*Task, 0, len(resp.Issues.Nodes))
	for i := range resp.Issues.Nodes {
		tasks = append(tasks, l.issueToTask(&resp.Issues.Nodes[i]))
	}
	return tasks, nil
}

func (l *LinearBoard) GetTask(ctx context.Context, id string) (*Task, error) {
	query := fmt.Sprintf(`query($id: String!) { issue(id: $id) {%s} }`, linearIssueFields)
	var resp struct {
		Issue *linearIssue `json:"issue"`
	}
	if err := l.query(ctx, query, map[string]any{"id": id}, &resp); err != nil {
		return nil, wrapOp(err, "get_task")
	}
	if resp.Issue == nil {
		return nil, NewError(ErrNotFound, "get_task", fmt.Errorf("issue %s", id))
	}
	return l.issueToTask(resp.Issue), nil
}

func (l *LinearBoard) ClaimTask(ctx context.Context, id, agentID string) error {
	current, err := l.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if current.Status != StatusTodo || current.AssignedTo != "" {
		return NewError(ErrConflict, "claim_task", fmt.Errorf("issue %s already claimed", id))
	}

	mutation := `mutation($id: String!, $assigneeId: String!, $stateType: String!) {
		issueUpdate(id: $id, input: {assigneeId: $assigneeId, stateType: $stateType}) {
			success
		}
	}`
	var resp struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	vars := map[string]any{"id": id, "assigneeId": agentID, "stateType": "started"}
	if err := l.query(ctx, mutation, vars, &resp); err != nil {
		return wrapOp(err, "claim_task")
	}
	if !resp.IssueUpdate.Success {
		return NewError(ErrBackend, "claim_task", fmt.Errorf("issueUpdate rejected"))
	}
	return nil
}

func (l *LinearBoard) UpdateTaskStatus(ctx context.Context, id string, status Status) error {
	input := map[string]any{}
	switch status {
	case StatusTodo:
		input["stateType"] = "unstarted"
		input["assigneeId"] = nil
	case StatusInProgress, StatusBlocked:
		input["stateType"] = "started"
	case StatusDone:
		input["stateType"] = "completed"
	}

	mutation := `mutation($id: String!, $input: IssueUpdateInput!) {
		issueUpdate(id: $id, input: $input) { success }
	}`
	var resp struct {
		IssueUpdate struct {
			Success bool `json:"success"`
		} `json:"issueUpdate"`
	}
	if err := l.query(ctx, mutation, map[string]any{"id": id, "input": input}, &resp); err != nil {
		return wrapOp(err, "update_task_status")
	}

	// The blocked marker rides on a label; state type alone can't express it.
	if status == StatusBlocked {
		return wrapOp(l.setBlockedLabel(ctx, id, true), "update_task_status")
	}
	return wrapOp(l.setBlockedLabel(ctx, id, false), "update_task_status")
}

func (l *LinearBoard) setBlockedLabel(ctx context.Context, id string, blocked bool) error {
	field := "removedLabelIds"
	if blocked {
		field = "addedLabelIds"
	}
	labelID, err := l.blockedLabelID(ctx)
	if err != nil || labelID == "" {
		return err
	}
	mutation := fmt.Sprintf(`mutation($id: String!, $labels: [String!]) {
		issueUpdate(id: $id, input: {%s: $labels}) { success }
	}`, field)
	return l.query(ctx, mutation, map[string]any{"id": id, "labels": []string{labelID}}, nil)
}

func (l *LinearBoard) blockedLabelID(ctx context.Context) (string, error) {
	query := `query { issueLabels(filter: {name: {eq: "blocked"}}, first: 1) { nodes { id } } }`
	var resp struct {
		IssueLabels struct {
			Nodes []struct {
				ID string `json:"id"`
			} `json:"nodes"`
		} `json:"issueLabels"`
	}
	if err := l.query(ctx, query, nil, &resp); err != nil {
		return "", err
	}
	if len(resp.IssueLabels.Nodes) == 0 {
		return "", nil
	}
	return resp.IssueLabels.Nodes[0].ID, nil
}

func (l *LinearBoard) SetProgress(ctx context.Context, id string, percent int) error {
	return l.AddComment(ctx, id, fmt.Sprintf("Progress: %d%%", percent))
}

func (l *LinearBoard) AddComment(ctx context.Context, id, text string) error {
	mutation := `mutation($id: String!, $body: String!) {
		commentCreate(input: {issueId: $id, body: $body}) { success }
	}`
	if err := l.query(ctx, mutation, map[string]any{"id": id, "body": text}, nil); err != nil {
		return wrapOp(err, "add_comment")
	}
	return nil
}

func (l *LinearBoard) CompleteTask(ctx context.Context, id string) error {
	return wrapOp(l.UpdateTaskStatus(ctx, id, StatusDone), "complete_task")
}

func (l *LinearBoard) query(ctx context.Context, query string, vars map[string]any, out any) error {
	payload, _ := json.Marshal(map[string]any{"query": query, "variables": vars})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.apiURL, bytes.NewReader(payload))
	if err != nil {
		return NewError(ErrBackend, "graphql", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", l.apiKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return NewError(ErrConnection, "graphql", err)
	}
	defer resp.Body.Close()

	if kind := kindForHTTPStatus(resp.StatusCode); kind != "" {
		return NewError(kind, "graphql", fmt.Errorf("http %d", resp.StatusCode))
	}

	var envelope struct {
		Data   json.RawMessage `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return NewError(ErrBackend, "graphql", err)
	}
	if len(envelope.Errors) > 0 {
		msg := envelope.Errors[0].Message
		if strings.Contains(strings.ToLower(msg), "not found") {
			return NewError(ErrNotFound, "graphql", fmt.Errorf("%s", msg))
		}
		return NewError(ErrBackend, "graphql", fmt.Errorf("%s", msg))
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return NewError(ErrBackend, "graphql", err)
		}
	}
	return nil
}

var _ Provider = (*LinearBoard)(nil)
