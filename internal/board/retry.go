package board

import (
	"context"
	"time"

	"github.com/avast/retry-go"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 500 * time.Millisecond
)

// WithRetry wraps a provider so that transient failures (connection,
// rate-limit) are retried with exponential backoff: 3 attempts, 500ms base,
// doubling. Validation, conflict and auth errors pass through untouched.
func WithRetry(p Provider) Provider {
	return &retryProvider{inner: p}
}

type retryProvider struct {
	inner Provider
}

func (r *retryProvider) do(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(retryAttempts),
		retry.Delay(retryBaseDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsRetryable),
	)
}

func (r *retryProvider) Connect(ctx context.Context) error {
	return r.do(ctx, func() error { return r.inner.Connect(ctx) })
}

func (r *retryProvider) ListAvailableTasks(ctx context.Context) ([]*Task, error) {
	var tasks []*Task
	err := r.do(ctx, func() error {
		var err error
		tasks, err = r.inner.ListAvailableTasks(ctx)
		return err
	})
	return tasks, err
}

func (r *retryProvider) ListTasks(ctx context.Context) ([]*Task, error) {
	var tasks []*Task
	err := r.do(ctx, func() error {
		var err error
		tasks, err = r.inner.ListTasks(ctx)
		return err
	})
	return tasks, err
}

func (r *retryProvider) GetTask(ctx context.Context, id string) (*Task, error) {
	var task *Task
	err := r.do(ctx, func() error {
		var err error
		task, err = r.inner.GetTask(ctx, id)
		return err
	})
	return task, err
}

func (r *retryProvider) ClaimTask(ctx context.Context, id, agentID string) error {
	return r.do(ctx, func() error { return r.inner.ClaimTask(ctx, id, agentID) })
}

func (r *retryProvider) UpdateTaskStatus(ctx context.Context, id string, status Status) error {
	return r.do(ctx, func() error { return r.inner.UpdateTaskStatus(ctx, id, status) })
}

func (r *retryProvider) SetProgress(ctx context.Context, id string, percent int) error {
	return r.do(ctx, func() error { return r.inner.SetProgress(ctx, id, percent) })
}

func (r *retryProvider) AddComment(ctx context.Context, id, text string) error {
	return r.do(ctx, func() error { return r.inner.AddComment(ctx, id, text) })
}

func (r *retryProvider) CompleteTask(ctx context.Context, id string) error {
	return r.do(ctx, func() error { return r.inner.CompleteTask(ctx, id) })
}
