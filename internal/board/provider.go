package board

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a provider failure. Every provider call returns
// either success or an *Error carrying one of these kinds.
type ErrorKind string

const (
	ErrConnection  ErrorKind = "connection"
	ErrAuth        ErrorKind = "auth"
	ErrRateLimited ErrorKind = "rate_limited"
	ErrNotFound    ErrorKind = "not_found"
	ErrConflict    ErrorKind = "conflict"
	ErrBackend     ErrorKind = "backend"
)

// Error is a typed provider failure.
type Error struct {
	Kind ErrorKind
	Op   string // provider operation, e.g. "claim_task"
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("board %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("board %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a typed provider error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the ErrorKind from err, or ErrBackend if err is not a board error.
func KindOf(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ErrBackend
}

// IsRetryable reports whether err is a transient provider failure worth retrying.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case ErrConnection, ErrRateLimited:
		return true
	}
	return false
}

// Provider is the uniform contract over kanban backends. Implementations:
// Planka, GitHub Issues, Linear, and the in-process memory board.
//
// Every method returns either success or an *Error. Retrying transient
// failures is the caller's responsibility (see WithRetry).
type Provider interface {
	// Connect establishes or refreshes credentials. Idempotent.
	Connect(ctx context.Context) error

	// ListAvailableTasks returns tasks with status TODO and no assignee,
	// reflecting any out-of-band board changes. Order is unspecified.
	ListAvailableTasks(ctx context.Context) ([]*Task, error)

	// ListTasks returns every task on the board.
	ListTasks(ctx context.Context) ([]*Task, error)

	// GetTask fetches a single task by id.
	GetTask(ctx context.Context, id string) (*Task, error)

	// ClaimTask atomically transitions the card from TODO to IN_PROGRESS and
	// records the assignee. Backends without native atomicity implement an
	// optimistic check and fail with ErrConflict if the card is no longer
	// claimable.
	ClaimTask(ctx context.Context, id, agentID string) error

	// UpdateTaskStatus moves the card to the given status. Idempotent under retry.
	UpdateTaskStatus(ctx context.Context, id string, status Status) error

	// SetProgress records percent complete on the card, if the backend
	// supports it. Idempotent under retry.
	SetProgress(ctx context.Context, id string, percent int) error

	// AddComment posts a comment on the card. Idempotent under retry.
	AddComment(ctx context.Context, id, text string) error

	// CompleteTask transitions the card to DONE.
	CompleteTask(ctx context.Context, id string) error
}
