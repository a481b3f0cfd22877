package jobs

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a job id is unknown to the broker.
	ErrNotFound = errors.New("job not found")

	// ErrAlreadyTerminal is returned by Cancel when there is nothing to
	// cancel. Callers treat it as a no-op outcome, not as a failure.
	ErrAlreadyTerminal = errors.New("job already terminal")

	// ErrNoResult is returned by Result before the job has succeeded.
	ErrNoResult = errors.New("job has no result")

	// ErrNoNext is returned by Next when no follow-on stage has been
	// enqueued for the job (yet, or at all).
	ErrNoNext = errors.New("job has no next stage")
)

// Broker is the distributed work queue port. Enqueue returns immediately;
// execution happens on worker processes pulling via Claim.
type Broker interface {
	Enqueue(ctx context.Context, kind Kind, p Payload) (Handle, error)

	// Claim blocks up to wait for the next pending job of any given kind
	// and marks it running. Returns nil when the wait elapses empty.
	// Revoked jobs are consumed and skipped, never handed to the caller.
	Claim(ctx context.Context, kinds []Kind, wait time.Duration) (*Claimed, error)

	// Complete records the terminal success state together with the result
	// reference (a path or identifier, never a raw payload).
	Complete(ctx context.Context, id string, resultRef string) error

	// Fail records the terminal failure state with an opaque reason.
	Fail(ctx context.Context, id string, reason string) error

	// Cancel revokes a job that has not reached a terminal state. If it
	// already has, the terminal state is returned with ErrAlreadyTerminal.
	Cancel(ctx context.Context, id string) (State, error)

	State(ctx context.Context, id string) (State, error)
	Result(ctx context.Context, id string) (string, error)
	FailureReason(ctx context.Context, id string) (string, error)

	// LinkNext records the handle of the follow-on stage a worker enqueued
	// after this job succeeded. Next reads it back so clients can obtain a
	// token scoped to the new stage.
	LinkNext(ctx context.Context, id string, next Handle) error
	Next(ctx context.Context, id string) (Handle, error)
}
