// Package memory provides an in-process Broker with the same semantics as
// the redis implementation. It backs single-process deployments and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gumballmed/scanpipe/internal/domain/jobs"
)

type record struct {
	handle  jobs.Handle
	payload jobs.Payload
	state   jobs.State
	result  string
	reason  string
	next    *jobs.Handle
}

// Broker is a mutex-guarded job store with one queue per kind.
type Broker struct {
	mu     sync.Mutex
	recs   map[string]*record
	queues map[jobs.Kind][]string
	wake   chan struct{}
}

func New() *Broker {
	return &Broker{
		recs:   make(map[string]*record),
		queues: make(map[jobs.Kind][]string),
		wake:   make(chan struct{}, 1),
	}
}

func (b *Broker) Enqueue(_ context.Context, kind jobs.Kind, p jobs.Payload) (jobs.Handle, error) {
	if _, err := jobs.ParseKind(string(kind)); err != nil {
		return jobs.Handle{}, err
	}
	h := jobs.Handle{ID: uuid.NewString(), Kind: kind}
	b.mu.Lock()
	b.recs[h.ID] = &record{handle: h, payload: p, state: jobs.StatePending}
	b.queues[kind] = append(b.queues[kind], h.ID)
	b.mu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
	return h, nil
}

// Claim pops the next pending job of any requested kind, skipping revoked
// entries. It blocks up to wait and returns nil on an empty timeout.
func (b *Broker) Claim(ctx context.Context, kinds []jobs.Kind, wait time.Duration) (*jobs.Claimed, error) {
	deadline := time.Now().Add(wait)
	for {
		if c := b.tryClaim(kinds); c != nil {
			return c, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-b.wake:
			timer.Stop()
		case <-timer.C:
			return nil, nil
		}
	}
}

func (b *Broker) tryClaim(kinds []jobs.Kind) *jobs.Claimed {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, kind := range kinds {
		for len(b.queues[kind]) > 0 {
			id := b.queues[kind][0]
			b.queues[kind] = b.queues[kind][1:]
			rec, ok := b.recs[id]
			if !ok || rec.state != jobs.StatePending {
				continue // revoked while queued
			}
			rec.state = jobs.StateRunning
			return &jobs.Claimed{Handle: rec.handle, Payload: rec.payload}
		}
	}
	return nil
}

func (b *Broker) Complete(_ context.Context, id string, resultRef string) error {
	return b.finish(id, jobs.StateSucceeded, resultRef, "")
}

func (b *Broker) Fail(_ context.Context, id string, reason string) error {
	return b.finish(id, jobs.StateFailed, "", reason)
}

func (b *Broker) finish(id string, state jobs.State, result, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.recs[id]
	if !ok {
		return jobs.ErrNotFound
	}
	if rec.state.IsTerminal() {
		return fmt.Errorf("job %s already terminal (%s)", id, rec.state)
	}
	rec.state = state
	rec.result = result
	rec.reason = reason
	return nil
}

func (b *Broker) Cancel(_ context.Context, id string) (jobs.State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.recs[id]
	if !ok {
		return "", jobs.ErrNotFound
	}
	if rec.state.IsTerminal() {
		return rec.state, jobs.ErrAlreadyTerminal
	}
	rec.state = jobs.StateRevoked
	return jobs.StateRevoked, nil
}

func (b *Broker) State(_ context.Context, id string) (jobs.State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.recs[id]
	if !ok {
		return "", jobs.ErrNotFound
	}
	return rec.state, nil
}

func (b *Broker) Result(_ context.Context, id string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.recs[id]
	if !ok {
		return "", jobs.ErrNotFound
	}
	if rec.state != jobs.StateSucceeded {
		return "", jobs.ErrNoResult
	}
	return rec.result, nil
}

func (b *Broker) FailureReason(_ context.Context, id string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.recs[id]
	if !ok {
		return "", jobs.ErrNotFound
	}
	return rec.reason, nil
}

func (b *Broker) LinkNext(_ context.Context, id string, next jobs.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.recs[id]
	if !ok {
		return jobs.ErrNotFound
	}
	rec.next = &next
	return nil
}

func (b *Broker) Next(_ context.Context, id string) (jobs.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.recs[id]
	if !ok {
		return jobs.Handle{}, jobs.ErrNotFound
	}
	if rec.next == nil {
		return jobs.Handle{}, jobs.ErrNoNext
	}
	return *rec.next, nil
}
