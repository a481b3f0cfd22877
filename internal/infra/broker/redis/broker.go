// Package redis implements the job Broker on a shared Redis instance: a
// hash per job plus one list per job kind. API processes and workers only
// share Redis and the sandbox filesystem.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/gumballmed/scanpipe/internal/domain/jobs"
)

const keyPrefix = "scanpipe"

// claimScript transitions pending -> running. Returns the stored payload on
// success, an empty string when the job was revoked (or vanished) while
// queued so the caller skips it.
var claimScript = redis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if state ~= "pending" then
  return ""
end
redis.call("HSET", KEYS[1], "state", "running")
return redis.call("HGET", KEYS[1], "payload")
`)

// cancelScript revokes a non-terminal job atomically. Returns the state the
// job ended up in plus whether this call changed it.
var cancelScript = redis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if not state then
  return {"", 0}
end
if state == "succeeded" or state == "failed" or state == "revoked" then
  return {state, 0}
end
redis.call("HSET", KEYS[1], "state", "revoked")
return {"revoked", 1}
`)

// finishScript records a terminal state only if the job is still live.
var finishScript = redis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if not state then
  return "missing"
end
if state == "succeeded" or state == "failed" or state == "revoked" then
  return state
end
redis.call("HSET", KEYS[1], "state", ARGV[1], ARGV[2], ARGV[3])
return ""
`)

type Broker struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects and pings. Job hashes expire after retention; retention <= 0
// keeps them until Redis' own eviction policy removes them.
func New(ctx context.Context, addr, password string, db int, retention time.Duration) (*Broker, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx2).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Broker{rdb: rdb, ttl: retention}, nil
}

// Close releases the underlying connection pool.
func (b *Broker) Close() error { return b.rdb.Close() }

// Ping is used by the health endpoint.
func (b *Broker) Ping(ctx context.Context) error { return b.rdb.Ping(ctx).Err() }

func jobKey(id string) string        { return fmt.Sprintf("%s:job:%s", keyPrefix, id) }
func queueKey(kind jobs.Kind) string { return fmt.Sprintf("%s:queue:%s", keyPrefix, kind) }

func (b *Broker) Enqueue(ctx context.Context, kind jobs.Kind, p jobs.Payload) (jobs.Handle, error) {
	if _, err := jobs.ParseKind(string(kind)); err != nil {
		return jobs.Handle{}, err
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return jobs.Handle{}, fmt.Errorf("encoding payload: %w", err)
	}
	h := jobs.Handle{ID: uuid.NewString(), Kind: kind}

	pipe := b.rdb.TxPipeline()
	pipe.HSet(ctx, jobKey(h.ID),
		"kind", string(kind),
		"state", string(jobs.StatePending),
		"payload", string(payload),
	)
	if b.ttl > 0 {
		pipe.Expire(ctx, jobKey(h.ID), b.ttl)
	}
	pipe.LPush(ctx, queueKey(kind), h.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return jobs.Handle{}, fmt.Errorf("enqueue %s: %w", kind, err)
	}
	return h, nil
}

func (b *Broker) Claim(ctx context.Context, kinds []jobs.Kind, wait time.Duration) (*jobs.Claimed, error) {
	queues := make([]string, len(kinds))
	for i, k := range kinds {
		queues[i] = queueKey(k)
	}
	deadline := time.Now().Add(wait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		res, err := b.rdb.BRPop(ctx, remaining, queues...).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("claiming job: %w", err)
		}
		id := res[1]
		raw, err := claimScript.Run(ctx, b.rdb, []string{jobKey(id)}).Text()
		if err != nil {
			return nil, fmt.Errorf("marking job running: %w", err)
		}
		if raw == "" {
			continue // revoked or expired while queued
		}
		var p jobs.Payload
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decoding payload for job %s: %w", id, err)
		}
		kind, err := b.kindOf(ctx, id)
		if err != nil {
			return nil, err
		}
		return &jobs.Claimed{Handle: jobs.Handle{ID: id, Kind: kind}, Payload: p}, nil
	}
}

func (b *Broker) kindOf(ctx context.Context, id string) (jobs.Kind, error) {
	raw, err := b.rdb.HGet(ctx, jobKey(id), "kind").Result()
	if err != nil {
		return "", fmt.Errorf("reading job kind: %w", err)
	}
	return jobs.Kind(raw), nil
}

func (b *Broker) Complete(ctx context.Context, id string, resultRef string) error {
	return b.finish(ctx, id, jobs.StateSucceeded, "result", resultRef)
}

func (b *Broker) Fail(ctx context.Context, id string, reason string) error {
	return b.finish(ctx, id, jobs.StateFailed, "reason", reason)
}

func (b *Broker) finish(ctx context.Context, id string, state jobs.State, field, value string) error {
	out, err := finishScript.Run(ctx, b.rdb, []string{jobKey(id)},
		string(state), field, value).Text()
	if err != nil {
		return fmt.Errorf("finishing job %s: %w", id, err)
	}
	switch out {
	case "":
		return nil
	case "missing":
		return jobs.ErrNotFound
	default:
		return fmt.Errorf("job %s already terminal (%s)", id, out)
	}
}

func (b *Broker) Cancel(ctx context.Context, id string) (jobs.State, error) {
	out, err := cancelScript.Run(ctx, b.rdb, []string{jobKey(id)}).Slice()
	if err != nil {
		return "", fmt.Errorf("cancelling job %s: %w", id, err)
	}
	state, _ := out[0].(string)
	changed, _ := out[1].(int64)
	if state == "" {
		return "", jobs.ErrNotFound
	}
	if changed == 0 {
		return jobs.State(state), jobs.ErrAlreadyTerminal
	}
	return jobs.State(state), nil
}

func (b *Broker) State(ctx context.Context, id string) (jobs.State, error) {
	raw, err := b.rdb.HGet(ctx, jobKey(id), "state").Result()
	if errors.Is(err, redis.Nil) {
		return "", jobs.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading job state: %w", err)
	}
	return jobs.State(raw), nil
}

func (b *Broker) Result(ctx context.Context, id string) (string, error) {
	state, err := b.State(ctx, id)
	if err != nil {
		return "", err
	}
	if state != jobs.StateSucceeded {
		return "", jobs.ErrNoResult
	}
	raw, err := b.rdb.HGet(ctx, jobKey(id), "result").Result()
	if errors.Is(err, redis.Nil) {
		return "", jobs.ErrNoResult
	}
	if err != nil {
		return "", fmt.Errorf("reading job result: %w", err)
	}
	return raw, nil
}

func (b *Broker) FailureReason(ctx context.Context, id string) (string, error) {
	raw, err := b.rdb.HGet(ctx, jobKey(id), "reason").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading failure reason: %w", err)
	}
	return raw, nil
}

func (b *Broker) LinkNext(ctx context.Context, id string, next jobs.Handle) error {
	ok, err := b.rdb.Exists(ctx, jobKey(id)).Result()
	if err != nil {
		return fmt.Errorf("linking next stage: %w", err)
	}
	if ok == 0 {
		return jobs.ErrNotFound
	}
	if err := b.rdb.HSet(ctx, jobKey(id), "next_id", next.ID, "next_kind", string(next.Kind)).Err(); err != nil {
		return fmt.Errorf("linking next stage: %w", err)
	}
	return nil
}

func (b *Broker) Next(ctx context.Context, id string) (jobs.Handle, error) {
	vals, err := b.rdb.HMGet(ctx, jobKey(id), "state", "next_id", "next_kind").Result()
	if err != nil {
		return jobs.Handle{}, fmt.Errorf("reading next stage: %w", err)
	}
	if vals[0] == nil {
		return jobs.Handle{}, jobs.ErrNotFound
	}
	nextID, _ := vals[1].(string)
	nextKind, _ := vals[2].(string)
	if nextID == "" {
		return jobs.Handle{}, jobs.ErrNoNext
	}
	return jobs.Handle{ID: nextID, Kind: jobs.Kind(nextKind)}, nil
}
