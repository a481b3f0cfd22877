package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gumballmed/scanpipe/internal/domain/jobs"
)

func TestEnqueueClaimOrdering(t *testing.T) {
	b := New()
	ctx := context.Background()

	first, err := b.Enqueue(ctx, jobs.KindNormalize, jobs.Payload{ScanID: "scan-1"})
	require.NoError(t, err)
	second, err := b.Enqueue(ctx, jobs.KindNormalize, jobs.Payload{ScanID: "scan-2"})
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	claimed, err := b.Claim(ctx, []jobs.Kind{jobs.KindNormalize}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.Handle.ID)
	assert.Equal(t, "scan-1", claimed.Payload.ScanID)

	state, err := b.State(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateRunning, state)
}

func TestEnqueueRejectsUnknownKind(t *testing.T) {
	b := New()
	_, err := b.Enqueue(context.Background(), jobs.Kind("transcode"), jobs.Payload{})
	assert.Error(t, err)
}

func TestClaimTimesOutEmpty(t *testing.T) {
	b := New()
	claimed, err := b.Claim(context.Background(), []jobs.Kind{jobs.KindAnalyze}, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestClaimWakesOnEnqueue(t *testing.T) {
	b := New()
	ctx := context.Background()

	done := make(chan *jobs.Claimed, 1)
	go func() {
		c, err := b.Claim(ctx, []jobs.Kind{jobs.KindAdvise}, 2*time.Second)
		require.NoError(t, err)
		done <- c
	}()

	time.Sleep(30 * time.Millisecond)
	h, err := b.Enqueue(ctx, jobs.KindAdvise, jobs.Payload{ScanID: "scan-9"})
	require.NoError(t, err)

	select {
	case c := <-done:
		require.NotNil(t, c)
		assert.Equal(t, h.ID, c.Handle.ID)
	case <-time.After(3 * time.Second):
		t.Fatal("claim did not wake on enqueue")
	}
}

func TestClaimSkipsRevoked(t *testing.T) {
	b := New()
	ctx := context.Background()

	revoked, err := b.Enqueue(ctx, jobs.KindAnalyze, jobs.Payload{ScanID: "scan-a"})
	require.NoError(t, err)
	live, err := b.Enqueue(ctx, jobs.KindAnalyze, jobs.Payload{ScanID: "scan-b"})
	require.NoError(t, err)

	state, err := b.Cancel(ctx, revoked.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateRevoked, state)

	claimed, err := b.Claim(ctx, []jobs.Kind{jobs.KindAnalyze}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, live.ID, claimed.Handle.ID)
}

func TestCompleteAndResult(t *testing.T) {
	b := New()
	ctx := context.Background()

	h, err := b.Enqueue(ctx, jobs.KindNormalize, jobs.Payload{ScanID: "scan-1"})
	require.NoError(t, err)

	_, err = b.Result(ctx, h.ID)
	assert.ErrorIs(t, err, jobs.ErrNoResult)

	claimed, err := b.Claim(ctx, []jobs.Kind{jobs.KindNormalize}, time.Second)
	require.NoError(t, err)
	require.NoError(t, b.Complete(ctx, claimed.Handle.ID, "normalized/scan-1.jpg"))

	state, err := b.State(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateSucceeded, state)

	ref, err := b.Result(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, "normalized/scan-1.jpg", ref)
}

func TestFailRecordsReason(t *testing.T) {
	b := New()
	ctx := context.Background()

	h, err := b.Enqueue(ctx, jobs.KindAnalyze, jobs.Payload{ScanID: "scan-1"})
	require.NoError(t, err)
	_, err = b.Claim(ctx, []jobs.Kind{jobs.KindAnalyze}, time.Second)
	require.NoError(t, err)
	require.NoError(t, b.Fail(ctx, h.ID, "model endpoint unreachable"))

	reason, err := b.FailureReason(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, "model endpoint unreachable", reason)

	_, err = b.Result(ctx, h.ID)
	assert.ErrorIs(t, err, jobs.ErrNoResult)
}

func TestCancelTerminalIsNoOp(t *testing.T) {
	b := New()
	ctx := context.Background()

	h, err := b.Enqueue(ctx, jobs.KindNormalize, jobs.Payload{ScanID: "scan-1"})
	require.NoError(t, err)
	claimed, err := b.Claim(ctx, []jobs.Kind{jobs.KindNormalize}, time.Second)
	require.NoError(t, err)
	require.NoError(t, b.Complete(ctx, claimed.Handle.ID, "normalized/scan-1.jpg"))

	state, err := b.Cancel(ctx, h.ID)
	assert.ErrorIs(t, err, jobs.ErrAlreadyTerminal)
	assert.Equal(t, jobs.StateSucceeded, state)

	// Result survives the attempted cancel.
	ref, err := b.Result(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, "normalized/scan-1.jpg", ref)
}

func TestCancelUnknownJob(t *testing.T) {
	b := New()
	_, err := b.Cancel(context.Background(), "no-such-id")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestLinkNextAndNext(t *testing.T) {
	b := New()
	ctx := context.Background()

	first, err := b.Enqueue(ctx, jobs.KindNormalize, jobs.Payload{ScanID: "scan-1"})
	require.NoError(t, err)

	_, err = b.Next(ctx, first.ID)
	assert.ErrorIs(t, err, jobs.ErrNoNext)

	second, err := b.Enqueue(ctx, jobs.KindAnalyze, jobs.Payload{ScanID: "scan-1"})
	require.NoError(t, err)
	require.NoError(t, b.LinkNext(ctx, first.ID, second))

	got, err := b.Next(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	_, err = b.Next(ctx, "no-such-id")
	assert.ErrorIs(t, err, jobs.ErrNotFound)
	assert.ErrorIs(t, b.LinkNext(ctx, "no-such-id", second), jobs.ErrNotFound)
}

func TestCompleteAfterCancelRejected(t *testing.T) {
	b := New()
	ctx := context.Background()

	h, err := b.Enqueue(ctx, jobs.KindAdvise, jobs.Payload{ScanID: "scan-1"})
	require.NoError(t, err)
	claimed, err := b.Claim(ctx, []jobs.Kind{jobs.KindAdvise}, time.Second)
	require.NoError(t, err)

	_, err = b.Cancel(ctx, h.ID)
	require.NoError(t, err)

	assert.Error(t, b.Complete(ctx, claimed.Handle.ID, "advice/x.txt"))
	state, err := b.State(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StateRevoked, state)
}
