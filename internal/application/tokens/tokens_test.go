package tokens

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gumballmed/scanpipe/internal/domain/jobs"
	"github.com/gumballmed/scanpipe/internal/infra/db/memory"
)

func newIssuer(t *testing.T) (*Issuer, *memory.AccountDirectory) {
	t.Helper()
	dir := memory.NewAccountDirectory()
	dir.SetSecurityEpoch("user-1", "stamp-a")
	return NewIssuer("test-secret", dir, time.Hour, 30*time.Minute), dir
}

func TestAccessTokenRoundTrip(t *testing.T) {
	iss, _ := newIssuer(t)
	ctx := context.Background()

	tok, err := iss.IssueAccess(ctx, "user-1")
	require.NoError(t, err)

	owner, err := iss.ValidateAccess(ctx, tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)
}

func TestTaskTokenCarriesJob(t *testing.T) {
	iss, _ := newIssuer(t)
	ctx := context.Background()

	tok, err := iss.IssueTask(ctx, "user-1", jobs.Handle{ID: "job-7", Kind: jobs.KindAnalyze})
	require.NoError(t, err)

	claims, err := iss.ValidateTask(ctx, tok, jobs.KindAnalyze)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.OwnerID)
	assert.Equal(t, "job-7", claims.JobID)
	assert.Equal(t, jobs.KindAnalyze, claims.JobKind)
}

func TestTaskTokenWrongKindRejected(t *testing.T) {
	iss, _ := newIssuer(t)
	ctx := context.Background()

	tok, err := iss.IssueTask(ctx, "user-1", jobs.Handle{ID: "job-7", Kind: jobs.KindNormalize})
	require.NoError(t, err)

	_, err = iss.ValidateTask(ctx, tok, jobs.KindAdvise)
	assert.ErrorIs(t, err, ErrWrongJobKind)
}

func TestAccessTokenNotValidAsTaskToken(t *testing.T) {
	iss, _ := newIssuer(t)
	ctx := context.Background()

	tok, err := iss.IssueAccess(ctx, "user-1")
	require.NoError(t, err)

	_, err = iss.ValidateTask(ctx, tok)
	assert.ErrorIs(t, err, ErrWrongJobKind)
}

func TestTaskTokenNotValidAsAccessToken(t *testing.T) {
	iss, _ := newIssuer(t)
	ctx := context.Background()

	tok, err := iss.IssueTask(ctx, "user-1", jobs.Handle{ID: "job-7", Kind: jobs.KindNormalize})
	require.NoError(t, err)

	_, err = iss.ValidateAccess(ctx, tok)
	assert.ErrorIs(t, err, ErrWrongJobKind)
}

func TestStampRotationInvalidatesOldTokens(t *testing.T) {
	iss, dir := newIssuer(t)
	ctx := context.Background()

	tok, err := iss.IssueAccess(ctx, "user-1")
	require.NoError(t, err)

	dir.SetSecurityEpoch("user-1", "stamp-b")

	_, err = iss.ValidateAccess(ctx, tok)
	assert.ErrorIs(t, err, ErrStale)

	// A token minted after rotation is good again.
	fresh, err := iss.IssueAccess(ctx, "user-1")
	require.NoError(t, err)
	owner, err := iss.ValidateAccess(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)
}

func TestExpiredTokenRejected(t *testing.T) {
	iss, _ := newIssuer(t)
	ctx := context.Background()

	base := time.Now()
	iss.now = func() time.Time { return base }
	tok, err := iss.IssueAccess(ctx, "user-1")
	require.NoError(t, err)

	iss.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err = iss.ValidateAccess(ctx, tok)
	assert.ErrorIs(t, err, ErrExpired)
}

func TestGarbageTokenRejected(t *testing.T) {
	iss, _ := newIssuer(t)
	ctx := context.Background()

	for _, tok := range []string{"", "not.a.jwt", "aaaa.bbbb.cccc"} {
		_, err := iss.ValidateAccess(ctx, tok)
		assert.ErrorIs(t, err, ErrMalformed, "token %q", tok)
	}
}

func TestTokenSignedWithOtherSecretRejected(t *testing.T) {
	iss, dir := newIssuer(t)
	other := NewIssuer("different-secret", dir, time.Hour, time.Hour)
	ctx := context.Background()

	tok, err := other.IssueAccess(ctx, "user-1")
	require.NoError(t, err)

	_, err = iss.ValidateAccess(ctx, tok)
	assert.ErrorIs(t, err, ErrMalformed)
}
