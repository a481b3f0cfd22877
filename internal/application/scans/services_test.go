package scans

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gumballmed/scanpipe/internal/application/tokens"
	"github.com/gumballmed/scanpipe/internal/domain/accounts"
	"github.com/gumballmed/scanpipe/internal/domain/jobs"
	domain "github.com/gumballmed/scanpipe/internal/domain/scans"
	brokermem "github.com/gumballmed/scanpipe/internal/infra/broker/memory"
	dbmem "github.com/gumballmed/scanpipe/internal/infra/db/memory"
	"github.com/gumballmed/scanpipe/internal/infra/storage"
)

type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

func newService(t *testing.T) (*Service, *brokermem.Broker, *dbmem.ScanRepository) {
	t.Helper()
	store, err := storage.New(t.TempDir())
	require.NoError(t, err)

	dir := dbmem.NewAccountDirectory()
	dir.SetSecurityEpoch("user-1", "stamp-a")
	dir.SetSecurityEpoch("user-2", "stamp-b")

	repo := dbmem.NewScanRepository()
	broker := brokermem.New()
	svc := &Service{
		Repo:              repo,
		Store:             store,
		Broker:            broker,
		Tokens:            tokens.NewIssuer("test-secret", dir, time.Hour, time.Hour),
		Policy:            accounts.OwnerOnlyPolicy{},
		Clock:             fixedClock{at: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		MaxUploadBytes:    1 << 20,
		AllowedExtensions: []string{".jpg", ".jpeg", ".png"},
	}
	return svc, broker, repo
}

func TestUploadQueuesChainAndMintsToken(t *testing.T) {
	svc, broker, repo := newService(t)
	ctx := context.Background()

	res, err := svc.Upload(ctx, UploadCommand{
		OwnerID:  "user-1",
		Kind:     "XRAY",
		Filename: "chest.png",
		Size:     64,
		Body:     bytes.NewReader(bytes.Repeat([]byte{1}, 64)),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.ScanID)
	assert.NotEmpty(t, res.TaskToken)
	assert.Equal(t, string(domain.StatusReceived), res.Status)

	sc, err := repo.Get(ctx, domain.ScanID(res.ScanID))
	require.NoError(t, err)
	assert.Equal(t, "user-1", sc.OwnerID)

	claimed, err := broker.Claim(ctx, []jobs.Kind{jobs.KindNormalize}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, res.ScanID, claimed.Payload.ScanID)
	require.Len(t, claimed.Payload.Next, 1)
	assert.Equal(t, jobs.KindAnalyze, claimed.Payload.Next[0].Kind)

	// The task token is bound to the queued normalize job.
	claims, err := svc.Tokens.ValidateTask(ctx, res.TaskToken, jobs.KindNormalize)
	require.NoError(t, err)
	assert.Equal(t, claimed.Handle.ID, claims.JobID)
}

func TestUploadRejectsBadExtensionBeforeAnyWrite(t *testing.T) {
	svc, broker, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Upload(ctx, UploadCommand{
		OwnerID:  "user-1",
		Filename: "notes.exe",
		Size:     10,
		Body:     bytes.NewReader([]byte("01234567890")),
	})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	// Nothing reached the sandbox, not even the owner directory.
	entries, readErr := os.ReadDir(svc.Store.Root())
	require.NoError(t, readErr)
	assert.Empty(t, entries)

	claimed, err := broker.Claim(ctx, []jobs.Kind{jobs.KindNormalize}, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, claimed)
}

func TestUploadRejectsOversizedDeclaredBody(t *testing.T) {
	svc, _, _ := newService(t)
	svc.MaxUploadBytes = 16

	_, err := svc.Upload(context.Background(), UploadCommand{
		OwnerID:  "user-1",
		Filename: "big.jpg",
		Size:     17,
		Body:     bytes.NewReader(bytes.Repeat([]byte{1}, 17)),
	})
	assert.ErrorIs(t, err, ErrTooLarge)
}

func TestGetEnforcesOwnerOnlyPolicy(t *testing.T) {
	svc, _, repo := newService(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &domain.Scan{
		ID: "scan-1", OwnerID: "user-1", Kind: domain.KindXRay, Status: domain.StatusAnalyzed,
	}))

	sc, err := svc.Get(ctx, "user-1", "scan-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ScanID("scan-1"), sc.ID)

	_, err = svc.Get(ctx, "user-2", "scan-1")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.Get(ctx, "user-1", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRequestAdviceRequiresAnalyzedScan(t *testing.T) {
	svc, _, repo := newService(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &domain.Scan{
		ID: "scan-1", OwnerID: "user-1", Kind: domain.KindXRay, Status: domain.StatusNormalizing,
	}))

	_, err := svc.RequestAdvice(ctx, AdviceCommand{
		RequesterID: "user-1", ScanID: "scan-1", Symptoms: "cough",
	})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRequestAdviceRequiresFindingsArtifact(t *testing.T) {
	svc, _, repo := newService(t)
	ctx := context.Background()

	// Status says analyzed but the artifact is gone.
	require.NoError(t, repo.Save(ctx, &domain.Scan{
		ID: "scan-1", OwnerID: "user-1", Kind: domain.KindXRay, Status: domain.StatusAnalyzed,
	}))

	_, err := svc.RequestAdvice(ctx, AdviceCommand{RequesterID: "user-1", ScanID: "scan-1"})
	assert.ErrorIs(t, err, ErrNotReady)
}

func TestRequestAdviceQueuesJob(t *testing.T) {
	svc, broker, repo := newService(t)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &domain.Scan{
		ID: "scan-1", OwnerID: "user-1", Kind: domain.KindXRay, Status: domain.StatusAnalyzed,
	}))
	dirs, err := storage.ForOwner(svc.Store, "user-1")
	require.NoError(t, err)
	_, err = dirs.Root.Save("analysis/scan-1.json", bytes.NewReader([]byte(`{"pathologies":[]}`)))
	require.NoError(t, err)

	res, err := svc.RequestAdvice(ctx, AdviceCommand{
		RequesterID: "user-1", ScanID: "scan-1", Symptoms: "cough", Audience: "expert",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.JobID)

	claimed, err := broker.Claim(ctx, []jobs.Kind{jobs.KindAdvise}, time.Second)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, res.JobID, claimed.Handle.ID)
	assert.Equal(t, "analysis/scan-1.json", claimed.Payload.InputRef)
	assert.Equal(t, "cough", claimed.Payload.Symptoms)
}

func TestStatusAndCancelMapping(t *testing.T) {
	svc, broker, _ := newService(t)
	ctx := context.Background()

	h, err := broker.Enqueue(ctx, jobs.KindNormalize, jobs.Payload{OwnerID: "user-1", ScanID: "scan-1"})
	require.NoError(t, err)

	st, err := svc.Status(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, string(jobs.StatePending), st.State)

	st, err = svc.Cancel(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, string(jobs.StateRevoked), st.State)

	// A second cancel reports the terminal state without changing it.
	st, err = svc.Cancel(ctx, h.ID)
	assert.ErrorIs(t, err, jobs.ErrAlreadyTerminal)
	assert.Equal(t, string(jobs.StateRevoked), st.State)
}

func TestNextTaskMintsTokenForChainedStage(t *testing.T) {
	svc, broker, _ := newService(t)
	ctx := context.Background()

	first, err := broker.Enqueue(ctx, jobs.KindNormalize, jobs.Payload{OwnerID: "user-1", ScanID: "scan-1"})
	require.NoError(t, err)

	_, err = svc.NextTask(ctx, "user-1", first.ID)
	assert.ErrorIs(t, err, jobs.ErrNoNext)

	second, err := broker.Enqueue(ctx, jobs.KindAnalyze, jobs.Payload{OwnerID: "user-1", ScanID: "scan-1"})
	require.NoError(t, err)
	require.NoError(t, broker.LinkNext(ctx, first.ID, second))

	res, err := svc.NextTask(ctx, "user-1", first.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, res.JobID)
	assert.Equal(t, string(jobs.KindAnalyze), res.JobKind)

	claims, err := svc.Tokens.ValidateTask(ctx, res.TaskToken, jobs.KindAnalyze)
	require.NoError(t, err)
	assert.Equal(t, second.ID, claims.JobID)
}

func TestStatusCarriesResultAndFailure(t *testing.T) {
	svc, broker, _ := newService(t)
	ctx := context.Background()

	win, err := broker.Enqueue(ctx, jobs.KindNormalize, jobs.Payload{ScanID: "a"})
	require.NoError(t, err)
	_, err = broker.Claim(ctx, []jobs.Kind{jobs.KindNormalize}, time.Second)
	require.NoError(t, err)
	require.NoError(t, broker.Complete(ctx, win.ID, "normalized/a.jpg"))

	st, err := svc.Status(ctx, win.ID)
	require.NoError(t, err)
	assert.Equal(t, string(jobs.StateSucceeded), st.State)
	assert.Equal(t, "normalized/a.jpg", st.ResultRef)

	lose, err := broker.Enqueue(ctx, jobs.KindAnalyze, jobs.Payload{ScanID: "b"})
	require.NoError(t, err)
	_, err = broker.Claim(ctx, []jobs.Kind{jobs.KindAnalyze}, time.Second)
	require.NoError(t, err)
	require.NoError(t, broker.Fail(ctx, lose.ID, "decode error"))

	st, err = svc.Status(ctx, lose.ID)
	require.NoError(t, err)
	assert.Equal(t, string(jobs.StateFailed), st.State)
	assert.Equal(t, "decode error", st.Reason)
}
