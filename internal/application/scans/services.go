package scans

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gumballmed/scanpipe/internal/application/pipeline"
	"github.com/gumballmed/scanpipe/internal/application/tokens"
	"github.com/gumballmed/scanpipe/internal/domain/accounts"
	"github.com/gumballmed/scanpipe/internal/domain/jobs"
	domain "github.com/gumballmed/scanpipe/internal/domain/scans"
	"github.com/gumballmed/scanpipe/internal/infra/storage"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrTooLarge          = errors.New("upload exceeds the size limit")
	ErrForbidden         = errors.New("requester may not view this scan")
	ErrNotReady          = errors.New("scan has not been analyzed yet")
)

// Clock abstraction so tests can pin time
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Service implements the scan use-cases. Safe for concurrent use.
type Service struct {
	Repo   domain.Repository
	Store  *storage.Store
	Broker jobs.Broker
	Tokens *tokens.Issuer
	Policy accounts.AccessPolicy
	Clock  Clock

	MaxUploadBytes    int64
	AllowedExtensions []string
}

//
// ==== USE CASES ====
//

type UploadCommand struct {
	OwnerID  string
	Kind     string
	Filename string
	Size     int64
	Body     io.Reader
}

type UploadResult struct {
	ScanID    string `json:"scan_id"`
	Status    string `json:"status"`
	TaskToken string `json:"task_token"`
}

// Upload validates the file before anything touches the sandbox, stores it
// under uploaded/ with a random name, and queues the normalize-analyze chain.
func (s *Service) Upload(ctx context.Context, cmd UploadCommand) (UploadResult, error) {
	ext := strings.ToLower(filepath.Ext(cmd.Filename))
	if !s.extensionAllowed(ext) {
		return UploadResult{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
	if s.MaxUploadBytes > 0 && cmd.Size > s.MaxUploadBytes {
		return UploadResult{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, cmd.Size)
	}

	now := s.Clock.Now().UTC()
	sc := &domain.Scan{
		ID:        domain.ScanID(uuid.NewString()),
		OwnerID:   cmd.OwnerID,
		Kind:      domain.ParseKind(cmd.Kind),
		Status:    domain.StatusReceived,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Repo.Save(ctx, sc); err != nil {
		return UploadResult{}, fmt.Errorf("saving scan: %w", err)
	}

	dirs, err := storage.ForOwner(s.Store, cmd.OwnerID)
	if err != nil {
		return UploadResult{}, err
	}
	name, err := dirs.Uploaded.AllocateUniqueName(ext)
	if err != nil {
		return UploadResult{}, err
	}
	ref := path.Join(storage.DirUploaded, name)
	body := cmd.Body
	if s.MaxUploadBytes > 0 {
		body = io.LimitReader(body, s.MaxUploadBytes)
	}
	if _, err := dirs.Root.Save(ref, body); err != nil {
		return UploadResult{}, fmt.Errorf("storing upload: %w", err)
	}

	kind, payload := pipeline.IngestChain(cmd.OwnerID, string(sc.ID), ref)
	handle, err := s.Broker.Enqueue(ctx, kind, payload)
	if err != nil {
		return UploadResult{}, fmt.Errorf("queueing normalize job: %w", err)
	}

	token, err := s.Tokens.IssueTask(ctx, cmd.OwnerID, handle)
	if err != nil {
		return UploadResult{}, fmt.Errorf("minting task token: %w", err)
	}
	return UploadResult{ScanID: string(sc.ID), Status: string(sc.Status), TaskToken: token}, nil
}

func (s *Service) extensionAllowed(ext string) bool {
	for _, allowed := range s.AllowedExtensions {
		if ext == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// Get returns one scan, enforcing the view policy against the requester.
func (s *Service) Get(ctx context.Context, requesterID string, id domain.ScanID) (*domain.Scan, error) {
	sc, err := s.Repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := s.Policy.CanViewScan(ctx, sc.OwnerID, requesterID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrForbidden
	}
	return sc, nil
}

// List returns the requester's own scans, newest first.
func (s *Service) List(ctx context.Context, requesterID string, limit int) ([]*domain.Scan, error) {
	return s.Repo.ListByOwner(ctx, requesterID, limit)
}

type AdviceCommand struct {
	RequesterID string
	ScanID      string
	Symptoms    string
	Audience    string
}

type AdviceRequested struct {
	JobID     string `json:"job_id"`
	TaskToken string `json:"task_token"`
}

// RequestAdvice queues an advise job over an analyzed scan.
func (s *Service) RequestAdvice(ctx context.Context, cmd AdviceCommand) (AdviceRequested, error) {
	sc, err := s.Get(ctx, cmd.RequesterID, domain.ScanID(cmd.ScanID))
	if err != nil {
		return AdviceRequested{}, err
	}
	if sc.Status != domain.StatusAnalyzed {
		return AdviceRequested{}, fmt.Errorf("%w: status %s", ErrNotReady, sc.Status)
	}

	dirs, err := storage.ForOwner(s.Store, sc.OwnerID)
	if err != nil {
		return AdviceRequested{}, err
	}
	kind, payload := pipeline.AdviceJob(sc.OwnerID, cmd.ScanID, cmd.Symptoms, cmd.Audience)
	if ok, err := dirs.Root.Exists(payload.InputRef); err != nil {
		return AdviceRequested{}, err
	} else if !ok {
		return AdviceRequested{}, fmt.Errorf("%w: findings artifact missing", ErrNotReady)
	}

	handle, err := s.Broker.Enqueue(ctx, kind, payload)
	if err != nil {
		return AdviceRequested{}, fmt.Errorf("queueing advise job: %w", err)
	}
	token, err := s.Tokens.IssueTask(ctx, sc.OwnerID, handle)
	if err != nil {
		return AdviceRequested{}, fmt.Errorf("minting task token: %w", err)
	}
	return AdviceRequested{JobID: handle.ID, TaskToken: token}, nil
}

// AdviceText loads the advice written by a finished advise job.
func (s *Service) AdviceText(ctx context.Context, ownerID, jobID string) (string, error) {
	ref, err := s.Broker.Result(ctx, jobID)
	if err != nil {
		return "", err
	}
	dirs, err := storage.ForOwner(s.Store, ownerID)
	if err != nil {
		return "", err
	}
	data, err := dirs.Root.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("reading advice artifact: %w", err)
	}
	return string(data), nil
}

type TaskStatus struct {
	JobID     string `json:"job_id"`
	State     string `json:"state"`
	ResultRef string `json:"result_ref,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Status reports the broker's view of one job.
func (s *Service) Status(ctx context.Context, jobID string) (TaskStatus, error) {
	state, err := s.Broker.State(ctx, jobID)
	if err != nil {
		return TaskStatus{}, err
	}
	st := TaskStatus{JobID: jobID, State: string(state)}
	switch state {
	case jobs.StateSucceeded:
		if ref, err := s.Broker.Result(ctx, jobID); err == nil {
			st.ResultRef = ref
		}
	case jobs.StateFailed:
		if reason, err := s.Broker.FailureReason(ctx, jobID); err == nil {
			st.Reason = reason
		}
	}
	return st, nil
}

type NextTaskResult struct {
	JobID     string `json:"job_id"`
	JobKind   string `json:"job_kind"`
	TaskToken string `json:"task_token"`
}

// NextTask mints a token for the stage the worker chained after jobID, so a
// client holding the normalize token can follow the pipeline into analyze.
func (s *Service) NextTask(ctx context.Context, ownerID, jobID string) (NextTaskResult, error) {
	handle, err := s.Broker.Next(ctx, jobID)
	if err != nil {
		return NextTaskResult{}, err
	}
	token, err := s.Tokens.IssueTask(ctx, ownerID, handle)
	if err != nil {
		return NextTaskResult{}, fmt.Errorf("minting task token: %w", err)
	}
	return NextTaskResult{JobID: handle.ID, JobKind: string(handle.Kind), TaskToken: token}, nil
}

// Cancel revokes a queued job. Cancelling a terminal job reports the state
// it finished in.
func (s *Service) Cancel(ctx context.Context, jobID string) (TaskStatus, error) {
	state, err := s.Broker.Cancel(ctx, jobID)
	if err != nil && !errors.Is(err, jobs.ErrAlreadyTerminal) {
		return TaskStatus{}, err
	}
	return TaskStatus{JobID: jobID, State: string(state)}, err
}
