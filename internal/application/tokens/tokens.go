// Package tokens issues and validates the two stateless token kinds the
// service hands out: access tokens for the HTTP API and task tokens scoped
// to a single queued job. Both carry the owner's current security stamp, so
// rotating the stamp invalidates everything issued before the rotation.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/gumballmed/scanpipe/internal/domain/accounts"
	"github.com/gumballmed/scanpipe/internal/domain/jobs"
)

var (
	ErrMalformed    = errors.New("token malformed or badly signed")
	ErrExpired      = errors.New("token expired")
	ErrStale        = errors.New("token predates a security stamp rotation")
	ErrWrongJobKind = errors.New("token not valid for this job kind")
)

// TaskClaims is what a validated task token asserts.
type TaskClaims struct {
	OwnerID string
	JobID   string
	JobKind jobs.Kind
}

type taskClaims struct {
	JobID   string `json:"job_id,omitempty"`
	JobKind string `json:"job_name,omitempty"`
	jwt.RegisteredClaims
}

type Issuer struct {
	secret    []byte
	directory accounts.Directory
	accessTTL time.Duration
	taskTTL   time.Duration
	now       func() time.Time
}

func NewIssuer(secret string, directory accounts.Directory, accessTTL, taskTTL time.Duration) *Issuer {
	return &Issuer{
		secret:    []byte(secret),
		directory: directory,
		accessTTL: accessTTL,
		taskTTL:   taskTTL,
		now:       time.Now,
	}
}

// IssueAccess mints an API token for the owner. The issuer field holds the
// owner's security stamp at mint time.
func (i *Issuer) IssueAccess(ctx context.Context, ownerID string) (string, error) {
	return i.sign(ctx, ownerID, i.accessTTL, nil)
}

// IssueTask mints a token good only for polling, streaming, or cancelling
// the named job.
func (i *Issuer) IssueTask(ctx context.Context, ownerID string, h jobs.Handle) (string, error) {
	return i.sign(ctx, ownerID, i.taskTTL, &h)
}

func (i *Issuer) sign(ctx context.Context, ownerID string, ttl time.Duration, h *jobs.Handle) (string, error) {
	epoch, err := i.directory.CurrentSecurityEpoch(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("reading security stamp: %w", err)
	}
	now := i.now()
	claims := taskClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   ownerID,
			Issuer:    epoch,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if h != nil {
		claims.JobID = h.ID
		claims.JobKind = string(h.Kind)
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// ValidateAccess checks an API token and returns the owner id it grants.
// Task tokens are refused here: a capability scoped to one job never grants
// account-wide access.
func (i *Issuer) ValidateAccess(ctx context.Context, token string) (string, error) {
	claims, err := i.parse(ctx, token)
	if err != nil {
		return "", err
	}
	if claims.JobID != "" {
		return "", ErrWrongJobKind
	}
	return claims.Subject, nil
}

// ValidateTask checks a task token and, when expected kinds are given,
// rejects tokens minted for a different job kind.
func (i *Issuer) ValidateTask(ctx context.Context, token string, expected ...jobs.Kind) (*TaskClaims, error) {
	claims, err := i.parse(ctx, token)
	if err != nil {
		return nil, err
	}
	if claims.JobID == "" {
		return nil, ErrWrongJobKind
	}
	kind := jobs.Kind(claims.JobKind)
	if len(expected) > 0 {
		ok := false
		for _, k := range expected {
			if kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return nil, ErrWrongJobKind
		}
	}
	return &TaskClaims{OwnerID: claims.Subject, JobID: claims.JobID, JobKind: kind}, nil
}

func (i *Issuer) parse(ctx context.Context, token string) (*taskClaims, error) {
	var claims taskClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(i.now), jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if claims.Subject == "" {
		return nil, ErrMalformed
	}

	// Compare against the live stamp. Rotation makes every older token stale.
	epoch, err := i.directory.CurrentSecurityEpoch(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, accounts.ErrUnknownOwner) {
			return nil, ErrStale
		}
		return nil, fmt.Errorf("reading security stamp: %w", err)
	}
	if claims.Issuer != epoch {
		return nil, ErrStale
	}
	return &claims, nil
}
