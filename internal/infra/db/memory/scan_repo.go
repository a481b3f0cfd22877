// Package memory provides in-process stand-ins for the SQL repositories,
// used in tests and when running without a database.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gumballmed/scanpipe/internal/domain/accounts"
	domain "github.com/gumballmed/scanpipe/internal/domain/scans"
)

type ScanRepository struct {
	mu    sync.RWMutex
	scans map[domain.ScanID]*domain.Scan
}

func NewScanRepository() *ScanRepository {
	return &ScanRepository{scans: make(map[domain.ScanID]*domain.Scan)}
}

func (r *ScanRepository) Save(_ context.Context, s *domain.Scan) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	r.scans[cp.ID] = &cp
	return nil
}

func (r *ScanRepository) Get(_ context.Context, id domain.ScanID) (*domain.Scan, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *ScanRepository) ListByOwner(_ context.Context, ownerID string, limit int) ([]*domain.Scan, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Scan
	for _, s := range r.scans {
		if s.OwnerID == ownerID {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *ScanRepository) UpdateStatus(_ context.Context, id domain.ScanID, status domain.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.scans[id]
	if !ok {
		return domain.ErrNotFound
	}
	s.Status = status
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// AccountDirectory holds security stamps keyed by owner id.
type AccountDirectory struct {
	mu     sync.RWMutex
	stamps map[string]string
}

func NewAccountDirectory() *AccountDirectory {
	return &AccountDirectory{stamps: make(map[string]string)}
}

func (d *AccountDirectory) SetSecurityEpoch(ownerID, stamp string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stamps[ownerID] = stamp
}

func (d *AccountDirectory) CurrentSecurityEpoch(_ context.Context, ownerID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stamp, ok := d.stamps[ownerID]
	if !ok {
		return "", accounts.ErrUnknownOwner
	}
	return stamp, nil
}
