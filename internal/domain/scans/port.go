package scans

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a scan id does not exist for the owner.
var ErrNotFound = errors.New("scan not found")

// Repository port (persistence for Scan records)
type Repository interface {
	Save(ctx context.Context, s *Scan) error
	Get(ctx context.Context, id ScanID) (*Scan, error)
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*Scan, error)
	UpdateStatus(ctx context.Context, id ScanID, status Status) error
}
