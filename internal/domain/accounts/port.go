package accounts

import (
	"context"
	"errors"
)

// ErrUnknownOwner is returned when the owner id has no account record.
var ErrUnknownOwner = errors.New("unknown owner")

// Directory is the authoritative source for an owner's current security
// epoch. The epoch changes on security-sensitive events (password change,
// logout-everywhere, deactivation); a change invalidates every token issued
// before it, which is the subsystem's only revocation mechanism.
type Directory interface {
	CurrentSecurityEpoch(ctx context.Context, ownerID string) (string, error)
}

// AccessPolicy decides whether a requester may view another owner's scans.
// Which relationship grants access (exact match, doctor-patient link, ...)
// is deployment policy; the pipeline core only consults the seam.
type AccessPolicy interface {
	CanViewScan(ctx context.Context, ownerID, requesterID string) (bool, error)
}

// OwnerOnlyPolicy grants access to the owner and nobody else.
type OwnerOnlyPolicy struct{}

func (OwnerOnlyPolicy) CanViewScan(_ context.Context, ownerID, requesterID string) (bool, error) {
	return ownerID == requesterID, nil
}
