package scans

import (
	"time"
)

// ID type for Scan
type ScanID string

// Kind enum: modality of the uploaded image
type Kind string

const (
	KindXRay Kind = "XRAY"
	KindCT   Kind = "CT"
	KindMRI  Kind = "MRI"
)

// ParseKind maps a wire string to a Kind, defaulting to XRAY.
func ParseKind(s string) Kind {
	switch Kind(s) {
	case KindCT:
		return KindCT
	case KindMRI:
		return KindMRI
	default:
		return KindXRay
	}
}

// Aggregate Root: Scan. One logical unit of uploaded work, owned exclusively
// by the uploading patient; status is mutated only by pipeline stage
// completions.
type Scan struct {
	ID        ScanID    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Kind      Kind      `json:"kind"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
