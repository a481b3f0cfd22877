package storage

import "fmt"

// Per-owner subdirectories. Each is independently sandboxed via Scoped and
// corresponds to one pipeline stage's outputs.
const (
	DirUploaded   = "uploaded"
	DirNormalized = "normalized"
	DirAnalysis   = "analysis"
	DirAdvice     = "advice"
)

// OwnerDirs is the set of sandboxed views for one owner's files. Root spans
// the owner directory; result references exchanged through the broker are
// relative to it (e.g. "normalized/<scan>.jpg").
type OwnerDirs struct {
	Root       *Store
	Uploaded   *Store
	Normalized *Store
	Analysis   *Store
	Advice     *Store
}

// ForOwner scopes the base store down to one owner's directory tree,
// creating it on first use. Two chains for the same owner never collide
// because file names are allocated randomly, not by locking.
func ForOwner(base *Store, ownerID string) (*OwnerDirs, error) {
	owner, err := base.Scoped(fmt.Sprintf("user_%s", ownerID))
	if err != nil {
		return nil, err
	}
	uploaded, err := owner.Scoped(DirUploaded)
	if err != nil {
		return nil, err
	}
	normalized, err := owner.Scoped(DirNormalized)
	if err != nil {
		return nil, err
	}
	analysis, err := owner.Scoped(DirAnalysis)
	if err != nil {
		return nil, err
	}
	advice, err := owner.Scoped(DirAdvice)
	if err != nil {
		return nil, err
	}
	return &OwnerDirs{
		Root:       owner,
		Uploaded:   uploaded,
		Normalized: normalized,
		Analysis:   analysis,
		Advice:     advice,
	}, nil
}
