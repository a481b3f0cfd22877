package scans

import "fmt"

// Status represents the processing state of a scan. It tracks the lifecycle
// from upload acceptance through analysis or failure.
type Status string

const (
	// StatusReceived indicates the upload was accepted but no stage has run.
	StatusReceived Status = "RECEIVED"

	// StatusNormalizing indicates the normalize stage is converting the image.
	StatusNormalizing Status = "NORMALIZING"

	// StatusNormalized indicates the image is ready for analysis.
	StatusNormalized Status = "NORMALIZED"

	// StatusAnalyzing indicates the analyzer is processing the image.
	StatusAnalyzing Status = "ANALYZING"

	// StatusAnalyzed indicates analysis completed; advice may be requested.
	StatusAnalyzed Status = "ANALYZED"

	// StatusFailed indicates a stage failed. Terminal; no automatic retry.
	StatusFailed Status = "FAILED"
)

func (s Status) String() string { return string(s) }

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusAnalyzed || s == StatusFailed
}

// ValidateTransition checks that moving from s to target follows the
// pipeline order. FAILED is reachable from any non-terminal state; only the
// stage owning a transition may request it.
func (s Status) ValidateTransition(target Status) error {
	if target == StatusFailed {
		if s.IsTerminal() {
			return fmt.Errorf("scan status %s is terminal, cannot fail", s)
		}
		return nil
	}

	valid := map[Status]Status{
		StatusReceived:    StatusNormalizing,
		StatusNormalizing: StatusNormalized,
		StatusNormalized:  StatusAnalyzing,
		StatusAnalyzing:   StatusAnalyzed,
	}
	if next, ok := valid[s]; ok && next == target {
		return nil
	}
	return fmt.Errorf("invalid scan status transition from %s to %s", s, target)
}
