package jobs

import "fmt"

// Kind identifies a registered unit of pipeline work. The set is closed:
// dispatch happens against registered kinds only, so a token or payload
// naming anything else is rejected before any handler lookup.
type Kind string

const (
	KindNormalize Kind = "normalize"
	KindAnalyze   Kind = "analyze"
	KindAdvise    Kind = "advise"
)

func (k Kind) String() string { return string(k) }

// ParseKind validates a wire string against the closed set.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindNormalize, KindAnalyze, KindAdvise:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown job kind: %q", s)
}
