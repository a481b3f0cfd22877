package jobs

// State represents the broker-side lifecycle of a single job.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateRevoked   State = "revoked"
)

func (s State) String() string { return string(s) }

// IsTerminal reports whether the job can no longer change state.
func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateRevoked
}
