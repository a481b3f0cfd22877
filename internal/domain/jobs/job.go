package jobs

// Handle identifies one enqueued job. It is what capability tokens bind to.
type Handle struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

// StageSpec names one stage of a chain. The worker substitutes the previous
// stage's output reference into InputRef before enqueueing.
type StageSpec struct {
	Kind     Kind   `json:"kind"`
	InputRef string `json:"input_ref,omitempty"`
}

// Payload carries everything a stage handler needs. Results travel as
// references (paths relative to the owner's sandbox), never as raw bytes;
// payloads therefore stay small and nothing sensitive crosses the broker.
type Payload struct {
	OwnerID  string `json:"owner_id"`
	ScanID   string `json:"scan_id"`
	InputRef string `json:"input_ref"`

	// Advise-only fields.
	Symptoms string `json:"symptoms,omitempty"`
	Audience string `json:"audience,omitempty"`

	// Remaining stages of the chain, enqueued one at a time as each
	// predecessor succeeds.
	Next []StageSpec `json:"next,omitempty"`
}

// Claimed is a job handed to a worker: the handle plus its payload.
type Claimed struct {
	Handle  Handle
	Payload Payload
}
