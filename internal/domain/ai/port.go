package ai

import "context"

// Findings is the analyzer's structured output, persisted verbatim.
type Findings struct {
	Pathologies []Pathology `json:"pathologies"`
	ModelID     string      `json:"model_id,omitempty"`
}

// Pathology is one finding with its confidence score.
type Pathology struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Analyzer is the external inference collaborator. It receives the
// normalized image bytes and returns structured findings; the caller is
// responsible for persisting them.
type Analyzer interface {
	Analyze(ctx context.Context, image []byte) (*Findings, error)
}

// Advisor is the external LLM collaborator turning findings plus the
// patient's symptom description into advice text for a given audience.
type Advisor interface {
	Advise(ctx context.Context, findings *Findings, symptoms, audience string) (string, error)
}
