package prompt

import (
	"fmt"
	"strings"

	"github.com/gumballmed/scanpipe/internal/domain/ai"
)

// Audience values accepted by the advice endpoint.
const (
	AudienceFriendly = "friendly"
	AudienceExpert   = "expert"
)

// GetSystemPrompt selects the register the model writes in. The friendly
// variant is for patients, the expert variant for clinicians.
func GetSystemPrompt(audience string) string {
	if audience == AudienceExpert {
		return `You are a radiology assistant writing for a clinician. Given machine-detected pathology probabilities from a chest X-ray and the patient's reported symptoms, write a short structured note: most probable findings, differential considerations, and suggested follow-up imaging or tests. Use precise medical terminology. Do not invent findings that are not in the provided list. State clearly that this is decision support, not a diagnosis.`
	}
	return `You are a caring medical assistant writing for a patient with no medical background. Given machine-detected findings from their chest X-ray and the symptoms they reported, explain in plain, reassuring language what was detected and what a sensible next step would be. Avoid jargon, avoid alarming wording, and make clear this is not a diagnosis and that they should discuss the results with a doctor.`
}

// GetUserPrompt folds the findings and symptoms into one compact message.
func GetUserPrompt(f *ai.Findings, symptoms string) string {
	var sb strings.Builder
	sb.WriteString("Detected findings (label: probability):\n")
	if f == nil || len(f.Pathologies) == 0 {
		sb.WriteString("  none above threshold\n")
	}
	if f != nil {
		for _, p := range f.Pathologies {
			fmt.Fprintf(&sb, "  %s: %.2f\n", p.Label, p.Score)
		}
		if f.ModelID != "" {
			fmt.Fprintf(&sb, "Model: %s\n", f.ModelID)
		}
	}
	if strings.TrimSpace(symptoms) != "" {
		fmt.Fprintf(&sb, "Reported symptoms: %s\n", symptoms)
	}
	sb.WriteString("Write the advice now.")
	return sb.String()
}

// NormalizeAudience maps unknown values to the friendly register.
func NormalizeAudience(audience string) string {
	if strings.EqualFold(audience, AudienceExpert) {
		return AudienceExpert
	}
	return AudienceFriendly
}
