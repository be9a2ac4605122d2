package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"evidence-engine/internal/domain"
)

// OutputValidator ensures the model output follows the expected structure and
// references only retrieved evidence.
type OutputValidator struct{}

// NewOutputValidator creates a validator instance (currently stateless).
func NewOutputValidator() OutputValidator {
	return OutputValidator{}
}

// Validate parses and checks the JSON output emitted by the model. Models
// sometimes wrap the object in a markdown fence despite instructions, so the
// fence is stripped before parsing.
func (v OutputValidator) Validate(raw string, evidence []domain.ScoredChunk) (*AssessmentAnswer, error) {
	trimmed := stripFence(strings.TrimSpace(raw))
	if trimmed == "" {
		return nil, errors.New("model response is empty")
	}

	var answer AssessmentAnswer
	if err := json.Unmarshal([]byte(trimmed), &answer); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w", err)
	}

	if !domain.ValidFindingStatus(domain.FindingStatus(answer.Status)) {
		return nil, fmt.Errorf("invalid status %q", answer.Status)
	}
	if strings.TrimSpace(answer.Narrative) == "" {
		return nil, errors.New("missing narrative in response")
	}
	if answer.ConfidenceSignal < 0 || answer.ConfidenceSignal > 1 {
		return nil, fmt.Errorf("confidence_signal out of range: %v", answer.ConfidenceSignal)
	}
	if len(answer.EvidenceMapping) == 0 && len(evidence) > 0 {
		return nil, errors.New("missing evidence_mapping in response")
	}

	allowed := make(map[string]struct{}, len(evidence))
	for _, ev := range evidence {
		allowed[ev.ChunkID.String()] = struct{}{}
	}
	for _, m := range answer.EvidenceMapping {
		if m.ChunkID == "" {
			return nil, errors.New("evidence_mapping entry missing chunk_id")
		}
		if _, ok := allowed[m.ChunkID]; !ok {
			return nil, fmt.Errorf("evidence_mapping references unknown chunk %s", m.ChunkID)
		}
	}

	return &answer, nil
}

// stripFence removes a surrounding ```json ... ``` (or bare ```) block.
func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// AssessmentAnswer models the JSON output the prompt format section enforces.
type AssessmentAnswer struct {
	Status           string            `json:"status"`
	Narrative        string            `json:"narrative"`
	Rationale        string            `json:"rationale"`
	EvidenceMapping  []EvidenceMapping `json:"evidence_mapping"`
	ConfidenceSignal float64           `json:"confidence_signal"`
	Gaps             []string          `json:"gaps"`
	Recommendations  []string          `json:"recommendations"`
}

// EvidenceMapping ties one narrative claim back to a retrieved chunk.
type EvidenceMapping struct {
	ChunkID string `json:"chunk_id"`
	Note    string `json:"note"`
}
