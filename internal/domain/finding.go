package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// FindingStatus is the assessor-grade outcome for one control.
type FindingStatus string

const (
	StatusMet           FindingStatus = "Met"
	StatusNotMet        FindingStatus = "Not Met"
	StatusPartiallyMet  FindingStatus = "Partially Met"
	StatusNotApplicable FindingStatus = "Not Applicable"
)

// ValidFindingStatus reports whether s is one of the four allowed statuses.
func ValidFindingStatus(s FindingStatus) bool {
	switch s {
	case StatusMet, StatusNotMet, StatusPartiallyMet, StatusNotApplicable:
		return true
	}
	return false
}

// EvidenceReference links a finding to one chunk it relied on, in relevance
// order.
type EvidenceReference struct {
	ChunkID   uuid.UUID `json:"chunk_id"`
	Relevance float32   `json:"relevance"`
	Rank      int       `json:"rank"`
}

// Finding is the persisted outcome of analyzing one control, uniquely keyed
// by (AssessmentID, ControlID). HumanOverride is set externally and is never
// overwritten by re-analysis once true.
type Finding struct {
	ID                  uuid.UUID
	AssessmentID        string
	ControlID           string
	Status              FindingStatus
	Narrative           string
	Rationale           string
	EvidenceReferences  []EvidenceReference
	Confidence          ConfidenceBreakdown
	ModelUsed           string
	PromptVersion       string
	ScorerVersion       string
	TokensUsed          int
	RequiresHumanReview bool
	HumanOverride       bool
	FailureReason       string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// FindingRepository persists findings. The store enforces the uniqueness and
// at-most-one-in-flight invariant for (assessment_id, control_id); callers
// treat it as externally synchronized.
type FindingRepository interface {
	// UpsertFinding creates or overwrites the finding for its key. Rows with
	// human_override set are left untouched; the stored row is returned.
	UpsertFinding(ctx context.Context, finding *Finding) (*Finding, error)

	// GetFinding returns nil, nil when no finding exists for the key.
	GetFinding(ctx context.Context, assessmentID, controlID string) (*Finding, error)
}
