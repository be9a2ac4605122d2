package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"evidence-engine/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type findingRepository struct {
	pool *pgxpool.Pool
}

// NewFindingRepository creates a new FindingRepository.
func NewFindingRepository(pool *pgxpool.Pool) domain.FindingRepository {
	return &findingRepository{pool: pool}
}

const findingColumns = `
	id, assessment_id, control_id, status, narrative, rationale,
	evidence_refs, confidence, model_used, prompt_version, scorer_version,
	tokens_used, requires_human_review, human_override, failure_reason,
	created_at, updated_at`

// UpsertFinding writes the finding for its (assessment_id, control_id) key
// inside one transaction guarded by an advisory lock, so concurrent writers
// for the same key serialize at the store boundary. The conditional update
// leaves human-override rows untouched; the stored row is returned either way.
func (r *findingRepository) UpsertFinding(ctx context.Context, finding *domain.Finding) (*domain.Finding, error) {
	refsJSON, err := json.Marshal(finding.EvidenceReferences)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evidence refs: %w", err)
	}
	confidenceJSON, err := json.Marshal(finding.Confidence)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal confidence: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	lockKey := finding.AssessmentID + "/" + finding.ControlID
	var acquired bool
	if err := tx.QueryRow(ctx, `SELECT pg_try_advisory_xact_lock(hashtext($1))`, lockKey).Scan(&acquired); err != nil {
		return nil, fmt.Errorf("failed to take advisory lock: %w", err)
	}
	if !acquired {
		return nil, fmt.Errorf("finding %s is being written by another process", lockKey)
	}

	upsert := `
		INSERT INTO findings (` + findingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, false, $14, $15, $16)
		ON CONFLICT (assessment_id, control_id) DO UPDATE SET
			status = EXCLUDED.status,
			narrative = EXCLUDED.narrative,
			rationale = EXCLUDED.rationale,
			evidence_refs = EXCLUDED.evidence_refs,
			confidence = EXCLUDED.confidence,
			model_used = EXCLUDED.model_used,
			prompt_version = EXCLUDED.prompt_version,
			scorer_version = EXCLUDED.scorer_version,
			tokens_used = EXCLUDED.tokens_used,
			requires_human_review = EXCLUDED.requires_human_review,
			failure_reason = EXCLUDED.failure_reason,
			updated_at = EXCLUDED.updated_at
		WHERE NOT findings.human_override
		RETURNING ` + findingColumns

	row := tx.QueryRow(ctx, upsert,
		finding.ID,
		finding.AssessmentID,
		finding.ControlID,
		string(finding.Status),
		finding.Narrative,
		finding.Rationale,
		refsJSON,
		confidenceJSON,
		finding.ModelUsed,
		finding.PromptVersion,
		finding.ScorerVersion,
		finding.TokensUsed,
		finding.RequiresHumanReview,
		finding.FailureReason,
		finding.CreatedAt,
		finding.UpdatedAt,
	)

	stored, err := scanFinding(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The conditional update was skipped: the row is under human
			// override. Return it unchanged.
			existing, getErr := scanFinding(tx.QueryRow(ctx,
				`SELECT `+findingColumns+` FROM findings WHERE assessment_id = $1 AND control_id = $2`,
				finding.AssessmentID, finding.ControlID))
			if getErr != nil {
				return nil, fmt.Errorf("failed to load overridden finding: %w", getErr)
			}
			if commitErr := tx.Commit(ctx); commitErr != nil {
				return nil, fmt.Errorf("failed to commit: %w", commitErr)
			}
			return existing, nil
		}
		return nil, fmt.Errorf("failed to upsert finding: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return stored, nil
}

func (r *findingRepository) GetFinding(ctx context.Context, assessmentID, controlID string) (*domain.Finding, error) {
	row := executor(ctx, r.pool).QueryRow(ctx,
		`SELECT `+findingColumns+` FROM findings WHERE assessment_id = $1 AND control_id = $2`,
		assessmentID, controlID)

	finding, err := scanFinding(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get finding: %w", err)
	}
	return finding, nil
}

func scanFinding(row pgx.Row) (*domain.Finding, error) {
	var f domain.Finding
	var status string
	var refsJSON, confidenceJSON []byte

	if err := row.Scan(
		&f.ID, &f.AssessmentID, &f.ControlID, &status, &f.Narrative, &f.Rationale,
		&refsJSON, &confidenceJSON, &f.ModelUsed, &f.PromptVersion, &f.ScorerVersion,
		&f.TokensUsed, &f.RequiresHumanReview, &f.HumanOverride, &f.FailureReason,
		&f.CreatedAt, &f.UpdatedAt,
	); err != nil {
		return nil, err
	}
	f.Status = domain.FindingStatus(status)

	if len(refsJSON) > 0 {
		if err := json.Unmarshal(refsJSON, &f.EvidenceReferences); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence refs: %w", err)
		}
	}
	if len(confidenceJSON) > 0 {
		if err := json.Unmarshal(confidenceJSON, &f.Confidence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal confidence: %w", err)
		}
	}
	return &f, nil
}
