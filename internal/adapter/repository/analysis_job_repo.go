package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"evidence-engine/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type analysisJobRepository struct {
	pool *pgxpool.Pool
}

// NewAnalysisJobRepository creates a new AnalysisJobRepository.
func NewAnalysisJobRepository(pool *pgxpool.Pool) domain.AnalysisJobRepository {
	return &analysisJobRepository{pool: pool}
}

func (r *analysisJobRepository) Enqueue(ctx context.Context, job *domain.AnalysisJob) error {
	controlsJSON, err := json.Marshal(job.ControlIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal control ids: %w", err)
	}

	query := `
		INSERT INTO analysis_jobs (id, assessment_id, control_ids, batch_size, status, error_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = executor(ctx, r.pool).Exec(ctx, query,
		job.ID,
		job.AssessmentID,
		controlsJSON,
		job.BatchSize,
		job.Status,
		job.ErrorMessage,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue job: %w", err)
	}
	return nil
}

// AcquireNextJob atomically claims the oldest new job. FOR UPDATE SKIP LOCKED
// lets multiple workers drain the queue without double-claiming.
func (r *analysisJobRepository) AcquireNextJob(ctx context.Context) (*domain.AnalysisJob, error) {
	cteQuery := `
		WITH next_job AS (
			SELECT id
			FROM analysis_jobs
			WHERE status = 'new'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE analysis_jobs
		SET status = 'processing', updated_at = $1
		FROM next_job
		WHERE analysis_jobs.id = next_job.id
		RETURNING analysis_jobs.id, analysis_jobs.assessment_id, analysis_jobs.control_ids,
		          analysis_jobs.batch_size, analysis_jobs.status, analysis_jobs.error_message,
		          analysis_jobs.created_at, analysis_jobs.updated_at
	`

	var job domain.AnalysisJob
	var controlsJSON []byte

	err := r.pool.QueryRow(ctx, cteQuery, time.Now()).Scan(
		&job.ID,
		&job.AssessmentID,
		&controlsJSON,
		&job.BatchSize,
		&job.Status,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to acquire next job: %w", err)
	}

	if err := json.Unmarshal(controlsJSON, &job.ControlIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal control ids: %w", err)
	}
	return &job, nil
}

func (r *analysisJobRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, errorMessage *string) error {
	query := `
		UPDATE analysis_jobs
		SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4
	`
	_, err := r.pool.Exec(ctx, query, status, errorMessage, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}
