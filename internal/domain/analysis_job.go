package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AnalysisJob is a queued batch-analysis request drained by the polling
// worker, so long batches survive process restarts.
type AnalysisJob struct {
	ID           uuid.UUID
	AssessmentID string
	ControlIDs   []string
	BatchSize    int
	Status       string // "new", "processing", "completed", "failed"
	ErrorMessage *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AnalysisJobRepository persists queued batch jobs.
type AnalysisJobRepository interface {
	Enqueue(ctx context.Context, job *AnalysisJob) error

	// AcquireNextJob atomically claims the oldest new job, or returns
	// nil, nil when the queue is empty.
	AcquireNextJob(ctx context.Context) (*AnalysisJob, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status string, errorMessage *string) error
}
