package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"evidence-engine/internal/domain"
	"evidence-engine/internal/usecase"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	jobTimeout          = 30 * time.Minute
	initialBackoff      = 1 * time.Second
	maxBackoff          = 5 * time.Minute
)

// JobWorker drains queued analysis jobs and runs them through the batch
// scheduler. Errors back the poll interval off exponentially so a broken
// dependency does not spin the queue.
type JobWorker struct {
	jobRepo      domain.AnalysisJobRepository
	batchUsecase usecase.RunBatchUsecase
	providerName string
	logger       *slog.Logger
	stopChan     chan struct{}
	backoff      time.Duration
}

func NewJobWorker(
	jobRepo domain.AnalysisJobRepository,
	batchUsecase usecase.RunBatchUsecase,
	providerName string,
	logger *slog.Logger,
) *JobWorker {
	return &JobWorker{
		jobRepo:      jobRepo,
		batchUsecase: batchUsecase,
		providerName: providerName,
		logger:       logger,
		stopChan:     make(chan struct{}),
	}
}

func (w *JobWorker) Start() {
	w.logger.Info("Starting JobWorker")
	go w.run()
}

func (w *JobWorker) Stop() {
	w.logger.Info("Stopping JobWorker")
	close(w.stopChan)
}

func (w *JobWorker) run() {
	ticker := time.NewTicker(defaultPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			w.processNextJob()
			if w.backoff > 0 {
				ticker.Reset(w.backoff)
			} else {
				ticker.Reset(defaultPollInterval)
			}
		}
	}
}

func (w *JobWorker) processNextJob() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	job, err := w.jobRepo.AcquireNextJob(ctx)
	if err != nil {
		w.logger.Error("Failed to acquire next job", "error", err)
		w.backoff = w.nextBackoff(w.backoff)
		return
	}
	if job == nil {
		w.backoff = 0
		return // No jobs
	}

	w.logger.Info("Processing analysis job",
		"job_id", job.ID,
		"assessment_id", job.AssessmentID,
		"controls", len(job.ControlIDs))

	processErr := w.processJob(ctx, job)

	status := "completed"
	var errMsg *string
	if processErr != nil {
		status = "failed"
		msg := processErr.Error()
		errMsg = &msg
		w.backoff = w.nextBackoff(w.backoff)
		w.logger.Warn("Worker backing off", "job_id", job.ID, "backoff", w.backoff, "error", processErr)
	} else {
		w.backoff = 0
		w.logger.Info("Analysis job completed", "job_id", job.ID)
	}

	if err := w.jobRepo.UpdateStatus(ctx, job.ID, status, errMsg); err != nil {
		w.logger.Error("Failed to update job status", "job_id", job.ID, "error", err)
	}
}

func (w *JobWorker) processJob(ctx context.Context, job *domain.AnalysisJob) error {
	if len(job.ControlIDs) == 0 {
		return fmt.Errorf("job has no control ids")
	}

	controls := make([]usecase.AnalyzeControlInput, len(job.ControlIDs))
	for i, controlID := range job.ControlIDs {
		controls[i] = usecase.AnalyzeControlInput{
			AssessmentID: job.AssessmentID,
			ControlID:    controlID,
			ProviderName: w.providerName,
		}
	}

	result, err := w.batchUsecase.Execute(ctx, usecase.RunBatchInput{
		AssessmentID: job.AssessmentID,
		Controls:     controls,
		BatchSize:    job.BatchSize,
	})
	if err != nil {
		return err
	}
	if result.Status == usecase.BatchFailed {
		return fmt.Errorf("all %d controls failed", result.Total)
	}
	return nil
}

func (w *JobWorker) nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return initialBackoff
	}
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}
