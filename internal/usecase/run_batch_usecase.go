package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize bounds concurrent control analyses within one batch.
const DefaultBatchSize = 5

// BatchStatus summarizes a whole batch run.
type BatchStatus string

const (
	BatchCompleted BatchStatus = "completed"
	BatchPartial   BatchStatus = "partial"
	BatchFailed    BatchStatus = "failed"
)

// ItemFailure records one control that did not produce a successful finding.
type ItemFailure struct {
	ControlID string
	Reason    string
}

// BatchResult is the per-run report: counts, per-item failures, and the
// derived status.
type BatchResult struct {
	AssessmentID string
	Status       BatchStatus
	Total        int
	Succeeded    int
	Failed       int
	Failures     []ItemFailure
	Duration     time.Duration
}

// RunBatchInput names the controls to analyze for one assessment.
type RunBatchInput struct {
	AssessmentID string
	Controls     []AnalyzeControlInput
	// BatchSize bounds concurrency; zero means DefaultBatchSize.
	BatchSize int
}

// RunBatchUsecase fans control analyses out across a bounded worker set.
// One item failing never aborts the others; cancellation stops dispatching
// new items while in-flight analyses run to completion.
type RunBatchUsecase interface {
	Execute(ctx context.Context, input RunBatchInput) (*BatchResult, error)
}

type runBatchUsecase struct {
	analyze  AnalyzeControlUsecase
	inflight *inflightSet
	logger   *slog.Logger
}

// NewRunBatchUsecase creates the batch scheduler. The in-flight set is shared
// across all batches in the process so the same (assessment, control) pair is
// analyzed at most once at a time even when batches overlap.
func NewRunBatchUsecase(analyze AnalyzeControlUsecase, logger *slog.Logger) RunBatchUsecase {
	return &runBatchUsecase{
		analyze:  analyze,
		inflight: newInflightSet(),
		logger:   logger,
	}
}

func (u *runBatchUsecase) Execute(ctx context.Context, input RunBatchInput) (*BatchResult, error) {
	if len(input.Controls) == 0 {
		return nil, fmt.Errorf("no controls to analyze")
	}
	batchSize := input.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	start := time.Now()
	u.logger.Info("batch_started",
		slog.String("assessment_id", input.AssessmentID),
		slog.Int("controls", len(input.Controls)),
		slog.Int("batch_size", batchSize))

	var mu sync.Mutex
	var failures []ItemFailure
	succeeded := 0

	g := new(errgroup.Group)
	g.SetLimit(batchSize)

	for _, control := range input.Controls {
		control := control
		if control.AssessmentID == "" {
			control.AssessmentID = input.AssessmentID
		}

		// Cancellation stops dispatch only; items already running finish.
		if ctx.Err() != nil {
			mu.Lock()
			failures = append(failures, ItemFailure{ControlID: control.ControlID, Reason: "batch canceled before dispatch"})
			mu.Unlock()
			continue
		}

		key := control.AssessmentID + "/" + control.ControlID
		if !u.inflight.TryAcquire(key) {
			mu.Lock()
			failures = append(failures, ItemFailure{ControlID: control.ControlID, Reason: "analysis already in flight"})
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			defer u.inflight.Release(key)

			reason := u.runOne(ctx, control)

			mu.Lock()
			defer mu.Unlock()
			if reason == "" {
				succeeded++
			} else {
				failures = append(failures, ItemFailure{ControlID: control.ControlID, Reason: reason})
			}
			return nil
		})
	}

	// Worker errors are folded into failures, never returned.
	_ = g.Wait()

	result := &BatchResult{
		AssessmentID: input.AssessmentID,
		Total:        len(input.Controls),
		Succeeded:    succeeded,
		Failed:       len(failures),
		Failures:     failures,
		Duration:     time.Since(start),
	}
	switch {
	case result.Failed == 0:
		result.Status = BatchCompleted
	case result.Succeeded == 0:
		result.Status = BatchFailed
	default:
		result.Status = BatchPartial
	}

	u.logger.Info("batch_finished",
		slog.String("assessment_id", input.AssessmentID),
		slog.String("status", string(result.Status)),
		slog.Int("succeeded", result.Succeeded),
		slog.Int("failed", result.Failed),
		slog.Int64("duration_ms", result.Duration.Milliseconds()))

	return result, nil
}

// runOne executes a single analysis with panic isolation. In-flight work uses
// a detached context so canceling the batch does not abandon analyses that
// already started.
func (u *runBatchUsecase) runOne(ctx context.Context, control AnalyzeControlInput) (failReason string) {
	defer func() {
		if r := recover(); r != nil {
			u.logger.Error("analysis_panic",
				slog.String("assessment_id", control.AssessmentID),
				slog.String("control_id", control.ControlID),
				slog.Any("panic", r))
			failReason = fmt.Sprintf("panic: %v", r)
		}
	}()

	_, err := u.analyze.Execute(context.WithoutCancel(ctx), control)
	if err != nil {
		return err.Error()
	}
	return ""
}

// inflightSet is a process-wide registry of running (assessment, control)
// analyses.
type inflightSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func newInflightSet() *inflightSet {
	return &inflightSet{keys: make(map[string]struct{})}
}

func (s *inflightSet) TryAcquire(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

func (s *inflightSet) Release(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
}
