package logger

import (
	"context"
	"log/slog"
	"os"
)

type ContextKey string

const (
	// Business context keys propagated through the analysis pipeline.
	// These follow OpenTelemetry semantic conventions with an 'ee.' prefix.
	JobIDKey        ContextKey = "ee.job.id"
	AssessmentIDKey ContextKey = "ee.assessment.id"
	ControlIDKey    ContextKey = "ee.control.id"
	StageKey        ContextKey = "ee.processing.stage"
)

// ContextLogger provides context-aware logging with pipeline business context
type ContextLogger struct {
	logger      *slog.Logger
	serviceName string
}

// NewContextLogger creates a new context-aware logger
func NewContextLogger(serviceName string) *ContextLogger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(os.Getenv("LOG_LEVEL")),
	}
	handler := slog.NewJSONHandler(os.Stdout, opts)

	return &ContextLogger{
		logger:      slog.New(handler),
		serviceName: serviceName,
	}
}

// WithContext returns a logger with context values extracted and added as fields
func (cl *ContextLogger) WithContext(ctx context.Context) *slog.Logger {
	logger := cl.logger.With("service", cl.serviceName)

	var fields []any

	if jobID := ctx.Value(JobIDKey); jobID != nil {
		fields = append(fields, string(JobIDKey), jobID)
	}
	if assessmentID := ctx.Value(AssessmentIDKey); assessmentID != nil {
		fields = append(fields, string(AssessmentIDKey), assessmentID)
	}
	if controlID := ctx.Value(ControlIDKey); controlID != nil {
		fields = append(fields, string(ControlIDKey), controlID)
	}
	if stage := ctx.Value(StageKey); stage != nil {
		fields = append(fields, string(StageKey), stage)
	}

	if len(fields) > 0 {
		logger = logger.With(fields...)
	}

	return logger
}

// Context helper functions

// WithJobID adds the analysis job ID to context for observability
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// WithAssessmentID adds the assessment ID to context for observability
func WithAssessmentID(ctx context.Context, assessmentID string) context.Context {
	return context.WithValue(ctx, AssessmentIDKey, assessmentID)
}

// WithControlID adds the control ID to context for observability
func WithControlID(ctx context.Context, controlID string) context.Context {
	return context.WithValue(ctx, ControlIDKey, controlID)
}

// WithStage adds the processing stage to context for observability
func WithStage(ctx context.Context, stage string) context.Context {
	return context.WithValue(ctx, StageKey, stage)
}
