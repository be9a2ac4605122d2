package domain

import "fmt"

// ExtractionError reports source text that could not be turned into chunks.
// It is fatal for the affected document only.
type ExtractionError struct {
	DocumentID string
	Reason     string
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed for document %s: %s", e.DocumentID, e.Reason)
}

// EmbeddingProviderError reports an embedding call that failed after the
// retry budget was exhausted (rate limit, timeout, auth).
type EmbeddingProviderError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *EmbeddingProviderError) Error() string {
	return fmt.Sprintf("embedding provider %s failed after %d attempts: %v", e.Provider, e.Attempts, e.Err)
}

func (e *EmbeddingProviderError) Unwrap() error { return e.Err }

// RetrievalError reports an unavailable or inconsistent vector index.
// It is never substituted with a silent empty result.
type RetrievalError struct {
	Op  string
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s failed: %v", e.Op, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// ModelInferenceError reports a chat model call that failed: transport
// error, timeout, refusal, or output that does not parse as the required
// schema.
type ModelInferenceError struct {
	Model  string
	Stage  string // "call", "parse"
	Err    error
}

func (e *ModelInferenceError) Error() string {
	return fmt.Sprintf("model %s inference failed at %s: %v", e.Model, e.Stage, e.Err)
}

func (e *ModelInferenceError) Unwrap() error { return e.Err }

// ConfidenceComputationError reports invalid scorer input: a factor outside
// [0,1] or weights that do not sum to 1 after renormalization. Scoring is
// rejected rather than clamped.
type ConfidenceComputationError struct {
	Reason string
}

func (e *ConfidenceComputationError) Error() string {
	return "confidence computation rejected: " + e.Reason
}
