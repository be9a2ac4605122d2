package domain

import "context"

// EmbeddingUsage reports provider token consumption for accounting by an
// external collaborator.
type EmbeddingUsage struct {
	Tokens int
}

// VectorEncoder converts text into fixed-dimension vectors. Single and batch
// embedding share this one path; implementations batch up to the provider
// maximum and retry transient failures with backoff before returning an
// EmbeddingProviderError.
type VectorEncoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, EmbeddingUsage, error)
	// Dimension is fixed per model and never mixed across models in one index.
	Dimension() int
	Version() string
}
