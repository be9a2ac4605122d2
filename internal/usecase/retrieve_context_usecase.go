package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"evidence-engine/internal/domain"
	"evidence-engine/internal/usecase/retrieval"

	lru "github.com/hashicorp/golang-lru/v2"
)

const queryEmbeddingCacheSize = 256

// RetrieveContextUsecase executes a similarity search followed by MMR
// diversity re-ranking. It is a pure function of index state: the same query
// against the same index yields the same results.
type RetrieveContextUsecase interface {
	Execute(ctx context.Context, query domain.RetrievalQuery) ([]domain.ScoredChunk, error)
}

type retrieveContextUsecase struct {
	chunkRepo domain.ChunkRepository
	encoder   domain.VectorEncoder
	cache     *lru.Cache[string, []float32]
	logger    *slog.Logger
}

// NewRetrieveContextUsecase creates the retriever. Query embeddings are
// LRU-cached so repeated control queries skip the provider.
func NewRetrieveContextUsecase(
	chunkRepo domain.ChunkRepository,
	encoder domain.VectorEncoder,
	logger *slog.Logger,
) RetrieveContextUsecase {
	cache, _ := lru.New[string, []float32](queryEmbeddingCacheSize)
	return &retrieveContextUsecase{
		chunkRepo: chunkRepo,
		encoder:   encoder,
		cache:     cache,
		logger:    logger,
	}
}

func (u *retrieveContextUsecase) Execute(ctx context.Context, query domain.RetrievalQuery) ([]domain.ScoredChunk, error) {
	if strings.TrimSpace(query.Text) == "" {
		return nil, fmt.Errorf("query text is empty")
	}
	if query.Lambda < 0 || query.Lambda > 1 {
		return nil, fmt.Errorf("lambda must be in [0,1], got %v", query.Lambda)
	}
	query = query.Normalize()

	start := time.Now()

	queryVector, err := u.embedQuery(ctx, query.Text)
	if err != nil {
		return nil, err
	}

	pool, err := u.chunkRepo.Search(ctx, queryVector, query.Filter, query.RerankTopK)
	if err != nil {
		return nil, &domain.RetrievalError{Op: "search", Err: err}
	}
	if len(pool) == 0 {
		// An empty index region is a valid answer, not an error.
		u.logger.Info("retrieval_empty",
			slog.String("control_id", query.Filter.ControlID),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()))
		return []domain.ScoredChunk{}, nil
	}

	candidates := make([]retrieval.Candidate, len(pool))
	for i, res := range pool {
		candidates[i] = retrieval.Candidate{
			Index:      i,
			Similarity: res.Similarity,
			Embedding:  res.Chunk.Embedding.Slice(),
		}
	}

	selected := retrieval.MaxMarginalRelevance(candidates, query.Lambda, query.TopK)

	results := make([]domain.ScoredChunk, len(selected))
	for rank, c := range selected {
		chunk := pool[c.Index].Chunk
		results[rank] = domain.ScoredChunk{
			ChunkID:    chunk.ID,
			DocumentID: chunk.DocumentID,
			Content:    chunk.Content,
			Tags:       chunk.Tags,
			Similarity: c.Similarity,
			Rank:       rank,
			CreatedAt:  chunk.CreatedAt.Format(time.RFC3339),
		}
	}

	u.logger.Info("retrieval_completed",
		slog.String("control_id", query.Filter.ControlID),
		slog.Int("pool_size", len(pool)),
		slog.Int("selected", len(results)),
		slog.Float64("lambda", query.Lambda),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	return results, nil
}

func (u *retrieveContextUsecase) embedQuery(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := u.cache.Get(text); ok {
		return vec, nil
	}

	vectors, _, err := u.encoder.Encode(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, &domain.RetrievalError{Op: "embed", Err: fmt.Errorf("expected 1 embedding, got %d", len(vectors))}
	}

	u.cache.Add(text, vectors[0])
	return vectors[0], nil
}
