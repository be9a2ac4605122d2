package domain

import "github.com/google/uuid"

// Default retrieval parameters applied when a query leaves them zero.
const (
	DefaultTopK       = 8
	DefaultRerankTopK = 24
	DefaultLambda     = 0.7
)

// RetrievalQuery drives one similarity search plus MMR re-rank.
type RetrievalQuery struct {
	Text   string
	Filter SearchFilter
	// TopK is the number of results returned after re-ranking.
	TopK int
	// RerankTopK is the candidate pool fetched before MMR.
	RerankTopK int
	// Lambda trades relevance (1) against diversity (0). Must be in [0,1].
	Lambda float64
}

// Normalize fills zero-valued count knobs with defaults. Lambda passes
// through untouched: an explicit 0 is a valid diversity-max setting, so
// callers wanting the default supply DefaultLambda themselves.
func (q RetrievalQuery) Normalize() RetrievalQuery {
	if q.TopK <= 0 {
		q.TopK = DefaultTopK
	}
	if q.RerankTopK < q.TopK {
		q.RerankTopK = DefaultRerankTopK
		if q.RerankTopK < q.TopK {
			q.RerankTopK = q.TopK
		}
	}
	return q
}

// ScoredChunk is one re-ranked retrieval result. Rank is the MMR selection
// index, starting at 0.
type ScoredChunk struct {
	ChunkID    uuid.UUID
	DocumentID uuid.UUID
	Content    string
	Tags       ChunkTags
	Similarity float32
	Rank       int
	CreatedAt  string // RFC3339, used by the recency factor
}
