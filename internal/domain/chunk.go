package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingStatus tracks whether a chunk's vector has been computed.
type EmbeddingStatus string

const (
	// EmbeddingStatusReady means the chunk carries a usable vector.
	EmbeddingStatusReady EmbeddingStatus = "ready"
	// EmbeddingStatusPending means the provider exhausted its retry budget
	// and the chunk is stored without a vector until re-ingestion.
	EmbeddingStatusPending EmbeddingStatus = "pending"
)

// ChunkTags carries the best-effort control metadata attached during chunking.
// Empty fields mean the tagger found nothing; that is not an error.
type ChunkTags struct {
	ControlID   string
	ObjectiveID string
	DocType     string
}

// Chunk is one retrievable unit of evidence text. The embedding is owned
// exclusively by the chunk once computed; recomputation produces a new chunk
// row rather than mutating this one. (DocumentID, Ordinal) is unique.
type Chunk struct {
	ID              uuid.UUID
	DocumentID      uuid.UUID
	Ordinal         int
	Content         string
	TokenCount      int
	Tags            ChunkTags
	Embedding       pgvector.Vector
	EmbeddingStatus EmbeddingStatus
	CreatedAt       time.Time
}

// SearchFilter narrows a vector search to chunks carrying matching tags.
// Zero-valued fields match everything.
type SearchFilter struct {
	ControlID   string
	ObjectiveID string
	DocType     string
}

// ChunkSearchResult is a chunk found via nearest-neighbor search together
// with its cosine similarity (0..1, higher is closer).
type ChunkSearchResult struct {
	Chunk      Chunk
	Similarity float32
}

// ChunkRepository persists chunks and answers nearest-neighbor queries.
// The backing index is externally synchronized; callers never assume
// in-process locking suffices.
type ChunkRepository interface {
	// BulkInsertChunks inserts multiple chunks.
	BulkInsertChunks(ctx context.Context, chunks []Chunk) error

	// GetChunksByDocumentID retrieves a document's chunks ordered by ordinal.
	GetChunksByDocumentID(ctx context.Context, documentID uuid.UUID) ([]Chunk, error)

	// Search returns up to limit chunks nearest to queryVector by cosine
	// similarity, filtered by tags. Pending-embedding chunks are excluded.
	Search(ctx context.Context, queryVector []float32, filter SearchFilter, limit int) ([]ChunkSearchResult, error)
}

// EvidenceDocument tracks an ingested source document.
type EvidenceDocument struct {
	ID         uuid.UUID
	ExternalID string
	Title      string
	DocType    string
	SourceHash string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// DocumentRepository persists evidence documents.
type DocumentRepository interface {
	// GetByExternalID returns nil, nil when the document is unknown.
	GetByExternalID(ctx context.Context, externalID string) (*EvidenceDocument, error)

	CreateDocument(ctx context.Context, doc *EvidenceDocument) error

	// UpdateSourceHash records the hash of the most recently ingested text.
	UpdateSourceHash(ctx context.Context, docID uuid.UUID, sourceHash string) error

	// DeleteChunksByDocumentID removes a document's previous chunk set before
	// a re-ingest writes the new one.
	DeleteChunksByDocumentID(ctx context.Context, docID uuid.UUID) error
}

// TransactionManager runs a function within a database transaction.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
