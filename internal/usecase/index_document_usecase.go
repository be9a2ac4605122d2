package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"evidence-engine/internal/domain"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
)

// IndexDocumentInput carries one evidence document into the index.
type IndexDocumentInput struct {
	ExternalID string
	Title      string
	DocType    string
	Body       string
	Strategy   domain.ChunkStrategy
}

// IndexDocumentUsecase ingests evidence documents: chunk, embed, persist.
// Upsert is idempotent on source content.
type IndexDocumentUsecase interface {
	Upsert(ctx context.Context, input IndexDocumentInput) error
}

type indexDocumentUsecase struct {
	docRepo   domain.DocumentRepository
	chunkRepo domain.ChunkRepository
	txManager domain.TransactionManager
	hasher    domain.SourceHashPolicy
	chunker   domain.Chunker
	encoder   domain.VectorEncoder
	logger    *slog.Logger
}

// NewIndexDocumentUsecase wires the ingest pipeline.
func NewIndexDocumentUsecase(
	docRepo domain.DocumentRepository,
	chunkRepo domain.ChunkRepository,
	txManager domain.TransactionManager,
	hasher domain.SourceHashPolicy,
	chunker domain.Chunker,
	encoder domain.VectorEncoder,
	logger *slog.Logger,
) IndexDocumentUsecase {
	return &indexDocumentUsecase{
		docRepo:   docRepo,
		chunkRepo: chunkRepo,
		txManager: txManager,
		hasher:    hasher,
		chunker:   chunker,
		encoder:   encoder,
		logger:    logger,
	}
}

func (u *indexDocumentUsecase) Upsert(ctx context.Context, input IndexDocumentInput) error {
	if input.ExternalID == "" {
		return fmt.Errorf("external id is required")
	}
	strategy := input.Strategy
	if strategy == "" {
		strategy = domain.StrategyHybrid
	}

	sourceHash := u.hasher.Compute(input.Title, input.Body)

	// Idempotency check outside the write transaction. Identical content is
	// a no-op only when every stored chunk carries its vector; chunks parked
	// pending by an embedding outage get another pass through the encoder.
	existing, err := u.docRepo.GetByExternalID(ctx, input.ExternalID)
	if err != nil {
		return fmt.Errorf("failed to get document: %w", err)
	}
	if existing != nil && existing.SourceHash == sourceHash {
		pending, err := u.hasPendingChunks(ctx, existing.ID)
		if err != nil {
			return err
		}
		if !pending {
			u.logger.Info("ingest_unchanged",
				slog.String("external_id", input.ExternalID))
			return nil
		}
		u.logger.Info("ingest_reembedding_pending",
			slog.String("external_id", input.ExternalID))
	}

	textChunks, err := u.chunker.Chunk(input.Body, strategy)
	if err != nil {
		return fmt.Errorf("failed to chunk document: %w", err)
	}

	now := time.Now()
	docID := uuid.New()
	if existing != nil {
		docID = existing.ID
	}

	chunks := make([]domain.Chunk, len(textChunks))
	contents := make([]string, len(textChunks))
	for i, tc := range textChunks {
		tags := tc.Tags
		if tags.DocType == "" {
			tags.DocType = input.DocType
		}
		chunks[i] = domain.Chunk{
			ID:              uuid.New(),
			DocumentID:      docID,
			Ordinal:         tc.Ordinal,
			Content:         tc.Content,
			TokenCount:      tc.TokenCount,
			Tags:            tags,
			EmbeddingStatus: domain.EmbeddingStatusPending,
			CreatedAt:       now,
		}
		contents[i] = tc.Content
	}

	// An embedding outage is not fatal: chunks land with pending status and
	// stay out of search results until re-ingestion.
	embeddings, usage, err := u.encoder.Encode(ctx, contents)
	switch {
	case err != nil:
		u.logger.Warn("ingest_embedding_unavailable",
			slog.String("external_id", input.ExternalID),
			slog.Int("chunks", len(chunks)),
			slog.String("error", err.Error()))
	case len(embeddings) != len(contents):
		return fmt.Errorf("embeddings count mismatch: got %d, want %d", len(embeddings), len(contents))
	default:
		for i := range chunks {
			chunks[i].Embedding = pgvector.NewVector(embeddings[i])
			chunks[i].EmbeddingStatus = domain.EmbeddingStatusReady
		}
	}

	err = u.txManager.RunInTx(ctx, func(ctx context.Context) error {
		if existing == nil {
			doc := &domain.EvidenceDocument{
				ID:         docID,
				ExternalID: input.ExternalID,
				Title:      input.Title,
				DocType:    input.DocType,
				SourceHash: sourceHash,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := u.docRepo.CreateDocument(ctx, doc); err != nil {
				return fmt.Errorf("failed to create document: %w", err)
			}
		} else {
			if err := u.docRepo.DeleteChunksByDocumentID(ctx, docID); err != nil {
				return fmt.Errorf("failed to delete previous chunks: %w", err)
			}
			if err := u.docRepo.UpdateSourceHash(ctx, docID, sourceHash); err != nil {
				return fmt.Errorf("failed to update source hash: %w", err)
			}
		}
		if err := u.chunkRepo.BulkInsertChunks(ctx, chunks); err != nil {
			return fmt.Errorf("failed to insert chunks: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	u.logger.Info("ingest_completed",
		slog.String("external_id", input.ExternalID),
		slog.String("strategy", string(strategy)),
		slog.Int("chunks", len(chunks)),
		slog.String("embedding_status", string(chunks[0].EmbeddingStatus)),
		slog.Int("embedding_tokens", usage.Tokens))

	return nil
}

func (u *indexDocumentUsecase) hasPendingChunks(ctx context.Context, docID uuid.UUID) (bool, error) {
	chunks, err := u.chunkRepo.GetChunksByDocumentID(ctx, docID)
	if err != nil {
		return false, fmt.Errorf("failed to load chunks: %w", err)
	}
	for _, c := range chunks {
		if c.EmbeddingStatus == domain.EmbeddingStatusPending {
			return true, nil
		}
	}
	return false, nil
}

