package repository

import (
	"context"
	"fmt"

	"evidence-engine/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type chunkRepository struct {
	pool *pgxpool.Pool
}

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(pool *pgxpool.Pool) domain.ChunkRepository {
	return &chunkRepository{pool: pool}
}

func (r *chunkRepository) BulkInsertChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(chunks))
	for i, chunk := range chunks {
		// Pending chunks carry no vector yet; the column stays NULL until
		// a re-ingest embeds them.
		var embedding interface{}
		if chunk.EmbeddingStatus == domain.EmbeddingStatusReady {
			embedding = chunk.Embedding
		}
		rows[i] = []interface{}{
			chunk.ID,
			chunk.DocumentID,
			chunk.Ordinal,
			chunk.Content,
			chunk.TokenCount,
			chunk.Tags.ControlID,
			chunk.Tags.ObjectiveID,
			chunk.Tags.DocType,
			embedding,
			string(chunk.EmbeddingStatus),
			chunk.CreatedAt,
		}
	}

	_, err := executor(ctx, r.pool).CopyFrom(
		ctx,
		pgx.Identifier{"evidence_chunks"},
		[]string{"id", "document_id", "ordinal", "content", "token_count", "control_id", "objective_id", "doc_type", "embedding", "embedding_status", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to bulk insert chunks: %w", err)
	}

	return nil
}

func (r *chunkRepository) GetChunksByDocumentID(ctx context.Context, documentID uuid.UUID) ([]domain.Chunk, error) {
	query := `
		SELECT id, document_id, ordinal, content, token_count, control_id, objective_id, doc_type,
		       COALESCE(embedding, '[]'), embedding_status, created_at
		FROM evidence_chunks
		WHERE document_id = $1
		ORDER BY ordinal ASC
	`
	rows, err := executor(ctx, r.pool).Query(ctx, query, documentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return chunks, nil
}

// Search runs cosine nearest-neighbor over ready chunks. pgvector's <=>
// operator returns cosine distance, so similarity is its complement.
func (r *chunkRepository) Search(ctx context.Context, queryVector []float32, filter domain.SearchFilter, limit int) ([]domain.ChunkSearchResult, error) {
	query := `
		SELECT id, document_id, ordinal, content, token_count, control_id, objective_id, doc_type,
		       embedding, embedding_status, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM evidence_chunks
		WHERE embedding_status = 'ready'
		  AND ($2 = '' OR control_id = $2)
		  AND ($3 = '' OR objective_id = $3)
		  AND ($4 = '' OR doc_type = $4)
		ORDER BY embedding <=> $1
		LIMIT $5
	`
	rows, err := executor(ctx, r.pool).Query(ctx, query,
		pgvector.NewVector(queryVector),
		filter.ControlID,
		filter.ObjectiveID,
		filter.DocType,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	defer rows.Close()

	var results []domain.ChunkSearchResult
	for rows.Next() {
		var c domain.Chunk
		var status string
		var similarity float32
		if err := rows.Scan(
			&c.ID, &c.DocumentID, &c.Ordinal, &c.Content, &c.TokenCount,
			&c.Tags.ControlID, &c.Tags.ObjectiveID, &c.Tags.DocType,
			&c.Embedding, &status, &c.CreatedAt, &similarity,
		); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		c.EmbeddingStatus = domain.EmbeddingStatus(status)
		results = append(results, domain.ChunkSearchResult{Chunk: c, Similarity: similarity})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return results, nil
}

func scanChunk(rows pgx.Rows) (domain.Chunk, error) {
	var c domain.Chunk
	var status string
	if err := rows.Scan(
		&c.ID, &c.DocumentID, &c.Ordinal, &c.Content, &c.TokenCount,
		&c.Tags.ControlID, &c.Tags.ObjectiveID, &c.Tags.DocType,
		&c.Embedding, &status, &c.CreatedAt,
	); err != nil {
		return domain.Chunk{}, fmt.Errorf("failed to scan chunk: %w", err)
	}
	c.EmbeddingStatus = domain.EmbeddingStatus(status)
	return c, nil
}
