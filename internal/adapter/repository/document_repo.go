package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"evidence-engine/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type documentRepository struct {
	pool *pgxpool.Pool
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(pool *pgxpool.Pool) domain.DocumentRepository {
	return &documentRepository{pool: pool}
}

func (r *documentRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.EvidenceDocument, error) {
	query := `
		SELECT id, external_id, title, doc_type, source_hash, created_at, updated_at
		FROM evidence_documents
		WHERE external_id = $1
	`
	var doc domain.EvidenceDocument
	err := executor(ctx, r.pool).QueryRow(ctx, query, externalID).Scan(
		&doc.ID, &doc.ExternalID, &doc.Title, &doc.DocType, &doc.SourceHash, &doc.CreatedAt, &doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

func (r *documentRepository) CreateDocument(ctx context.Context, doc *domain.EvidenceDocument) error {
	query := `
		INSERT INTO evidence_documents (id, external_id, title, doc_type, source_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := executor(ctx, r.pool).Exec(ctx, query,
		doc.ID, doc.ExternalID, doc.Title, doc.DocType, doc.SourceHash, doc.CreatedAt, doc.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

func (r *documentRepository) UpdateSourceHash(ctx context.Context, docID uuid.UUID, sourceHash string) error {
	query := `
		UPDATE evidence_documents
		SET source_hash = $1, updated_at = $2
		WHERE id = $3
	`
	_, err := executor(ctx, r.pool).Exec(ctx, query, sourceHash, time.Now(), docID)
	if err != nil {
		return fmt.Errorf("failed to update source hash: %w", err)
	}
	return nil
}

func (r *documentRepository) DeleteChunksByDocumentID(ctx context.Context, docID uuid.UUID) error {
	query := `DELETE FROM evidence_chunks WHERE document_id = $1`
	_, err := executor(ctx, r.pool).Exec(ctx, query, docID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}
