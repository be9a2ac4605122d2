package usecase_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"evidence-engine/internal/domain"
	"evidence-engine/internal/usecase"
)

// MockDocumentRepository is a mock implementation of domain.DocumentRepository.
type MockDocumentRepository struct {
	mock.Mock
}

func (m *MockDocumentRepository) GetByExternalID(ctx context.Context, externalID string) (*domain.EvidenceDocument, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EvidenceDocument), args.Error(1)
}

func (m *MockDocumentRepository) CreateDocument(ctx context.Context, doc *domain.EvidenceDocument) error {
	args := m.Called(ctx, doc)
	return args.Error(0)
}

func (m *MockDocumentRepository) UpdateSourceHash(ctx context.Context, docID uuid.UUID, sourceHash string) error {
	args := m.Called(ctx, docID, sourceHash)
	return args.Error(0)
}

func (m *MockDocumentRepository) DeleteChunksByDocumentID(ctx context.Context, docID uuid.UUID) error {
	args := m.Called(ctx, docID)
	return args.Error(0)
}

// MockTransactionManager executes the callback directly.
type MockTransactionManager struct {
	mock.Mock
}

func (m *MockTransactionManager) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.Called(ctx, fn)
	return fn(ctx)
}

func ingestInput() usecase.IndexDocumentInput {
	return usecase.IndexDocumentInput{
		ExternalID: "doc-42",
		Title:      "Network Security Standard",
		DocType:    "policy",
		Body:       "The perimeter firewall denies all inbound traffic by default. Exceptions require a documented approval.",
	}
}

func newIndexUsecase(docRepo *MockDocumentRepository, chunkRepo *MockChunkRepository, encoder *MockVectorEncoder) usecase.IndexDocumentUsecase {
	tx := new(MockTransactionManager)
	tx.On("RunInTx", mock.Anything, mock.Anything).Return(nil)
	return usecase.NewIndexDocumentUsecase(
		docRepo, chunkRepo, tx,
		domain.NewSourceHashPolicy(),
		domain.NewChunker(domain.ChunkerConfig{}),
		encoder, testLogger(),
	)
}

func TestIndexDocumentUsecase_Upsert(t *testing.T) {
	ctx := context.Background()

	t.Run("ingests a new document with ready embeddings", func(t *testing.T) {
		docRepo := new(MockDocumentRepository)
		chunkRepo := new(MockChunkRepository)
		encoder := new(MockVectorEncoder)

		docRepo.On("GetByExternalID", mock.Anything, "doc-42").Return(nil, nil)
		docRepo.On("CreateDocument", mock.Anything, mock.Anything).Return(nil)
		encoder.On("Encode", mock.Anything, mock.Anything).
			Return([][]float32{{0.1, 0.2, 0.3}}, domain.EmbeddingUsage{Tokens: 25}, nil)

		var inserted []domain.Chunk
		chunkRepo.On("BulkInsertChunks", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { inserted = args.Get(1).([]domain.Chunk) }).
			Return(nil)

		uc := newIndexUsecase(docRepo, chunkRepo, encoder)
		err := uc.Upsert(ctx, ingestInput())
		require.NoError(t, err)

		docRepo.AssertCalled(t, "CreateDocument", mock.Anything, mock.Anything)
		docRepo.AssertNotCalled(t, "DeleteChunksByDocumentID")
		require.Len(t, inserted, 1)
		assert.Equal(t, domain.EmbeddingStatusReady, inserted[0].EmbeddingStatus)
		assert.Equal(t, []float32{0.1, 0.2, 0.3}, inserted[0].Embedding.Slice())
		assert.Equal(t, "policy", inserted[0].Tags.DocType, "untagged chunks inherit the document doc_type")
		assert.Equal(t, 0, inserted[0].Ordinal)
	})

	t.Run("identical fully embedded content is a no-op", func(t *testing.T) {
		docRepo := new(MockDocumentRepository)
		chunkRepo := new(MockChunkRepository)
		encoder := new(MockVectorEncoder)

		input := ingestInput()
		hash := domain.NewSourceHashPolicy().Compute(input.Title, input.Body)
		docID := uuid.New()
		docRepo.On("GetByExternalID", mock.Anything, "doc-42").
			Return(&domain.EvidenceDocument{ID: docID, ExternalID: "doc-42", SourceHash: hash}, nil)
		chunkRepo.On("GetChunksByDocumentID", mock.Anything, docID).
			Return([]domain.Chunk{{DocumentID: docID, EmbeddingStatus: domain.EmbeddingStatusReady}}, nil)

		uc := newIndexUsecase(docRepo, chunkRepo, encoder)
		err := uc.Upsert(ctx, input)
		require.NoError(t, err)

		encoder.AssertNotCalled(t, "Encode")
		chunkRepo.AssertNotCalled(t, "BulkInsertChunks")
		docRepo.AssertNotCalled(t, "CreateDocument")
		docRepo.AssertNotCalled(t, "UpdateSourceHash")
	})

	t.Run("re-ingesting identical content embeds chunks left pending", func(t *testing.T) {
		docRepo := new(MockDocumentRepository)
		chunkRepo := new(MockChunkRepository)
		encoder := new(MockVectorEncoder)

		input := ingestInput()
		hash := domain.NewSourceHashPolicy().Compute(input.Title, input.Body)
		docID := uuid.New()
		docRepo.On("GetByExternalID", mock.Anything, "doc-42").
			Return(&domain.EvidenceDocument{ID: docID, ExternalID: "doc-42", SourceHash: hash}, nil)
		chunkRepo.On("GetChunksByDocumentID", mock.Anything, docID).
			Return([]domain.Chunk{{DocumentID: docID, EmbeddingStatus: domain.EmbeddingStatusPending}}, nil)
		docRepo.On("DeleteChunksByDocumentID", mock.Anything, docID).Return(nil)
		docRepo.On("UpdateSourceHash", mock.Anything, docID, hash).Return(nil)
		encoder.On("Encode", mock.Anything, mock.Anything).
			Return([][]float32{{0.4, 0.6}}, domain.EmbeddingUsage{Tokens: 25}, nil)

		var inserted []domain.Chunk
		chunkRepo.On("BulkInsertChunks", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { inserted = args.Get(1).([]domain.Chunk) }).
			Return(nil)

		uc := newIndexUsecase(docRepo, chunkRepo, encoder)
		err := uc.Upsert(ctx, input)
		require.NoError(t, err)

		encoder.AssertNumberOfCalls(t, "Encode", 1)
		docRepo.AssertCalled(t, "DeleteChunksByDocumentID", mock.Anything, docID)
		require.Len(t, inserted, 1)
		assert.Equal(t, domain.EmbeddingStatusReady, inserted[0].EmbeddingStatus)
	})

	t.Run("changed content replaces the previous chunk set", func(t *testing.T) {
		docRepo := new(MockDocumentRepository)
		chunkRepo := new(MockChunkRepository)
		encoder := new(MockVectorEncoder)

		existingID := uuid.New()
		docRepo.On("GetByExternalID", mock.Anything, "doc-42").
			Return(&domain.EvidenceDocument{
				ID:         existingID,
				ExternalID: "doc-42",
				SourceHash: "stale-hash",
				CreatedAt:  time.Now().Add(-24 * time.Hour),
			}, nil)
		docRepo.On("DeleteChunksByDocumentID", mock.Anything, existingID).Return(nil)
		docRepo.On("UpdateSourceHash", mock.Anything, existingID, mock.Anything).Return(nil)
		encoder.On("Encode", mock.Anything, mock.Anything).
			Return([][]float32{{0.5, 0.5}}, domain.EmbeddingUsage{}, nil)

		var inserted []domain.Chunk
		chunkRepo.On("BulkInsertChunks", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { inserted = args.Get(1).([]domain.Chunk) }).
			Return(nil)

		uc := newIndexUsecase(docRepo, chunkRepo, encoder)
		err := uc.Upsert(ctx, ingestInput())
		require.NoError(t, err)

		docRepo.AssertCalled(t, "DeleteChunksByDocumentID", mock.Anything, existingID)
		docRepo.AssertCalled(t, "UpdateSourceHash", mock.Anything, existingID, mock.Anything)
		docRepo.AssertNotCalled(t, "CreateDocument")
		require.Len(t, inserted, 1)
		assert.Equal(t, existingID, inserted[0].DocumentID)
	})

	t.Run("embedding outage stores chunks as pending", func(t *testing.T) {
		docRepo := new(MockDocumentRepository)
		chunkRepo := new(MockChunkRepository)
		encoder := new(MockVectorEncoder)

		docRepo.On("GetByExternalID", mock.Anything, "doc-42").Return(nil, nil)
		docRepo.On("CreateDocument", mock.Anything, mock.Anything).Return(nil)
		encoder.On("Encode", mock.Anything, mock.Anything).
			Return(nil, domain.EmbeddingUsage{}, errors.New("provider exhausted retries"))

		var inserted []domain.Chunk
		chunkRepo.On("BulkInsertChunks", mock.Anything, mock.Anything).
			Run(func(args mock.Arguments) { inserted = args.Get(1).([]domain.Chunk) }).
			Return(nil)

		uc := newIndexUsecase(docRepo, chunkRepo, encoder)
		err := uc.Upsert(ctx, ingestInput())
		require.NoError(t, err, "embedding outage must not fail the ingest")

		require.Len(t, inserted, 1)
		assert.Equal(t, domain.EmbeddingStatusPending, inserted[0].EmbeddingStatus)
	})

	t.Run("embedding count mismatch is fatal", func(t *testing.T) {
		docRepo := new(MockDocumentRepository)
		chunkRepo := new(MockChunkRepository)
		encoder := new(MockVectorEncoder)

		docRepo.On("GetByExternalID", mock.Anything, "doc-42").Return(nil, nil)
		encoder.On("Encode", mock.Anything, mock.Anything).
			Return([][]float32{{0.1}, {0.2}}, domain.EmbeddingUsage{}, nil)

		uc := newIndexUsecase(docRepo, chunkRepo, encoder)
		err := uc.Upsert(ctx, ingestInput())
		assert.ErrorContains(t, err, "count mismatch")
		chunkRepo.AssertNotCalled(t, "BulkInsertChunks")
	})

	t.Run("unchunkable body fails with an extraction error", func(t *testing.T) {
		docRepo := new(MockDocumentRepository)
		docRepo.On("GetByExternalID", mock.Anything, "doc-42").Return(nil, nil)

		input := ingestInput()
		input.Body = "   "

		uc := newIndexUsecase(docRepo, new(MockChunkRepository), new(MockVectorEncoder))
		err := uc.Upsert(ctx, input)
		var extErr *domain.ExtractionError
		assert.ErrorAs(t, err, &extErr)
	})

	t.Run("requires an external id", func(t *testing.T) {
		uc := newIndexUsecase(new(MockDocumentRepository), new(MockChunkRepository), new(MockVectorEncoder))
		input := ingestInput()
		input.ExternalID = ""
		assert.Error(t, uc.Upsert(ctx, input))
	})
}
