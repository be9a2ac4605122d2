package di

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"evidence-engine/internal/adapter/provider"
	"evidence-engine/internal/adapter/repository"
	"evidence-engine/internal/domain"
	"evidence-engine/internal/infra/config"
	"evidence-engine/internal/infra/httpclient"
	"evidence-engine/internal/usecase"
	"evidence-engine/internal/worker"
)

// ApplicationComponents holds all wired dependencies for the application.
type ApplicationComponents struct {
	// Repositories
	ChunkRepo   domain.ChunkRepository
	DocRepo     domain.DocumentRepository
	FindingRepo domain.FindingRepository
	JobRepo     domain.AnalysisJobRepository

	// Usecases
	IndexUsecase    usecase.IndexDocumentUsecase
	RetrieveUsecase usecase.RetrieveContextUsecase
	AnalyzeUsecase  usecase.AnalyzeControlUsecase
	BatchUsecase    usecase.RunBatchUsecase

	// Worker
	Worker *worker.JobWorker
}

// NewApplicationComponents wires all dependencies from config and database pool.
func NewApplicationComponents(cfg *config.Config, pool *pgxpool.Pool, log *slog.Logger) *ApplicationComponents {
	// Repositories
	chunkRepo := repository.NewChunkRepository(pool)
	docRepo := repository.NewDocumentRepository(pool)
	findingRepo := repository.NewFindingRepository(pool)
	jobRepo := repository.NewAnalysisJobRepository(pool)
	txManager := repository.NewPostgresTransactionManager(pool)

	// Shared HTTP clients with connection pooling
	modelHTTP := httpclient.NewPooledClient(time.Duration(cfg.ModelTimeout) * time.Second)
	embedHTTP := httpclient.NewPooledClient(60 * time.Second)

	// Provider clients
	encoder := provider.NewEmbeddingClient(
		cfg.ProviderURL, cfg.ProviderAPIKey, cfg.EmbeddingModel,
		cfg.EmbeddingDim, cfg.RequestsPerMinute, embedHTTP, log,
	)
	primary := provider.NewChatClient(
		cfg.ProviderURL, cfg.ProviderAPIKey, cfg.PrimaryModel,
		cfg.RequestsPerMinute, modelHTTP, log,
	)
	var fallback domain.ChatClient
	if cfg.FallbackModel != "" && cfg.FallbackModel != cfg.PrimaryModel {
		fallback = provider.NewChatClient(
			cfg.ProviderURL, cfg.ProviderAPIKey, cfg.FallbackModel,
			cfg.RequestsPerMinute, modelHTTP, log,
		)
	}
	inheritance := provider.NewInheritanceClient(cfg.InheritanceURL, cfg.InheritanceTimeout)

	// Domain services
	hasher := domain.NewSourceHashPolicy()
	chunker := domain.NewChunker(domain.ChunkerConfig{})

	// Ingest usecase
	indexUsecase := usecase.NewIndexDocumentUsecase(
		docRepo, chunkRepo, txManager, hasher, chunker, encoder, log,
	)

	// Retrieve usecase
	retrieveUsecase := usecase.NewRetrieveContextUsecase(chunkRepo, encoder, log)

	// Analyze usecase
	promptBuilder := usecase.NewXMLPromptBuilder()
	analyzeUsecase := usecase.NewAnalyzeControlUsecase(
		retrieveUsecase, inheritance, promptBuilder,
		usecase.NewOutputValidator(), usecase.NewConfidenceScorer(), usecase.DefaultScoringConfig(),
		findingRepo, primary, fallback,
		cfg.PromptVersion, cfg.AnswerMaxTokens, 0.0,
		time.Duration(cfg.ModelTimeout)*time.Second, log,
	)

	// Batch usecase
	batchUsecase := usecase.NewRunBatchUsecase(analyzeUsecase, log)

	// Worker
	jobWorker := worker.NewJobWorker(jobRepo, batchUsecase, cfg.ProviderName, log)

	return &ApplicationComponents{
		ChunkRepo:       chunkRepo,
		DocRepo:         docRepo,
		FindingRepo:     findingRepo,
		JobRepo:         jobRepo,
		IndexUsecase:    indexUsecase,
		RetrieveUsecase: retrieveUsecase,
		AnalyzeUsecase:  analyzeUsecase,
		BatchUsecase:    batchUsecase,
		Worker:          jobWorker,
	}
}

// DSN builds the PostgreSQL connection string from config.
func DSN(cfg *config.Config) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)
}
