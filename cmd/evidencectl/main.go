package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"evidence-engine/internal/batch"
	"evidence-engine/internal/di"
	"evidence-engine/internal/domain"
	"evidence-engine/internal/infra"
	"evidence-engine/internal/infra/config"
	"evidence-engine/internal/infra/logger"
	"evidence-engine/internal/usecase"
)

var (
	version = "dev"

	// Global flags
	verbose    bool
	cursorFile string

	// ingest flags
	ingestFile       string
	ingestExternalID string
	ingestTitle      string
	ingestDocType    string
	ingestStrategy   string

	// retrieve flags
	retrieveQuery   string
	retrieveControl string
	retrieveTopK    int
	retrieveLambda  float64

	// analyze flags
	assessmentID string
	controlID    string
	controlTitle string
	controlText  string
	providerName string

	// batch flags
	controlsFile string
	batchSize    int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "evidencectl",
	Short:   "Evidence retrieval and AI finding engine CLI",
	Version: version,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest an evidence document into the index",
	Long: `Ingest an evidence document: chunk, embed, and persist it.

Re-ingesting unchanged content is a no-op. If the embedding provider is
unavailable, chunks are stored as pending and excluded from search until
re-ingestion.

Examples:
  evidencectl ingest --file policy.md --external-id POL-7 --doc-type policy
  evidencectl ingest --file config.json --external-id CFG-3 --doc-type configuration_export --strategy fixed`,
	RunE: runIngest,
}

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Run a similarity search with diversity re-ranking",
	RunE:  runRetrieve,
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Analyze one control and print the finding",
	RunE:  runAnalyze,
}

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Analyze a set of controls with bounded concurrency",
	Long: `Analyze every control listed in the controls file.

The controls file is a JSON array of {control_id, title, text} objects.
Progress is checkpointed in the cursor file, so an interrupted run resumes
where it stopped.

Examples:
  evidencectl batch --assessment fedramp-2026 --controls controls.json
  evidencectl batch --assessment fedramp-2026 --controls controls.json --batch-size 10`,
	RunE: runBatch,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue",
	Short: "Queue a batch analysis job for the worker",
	RunE:  runEnqueue,
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the analysis job worker until interrupted",
	RunE:  runWorker,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current batch cursor status",
	RunE:  showStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset-cursor",
	Short: "Reset the batch cursor to start from the beginning",
	RunE:  resetCursor,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&cursorFile, "cursor-file", "cursor.json", "cursor file path")

	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "path to the document text (required)")
	ingestCmd.Flags().StringVar(&ingestExternalID, "external-id", "", "stable external document id (required)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title")
	ingestCmd.Flags().StringVar(&ingestDocType, "doc-type", "policy", "document type (policy, procedure, screenshot, configuration_export, log_export)")
	ingestCmd.Flags().StringVar(&ingestStrategy, "strategy", "hybrid", "chunking strategy (fixed, semantic, hybrid)")
	_ = ingestCmd.MarkFlagRequired("file")
	_ = ingestCmd.MarkFlagRequired("external-id")

	retrieveCmd.Flags().StringVar(&retrieveQuery, "query", "", "query text (required)")
	retrieveCmd.Flags().StringVar(&retrieveControl, "control", "", "filter by control id")
	retrieveCmd.Flags().IntVar(&retrieveTopK, "top-k", domain.DefaultTopK, "results to return")
	retrieveCmd.Flags().Float64Var(&retrieveLambda, "lambda", domain.DefaultLambda, "relevance/diversity trade-off in [0,1]")
	_ = retrieveCmd.MarkFlagRequired("query")

	analyzeCmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id (required)")
	analyzeCmd.Flags().StringVar(&controlID, "control", "", "control id (required)")
	analyzeCmd.Flags().StringVar(&controlTitle, "title", "", "control title")
	analyzeCmd.Flags().StringVar(&controlText, "text", "", "control requirement text")
	analyzeCmd.Flags().StringVar(&providerName, "provider", "", "platform provider for inheritance lookup")
	_ = analyzeCmd.MarkFlagRequired("assessment")
	_ = analyzeCmd.MarkFlagRequired("control")

	batchCmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id (required)")
	batchCmd.Flags().StringVar(&controlsFile, "controls", "", "JSON file listing controls (required)")
	batchCmd.Flags().IntVar(&batchSize, "batch-size", 0, "concurrent analyses (0 = configured default)")
	batchCmd.Flags().StringVar(&providerName, "provider", "", "platform provider for inheritance lookup")
	_ = batchCmd.MarkFlagRequired("assessment")
	_ = batchCmd.MarkFlagRequired("controls")

	enqueueCmd.Flags().StringVar(&assessmentID, "assessment", "", "assessment id (required)")
	enqueueCmd.Flags().StringVar(&controlsFile, "controls", "", "comma-separated control ids or JSON file (required)")
	enqueueCmd.Flags().IntVar(&batchSize, "batch-size", 0, "concurrent analyses (0 = configured default)")
	_ = enqueueCmd.MarkFlagRequired("assessment")
	_ = enqueueCmd.MarkFlagRequired("controls")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(retrieveCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
}

func setup(ctx context.Context) (*config.Config, *di.ApplicationComponents, *pgxpool.Pool, func(), error) {
	if verbose {
		_ = os.Setenv("LOG_LEVEL", "debug")
	}
	cfg := config.Load()

	var otelShutdown func(context.Context) error
	if cfg.OTelEnabled {
		var err error
		otelShutdown, err = infra.SetupOTelLogging(ctx, "evidence-engine", cfg.OTelEndpoint)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("setup otel: %w", err)
		}
	}
	log := logger.NewWithOTel(cfg.OTelEnabled)

	pool, err := infra.NewPostgresDB(ctx, di.DSN(cfg))
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}

	components := di.NewApplicationComponents(cfg, pool, log)

	cleanup := func() {
		pool.Close()
		if otelShutdown != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}
	}
	return cfg, components, pool, cleanup, nil
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, components, _, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	body, err := os.ReadFile(ingestFile)
	if err != nil {
		return fmt.Errorf("read document file: %w", err)
	}
	title := ingestTitle
	if title == "" {
		title = ingestExternalID
	}

	return components.IndexUsecase.Upsert(ctx, usecase.IndexDocumentInput{
		ExternalID: ingestExternalID,
		Title:      title,
		DocType:    ingestDocType,
		Body:       string(body),
		Strategy:   domain.ChunkStrategy(ingestStrategy),
	})
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, components, _, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	results, err := components.RetrieveUsecase.Execute(ctx, domain.RetrievalQuery{
		Text:   retrieveQuery,
		Filter: domain.SearchFilter{ControlID: retrieveControl},
		TopK:   retrieveTopK,
		Lambda: retrieveLambda,
	})
	if err != nil {
		return err
	}
	return printJSON(results)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, components, _, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	provider := providerName
	if provider == "" {
		provider = cfg.ProviderName
	}

	finding, err := components.AnalyzeUsecase.Execute(ctx, usecase.AnalyzeControlInput{
		AssessmentID: assessmentID,
		ControlID:    controlID,
		ControlTitle: controlTitle,
		ControlText:  controlText,
		ProviderName: provider,
	})
	if finding != nil {
		if printErr := printJSON(finding); printErr != nil {
			return printErr
		}
	}
	return err
}

type controlSpec struct {
	ControlID string `json:"control_id"`
	Title     string `json:"title"`
	Text      string `json:"text"`
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	cfg, components, _, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	data, err := os.ReadFile(controlsFile)
	if err != nil {
		return fmt.Errorf("read controls file: %w", err)
	}
	var specs []controlSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		return fmt.Errorf("parse controls file: %w", err)
	}
	if len(specs) == 0 {
		return fmt.Errorf("controls file is empty")
	}

	provider := providerName
	if provider == "" {
		provider = cfg.ProviderName
	}
	size := batchSize
	if size <= 0 {
		size = cfg.BatchSize
	}

	manager := batch.NewCursorManager(cursorFile)
	if err := manager.Lock(); err != nil {
		return err
	}
	defer func() { _ = manager.Unlock() }()

	cursor, err := manager.Load()
	if err != nil {
		return err
	}
	start := 0
	if !cursor.IsEmpty() && cursor.AssessmentID == assessmentID {
		for i, spec := range specs {
			if spec.ControlID == cursor.LastControlID {
				start = i + 1
				break
			}
		}
	}

	total := usecase.BatchResult{AssessmentID: assessmentID}
	// Dispatch in cursor-sized groups so an interrupt loses at most one group.
	for offset := start; offset < len(specs); offset += size {
		if ctx.Err() != nil {
			fmt.Println("batch interrupted, cursor saved for resume")
			break
		}
		end := offset + size
		if end > len(specs) {
			end = len(specs)
		}

		controls := make([]usecase.AnalyzeControlInput, 0, end-offset)
		for _, spec := range specs[offset:end] {
			controls = append(controls, usecase.AnalyzeControlInput{
				AssessmentID: assessmentID,
				ControlID:    spec.ControlID,
				ControlTitle: spec.Title,
				ControlText:  spec.Text,
				ProviderName: provider,
			})
		}

		result, err := components.BatchUsecase.Execute(ctx, usecase.RunBatchInput{
			AssessmentID: assessmentID,
			Controls:     controls,
			BatchSize:    size,
		})
		if err != nil {
			return err
		}
		total.Total += result.Total
		total.Succeeded += result.Succeeded
		total.Failed += result.Failed
		total.Failures = append(total.Failures, result.Failures...)

		cursor.AssessmentID = assessmentID
		cursor.LastControlID = specs[end-1].ControlID
		cursor.ProcessedCount += result.Total
		if err := manager.Save(cursor); err != nil {
			return err
		}
	}

	switch {
	case total.Failed == 0:
		total.Status = usecase.BatchCompleted
	case total.Succeeded == 0:
		total.Status = usecase.BatchFailed
	default:
		total.Status = usecase.BatchPartial
	}
	return printJSON(total)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, components, _, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	controlIDs, err := parseControlIDs(controlsFile)
	if err != nil {
		return err
	}
	size := batchSize
	if size <= 0 {
		size = cfg.BatchSize
	}

	now := time.Now()
	job := &domain.AnalysisJob{
		ID:           uuid.New(),
		AssessmentID: assessmentID,
		ControlIDs:   controlIDs,
		BatchSize:    size,
		Status:       "new",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := components.JobRepo.Enqueue(ctx, job); err != nil {
		return err
	}
	fmt.Printf("queued job %s (%d controls)\n", job.ID, len(controlIDs))
	return nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	_, components, _, cleanup, err := setup(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	components.Worker.Start()
	<-ctx.Done()
	components.Worker.Stop()
	return nil
}

func showStatus(cmd *cobra.Command, args []string) error {
	manager := batch.NewCursorManager(cursorFile)
	cursor, err := manager.Load()
	if err != nil {
		return fmt.Errorf("get cursor: %w", err)
	}

	if cursor.IsEmpty() {
		fmt.Println("No cursor found. Batch will start from the beginning.")
		return nil
	}

	fmt.Printf("Cursor Status:\n")
	fmt.Printf("  Version:         %d\n", cursor.Version)
	fmt.Printf("  Assessment:      %s\n", cursor.AssessmentID)
	fmt.Printf("  Last Control:    %s\n", cursor.LastControlID)
	fmt.Printf("  Processed Count: %d\n", cursor.ProcessedCount)
	fmt.Printf("  Updated At:      %s\n", cursor.UpdatedAt.Format(time.RFC3339))
	return nil
}

func resetCursor(cmd *cobra.Command, args []string) error {
	manager := batch.NewCursorManager(cursorFile)
	if err := manager.Reset(); err != nil {
		return fmt.Errorf("reset cursor: %w", err)
	}
	fmt.Println("cursor reset successfully")
	return nil
}

// parseControlIDs accepts either a comma-separated list or a path to a JSON
// controls file.
func parseControlIDs(arg string) ([]string, error) {
	if data, err := os.ReadFile(arg); err == nil {
		var specs []controlSpec
		if err := json.Unmarshal(data, &specs); err != nil {
			return nil, fmt.Errorf("parse controls file: %w", err)
		}
		ids := make([]string, len(specs))
		for i, spec := range specs {
			ids[i] = spec.ControlID
		}
		return ids, nil
	}

	var ids []string
	for _, part := range strings.Split(arg, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no control ids given")
	}
	return ids, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("received signal, shutting down...", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
