package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"evidence-engine/internal/domain"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// ReviewThreshold marks findings for human review when overall confidence
// falls below it.
const ReviewThreshold = 0.60

// AnalyzeControlInput encapsulates the parameters that drive one control analysis.
type AnalyzeControlInput struct {
	AssessmentID string
	ControlID    string
	ControlTitle string
	ControlText  string
	ProviderName string
}

// AnalyzeControlUsecase runs the full retrieve-prompt-assess pipeline for one
// control. Execute always returns a Finding: on unrecoverable failure a
// failed placeholder is persisted and returned together with the typed error.
type AnalyzeControlUsecase interface {
	Execute(ctx context.Context, input AnalyzeControlInput) (*domain.Finding, error)
}

type analyzeControlUsecase struct {
	retrieve      RetrieveContextUsecase
	inheritance   domain.InheritanceLookup
	promptBuilder PromptBuilder
	validator     OutputValidator
	scorer        ConfidenceScorer
	scoringCfg    ScoringConfig
	findingRepo   domain.FindingRepository
	primary       domain.ChatClient
	fallback      domain.ChatClient
	promptVersion string
	maxTokens     int
	temperature   float64
	callTimeout   time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// NewAnalyzeControlUsecase wires together the components of the analysis
// pipeline. fallback may be nil when no secondary model is configured.
func NewAnalyzeControlUsecase(
	retrieve RetrieveContextUsecase,
	inheritance domain.InheritanceLookup,
	promptBuilder PromptBuilder,
	validator OutputValidator,
	scorer ConfidenceScorer,
	scoringCfg ScoringConfig,
	findingRepo domain.FindingRepository,
	primary, fallback domain.ChatClient,
	promptVersion string,
	maxTokens int,
	temperature float64,
	callTimeout time.Duration,
	logger *slog.Logger,
) AnalyzeControlUsecase {
	return &analyzeControlUsecase{
		retrieve:      retrieve,
		inheritance:   inheritance,
		promptBuilder: promptBuilder,
		validator:     validator,
		scorer:        scorer,
		scoringCfg:    scoringCfg,
		findingRepo:   findingRepo,
		primary:       primary,
		fallback:      fallback,
		promptVersion: promptVersion,
		maxTokens:     maxTokens,
		temperature:   temperature,
		callTimeout:   callTimeout,
		logger:        logger,
		now:           time.Now,
	}
}

func (u *analyzeControlUsecase) Execute(ctx context.Context, input AnalyzeControlInput) (*domain.Finding, error) {
	if strings.TrimSpace(input.AssessmentID) == "" || strings.TrimSpace(input.ControlID) == "" {
		return nil, fmt.Errorf("assessment id and control id are required")
	}

	start := u.now()

	// Human-verified findings are immutable; skip before spending tokens.
	// The upsert SQL repeats this guard against races.
	existing, err := u.findingRepo.GetFinding(ctx, input.AssessmentID, input.ControlID)
	if err != nil {
		return nil, fmt.Errorf("failed to load existing finding: %w", err)
	}
	if existing != nil && existing.HumanOverride {
		u.logger.Info("analysis_skipped_human_override",
			slog.String("assessment_id", input.AssessmentID),
			slog.String("control_id", input.ControlID))
		return existing, nil
	}

	evidence, record, err := u.gatherContext(ctx, input)
	if err != nil {
		return u.failFinding(ctx, input, fmt.Sprintf("context gathering failed: %v", err), err)
	}

	parsed, modelUsed, tokensUsed, err := u.assess(ctx, input, evidence, record)
	if err != nil {
		return u.failFinding(ctx, input, err.Error(), err)
	}

	breakdown, err := u.score(evidence, record, parsed.ConfidenceSignal)
	if err != nil {
		return u.failFinding(ctx, input, fmt.Sprintf("confidence scoring failed: %v", err), err)
	}

	finding := &domain.Finding{
		ID:                  uuid.New(),
		AssessmentID:        input.AssessmentID,
		ControlID:           input.ControlID,
		Status:              domain.FindingStatus(parsed.Status),
		Narrative:           strings.TrimSpace(parsed.Narrative),
		Rationale:           strings.TrimSpace(parsed.Rationale),
		EvidenceReferences:  buildEvidenceReferences(evidence, parsed.EvidenceMapping),
		Confidence:          *breakdown,
		ModelUsed:           modelUsed,
		PromptVersion:       u.promptVersion,
		ScorerVersion:       u.scoringCfg.Version,
		TokensUsed:          tokensUsed,
		RequiresHumanReview: breakdown.OverallScore < ReviewThreshold || len(evidence) == 0,
		CreatedAt:           u.now(),
		UpdatedAt:           u.now(),
	}

	stored, err := u.findingRepo.UpsertFinding(ctx, finding)
	if err != nil {
		return nil, fmt.Errorf("failed to persist finding: %w", err)
	}

	u.logger.Info("analysis_completed",
		slog.String("assessment_id", input.AssessmentID),
		slog.String("control_id", input.ControlID),
		slog.String("status", string(stored.Status)),
		slog.Float64("confidence", stored.Confidence.OverallScore),
		slog.String("model", modelUsed),
		slog.Int("tokens_used", tokensUsed),
		slog.Int("evidence_count", len(evidence)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	return stored, nil
}

// gatherContext runs evidence retrieval and the inheritance lookup in
// parallel. An inheritance failure is non-fatal: analysis proceeds with the
// factor excluded.
func (u *analyzeControlUsecase) gatherContext(ctx context.Context, input AnalyzeControlInput) ([]domain.ScoredChunk, *domain.InheritanceRecord, error) {
	var evidence []domain.ScoredChunk
	var record *domain.InheritanceRecord

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results, err := u.retrieve.Execute(gctx, domain.RetrievalQuery{
			Text:   retrievalText(input),
			Filter: domain.SearchFilter{ControlID: input.ControlID},
			Lambda: domain.DefaultLambda,
		})
		if err != nil {
			return err
		}
		evidence = results
		return nil
	})
	g.Go(func() error {
		if u.inheritance == nil || input.ProviderName == "" {
			return nil
		}
		rec, err := u.inheritance.GetInheritance(gctx, input.ControlID, input.ProviderName)
		if err != nil {
			u.logger.Warn("inheritance_lookup_failed",
				slog.String("control_id", input.ControlID),
				slog.String("provider", input.ProviderName),
				slog.String("error", err.Error()))
			return nil
		}
		record = rec
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return evidence, record, nil
}

// assess sends the prompt to the primary model, falls back to the secondary
// on call failure, and allows exactly one strict re-ask when the reply does
// not parse.
func (u *analyzeControlUsecase) assess(
	ctx context.Context,
	input AnalyzeControlInput,
	evidence []domain.ScoredChunk,
	record *domain.InheritanceRecord,
) (*AssessmentAnswer, string, int, error) {
	promptInput := PromptInput{
		AssessmentID:  input.AssessmentID,
		ControlID:     input.ControlID,
		ControlTitle:  input.ControlTitle,
		ControlText:   input.ControlText,
		PromptVersion: u.promptVersion,
		Evidence:      evidence,
		Inheritance:   record,
	}
	messages, err := u.promptBuilder.Build(promptInput)
	if err != nil {
		return nil, "", 0, fmt.Errorf("failed to build prompt: %w", err)
	}

	opts := domain.CompletionOptions{
		MaxTokens:   u.maxTokens,
		Temperature: u.temperature,
		Timeout:     u.callTimeout,
		JSONOnly:    true,
	}

	tokensUsed := 0
	client := u.primary
	resp, err := u.complete(ctx, client, messages, opts)
	if err != nil && u.fallback != nil {
		u.logger.Warn("primary_model_failed",
			slog.String("control_id", input.ControlID),
			slog.String("model", u.primary.Model()),
			slog.String("error", err.Error()))
		client = u.fallback
		resp, err = u.complete(ctx, client, messages, opts)
	}
	if err != nil {
		return nil, "", tokensUsed, err
	}
	tokensUsed += resp.TokensUsed

	parsed, parseErr := u.validator.Validate(resp.Text, evidence)
	if parseErr == nil {
		return parsed, client.Model(), tokensUsed, nil
	}

	// One strict re-ask against the same model that produced the reply.
	u.logger.Warn("model_output_invalid",
		slog.String("control_id", input.ControlID),
		slog.String("model", client.Model()),
		slog.String("error", parseErr.Error()))

	promptInput.Strict = true
	strictMessages, err := u.promptBuilder.Build(promptInput)
	if err != nil {
		return nil, "", tokensUsed, fmt.Errorf("failed to build strict prompt: %w", err)
	}
	resp, err = u.complete(ctx, client, strictMessages, opts)
	if err != nil {
		return nil, "", tokensUsed, err
	}
	tokensUsed += resp.TokensUsed

	parsed, parseErr = u.validator.Validate(resp.Text, evidence)
	if parseErr != nil {
		return nil, "", tokensUsed, &domain.ModelInferenceError{
			Model: client.Model(),
			Stage: "parse",
			Err:   parseErr,
		}
	}
	return parsed, client.Model(), tokensUsed, nil
}

func (u *analyzeControlUsecase) complete(ctx context.Context, client domain.ChatClient, messages []domain.Message, opts domain.CompletionOptions) (*domain.LLMResponse, error) {
	resp, err := client.Complete(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return nil, &domain.ModelInferenceError{
			Model: client.Model(),
			Stage: "call",
			Err:   fmt.Errorf("empty model response"),
		}
	}
	if !resp.Done {
		return nil, &domain.ModelInferenceError{
			Model: client.Model(),
			Stage: "call",
			Err:   fmt.Errorf("model response truncated"),
		}
	}
	return resp, nil
}

func (u *analyzeControlUsecase) score(evidence []domain.ScoredChunk, record *domain.InheritanceRecord, certainty float64) (*domain.ConfidenceBreakdown, error) {
	inheritanceFactor := domain.NotApplicable()
	if record != nil {
		inheritanceFactor = domain.FactorValueForResponsibility(record.Responsibility)
	}

	factors := domain.ConfidenceFactors{
		EvidenceQuality:     EvidenceQualityFactor(evidence, u.scoringCfg),
		EvidenceQuantity:    EvidenceQuantityFactor(len(evidence), u.scoringCfg),
		EvidenceRecency:     EvidenceRecencyFactor(evidence, u.now(), u.scoringCfg),
		ProviderInheritance: inheritanceFactor,
		AICertainty:         domain.Applies(certainty),
	}
	return u.scorer.Score(factors, u.scoringCfg)
}

// failFinding persists a failed placeholder so batch runs can report per-item
// outcomes, then returns it together with the original error. A finding under
// human override is never replaced; the stored row comes back unchanged.
func (u *analyzeControlUsecase) failFinding(ctx context.Context, input AnalyzeControlInput, reason string, cause error) (*domain.Finding, error) {
	u.logger.Error("analysis_failed",
		slog.String("assessment_id", input.AssessmentID),
		slog.String("control_id", input.ControlID),
		slog.String("reason", reason))

	finding := &domain.Finding{
		ID:                  uuid.New(),
		AssessmentID:        input.AssessmentID,
		ControlID:           input.ControlID,
		Status:              domain.StatusNotMet,
		Confidence:          domain.ConfidenceBreakdown{Level: domain.LevelVeryLow},
		PromptVersion:       u.promptVersion,
		ScorerVersion:       u.scoringCfg.Version,
		RequiresHumanReview: true,
		FailureReason:       reason,
		CreatedAt:           u.now(),
		UpdatedAt:           u.now(),
	}

	stored, persistErr := u.findingRepo.UpsertFinding(ctx, finding)
	if persistErr != nil {
		u.logger.Error("failed_finding_persist_error",
			slog.String("assessment_id", input.AssessmentID),
			slog.String("control_id", input.ControlID),
			slog.String("error", persistErr.Error()))
		return finding, cause
	}
	return stored, cause
}

func buildEvidenceReferences(evidence []domain.ScoredChunk, mapping []EvidenceMapping) []domain.EvidenceReference {
	byID := make(map[string]domain.ScoredChunk, len(evidence))
	for _, ev := range evidence {
		byID[ev.ChunkID.String()] = ev
	}

	refs := make([]domain.EvidenceReference, 0, len(mapping))
	for rank, m := range mapping {
		ev, ok := byID[m.ChunkID]
		if !ok {
			continue
		}
		refs = append(refs, domain.EvidenceReference{
			ChunkID:   ev.ChunkID,
			Relevance: ev.Similarity,
			Rank:      rank,
		})
	}
	return refs
}

// retrievalText composes the search query from the control requirement.
func retrievalText(input AnalyzeControlInput) string {
	if strings.TrimSpace(input.ControlText) == "" {
		return input.ControlID + " " + input.ControlTitle
	}
	return input.ControlID + " " + input.ControlTitle + "\n" + input.ControlText
}
