package usecase

import (
	"fmt"
	"math"
	"strings"
	"time"

	"evidence-engine/internal/domain"
)

// ScorerVersion is recorded on findings for reproducibility.
const ScorerVersion = "v1"

const weightTolerance = 1e-9

// QualitySubWeights blends the evidence_quality sub-factors. The exact blend
// is configurable rather than hard-coded; these must sum to 1.0.
type QualitySubWeights struct {
	Relevance  float64
	Diversity  float64
	Directness float64
}

// ScoringConfig is passed into Score explicitly; there is no process-wide
// mutable default beyond the immutable factory value.
type ScoringConfig struct {
	Weights           map[domain.Factor]float64
	QualitySubWeights QualitySubWeights

	// Directness per evidence doc_type; configuration exports and
	// screenshots outrank narrative policy text. Unknown types use
	// DefaultDirectness.
	DirectnessWeights map[string]float64
	DefaultDirectness float64

	// Evidence recency decay: full credit under FreshDays, linear decay to
	// Floor at StaleDays, Floor beyond.
	RecencyFreshDays int
	RecencyStaleDays int
	RecencyFloor     float64

	// QuantityTarget is the evidence count earning full quantity credit.
	QuantityTarget int
	// DiversityTarget is the distinct-document count earning full
	// diversity credit.
	DiversityTarget int

	// RecommendationThreshold triggers guidance for factors below it.
	RecommendationThreshold float64

	Version string
}

// DefaultScoringConfig returns the factory configuration.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights: map[domain.Factor]float64{
			domain.FactorEvidenceQuality:     0.40,
			domain.FactorEvidenceQuantity:    0.20,
			domain.FactorEvidenceRecency:     0.15,
			domain.FactorProviderInheritance: 0.15,
			domain.FactorAICertainty:         0.10,
		},
		QualitySubWeights: QualitySubWeights{Relevance: 0.5, Diversity: 0.25, Directness: 0.25},
		DirectnessWeights: map[string]float64{
			"configuration_export": 1.0,
			"screenshot":           0.9,
			"log_export":           0.9,
			"procedure":            0.7,
			"policy":               0.6,
		},
		DefaultDirectness:       0.6,
		RecencyFreshDays:        30,
		RecencyStaleDays:        180,
		RecencyFloor:            0.3,
		QuantityTarget:          5,
		DiversityTarget:         3,
		RecommendationThreshold: 0.6,
		Version:                 ScorerVersion,
	}
}

// Validate rejects configurations whose weights cannot produce a [0,1] score.
func (c ScoringConfig) Validate() error {
	var sum float64
	for factor, w := range c.Weights {
		if w < 0 {
			return &domain.ConfidenceComputationError{Reason: fmt.Sprintf("negative weight for %s", factor)}
		}
		sum += w
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return &domain.ConfidenceComputationError{Reason: fmt.Sprintf("weights sum to %v, want 1.0", sum)}
	}
	subSum := c.QualitySubWeights.Relevance + c.QualitySubWeights.Diversity + c.QualitySubWeights.Directness
	if math.Abs(subSum-1.0) > weightTolerance {
		return &domain.ConfidenceComputationError{Reason: fmt.Sprintf("quality sub-weights sum to %v, want 1.0", subSum)}
	}
	return nil
}

// ConfidenceScorer combines the five weighted factors into one score and
// qualitative level. It is stateless; configuration travels with each call.
type ConfidenceScorer struct{}

// NewConfidenceScorer creates a scorer instance.
func NewConfidenceScorer() ConfidenceScorer {
	return ConfidenceScorer{}
}

// Score computes the weighted confidence breakdown. Weights of absent
// factors are redistributed proportionally among present ones, so the result
// always spans [0,1]. Invalid input is rejected, never clamped.
func (s ConfidenceScorer) Score(factors domain.ConfidenceFactors, cfg ScoringConfig) (*domain.ConfidenceBreakdown, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ordered := []struct {
		name  domain.Factor
		value domain.FactorValue
	}{
		{domain.FactorEvidenceQuality, factors.EvidenceQuality},
		{domain.FactorEvidenceQuantity, factors.EvidenceQuantity},
		{domain.FactorEvidenceRecency, factors.EvidenceRecency},
		{domain.FactorProviderInheritance, factors.ProviderInheritance},
		{domain.FactorAICertainty, factors.AICertainty},
	}

	var applicableWeight float64
	for _, f := range ordered {
		if !f.value.Applicable {
			continue
		}
		if f.value.Value < 0 || f.value.Value > 1 {
			return nil, &domain.ConfidenceComputationError{
				Reason: fmt.Sprintf("factor %s out of range: %v", f.name, f.value.Value),
			}
		}
		applicableWeight += cfg.Weights[f.name]
	}
	if applicableWeight <= 0 {
		return nil, &domain.ConfidenceComputationError{Reason: "no applicable factors"}
	}

	var score float64
	var contributions []domain.FactorContribution
	var recommendations []string

	for _, f := range ordered {
		if !f.value.Applicable {
			continue
		}
		effectiveWeight := cfg.Weights[f.name] / applicableWeight
		contribution := effectiveWeight * f.value.Value
		score += contribution
		contributions = append(contributions, domain.FactorContribution{
			Factor:       f.name,
			Value:        f.value.Value,
			Weight:       effectiveWeight,
			Contribution: contribution,
		})
		if f.value.Value < cfg.RecommendationThreshold {
			recommendations = append(recommendations, recommendationFor(f.name))
		}
	}

	rounded := math.Round(score*100) / 100
	level := domain.LevelForScore(rounded)

	return &domain.ConfidenceBreakdown{
		OverallScore:    rounded,
		Level:           level,
		Contributions:   contributions,
		Explanation:     explain(rounded, level, contributions),
		Recommendations: recommendations,
	}, nil
}

func explain(score float64, level domain.ConfidenceLevel, contributions []domain.FactorContribution) string {
	parts := make([]string, len(contributions))
	for i, c := range contributions {
		parts[i] = fmt.Sprintf("%s=%.2f (weight %.2f)", c.Factor, c.Value, c.Weight)
	}
	return fmt.Sprintf("Overall confidence %.2f (%s) from %s.", score, level, strings.Join(parts, ", "))
}

func recommendationFor(factor domain.Factor) string {
	switch factor {
	case domain.FactorEvidenceQuality:
		return "improve evidence quality: supply direct artifacts such as configuration exports or screenshots"
	case domain.FactorEvidenceQuantity:
		return "increase evidence quantity: attach additional corroborating documents"
	case domain.FactorEvidenceRecency:
		return "refresh evidence: supporting documents are older than the recency window"
	case domain.FactorProviderInheritance:
		return "confirm provider inheritance: responsibility sits largely with the customer"
	case domain.FactorAICertainty:
		return "review the finding manually: the model reported low certainty"
	default:
		return fmt.Sprintf("review factor %s", factor)
	}
}

// EvidenceQualityFactor blends mean retrieval relevance, source diversity,
// and evidence directness. Zero evidence scores zero rather than excluding
// the factor: missing evidence is a quality signal, not a missing one.
func EvidenceQualityFactor(evidence []domain.ScoredChunk, cfg ScoringConfig) domain.FactorValue {
	if len(evidence) == 0 {
		return domain.Applies(0)
	}

	var simSum, directSum float64
	docs := make(map[string]struct{})
	for _, e := range evidence {
		simSum += float64(e.Similarity)
		docs[e.DocumentID.String()] = struct{}{}
		directness, ok := cfg.DirectnessWeights[e.Tags.DocType]
		if !ok {
			directness = cfg.DefaultDirectness
		}
		directSum += directness
	}

	relevance := clamp01(simSum / float64(len(evidence)))
	diversity := clamp01(float64(len(docs)) / float64(cfg.DiversityTarget))
	directness := clamp01(directSum / float64(len(evidence)))

	sub := cfg.QualitySubWeights
	return domain.Applies(sub.Relevance*relevance + sub.Diversity*diversity + sub.Directness*directness)
}

// EvidenceQuantityFactor grants full credit at the configured target count.
func EvidenceQuantityFactor(count int, cfg ScoringConfig) domain.FactorValue {
	if cfg.QuantityTarget <= 0 {
		return domain.NotApplicable()
	}
	return domain.Applies(clamp01(float64(count) / float64(cfg.QuantityTarget)))
}

// EvidenceRecencyFactor averages per-chunk recency: 1.0 under FreshDays,
// linear decay to the floor at StaleDays, floor beyond. Evidence without
// parseable timestamps excludes the factor.
func EvidenceRecencyFactor(evidence []domain.ScoredChunk, now time.Time, cfg ScoringConfig) domain.FactorValue {
	var sum float64
	var counted int
	for _, e := range evidence {
		ts, err := time.Parse(time.RFC3339, e.CreatedAt)
		if err != nil {
			continue
		}
		sum += recencyScore(now.Sub(ts), cfg)
		counted++
	}
	if counted == 0 {
		return domain.NotApplicable()
	}
	return domain.Applies(sum / float64(counted))
}

func recencyScore(age time.Duration, cfg ScoringConfig) float64 {
	days := age.Hours() / 24
	fresh := float64(cfg.RecencyFreshDays)
	stale := float64(cfg.RecencyStaleDays)
	switch {
	case days < fresh:
		return 1.0
	case days >= stale:
		return cfg.RecencyFloor
	default:
		// Linear decay from 1.0 at fresh to the floor at stale.
		return 1.0 - (days-fresh)/(stale-fresh)*(1.0-cfg.RecencyFloor)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
