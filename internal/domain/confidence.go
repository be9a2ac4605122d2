package domain

// ConfidenceLevel is the qualitative bucket derived from the overall score.
type ConfidenceLevel string

const (
	LevelVeryHigh ConfidenceLevel = "Very High"
	LevelHigh     ConfidenceLevel = "High"
	LevelMedium   ConfidenceLevel = "Medium"
	LevelLow      ConfidenceLevel = "Low"
	LevelVeryLow  ConfidenceLevel = "Very Low"
)

// Factor names the five confidence inputs.
type Factor string

const (
	FactorEvidenceQuality     Factor = "evidence_quality"
	FactorEvidenceQuantity    Factor = "evidence_quantity"
	FactorEvidenceRecency     Factor = "evidence_recency"
	FactorProviderInheritance Factor = "provider_inheritance"
	FactorAICertainty         Factor = "ai_certainty"
)

// FactorValue is one confidence input in [0,1]. Absent factors have their
// weight redistributed proportionally among the present ones.
type FactorValue struct {
	Value      float64
	Applicable bool
}

// Applies constructs an applicable factor value.
func Applies(v float64) FactorValue {
	return FactorValue{Value: v, Applicable: true}
}

// NotApplicable constructs an excluded factor value.
func NotApplicable() FactorValue {
	return FactorValue{}
}

// ConfidenceFactors are the five weighted inputs to the confidence score.
type ConfidenceFactors struct {
	EvidenceQuality     FactorValue
	EvidenceQuantity    FactorValue
	EvidenceRecency     FactorValue
	ProviderInheritance FactorValue
	AICertainty         FactorValue
}

// FactorContribution reports how much one factor added to the overall score.
type FactorContribution struct {
	Factor       Factor  `json:"factor"`
	Value        float64 `json:"value"`
	Weight       float64 `json:"weight"` // effective weight after renormalization
	Contribution float64 `json:"contribution"`
}

// ConfidenceBreakdown is the scorer output: overall score in [0,1] rounded
// to two decimals, a level bucket, per-factor contributions, and
// human-readable guidance.
type ConfidenceBreakdown struct {
	OverallScore    float64              `json:"overall_score"`
	Level           ConfidenceLevel      `json:"level"`
	Contributions   []FactorContribution `json:"contributions"`
	Explanation     string               `json:"explanation"`
	Recommendations []string             `json:"recommendations"`
}

// LevelForScore maps a [0,1] score to its qualitative bucket.
func LevelForScore(score float64) ConfidenceLevel {
	switch {
	case score >= 0.90:
		return LevelVeryHigh
	case score >= 0.75:
		return LevelHigh
	case score >= 0.60:
		return LevelMedium
	case score >= 0.40:
		return LevelLow
	default:
		return LevelVeryLow
	}
}
