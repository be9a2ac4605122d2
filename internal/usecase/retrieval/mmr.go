package retrieval

import "math"

// Candidate is one chunk in the MMR pool: its similarity to the query and
// its embedding, used to measure redundancy against already-selected chunks.
type Candidate struct {
	Index      int // position in the fetched pool, used for stable tie-breaks
	Similarity float32
	Embedding  []float32
}

// CosineSimilarity computes the cosine of the angle between a and b,
// returning 0 when either vector is zero or the dimensions differ.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// MaxMarginalRelevance selects up to topK candidates balancing query
// relevance against redundancy:
//
//	argmax_c [ lambda*sim(q,c) - (1-lambda)*max_{s in S} sim(c,s) ]
//
// With an empty selected set the penalty term is 0, so the first pick is
// always the most query-similar candidate. lambda=1 degenerates to pure
// similarity ranking; lambda=0 maximizes novelty after the first pick.
// Ties break toward the earlier pool position, keeping selection
// deterministic for a given pool.
func MaxMarginalRelevance(candidates []Candidate, lambda float64, topK int) []Candidate {
	if topK <= 0 || len(candidates) == 0 {
		return nil
	}
	if topK > len(candidates) {
		topK = len(candidates)
	}

	remaining := make([]Candidate, len(candidates))
	copy(remaining, candidates)
	selected := make([]Candidate, 0, topK)

	for len(selected) < topK && len(remaining) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)

		for i, c := range remaining {
			penalty := 0.0
			for _, s := range selected {
				if sim := float64(CosineSimilarity(c.Embedding, s.Embedding)); sim > penalty {
					penalty = sim
				}
			}
			score := lambda*float64(c.Similarity) - (1-lambda)*penalty
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}

		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}
