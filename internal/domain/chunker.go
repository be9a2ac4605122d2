package domain

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// ChunkStrategy selects how document text is split into retrievable units.
type ChunkStrategy string

const (
	// StrategyFixed splits into deterministic token windows with overlap.
	StrategyFixed ChunkStrategy = "fixed"
	// StrategySemantic splits at paragraph boundaries, merging fragments
	// that are too short to retrieve on their own.
	StrategySemantic ChunkStrategy = "semantic"
	// StrategyHybrid splits semantically first, then re-splits any unit that
	// exceeds the fixed-size token budget.
	StrategyHybrid ChunkStrategy = "hybrid"
)

// ChunkerVersion identifies the chunking algorithm revision stored alongside
// chunks so index rebuilds can tell which rules produced a row.
const ChunkerVersion = "v2"

const (
	// MinChunkRunes is the minimum semantic unit length; shorter units are
	// merged with neighbors.
	MinChunkRunes = 80
	// DefaultChunkTokens is the fixed-size token window.
	DefaultChunkTokens = 400
	// DefaultOverlapTokens is the token overlap between adjacent fixed windows.
	DefaultOverlapTokens = 50
)

// TextChunk is an unembedded chunk produced by the Chunker. The ingest path
// assigns identity and persistence concerns.
type TextChunk struct {
	Ordinal    int
	Content    string
	TokenCount int
	Tags       ChunkTags
}

// Chunker splits raw document text into retrievable units.
type Chunker interface {
	Chunk(documentText string, strategy ChunkStrategy) ([]TextChunk, error)
	Version() string
}

// ChunkerConfig tunes window sizes. Zero values fall back to defaults.
type ChunkerConfig struct {
	ChunkTokens   int
	OverlapTokens int
}

type evidenceChunker struct {
	chunkTokens   int
	overlapTokens int
}

// NewChunker creates the default evidence chunker.
func NewChunker(cfg ChunkerConfig) Chunker {
	chunkTokens := cfg.ChunkTokens
	if chunkTokens <= 0 {
		chunkTokens = DefaultChunkTokens
	}
	overlap := cfg.OverlapTokens
	if overlap <= 0 || overlap >= chunkTokens {
		overlap = DefaultOverlapTokens
	}
	return &evidenceChunker{chunkTokens: chunkTokens, overlapTokens: overlap}
}

func (c *evidenceChunker) Version() string {
	return ChunkerVersion
}

// Chunk validates the source text, applies the selected strategy, and tags
// each resulting unit. A document that fails tagging still produces untagged
// chunks; only unreadable input is an error.
func (c *evidenceChunker) Chunk(documentText string, strategy ChunkStrategy) ([]TextChunk, error) {
	if !utf8.ValidString(documentText) {
		return nil, &ExtractionError{Reason: "document text is not valid UTF-8"}
	}
	if strings.TrimSpace(documentText) == "" {
		return nil, &ExtractionError{Reason: "document text is empty"}
	}

	var units []string
	switch strategy {
	case StrategyFixed:
		units = c.fixedWindows(documentText)
	case StrategySemantic:
		units = semanticUnits(documentText)
	case StrategyHybrid:
		for _, unit := range semanticUnits(documentText) {
			if EstimateTokens(unit) > c.chunkTokens {
				units = append(units, c.fixedWindows(unit)...)
			} else {
				units = append(units, unit)
			}
		}
	default:
		return nil, fmt.Errorf("unknown chunk strategy: %q", strategy)
	}

	chunks := make([]TextChunk, 0, len(units))
	for _, content := range units {
		trimmed := strings.TrimSpace(content)
		if trimmed == "" {
			continue
		}
		chunks = append(chunks, TextChunk{
			Ordinal:    len(chunks),
			Content:    trimmed,
			TokenCount: EstimateTokens(trimmed),
			Tags:       scanTags(trimmed),
		})
	}
	if len(chunks) == 0 {
		return nil, &ExtractionError{Reason: "no non-empty chunks produced"}
	}
	return chunks, nil
}

// fixedWindows splits text into overlapping word windows bounded by the
// configured token budget. Boundaries are deterministic for a given input.
func (c *evidenceChunker) fixedWindows(text string) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var windows []string
	start := 0
	for start < len(words) {
		tokens := 0
		end := start
		for end < len(words) {
			wordTokens := EstimateTokens(words[end])
			if tokens > 0 && tokens+wordTokens > c.chunkTokens {
				break
			}
			tokens += wordTokens
			end++
		}
		windows = append(windows, strings.Join(words[start:end], " "))
		if end >= len(words) {
			break
		}

		// Step back far enough to carry overlapTokens into the next window.
		overlap := 0
		back := end
		for back > start+1 && overlap < c.overlapTokens {
			back--
			overlap += EstimateTokens(words[back])
		}
		start = back
	}
	return windows
}

// EstimateTokens approximates provider tokenization at ~4 characters per
// token. Exact counts arrive with the provider's usage numbers.
func EstimateTokens(s string) int {
	runes := utf8.RuneCountInString(s)
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}

var (
	// Control identifiers in the NIST 800-53 style: AC-2, SC-7(5), CM-6.
	controlIDPattern = regexp.MustCompile(`\b([A-Z]{2,3}-\d{1,3})(\(\d{1,2}\))?`)
	// Objective identifiers qualify a control with a dotted part: AC-2.1.
	objectiveIDPattern = regexp.MustCompile(`\b([A-Z]{2,3}-\d{1,3})\.(\d{1,2})\b`)
)

// scanTags attaches the first control and objective identifier found in the
// chunk text. No match leaves the tags empty.
func scanTags(text string) ChunkTags {
	var tags ChunkTags
	if m := objectiveIDPattern.FindStringSubmatch(text); m != nil {
		tags.ControlID = m[1]
		tags.ObjectiveID = m[0]
		return tags
	}
	if m := controlIDPattern.FindStringSubmatch(text); m != nil {
		tags.ControlID = m[1] + m[2]
	}
	return tags
}
