package domain

import (
	"strings"
	"unicode/utf8"
)

// MaxChunkRunes caps semantic units; longer paragraphs are split at sentence
// boundaries. 1600 runes tracks the default token window at ~4 runes/token.
const MaxChunkRunes = 1600

// semanticUnits splits text at paragraph boundaries, merges fragments below
// MinChunkRunes into their neighbors, and splits paragraphs above
// MaxChunkRunes at sentence boundaries.
func semanticUnits(text string) []string {
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r", "\n")

	var paragraphs []string
	for _, part := range strings.Split(normalized, "\n\n") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}

	return splitLongUnits(mergeShortUnits(paragraphs))
}

// mergeShortUnits folds paragraphs shorter than MinChunkRunes into an
// accumulator that attaches to the nearest full-sized neighbor, so headings
// and list stubs never become standalone chunks.
func mergeShortUnits(paragraphs []string) []string {
	if len(paragraphs) == 0 {
		return paragraphs
	}

	var merged []string
	var accumulator string

	flush := func(next string) string {
		if accumulator == "" {
			return next
		}
		if utf8.RuneCountInString(accumulator) < MinChunkRunes {
			if len(merged) > 0 {
				merged[len(merged)-1] += "\n\n" + accumulator
			} else {
				next = accumulator + "\n\n" + next
			}
		} else {
			merged = append(merged, accumulator)
		}
		accumulator = ""
		return next
	}

	for _, para := range paragraphs {
		if utf8.RuneCountInString(para) >= MinChunkRunes {
			para = flush(para)
			merged = append(merged, para)
			continue
		}
		if accumulator == "" {
			accumulator = para
		} else {
			accumulator += "\n\n" + para
		}
	}

	if accumulator != "" {
		if utf8.RuneCountInString(accumulator) < MinChunkRunes && len(merged) > 0 {
			merged[len(merged)-1] += "\n\n" + accumulator
		} else {
			merged = append(merged, accumulator)
		}
	}

	return merged
}

// splitLongUnits splits paragraphs longer than MaxChunkRunes at sentence
// boundaries, packing sentences greedily up to the cap.
func splitLongUnits(paragraphs []string) []string {
	var result []string

	for _, para := range paragraphs {
		if utf8.RuneCountInString(para) <= MaxChunkRunes {
			result = append(result, para)
			continue
		}

		var unit string
		for _, sentence := range splitIntoSentences(para) {
			unitLen := utf8.RuneCountInString(unit)
			sentenceLen := utf8.RuneCountInString(sentence)
			if unitLen > 0 && unitLen+1+sentenceLen > MaxChunkRunes {
				result = append(result, unit)
				unit = sentence
				continue
			}
			if unit != "" {
				unit += " "
			}
			unit += sentence
		}
		if unit != "" {
			result = append(result, unit)
		}
	}

	return result
}

// splitIntoSentences splits at . ! ? followed by whitespace or end of text.
func splitIntoSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])

		if runes[i] == '.' || runes[i] == '!' || runes[i] == '?' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' {
				if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
					sentences = append(sentences, trimmed)
				}
				current.Reset()
			}
		}
	}

	if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
		sentences = append(sentences, trimmed)
	}

	return sentences
}
