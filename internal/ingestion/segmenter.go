package ingestion

import (
	"strings"
	"unicode"
)

// SplitSentences splits text into sentences on sentence-final punctuation
// (. ! ?) followed by whitespace and an uppercase letter. This is a
// heuristic, not grammar-aware: abbreviations like "Dr. Smith" will be
// over-split and lowercase continuations under-split. Callers must tolerate
// both. Empty or whitespace-only input yields nil.
func SplitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		current.WriteRune(r)

		if !isSentenceFinal(r) {
			continue
		}

		// Boundary only when followed by whitespace and then an uppercase
		// letter; trailing punctuation at end of text is handled by the
		// final flush below.
		j := i + 1
		if j >= len(runes) || !unicode.IsSpace(runes[j]) {
			continue
		}
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j >= len(runes) || !unicode.IsUpper(runes[j]) {
			continue
		}

		sentence := strings.TrimSpace(current.String())
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		current.Reset()
		i = j - 1 // consume the separating whitespace
	}

	if remaining := strings.TrimSpace(current.String()); remaining != "" {
		sentences = append(sentences, remaining)
	}

	return sentences
}

func isSentenceFinal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
