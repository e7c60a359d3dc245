// Package textmetrics implements the text analysis unit: a dispatch
// engine configured with the "text_metrics" handler pair, backed by a
// pluggable readability delegate.
package textmetrics

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrEmptyText is returned by a delegate when there is nothing to analyze.
var ErrEmptyText = errors.New("empty text provided")

// Delegate computes readability metrics for a piece of text.
//
// Implementations must be safe for concurrent use. The result map is
// attached verbatim to the success payload under "metrics", so keys
// should be stable and JSON-friendly. The "flesch_kincaid_grade" key is
// mandatory: the analyzer rejects results without it.
type Delegate interface {
	// Name identifies the delegate in metrics and events.
	Name() string

	// Analyze computes metrics for text. The language hint is advisory;
	// delegates that cannot honor it should still analyze the text.
	Analyze(ctx context.Context, text, language string) (map[string]any, error)

	// Available reports whether the delegate is ready to serve calls.
	Available() bool
}

// =============================================================================
// NATIVE DELEGATE
// =============================================================================

// NativeDelegate computes readability metrics in-process. It covers the
// classic formula-based scores (Flesch, Gunning fog, SMOG, ARI,
// Coleman-Liau) plus basic, structural, and lexical statistics. The
// syllable counter is a vowel-group heuristic tuned for English; other
// languages get best-effort numbers.
type NativeDelegate struct {
	maxTextLength int
}

// NewNativeDelegate creates a native delegate. Text longer than
// maxTextLength is truncated before analysis; a non-positive value
// disables truncation.
func NewNativeDelegate(maxTextLength int) *NativeDelegate {
	return &NativeDelegate{maxTextLength: maxTextLength}
}

// Name implements Delegate.
func (d *NativeDelegate) Name() string { return "native" }

// Available implements Delegate. The native delegate has no external
// runtime to probe, so it is always available.
func (d *NativeDelegate) Available() bool { return true }

var (
	sentenceSplitRe = regexp.MustCompile(`[.!?]+`)
	headingRe       = regexp.MustCompile(`(?m)^#{1,3}\s+`)
	listItemRe      = regexp.MustCompile(`(?m)^\s*[-*]\s|^\d+[.)]\s`)
)

// Analyze implements Delegate.
func (d *NativeDelegate) Analyze(ctx context.Context, text, language string) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	truncated := false
	if d.maxTextLength > 0 && len(text) > d.maxTextLength {
		// Back off to a rune boundary so the cut never leaves a
		// partial UTF-8 sequence behind.
		cut := d.maxTextLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut]
		truncated = true
	}

	words := strings.Fields(text)
	sentences := splitSentences(text)
	wordCount := len(words)
	sentenceCount := len(sentences)
	if sentenceCount == 0 {
		sentenceCount = 1
	}

	letterCount := 0
	alnumCount := 0
	for _, r := range text {
		if unicode.IsLetter(r) {
			letterCount++
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			alnumCount++
		}
	}

	syllableCount := 0
	polysyllableCount := 0
	unique := make(map[string]struct{}, wordCount)
	for _, w := range words {
		n := countSyllables(w)
		syllableCount += n
		if n >= 3 {
			polysyllableCount++
		}
		unique[strings.ToLower(strings.Trim(w, ".,!?;:\"'()[]"))] = struct{}{}
	}

	if wordCount == 0 {
		return nil, ErrEmptyText
	}

	wps := float64(wordCount) / float64(sentenceCount)
	spw := float64(syllableCount) / float64(wordCount)

	result := map[string]any{
		// Readability scores
		"flesch_kincaid_grade":        round2(0.39*wps + 11.8*spw - 15.59),
		"flesch_reading_ease":         round2(206.835 - 1.015*wps - 84.6*spw),
		"gunning_fog_index":           round2(0.4 * (wps + 100*float64(polysyllableCount)/float64(wordCount))),
		"smog_index":                  round2(1.0430*math.Sqrt(float64(polysyllableCount)*30/float64(sentenceCount)) + 3.1291),
		"automated_readability_index": round2(4.71*float64(alnumCount)/float64(wordCount) + 0.5*wps - 21.43),
		"coleman_liau_index":          round2(0.0588*(float64(letterCount)/float64(wordCount)*100) - 0.296*(float64(sentenceCount)/float64(wordCount)*100) - 15.8),

		// Basic statistics
		"character_count":    len(text),
		"letter_count":       letterCount,
		"syllable_count":     syllableCount,
		"word_count":         wordCount,
		"sentence_count":     sentenceCount,
		"polysyllable_count": polysyllableCount,

		// Derived averages
		"average_sentence_length_words": round2(wps),
		"average_syllables_per_word":    round2(spw),

		// Lexical diversity
		"unique_word_count": len(unique),
		"type_token_ratio":  round2(float64(len(unique)) / float64(wordCount)),
	}

	// Structural shape
	paragraphs := 0
	for _, p := range strings.Split(text, "\n\n") {
		if strings.TrimSpace(p) != "" {
			paragraphs++
		}
	}
	if paragraphs == 0 {
		paragraphs = 1
	}
	result["paragraph_count"] = paragraphs
	result["average_paragraph_length_words"] = round2(float64(wordCount) / float64(paragraphs))
	result["has_headings"] = headingRe.MatchString(text)
	result["has_lists"] = listItemRe.MatchString(text)

	result["metadata"] = map[string]any{
		"analyzer":               "native",
		"language":               language,
		"text_length_characters": len(text),
		"text_length_words":      wordCount,
		"truncated":              truncated,
	}

	return result, nil
}

// splitSentences breaks text on terminal punctuation, dropping empty
// fragments.
func splitSentences(text string) []string {
	parts := sentenceSplitRe.Split(text, -1)
	out := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			out = append(out, p)
		}
	}
	return out
}

// countSyllables estimates syllables in a single word by counting vowel
// groups, with a silent-e adjustment. Every word counts as at least one
// syllable.
func countSyllables(word string) int {
	w := strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r)
	}))
	if w == "" {
		return 1
	}

	count := 0
	prevVowel := false
	for _, r := range w {
		v := strings.ContainsRune("aeiouy", r)
		if v && !prevVowel {
			count++
		}
		prevVowel = v
	}
	if strings.HasSuffix(w, "e") && !strings.HasSuffix(w, "le") && count > 1 {
		count--
	}
	if count < 1 {
		count = 1
	}
	return count
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
