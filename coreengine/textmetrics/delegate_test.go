package textmetrics

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyze(t *testing.T, d *NativeDelegate, text string) map[string]any {
	t.Helper()
	result, err := d.Analyze(context.Background(), text, "en")
	require.NoError(t, err)
	return result
}

// =============================================================================
// NATIVE DELEGATE
// =============================================================================

func TestNativeDelegateIdentity(t *testing.T) {
	d := NewNativeDelegate(0)
	assert.Equal(t, "native", d.Name())
	assert.True(t, d.Available())
}

func TestNativeDelegateBasicCounts(t *testing.T) {
	// Two short sentences of monosyllables.
	d := NewNativeDelegate(0)

	result := analyze(t, d, "The cat sat. The dog ran.")

	assert.Equal(t, 2, result["sentence_count"])
	assert.Equal(t, 6, result["word_count"])
	assert.Equal(t, 6, result["syllable_count"])
	assert.Equal(t, 0, result["polysyllable_count"])
	assert.Equal(t, 25, result["character_count"])
	assert.Equal(t, 3.0, result["average_sentence_length_words"])
	assert.Equal(t, 1.0, result["average_syllables_per_word"])
}

func TestNativeDelegateFleschScores(t *testing.T) {
	// Monosyllabic text: wps=3, spw=1, so the formulas are exact.
	d := NewNativeDelegate(0)

	result := analyze(t, d, "The cat sat. The dog ran.")

	assert.InDelta(t, 0.39*3+11.8*1-15.59, result["flesch_kincaid_grade"].(float64), 0.01)
	assert.InDelta(t, 206.835-1.015*3-84.6*1, result["flesch_reading_ease"].(float64), 0.01)
}

func TestNativeDelegateRequiredKey(t *testing.T) {
	// Every result must carry the key the analyzer demands.
	d := NewNativeDelegate(0)

	result := analyze(t, d, "Hello world.")

	_, ok := result["flesch_kincaid_grade"]
	assert.True(t, ok)
}

func TestNativeDelegateEmptyText(t *testing.T) {
	d := NewNativeDelegate(0)

	_, err := d.Analyze(context.Background(), "", "en")
	assert.ErrorIs(t, err, ErrEmptyText)

	_, err = d.Analyze(context.Background(), "   \n\t  ", "en")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestNativeDelegateTruncation(t *testing.T) {
	// Text beyond the limit is cut before analysis and flagged.
	d := NewNativeDelegate(10)

	result := analyze(t, d, "aaaa bbbb cccc dddd")

	assert.Equal(t, 10, result["character_count"])
	meta, ok := result["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, meta["truncated"])
	assert.Equal(t, 10, meta["text_length_characters"])
}

func TestNativeDelegateTruncationRuneBoundary(t *testing.T) {
	// A limit landing inside a multi-byte rune backs off to the rune
	// start instead of leaving a partial sequence behind.
	d := NewNativeDelegate(5)

	result := analyze(t, d, strings.Repeat("ü", 5))

	assert.Equal(t, 4, result["character_count"])
	assert.Equal(t, 2, result["letter_count"])
	meta, ok := result["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, meta["truncated"])
}

func TestNativeDelegateNoTruncationByDefault(t *testing.T) {
	d := NewNativeDelegate(0)

	result := analyze(t, d, "short text")

	meta := result["metadata"].(map[string]any)
	assert.Equal(t, false, meta["truncated"])
}

func TestNativeDelegateMetadata(t *testing.T) {
	d := NewNativeDelegate(0)

	result, err := d.Analyze(context.Background(), "ein kurzer Satz", "de")
	require.NoError(t, err)

	meta, ok := result["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "native", meta["analyzer"])
	assert.Equal(t, "de", meta["language"])
	assert.Equal(t, 3, meta["text_length_words"])
}

func TestNativeDelegateStructure(t *testing.T) {
	d := NewNativeDelegate(0)

	text := "# Title\n\nFirst paragraph here.\n\n- item one\n- item two"
	result := analyze(t, d, text)

	assert.Equal(t, 3, result["paragraph_count"])
	assert.Equal(t, true, result["has_headings"])
	assert.Equal(t, true, result["has_lists"])
}

func TestNativeDelegatePlainTextStructure(t *testing.T) {
	d := NewNativeDelegate(0)

	result := analyze(t, d, "Just one plain sentence.")

	assert.Equal(t, 1, result["paragraph_count"])
	assert.Equal(t, false, result["has_headings"])
	assert.Equal(t, false, result["has_lists"])
}

func TestNativeDelegateLexical(t *testing.T) {
	// Repeated words collapse in the unique count, case-insensitively.
	d := NewNativeDelegate(0)

	result := analyze(t, d, "the cat and The Cat")

	assert.Equal(t, 3, result["unique_word_count"])
	assert.Equal(t, 0.6, result["type_token_ratio"])
}

func TestNativeDelegateContextCancelled(t *testing.T) {
	d := NewNativeDelegate(0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Analyze(ctx, "some text", "en")
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// SYLLABLE HEURISTIC
// =============================================================================

func TestCountSyllables(t *testing.T) {
	tests := []struct {
		word string
		want int
	}{
		{"cat", 1},
		{"side", 1},  // silent e
		{"table", 2}, // -le keeps its syllable
		{"hello", 2},
		{"rhythm", 1},
		{"beautiful", 3},
		{"understanding", 4},
		{"a", 1},
		{"...", 1}, // punctuation-only tokens still count once
	}

	for _, tt := range tests {
		t.Run(tt.word, func(t *testing.T) {
			assert.Equal(t, tt.want, countSyllables(tt.word))
		})
	}
}

func TestSplitSentences(t *testing.T) {
	assert.Len(t, splitSentences("One. Two! Three?"), 3)
	assert.Len(t, splitSentences("No terminal punctuation"), 1)
	assert.Len(t, splitSentences("Trailing... dots..."), 2)
	assert.Empty(t, splitSentences("..."))
}
