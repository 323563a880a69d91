// Package phonetic corrects misheard agent names in transcripts before they
// are routed.
//
// Recognizers regularly mangle proper nouns ("sistem guardian", "deal
// scannar"). A [Matcher] compares a phrase with a vocabulary of known names
// using Double Metaphone codes and Jaro-Winkler similarity; a [Corrector]
// slides n-gram windows over a transcript and substitutes the matches.
//
// Matching is aligned word by word: every word of the phrase must share a
// phonetic code with the word at the same position in the candidate name.
// This keeps ordinary phrases such as "system status" from being rewritten
// into "System Guardian" just because one word agrees.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const defaultThreshold = 0.85

// Option configures a [Matcher] or [Corrector].
type Option func(*Matcher)

// WithThreshold sets the minimum Jaro-Winkler score a candidate needs.
// Default: 0.85.
func WithThreshold(threshold float64) Option {
	return func(m *Matcher) { m.threshold = threshold }
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	threshold float64
}

// New returns a Matcher configured with opts.
func New(opts ...Option) *Matcher {
	m := &Matcher{threshold: defaultThreshold}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Match returns the vocabulary entry that phrase most likely was meant to be.
// Only entries with the same number of words as phrase are considered. When
// matched is false, corrected equals phrase and confidence is 0.
func (m *Matcher) Match(phrase string, vocabulary []string) (corrected string, confidence float64, matched bool) {
	input := strings.Fields(strings.ToLower(phrase))
	if len(input) == 0 {
		return phrase, 0, false
	}
	inputCodes := make([]map[string]struct{}, len(input))
	for i, w := range input {
		inputCodes[i] = codes(w)
	}

	var (
		best      string
		bestScore float64
	)
	for _, entry := range vocabulary {
		words := strings.Fields(strings.ToLower(entry))
		if len(words) != len(input) || !aligned(inputCodes, words) {
			continue
		}
		score := similarity(input, words)
		if score >= m.threshold && score > bestScore {
			best, bestScore = entry, score
		}
	}
	if best == "" {
		return phrase, 0, false
	}
	return best, bestScore, true
}

// aligned reports whether every input word shares a phonetic code with the
// entry word at the same position.
func aligned(inputCodes []map[string]struct{}, words []string) bool {
	for i, w := range words {
		if !codesOverlap(inputCodes[i], codes(w)) {
			return false
		}
	}
	return true
}

// codes returns the Double Metaphone codes of word. Words that produce no
// code (no consonants) are represented by themselves so they still have to
// agree literally.
func codes(word string) map[string]struct{} {
	out := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		out[p] = struct{}{}
	}
	if s != "" {
		out[s] = struct{}{}
	}
	if len(out) == 0 {
		out["="+word] = struct{}{}
	}
	return out
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// similarity is the better of the Jaro-Winkler scores on the spaced and the
// concatenated forms.
func similarity(a, b []string) float64 {
	score := matchr.JaroWinkler(strings.Join(a, " "), strings.Join(b, " "), false)
	if len(a) > 1 {
		if s := matchr.JaroWinkler(strings.Join(a, ""), strings.Join(b, ""), false); s > score {
			score = s
		}
	}
	return score
}
