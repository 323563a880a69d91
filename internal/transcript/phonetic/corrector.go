package phonetic

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// minSingleWordLen guards single-word vocabulary entries: short words are too
// easy to confuse with everyday speech.
const minSingleWordLen = 5

// Correction records one substitution.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Corrector rewrites misheard vocabulary phrases in transcripts. It is
// read-only after construction and safe for concurrent use.
type Corrector struct {
	matcher  *Matcher
	vocab    []string
	maxWords int
}

// NewCorrector returns a corrector for vocabulary (typically the agents'
// display names).
func NewCorrector(vocabulary []string, opts ...Option) *Corrector {
	c := &Corrector{matcher: New(opts...)}
	for _, v := range vocabulary {
		words := strings.Fields(v)
		if len(words) == 0 {
			continue
		}
		if len(words) == 1 && utf8.RuneCountInString(words[0]) < minSingleWordLen {
			continue
		}
		c.vocab = append(c.vocab, strings.Join(words, " "))
		if len(words) > c.maxWords {
			c.maxWords = len(words)
		}
	}
	return c
}

// Correct returns text with vocabulary phrases fixed up and the list of
// substitutions made. Longer windows are tried first so multi-word names win
// over partial matches. Punctuation around a window is preserved.
func (c *Corrector) Correct(text string) (string, []Correction) {
	tokens := strings.Fields(text)
	if len(tokens) == 0 || len(c.vocab) == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		consumed := 0
		for n := min(c.maxWords, len(tokens)-i); n >= 1; n-- {
			window := tokens[i : i+n]
			lead, core, trail := splitPunct(window)
			if core == "" {
				continue
			}
			if n == 1 && utf8.RuneCountInString(core) < minSingleWordLen {
				continue
			}
			corrected, conf, ok := c.matcher.Match(core, c.vocab)
			if !ok {
				continue
			}
			if !strings.EqualFold(corrected, core) {
				corrections = append(corrections, Correction{Original: core, Corrected: corrected, Confidence: conf})
				out = append(out, lead+corrected+trail)
			} else {
				out = append(out, window...)
			}
			consumed = n
			break
		}
		if consumed == 0 {
			out = append(out, tokens[i])
			consumed = 1
		}
		i += consumed
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// splitPunct separates leading punctuation of the first token and trailing
// punctuation of the last token from the words in between.
func splitPunct(window []string) (lead, core, trail string) {
	joined := strings.Join(window, " ")
	start := strings.IndexFunc(joined, isWordRune)
	if start < 0 {
		return "", "", ""
	}
	end := strings.LastIndexFunc(joined, isWordRune)
	_, size := utf8.DecodeRuneInString(joined[end:])
	return joined[:start], joined[start : end+size], joined[end+size:]
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
