// Package segment splits a stream of LLM token deltas into speakable
// sentences.
//
// A sentence ends at '.', '!' or '?' followed by whitespace, or at a line
// break. A period does not end a sentence after a known abbreviation ("Dr.",
// "etc."), a single letter ("S. D. E."), a number ("3.") or a dotted token
// ("e.g."), nor when the next word starts with a digit. Boundaries are only
// decided once the first character of the following word has arrived, so the
// result does not depend on how the stream is chunked.
package segment

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/jarvis/internal/speech"
)

// DefaultAbbreviations never end a sentence when followed by a period.
// Words that are only abbreviations before a number ("No. 5", "Vol. 2") are
// left out: the digit rule already keeps those together, and "No." on its
// own is an answer.
var DefaultAbbreviations = []string{
	"mr", "mrs", "ms", "dr", "prof", "sr", "jr", "ave",
	"inc", "ltd", "corp", "dept", "approx", "etc", "vs",
	"jan", "feb", "mar", "apr", "jun", "jul", "aug", "sep", "sept", "oct", "nov", "dec",
}

// Sentence is one speakable unit, tagged with the cancellation epoch that was
// current when it was produced.
type Sentence struct {
	Text  string
	Epoch uint64
}

// Option configures a [Segmenter].
type Option func(*Segmenter)

// WithAbbreviations replaces the abbreviation list. Entries are matched
// case-insensitively without their trailing period.
func WithAbbreviations(abbrevs []string) Option {
	return func(s *Segmenter) {
		s.abbrevs = make(map[string]struct{}, len(abbrevs))
		for _, a := range abbrevs {
			s.abbrevs[strings.ToLower(strings.TrimSuffix(a, "."))] = struct{}{}
		}
	}
}

// Segmenter accumulates deltas and hands out complete sentences. It is not
// safe for concurrent use.
type Segmenter struct {
	abbrevs map[string]struct{}
	buf     string
}

// New returns a Segmenter.
func New(opts ...Option) *Segmenter {
	s := &Segmenter{}
	WithAbbreviations(DefaultAbbreviations)(s)
	for _, o := range opts {
		o(s)
	}
	return s
}

// Push appends delta and returns every sentence it completed, already
// formatted for speech. Sentences that format to nothing are dropped.
func (s *Segmenter) Push(delta string) []string {
	s.buf += delta
	var out []string
	for {
		end, next := s.boundary(s.buf)
		if end < 0 {
			return out
		}
		if text := speech.Format(s.buf[:end]); text != "" {
			out = append(out, text)
		}
		s.buf = s.buf[next:]
	}
}

// Flush returns whatever is buffered as a final sentence and resets the
// segmenter. It returns "" when nothing speakable remains.
func (s *Segmenter) Flush() string {
	text := speech.Format(s.buf)
	s.buf = ""
	return text
}

// Buffered returns the text not yet emitted.
func (s *Segmenter) Buffered() string { return s.buf }

// boundary finds the first sentence end in buf. end is the length of the
// sentence, next the offset where the following text starts. end is -1 when
// no boundary can be decided yet.
func (s *Segmenter) boundary(buf string) (end, next int) {
	for i := 0; i < len(buf); i++ {
		c := buf[i]
		if c == '\n' {
			return i, i + 1
		}
		if c != '.' && c != '!' && c != '?' {
			continue
		}

		// Extend over a run of marks and closing quotes: `done?!"`.
		j := i + 1
		for j < len(buf) && strings.IndexByte(`.!?"')]`, buf[j]) >= 0 {
			j++
		}
		if j == len(buf) {
			return -1, 0
		}
		if !isSpace(buf[j]) {
			// "3.14", "e.g.x" and the like.
			i = j - 1
			continue
		}
		k := j
		for k < len(buf) && isSpace(buf[k]) && buf[k] != '\n' {
			k++
		}
		if k == len(buf) {
			return -1, 0
		}
		if buf[k] == '\n' {
			return j, k + 1
		}
		if c == '.' && strings.TrimRight(buf[i:j], `"')]`) == "." && !s.endsSentence(buf[:i], buf[k:]) {
			i = j - 1
			continue
		}
		return j, k
	}
	return -1, 0
}

// endsSentence decides whether a single period between before and after
// closes a sentence.
func (s *Segmenter) endsSentence(before, after string) bool {
	r, _ := utf8.DecodeRuneInString(after)
	if unicode.IsDigit(r) {
		return false
	}
	word := before[strings.LastIndexFunc(before, unicode.IsSpace)+1:]
	word = strings.TrimLeft(word, `"'([`)
	if word == "" {
		return true
	}
	if strings.IndexFunc(word, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
		return false
	}
	if utf8.RuneCountInString(word) == 1 {
		r, _ := utf8.DecodeRuneInString(word)
		return !unicode.IsLetter(r)
	}
	if strings.Contains(word, ".") {
		return false
	}
	_, abbrev := s.abbrevs[strings.ToLower(word)]
	return !abbrev
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// Run reads deltas until the channel closes or ctx is done and sends each
// sentence, tagged with epoch, to out. The tail is flushed when deltas
// closes. Run returns ctx.Err() when cancelled and nil otherwise.
func (s *Segmenter) Run(ctx context.Context, epoch uint64, deltas <-chan string, out chan<- Sentence) error {
	send := func(text string) error {
		select {
		case out <- Sentence{Text: text, Epoch: epoch}:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deltas:
			if !ok {
				if tail := s.Flush(); tail != "" {
					return send(tail)
				}
				return nil
			}
			for _, text := range s.Push(d) {
				if err := send(text); err != nil {
					return err
				}
			}
		}
	}
}

// Split segments a complete text in one go.
func Split(text string, opts ...Option) []string {
	s := New(opts...)
	out := s.Push(text)
	if tail := s.Flush(); tail != "" {
		out = append(out, tail)
	}
	return out
}
