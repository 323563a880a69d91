// Package speech prepares text for a speech synthesizer: markdown and code
// fences are stripped, line breaks become sentence breaks and long replies are
// cut to a spoken word budget.
package speech

import (
	"regexp"
	"strings"
)

// DefaultMaxWords is roughly thirty seconds of speech.
const DefaultMaxWords = 150

var (
	repeatedPeriods = regexp.MustCompile(`\.(\s*\.)+`)
	repeatedSpace   = regexp.MustCompile(`\s{2,}`)
	// A period directly after another terminal mark, left over when a line
	// break follows "done!" or "ready?".
	markThenPeriod = regexp.MustCompile(`([!?:;,])\s*\.`)
)

var markdown = strings.NewReplacer(
	"```", "",
	"**", "",
	"__", "",
	"*", "",
	"#", "",
	"`", "",
)

// Format returns text cleaned up for synthesis.
func Format(text string) string {
	if text == "" {
		return ""
	}
	text = markdown.Replace(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\n\n", ". ")
	text = strings.ReplaceAll(text, "\n", ". ")
	text = repeatedPeriods.ReplaceAllString(text, ".")
	text = markThenPeriod.ReplaceAllString(text, "$1")
	text = repeatedSpace.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)
	return strings.TrimLeft(text, ". ")
}

// Truncate cuts text to at most maxWords words. When it cuts, notice is
// appended as its own sentence and truncated is true. maxWords <= 0 disables
// truncation.
func Truncate(text string, maxWords int, notice string) (out string, truncated bool) {
	if maxWords <= 0 {
		return text, false
	}
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text, false
	}
	out = strings.Join(words[:maxWords], " ")
	out = strings.TrimRight(out, ".,;:!? ") + "."
	if notice != "" {
		out += " " + notice
	}
	return out, true
}
