package router

import (
	"strings"
	"unicode"
)

// Command is a conversation meta-command. Meta-commands are always handled
// locally and never reach the reasoning engine or the gateway.
type Command int

const (
	CommandNone Command = iota
	// CommandClear starts a new conversation.
	CommandClear
	// CommandForget drops the last exchange.
	CommandForget
	// CommandRepeatUser reads back the last question.
	CommandRepeatUser
	// CommandRepeatAssistant repeats the last answer.
	CommandRepeatAssistant
)

func (c Command) String() string {
	switch c {
	case CommandClear:
		return "clear"
	case CommandForget:
		return "forget"
	case CommandRepeatUser:
		return "repeat_user"
	case CommandRepeatAssistant:
		return "repeat_assistant"
	default:
		return "none"
	}
}

// MetaPhrases lists the phrases for each meta-command.
type MetaPhrases struct {
	Clear           []string `yaml:"clear"`
	Forget          []string `yaml:"forget"`
	RepeatUser      []string `yaml:"repeat_user"`
	RepeatAssistant []string `yaml:"repeat_assistant"`
}

// DefaultMetaPhrases are used for every list left empty in configuration.
var DefaultMetaPhrases = MetaPhrases{
	Clear:           []string{"new conversation", "start over", "clear history"},
	Forget:          []string{"forget that", "scratch that", "never mind", "undo that"},
	RepeatUser:      []string{"what did i just ask", "what did i say"},
	RepeatAssistant: []string{"say that again", "repeat that"},
}

type metaEntry struct {
	phrase string // normalized, space padded
	cmd    Command
}

// MetaMatcher recognizes meta-commands. Phrases match on whole words
// anywhere in the transcript, case- and punctuation-insensitively. Lists are
// checked in the order clear, forget, repeat-user, repeat-assistant.
type MetaMatcher struct {
	entries []metaEntry
}

// NewMetaMatcher builds a matcher, filling empty lists from
// [DefaultMetaPhrases].
func NewMetaMatcher(p MetaPhrases) *MetaMatcher {
	if len(p.Clear) == 0 {
		p.Clear = DefaultMetaPhrases.Clear
	}
	if len(p.Forget) == 0 {
		p.Forget = DefaultMetaPhrases.Forget
	}
	if len(p.RepeatUser) == 0 {
		p.RepeatUser = DefaultMetaPhrases.RepeatUser
	}
	if len(p.RepeatAssistant) == 0 {
		p.RepeatAssistant = DefaultMetaPhrases.RepeatAssistant
	}
	m := &MetaMatcher{}
	add := func(phrases []string, cmd Command) {
		for _, ph := range phrases {
			if n := normalize(ph); strings.TrimSpace(n) != "" {
				m.entries = append(m.entries, metaEntry{phrase: n, cmd: cmd})
			}
		}
	}
	add(p.Clear, CommandClear)
	add(p.Forget, CommandForget)
	add(p.RepeatUser, CommandRepeatUser)
	add(p.RepeatAssistant, CommandRepeatAssistant)
	return m
}

// Match returns the meta-command in text, or CommandNone.
func (m *MetaMatcher) Match(text string) Command {
	norm := normalize(text)
	for _, e := range m.entries {
		if strings.Contains(norm, e.phrase) {
			return e.cmd
		}
	}
	return CommandNone
}

// normalize lower-cases s, drops apostrophes, turns other punctuation into
// spaces and pads the result with one space on each side so phrases only
// match whole words.
func normalize(s string) string {
	var b strings.Builder
	b.WriteByte(' ')
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case !space:
			b.WriteByte(' ')
			space = true
		}
	}
	if !space {
		b.WriteByte(' ')
	}
	return b.String()
}
