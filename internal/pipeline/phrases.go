package pipeline

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

const (
	phraseNotCaught      = "I didn't catch that."
	phraseCleared        = "Starting fresh. What's on your mind?"
	phraseForgotten      = "Done. That exchange is forgotten."
	phraseNoQuestions    = "I don't have any previous questions."
	phraseNothingSaid    = "I haven't said anything yet."
	phraseNoEngines      = "I can't reach any of my thinking engines right now."
	phraseWhichAgent     = "I didn't catch which agent you need. Say the agent name or describe what you want."
	routedPrefixFormat   = "[Routed to %s] "
	commandBridgeFormat  = "Sending to %s."
	stillWorkingFormat   = "The %s is taking a while. I'm still working on it."
	notRespondingFormat  = "The %s isn't responding. I'll forward this to you instead."
	repeatQuestionFormat = "You asked: %s"
)

var bridgeFormats = []string{
	"Let me check with %s.",
	"Routing to %s.",
	"Asking %s for you.",
}

// bridgePhrase picks one of the conversational bridge phrases for agent.
func bridgePhrase(agent string) string {
	return fmt.Sprintf(bridgeFormats[rand.IntN(len(bridgeFormats))], agent)
}

// routedText is how a specialist reply is stored in memory.
func routedText(agent, text string) string {
	return fmt.Sprintf(routedPrefixFormat, agent) + text
}

// unrouted strips the memory marker from a stored assistant turn before it is
// spoken again.
func unrouted(text string) string {
	if strings.HasPrefix(text, "[Routed to ") {
		if i := strings.Index(text, "] "); i >= 0 {
			return text[i+2:]
		}
	}
	return text
}
