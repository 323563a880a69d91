// Package discord posts hand-offs to a Discord channel as embeds.
package discord

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/jarvis/internal/handoff"
)

// Discord limits an embed description to 4096 characters.
const maxDescription = 4096

const (
	embedColorBlue = 0x3498DB
	embedColorRed  = 0xE74C3C
)

// sender is the part of *discordgo.Session the notifier needs.
type sender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Notifier implements [handoff.Notifier] for one Discord channel.
type Notifier struct {
	s         sender
	channelID string
}

var _ handoff.Notifier = (*Notifier)(nil)

// New creates a notifier authenticating with a bot token. Only the REST API
// is used; no gateway connection is opened.
func New(token, channelID string) (*Notifier, error) {
	if token == "" {
		return nil, errors.New("discord: bot token must not be empty")
	}
	if channelID == "" {
		return nil, errors.New("discord: channel id must not be empty")
	}
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord: create session: %w", err)
	}
	return &Notifier{s: s, channelID: channelID}, nil
}

// Notify implements [handoff.Notifier].
func (n *Notifier) Notify(ctx context.Context, m handoff.Message) error {
	if _, err := n.s.ChannelMessageSendEmbed(n.channelID, buildEmbed(m), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord: send handoff to %s: %w", n.channelID, err)
	}
	return nil
}

func buildEmbed(m handoff.Message) *discordgo.MessageEmbed {
	color := embedColorBlue
	if m.Reason == handoff.ReasonUnreachable {
		color = embedColorRed
	}
	ts := m.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	desc := m.Body()
	if r := []rune(desc); len(r) > maxDescription {
		desc = string(r[:maxDescription-1]) + "…"
	}
	return &discordgo.MessageEmbed{
		Title:       m.Title(),
		Description: desc,
		Color:       color,
		Timestamp:   ts.Format(time.RFC3339),
		Footer:      &discordgo.MessageEmbedFooter{Text: m.AgentID},
	}
}
