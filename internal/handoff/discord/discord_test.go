package discord

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"

	"github.com/MrWong99/jarvis/internal/handoff"
)

type fakeSender struct {
	channel string
	embeds  []*discordgo.MessageEmbed
	err     error
}

func (f *fakeSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channel = channelID
	f.embeds = append(f.embeds, embed)
	return &discordgo.Message{ID: "1"}, f.err
}

func TestNotify_PostsEmbed(t *testing.T) {
	f := &fakeSender{}
	n := &Notifier{s: f, channelID: "c1"}

	err := n.Notify(context.Background(), handoff.Message{
		Reason:    handoff.ReasonUnreachable,
		AgentID:   "system-guardian",
		AgentName: "System Guardian",
		Query:     "check system status",
		Text:      "gateway: timeout",
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if f.channel != "c1" || len(f.embeds) != 1 {
		t.Fatalf("sent to %q: %d embeds", f.channel, len(f.embeds))
	}
	e := f.embeds[0]
	if e.Title != "System Guardian did not respond" {
		t.Errorf("Title = %q", e.Title)
	}
	if e.Color != embedColorRed {
		t.Errorf("Color = %#x", e.Color)
	}
	if !strings.Contains(e.Description, "check system status") {
		t.Errorf("Description = %q", e.Description)
	}
	if e.Footer == nil || e.Footer.Text != "system-guardian" {
		t.Errorf("Footer = %+v", e.Footer)
	}
}

func TestNotify_LongReplyClipped(t *testing.T) {
	f := &fakeSender{}
	n := &Notifier{s: f, channelID: "c1"}
	if err := n.Notify(context.Background(), handoff.Message{Reason: handoff.ReasonTruncated, Text: strings.Repeat("x", 5000)}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	if got := len([]rune(f.embeds[0].Description)); got != maxDescription {
		t.Errorf("description runes = %d, want %d", got, maxDescription)
	}
}

func TestNotify_Error(t *testing.T) {
	n := &Notifier{s: &fakeSender{err: errors.New("403")}, channelID: "c1"}
	if err := n.Notify(context.Background(), handoff.Message{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "c"); err == nil {
		t.Error("expected error for empty token")
	}
	if _, err := New("t", ""); err == nil {
		t.Error("expected error for empty channel")
	}
	if n, err := New("t", "c"); err != nil || n == nil {
		t.Errorf("New = %v, %v", n, err)
	}
}
