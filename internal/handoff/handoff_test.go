package handoff_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/jarvis/internal/handoff"
)

type recorder struct {
	got []handoff.Message
	err error
}

func (r *recorder) Notify(_ context.Context, m handoff.Message) error {
	r.got = append(r.got, m)
	return r.err
}

func TestMessage_Render(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		msg       handoff.Message
		title     string
		bodyParts []string
	}{
		{
			name:      "truncated",
			msg:       handoff.Message{Reason: handoff.ReasonTruncated, AgentName: "Deal Scanner", Query: "find practices", Text: "Long list."},
			title:     "Full reply from Deal Scanner",
			bodyParts: []string{"Request: find practices", "Long list."},
		},
		{
			name:      "unreachable",
			msg:       handoff.Message{Reason: handoff.ReasonUnreachable, AgentName: "System Guardian", Query: "status", Text: "timeout"},
			title:     "System Guardian did not respond",
			bodyParts: []string{"Request: status", "Error: timeout"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.msg.Title(); got != tt.title {
				t.Errorf("Title() = %q, want %q", got, tt.title)
			}
			body := tt.msg.Body()
			for _, p := range tt.bodyParts {
				if !strings.Contains(body, p) {
					t.Errorf("Body() = %q, missing %q", body, p)
				}
			}
		})
	}
}

func TestLogNotifier(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	n := handoff.NewLog(slog.New(slog.NewTextHandler(&buf, nil)))
	if err := n.Notify(context.Background(), handoff.Message{Reason: handoff.ReasonUnreachable, AgentID: "deal-scanner", Query: "q"}); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "reason=unreachable") || !strings.Contains(out, "agent=deal-scanner") {
		t.Errorf("log = %q", out)
	}
}

func TestMulti_TriesAll(t *testing.T) {
	t.Parallel()

	failing := &recorder{err: errors.New("discord down")}
	ok := &recorder{}
	err := handoff.Multi{failing, ok}.Notify(context.Background(), handoff.Message{AgentID: "a"})
	if err == nil || !strings.Contains(err.Error(), "discord down") {
		t.Errorf("err = %v", err)
	}
	if len(ok.got) != 1 {
		t.Error("second notifier not called")
	}
}
