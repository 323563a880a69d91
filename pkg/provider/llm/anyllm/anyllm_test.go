package anyllm

import (
	"slices"
	"strings"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
)

func TestBackends(t *testing.T) {
	got := Backends()
	if !slices.IsSorted(got) {
		t.Errorf("Backends not sorted: %v", got)
	}
	for _, local := range []string{"ollama", "llamacpp", "llamafile"} {
		if !slices.Contains(got, local) {
			t.Errorf("local engine %q missing from %v", local, got)
		}
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		model   string
		opts    []anyllmlib.Option
		wantErr string
	}{
		{name: "local ollama", backend: "ollama", model: "llama3.2:3b", opts: []anyllmlib.Option{anyllmlib.WithBaseURL("http://127.0.0.1:11434")}},
		{name: "case-insensitive", backend: "Ollama", model: "qwen2.5:7b"},
		{name: "cloud with key", backend: "groq", model: "llama-3.3-70b-versatile", opts: []anyllmlib.Option{anyllmlib.WithAPIKey("gsk-test")}},
		{name: "no model", backend: "ollama", wantErr: "model must not be empty"},
		{name: "unknown backend", backend: "fakecloud", model: "m", wantErr: `unsupported backend "fakecloud"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.backend, tt.model, tt.opts...)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want it to mention %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if p.model != tt.model {
				t.Errorf("model = %q, want %q", p.model, tt.model)
			}
		})
	}
}

func TestParams(t *testing.T) {
	p := &Provider{model: "llama3.2:3b"}

	t.Run("system prompt leads the history", func(t *testing.T) {
		got := p.params(llm.CompletionRequest{
			SystemPrompt: "You are Jarvis. Answer in one or two spoken sentences.",
			Messages: []llm.Message{
				{Role: llm.RoleUser, Content: "what time is it in Tokyo"},
				{Role: llm.RoleAssistant, Content: "It's just past nine in the morning."},
				{Role: llm.RoleUser, Content: "and in Berlin"},
			},
			Temperature: 0.4,
			MaxTokens:   200,
		})
		if got.Model != "llama3.2:3b" {
			t.Errorf("Model = %q", got.Model)
		}
		roles := make([]string, len(got.Messages))
		for i, m := range got.Messages {
			roles[i] = m.Role
		}
		want := []string{anyllmlib.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleUser}
		if !slices.Equal(roles, want) {
			t.Fatalf("roles = %v, want %v", roles, want)
		}
		if c := got.Messages[3].ContentString(); c != "and in Berlin" {
			t.Errorf("last message = %q", c)
		}
		if got.Temperature == nil || *got.Temperature != 0.4 {
			t.Errorf("Temperature = %v", got.Temperature)
		}
		if got.MaxTokens == nil || *got.MaxTokens != 200 {
			t.Errorf("MaxTokens = %v", got.MaxTokens)
		}
	})

	t.Run("zero knobs stay unset", func(t *testing.T) {
		got := p.params(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}}})
		if len(got.Messages) != 1 {
			t.Errorf("messages = %d, want 1 without a system prompt", len(got.Messages))
		}
		if got.Temperature != nil || got.MaxTokens != nil {
			t.Errorf("Temperature/MaxTokens set on a zero request: %v %v", got.Temperature, got.MaxTokens)
		}
	})
}

func TestStreamCompletion_NoMessages(t *testing.T) {
	p, err := New("ollama", "llama3.2:3b")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.StreamCompletion(t.Context(), llm.CompletionRequest{SystemPrompt: "x"}); err == nil {
		t.Fatal("want error for a request without messages")
	}
}

func TestCountTokens(t *testing.T) {
	p := &Provider{model: "m"}
	n, err := p.CountTokens([]llm.Message{
		{Role: llm.RoleUser, Content: "12345678"}, // 2 + 4
		{Role: llm.RoleAssistant, Content: ""},    // 0 + 4
	})
	if err != nil {
		t.Fatalf("CountTokens: %v", err)
	}
	if n != 10 {
		t.Errorf("CountTokens = %d, want 10", n)
	}
}
