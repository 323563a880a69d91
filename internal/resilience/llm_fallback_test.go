package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/jarvis/pkg/provider/llm"
	llmmock "github.com/MrWong99/jarvis/pkg/provider/llm/mock"
)

// ollamaThenGroq is the usual reasoning chain: a local engine first, a cloud
// fallback second.
func ollamaThenGroq(local, cloud *llmmock.Provider) *LLMFallback {
	fb := NewLLMFallback(local, "ollama", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("groq", cloud)
	return fb
}

func reply(s string) *llm.CompletionResponse { return &llm.CompletionResponse{Content: s} }

func TestLLMFallback_Complete(t *testing.T) {
	tests := []struct {
		name       string
		local      *llmmock.Provider
		cloud      *llmmock.Provider
		want       string
		wantErr    error
		cloudCalls int
	}{
		{
			name:  "local answers",
			local: &llmmock.Provider{CompleteResponse: reply("It is sunny.")},
			cloud: &llmmock.Provider{CompleteResponse: reply("cloud")},
			want:  "It is sunny.",
		},
		{
			name:       "local down",
			local:      &llmmock.Provider{CompleteErr: errors.New("connection refused")},
			cloud:      &llmmock.Provider{CompleteResponse: reply("It is sunny.")},
			want:       "It is sunny.",
			cloudCalls: 1,
		},
		{
			name:       "both down",
			local:      &llmmock.Provider{CompleteErr: errors.New("connection refused")},
			cloud:      &llmmock.Provider{CompleteErr: errors.New("rate limited")},
			wantErr:    ErrAllFailed,
			cloudCalls: 1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := ollamaThenGroq(tt.local, tt.cloud)
			resp, err := fb.Complete(context.Background(), llm.CompletionRequest{
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "weather?"}},
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil || resp.Content != tt.want {
				t.Fatalf("Complete = %+v, %v; want %q", resp, err, tt.want)
			}
			if len(tt.local.CompleteCalls) != 1 {
				t.Errorf("local calls = %d, want 1", len(tt.local.CompleteCalls))
			}
			if len(tt.cloud.CompleteCalls) != tt.cloudCalls {
				t.Errorf("cloud calls = %d, want %d", len(tt.cloud.CompleteCalls), tt.cloudCalls)
			}
		})
	}
}

func TestLLMFallback_StreamCompletion_OpenErrorFailsOver(t *testing.T) {
	fb := ollamaThenGroq(
		&llmmock.Provider{StreamErr: errors.New("model not loaded")},
		&llmmock.Provider{StreamChunks: []llm.Chunk{{Text: "Three "}, {Text: "meetings.", FinishReason: "stop"}}},
	)

	ch, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	var got []llm.Chunk
	for c := range ch {
		got = append(got, c)
	}
	if len(got) != 2 || got[0].Text != "Three " || got[1].FinishReason != "stop" {
		t.Fatalf("chunks = %+v", got)
	}
}

func TestLLMFallback_CountTokensUsesPrimary(t *testing.T) {
	fb := ollamaThenGroq(&llmmock.Provider{TokenCount: 42}, &llmmock.Provider{TokenCount: 7})
	n, err := fb.CountTokens([]llm.Message{{Role: llm.RoleUser, Content: "test"}})
	if err != nil || n != 42 {
		t.Fatalf("CountTokens = %d, %v; want 42 from the primary", n, err)
	}
}

func TestLLMFallback_StreamCompletion_CancelDoesNotFailOver(t *testing.T) {
	primary := &llmmock.Provider{StreamErr: context.Canceled}
	secondary := &llmmock.Provider{StreamChunks: llmmock.TextChunks("late")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if secondary.StreamCallCount() != 0 {
		t.Fatal("secondary must not be tried after cancellation")
	}
	if st := fb.Group().Breakers()[0].State(); st != StateClosed {
		t.Fatalf("primary breaker = %v, want closed", st)
	}
}

func TestLLMFallback_StreamCompletion_FirstChunkErrorFailsOver(t *testing.T) {
	primary := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{FinishReason: llm.FinishReasonError, Text: "connection refused"}},
	}
	secondary := &llmmock.Provider{StreamChunks: llmmock.TextChunks("All ", "good.")}

	fb := NewLLMFallback(primary, "ollama", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("groq", secondary)

	ch, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var text string
	for c := range ch {
		text += c.Text
	}
	if text != "All good." {
		t.Fatalf("text = %q, want %q", text, "All good.")
	}
	if secondary.StreamCallCount() != 1 {
		t.Fatalf("secondary calls = %d, want 1", secondary.StreamCallCount())
	}
}

func TestLLMFallback_StreamCompletion_EmptyStreamFailsOver(t *testing.T) {
	primary := &llmmock.Provider{}
	secondary := &llmmock.Provider{StreamChunks: llmmock.TextChunks("ok")}

	fb := NewLLMFallback(primary, "ollama", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("groq", secondary)

	ch, err := fb.StreamCompletion(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for range ch {
	}
	if secondary.StreamCallCount() != 1 {
		t.Fatalf("secondary calls = %d, want 1", secondary.StreamCallCount())
	}
}
