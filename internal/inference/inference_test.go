package inference_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/internal/inference"
	"github.com/MrWong99/jarvis/internal/memory"
	"github.com/MrWong99/jarvis/pkg/provider/llm"
	llmmock "github.com/MrWong99/jarvis/pkg/provider/llm/mock"
)

func history(text string) []memory.Turn {
	return []memory.Turn{{Role: memory.RoleUser, Text: text}}
}

func TestStart_StreamsDeltas(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{
		StreamChunks: llmmock.TextChunks("All ", "services ", "online."),
		ChunkDelay:   2 * time.Millisecond,
	}
	e := inference.New(p, inference.Config{SystemPrompt: "You are Jarvis.", MaxTokens: 200})

	s, err := e.Start(context.Background(), history("status?"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	var got []string
	for d := range s.Deltas() {
		got = append(got, d)
	}
	<-s.Done()

	if len(got) != 3 {
		t.Fatalf("deltas = %q, want 3", got)
	}
	if s.Text() != "All services online." {
		t.Errorf("Text() = %q", s.Text())
	}
	if s.Err() != nil {
		t.Errorf("Err() = %v", s.Err())
	}
	if s.FirstToken() <= 0 {
		t.Errorf("FirstToken() = %v, want > 0", s.FirstToken())
	}

	req, ok := p.LastStreamRequest()
	if !ok {
		t.Fatal("no request recorded")
	}
	if req.SystemPrompt != "You are Jarvis." || req.MaxTokens != 200 {
		t.Errorf("request = %+v", req)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != "status?" {
		t.Errorf("messages = %+v", req.Messages)
	}
}

func TestStart_Unavailable(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{StreamErr: errors.New("connection refused")}
	_, err := inference.New(p, inference.Config{}).Start(context.Background(), history("hi"))
	if !errors.Is(err, inference.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestStream_ErrorChunks(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		chunks []llm.Chunk
		want   error
		text   string
	}{
		{
			name:   "before output",
			chunks: []llm.Chunk{{FinishReason: llm.FinishReasonError, Text: "boom"}},
			want:   inference.ErrUnavailable,
		},
		{
			name:   "after output",
			chunks: []llm.Chunk{{Text: "Disk is "}, {FinishReason: llm.FinishReasonError, Text: "reset"}},
			want:   inference.ErrInterrupted,
			text:   "Disk is ",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := &llmmock.Provider{StreamChunks: tt.chunks}
			s, err := inference.New(p, inference.Config{}).Start(context.Background(), history("hi"))
			if err != nil {
				t.Fatalf("Start: %v", err)
			}
			text, err := collect(s)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if text != tt.text {
				t.Errorf("text = %q, want %q", text, tt.text)
			}
		})
	}
}

// collect drains s and returns its final text.
func collect(s *inference.Stream) (string, error) {
	for range s.Deltas() {
	}
	<-s.Done()
	return s.Text(), s.Err()
}

func TestStream_CancelIsPrompt(t *testing.T) {
	t.Parallel()

	deltas := make([]string, 100)
	for i := range deltas {
		deltas[i] = "word "
	}
	p := &llmmock.Provider{StreamChunks: llmmock.TextChunks(deltas...), ChunkDelay: 20 * time.Millisecond}
	s, err := inference.New(p, inference.Config{}).Start(context.Background(), history("talk"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	<-s.Deltas()

	start := time.Now()
	s.Cancel()
	for range s.Deltas() {
	}
	<-s.Done()
	if took := time.Since(start); took > 100*time.Millisecond {
		t.Errorf("cancel took %v", took)
	}
	if !errors.Is(s.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", s.Err())
	}
	s.Cancel() // idempotent
}

func TestStream_Timeout(t *testing.T) {
	t.Parallel()

	p := &llmmock.Provider{StreamChunks: llmmock.TextChunks("slow"), ChunkDelay: time.Second}
	s, err := inference.New(p, inference.Config{Timeout: 30 * time.Millisecond}).Start(context.Background(), history("hi"))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := collect(s); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}
