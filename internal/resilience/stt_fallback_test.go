package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/jarvis/pkg/provider/stt"
	sttmock "github.com/MrWong99/jarvis/pkg/provider/stt/mock"
	"github.com/MrWong99/jarvis/pkg/types"
)

func TestSTTFallback_Transcribe_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{Text: "check system status"}
	secondary := &sttmock.Provider{Text: "wrong"}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Transcribe(context.Background(), types.Utterance{ID: "u1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "check system status" || tr.UtteranceID != "u1" {
		t.Fatalf("transcript = %+v", tr)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 0 {
		t.Fatalf("calls: primary=%d secondary=%d", primary.CallCount(), secondary.CallCount())
	}
}

func TestSTTFallback_Transcribe_Failover(t *testing.T) {
	primary := &sttmock.Provider{Err: stt.ErrUnavailable}
	secondary := &sttmock.Provider{Text: "hello"}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Transcribe(context.Background(), types.Utterance{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "hello" {
		t.Fatalf("text = %q, want hello", tr.Text)
	}
}

func TestSTTFallback_Transcribe_EmptyIsSuccess(t *testing.T) {
	primary := &sttmock.Provider{Text: ""}
	secondary := &sttmock.Provider{Text: "should not be used"}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Transcribe(context.Background(), types.Utterance{})
	if err != nil || tr.Text != "" {
		t.Fatalf("got %+v, %v", tr, err)
	}
	if secondary.CallCount() != 0 {
		t.Fatal("empty transcript must not trigger failover")
	}
}

func TestSTTFallback_Transcribe_AllFail(t *testing.T) {
	primary := &sttmock.Provider{Err: stt.ErrUnavailable}
	secondary := &sttmock.Provider{Err: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), types.Utterance{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
