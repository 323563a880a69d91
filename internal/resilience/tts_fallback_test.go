package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/pkg/provider/tts"
	ttsmock "github.com/MrWong99/jarvis/pkg/provider/tts/mock"
	"github.com/MrWong99/jarvis/pkg/types"
)

// silentPiper implements tts.Provider without tts.VoiceLister.
type silentPiper struct{}

func (silentPiper) Synthesize(context.Context, string) (types.Audio, error) {
	return types.Audio{PCM: []byte{0, 0}, SampleRate: 22050, Channels: 1}, nil
}

func piperThenElevenLabs(local, cloud tts.Provider) *TTSFallback {
	fb := NewTTSFallback(local, "piper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3, ResetTimeout: time.Hour},
	})
	fb.AddFallback("elevenlabs", cloud)
	return fb
}

func TestTTSFallback_PerSentenceFailover(t *testing.T) {
	local := &ttsmock.Provider{
		Err:    tts.ErrUnavailable,
		FailOn: map[string]bool{"Zürich is 8 °C.": true},
	}
	cloud := &ttsmock.Provider{SampleRate: 44100}
	fb := piperThenElevenLabs(local, cloud)

	reply := []string{"Here is the weather.", "Zürich is 8 °C.", "Anything else?"}
	var rates []int
	for _, sentence := range reply {
		a, err := fb.Synthesize(context.Background(), sentence)
		if err != nil {
			t.Fatalf("Synthesize(%q): %v", sentence, err)
		}
		rates = append(rates, a.SampleRate)
	}

	if want := []int{16000, 44100, 16000}; !slices.Equal(rates, want) {
		t.Errorf("sample rates = %v, want %v (only the failing sentence from the cloud)", rates, want)
	}
	if got := cloud.Calls(); !slices.Equal(got, []string{"Zürich is 8 °C."}) {
		t.Errorf("cloud rendered %q", got)
	}
}

func TestTTSFallback_AllDown(t *testing.T) {
	fb := piperThenElevenLabs(
		&ttsmock.Provider{Err: tts.ErrUnavailable},
		&ttsmock.Provider{Err: errors.New("quota exceeded")},
	)
	if _, err := fb.Synthesize(context.Background(), "Hello."); !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTTSFallback_BargeInDoesNotFailOver(t *testing.T) {
	local := &ttsmock.Provider{Delay: time.Second}
	cloud := &ttsmock.Provider{}
	fb := piperThenElevenLabs(local, cloud)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	if _, err := fb.Synthesize(ctx, "This reply gets interrupted."); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if n := len(cloud.Calls()); n != 0 {
		t.Errorf("cloud called %d times after a barge-in", n)
	}
	if st := fb.Group().Breakers()[0].State(); st != StateClosed {
		t.Errorf("piper breaker = %v, want closed", st)
	}
}

func TestTTSFallback_ListVoices(t *testing.T) {
	cloud := &ttsmock.Provider{Voices: []tts.VoiceProfile{{ID: "v1", Name: "Jarvis", Provider: "elevenlabs"}}}
	fb := piperThenElevenLabs(silentPiper{}, cloud)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].Name != "Jarvis" {
		t.Fatalf("voices = %+v, want the first engine that can list", voices)
	}
}
