//go:build whispercpp

// In-process recognizer on the whisper.cpp cgo bindings. Build with
// -tags whispercpp and point LIBRARY_PATH / C_INCLUDE_PATH at libwhisper.a
// and whisper.h.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/types"
)

var _ stt.Provider = (*NativeProvider)(nil)

// whisper.cpp only accepts 16 kHz mono float samples.
var nativeFormat = audio.Format{SampleRate: 16000, Channels: 1}

// NativeProvider transcribes utterances in-process. The model stays loaded
// for the life of the provider and inference is serialised: whisper.cpp
// already spreads one call over every core.
type NativeProvider struct {
	model    whisperlib.Model
	language string
	prompt   string
	threads  uint

	mu sync.Mutex
}

// NativeOption configures a [NativeProvider].
type NativeOption func(*NativeProvider)

// WithNativeLanguage sets the spoken language ("en", "de", ...). Default "en".
func WithNativeLanguage(lang string) NativeOption {
	return func(p *NativeProvider) { p.language = lang }
}

// WithNativePrompt biases recognition toward the given vocabulary, typically
// the wake word and agent names.
func WithNativePrompt(prompt string) NativeOption {
	return func(p *NativeProvider) { p.prompt = prompt }
}

// WithNativeThreads caps the inference threads. Zero keeps the library default.
func WithNativeThreads(n uint) NativeOption {
	return func(p *NativeProvider) { p.threads = n }
}

// NewNative loads the ggml model at modelPath. Close releases it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeProvider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	p := &NativeProvider{model: model, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Close releases the model.
func (p *NativeProvider) Close() error {
	if p.model == nil {
		return nil
	}
	return p.model.Close()
}

// Transcribe implements [stt.Provider]. A cancelled ctx stops the call before
// the encoder starts; once decoding runs it finishes and the result is
// dropped.
func (p *NativeProvider) Transcribe(ctx context.Context, u types.Utterance) (types.Transcript, error) {
	empty := types.Transcript{UtteranceID: u.ID}
	if len(u.PCM) == 0 {
		return empty, nil
	}
	samples := audio.Float32Mono(
		audio.Convert(u.PCM, audio.Format{SampleRate: u.SampleRate, Channels: u.Channels}, nativeFormat), 1)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return types.Transcript{}, err
	}

	text, err := p.run(ctx, samples)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return types.Transcript{}, ctxErr
	}
	if err != nil {
		return types.Transcript{}, fmt.Errorf("%w: %v", stt.ErrUnavailable, err)
	}
	empty.Text = cleanText(text)
	empty.Duration = u.Duration
	return empty, nil
}

func (p *NativeProvider) run(ctx context.Context, samples []float32) (string, error) {
	wctx, err := p.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("new context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		slog.Warn("whisper: unsupported language, keeping model default", "language", p.language, "err", err)
	}
	if p.prompt != "" {
		wctx.SetInitialPrompt(p.prompt)
	}
	if p.threads > 0 {
		wctx.SetThreads(p.threads)
	}

	keepGoing := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, keepGoing, nil, nil); err != nil {
		return "", fmt.Errorf("process: %w", err)
	}

	var b strings.Builder
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("next segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(text)
	}
}
