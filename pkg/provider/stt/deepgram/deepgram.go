// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Each utterance opens its own stream: the PCM is written in binary chunks,
// a CloseStream message asks Deepgram to flush, and the final results that
// arrive before the server closes the socket are joined into one transcript.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/types"
	"github.com/coder/websocket"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// chunkDuration is how much audio goes into one binary frame.
	chunkDuration = 100 * time.Millisecond
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithKeywords boosts recognition of the given words, e.g. agent names.
func WithKeywords(keywords ...string) Option {
	return func(p *Provider) { p.keywords = append(p.keywords, keywords...) }
}

// WithEndpoint overrides the streaming endpoint. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	model    string
	language string
	keywords []string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, u types.Utterance) (types.Transcript, error) {
	if len(u.PCM) == 0 {
		return types.Transcript{UtteranceID: u.ID}, nil
	}

	wsURL, err := p.buildURL(u.SampleRate, u.Channels)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		if ctx.Err() != nil {
			return types.Transcript{}, ctx.Err()
		}
		return types.Transcript{}, fmt.Errorf("%w: deepgram: dial: %v", stt.ErrUnavailable, err)
	}
	defer conn.CloseNow()

	writeErr := make(chan error, 1)
	go func() { writeErr <- p.send(ctx, conn, u) }()

	text, conf, err := collect(ctx, conn)
	if werr := <-writeErr; werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		if ctx.Err() != nil {
			return types.Transcript{}, ctx.Err()
		}
		return types.Transcript{}, fmt.Errorf("%w: deepgram: %v", stt.ErrUnavailable, err)
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	return types.Transcript{
		Text:        text,
		Confidence:  conf,
		Duration:    u.Duration,
		UtteranceID: u.ID,
	}, nil
}

// send streams the utterance and then asks the server to flush.
func (p *Provider) send(ctx context.Context, conn *websocket.Conn, u types.Utterance) error {
	f := audio.Format{SampleRate: u.SampleRate, Channels: u.Channels}
	chunk := f.BytesPer(chunkDuration)
	if chunk <= 0 {
		chunk = len(u.PCM)
	}
	for off := 0; off < len(u.PCM); off += chunk {
		end := min(off+chunk, len(u.PCM))
		if err := conn.Write(ctx, websocket.MessageBinary, u.PCM[off:end]); err != nil {
			return fmt.Errorf("write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("write close: %w", err)
	}
	return nil
}

// collect reads results until the server closes the stream and joins the
// final segments. Confidence is the mean over the final segments.
func collect(ctx context.Context, conn *websocket.Conn) (string, float64, error) {
	var (
		parts []string
		conf  float64
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			return "", 0, fmt.Errorf("read: %w", err)
		}
		r, ok := parseDeepgramResponse(msg)
		if !ok || !r.IsFinal {
			continue
		}
		if text := strings.TrimSpace(r.Text); text != "" {
			parts = append(parts, text)
			conf += r.Confidence
		}
	}
	if len(parts) == 0 {
		return "", 0, nil
	}
	return strings.Join(parts, " "), conf / float64(len(parts)), nil
}

// buildURL constructs the Deepgram streaming endpoint URL for the given format.
func (p *Provider) buildURL(sampleRate, channels int) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("interim_results", "false")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sampleRate))
	if channels > 0 {
		q.Set("channels", strconv.Itoa(channels))
	}
	for _, kw := range p.keywords {
		q.Add("keywords", kw+":2")
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type result struct {
	Text       string
	Confidence float64
	IsFinal    bool
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message. It reports
// false for messages that carry no transcript (metadata, keep-alives).
func parseDeepgramResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}
	alt := resp.Channel.Alternatives[0]
	return result{Text: alt.Transcript, Confidence: alt.Confidence, IsFinal: resp.IsFinal}, true
}
