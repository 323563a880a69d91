// Package whisper provides speech-to-text backed by whisper.cpp.
//
// [Provider] talks to a running whisper.cpp server over HTTP: every utterance
// is wrapped in a WAV container and POSTed as multipart/form-data to the
// server's /inference endpoint. [NativeProvider] (build tag whispercpp) links
// whisper.cpp directly through its Go bindings.
//
// Start the server with e.g.:
//
//	./server -m models/ggml-base.en.bin --port 8080
//
// Usage:
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	tr, err := p.Transcribe(ctx, utterance)
package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/types"
)

// Compile-time assertion that Provider satisfies stt.Provider.
var _ stt.Provider = (*Provider)(nil)

const defaultLanguage = "en"

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model name sent as a form field. Most whisper.cpp server
// builds ignore it and use the model loaded at startup.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the BCP-47 language code hint. Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithPrompt sets an initial prompt that biases recognition towards the given
// vocabulary (agent names, product terms).
func WithPrompt(prompt string) Option {
	return func(p *Provider) { p.prompt = prompt }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider against a whisper.cpp HTTP server.
type Provider struct {
	serverURL  string
	model      string
	language   string
	prompt     string
	httpClient *http.Client
}

// New creates a new whisper.cpp Provider. serverURL is the base URL of the
// server (e.g., "http://localhost:8080") and must not be empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		httpClient: &http.Client{Timeout: 60 * time.Second},
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

	body, contentType, err := p.buildForm(u)
	if err != nil {
		return types.Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/inference", body)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return types.Transcript{}, ctx.Err()
		}
		return types.Transcript{}, fmt.Errorf("%w: whisper: http request: %v", stt.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.Transcript{}, fmt.Errorf("%w: whisper: server returned HTTP %d", stt.ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: read response body: %w", err)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: parse JSON response: %w", err)
	}

	return types.Transcript{
		Text:        cleanText(result.Text),
		Duration:    u.Duration,
		UtteranceID: u.ID,
	}, nil
}

// buildForm encodes the utterance as a multipart body with a "file" field.
func (p *Provider) buildForm(u types.Utterance) (io.Reader, string, error) {
	wav := audio.EncodeWAV(u.PCM, audio.Format{SampleRate: u.SampleRate, Channels: u.Channels})

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, "", fmt.Errorf("whisper: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, "", fmt.Errorf("whisper: write wav data: %w", err)
	}

	fields := map[string]string{
		"response_format": "json",
		"language":        p.language,
		"model":           p.model,
		"prompt":          p.prompt,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("whisper: write %s field: %w", k, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("whisper: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}

// nonSpeechMarkers are the placeholder tokens whisper emits for audio that
// contains no words.
var nonSpeechMarkers = []string{"[BLANK_AUDIO]", "[SILENCE]", "(silence)", "[MUSIC]", "[NOISE]"}

// cleanText trims whitespace and strips whisper's non-speech markers.
func cleanText(s string) string {
	for _, m := range nonSpeechMarkers {
		s = strings.ReplaceAll(s, m, "")
	}
	return strings.Join(strings.Fields(s), " ")
}
