package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/provider/stt/whisper"
	"github.com/MrWong99/jarvis/pkg/types"
)

// ---- helpers ----------------------------------------------------------------

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText. It increments *callCount on every
// matched request.
func newMockServer(t *testing.T, responseText string, callCount *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if callCount != nil {
			callCount.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func makeUtterance(d time.Duration) types.Utterance {
	f := audio.Format{SampleRate: 16000, Channels: 1}
	return types.Utterance{
		ID:         "utt-1",
		PCM:        audio.Tone(440, d, f, 0.3),
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		Duration:   d,
	}
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	p, err := whisper.New("http://localhost:8080",
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
		whisper.WithPrompt("System Guardian, Deal Scanner"),
		whisper.WithHTTPClient(http.DefaultClient),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_ReturnsServerText(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "  what is the system status  ", &calls)

	p, _ := whisper.New(srv.URL)
	tr, err := p.Transcribe(context.Background(), makeUtterance(500*time.Millisecond))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "what is the system status" {
		t.Errorf("Text = %q", tr.Text)
	}
	if tr.UtteranceID != "utt-1" {
		t.Errorf("UtteranceID = %q, want utt-1", tr.UtteranceID)
	}
	if tr.Duration != 500*time.Millisecond {
		t.Errorf("Duration = %v, want 500ms", tr.Duration)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
}

func TestTranscribe_SendsWAVAndFields(t *testing.T) {
	var (
		gotLang   string
		gotPrompt string
		gotFormat audio.Format
		gotBytes  int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotLang = r.FormValue("language")
		gotPrompt = r.FormValue("prompt")
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		pcm, format, err := audio.DecodeWAV(data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotFormat, gotBytes = format, len(pcm)
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "ok"})
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL, whisper.WithLanguage("de"), whisper.WithPrompt("Deal Scanner"))
	u := makeUtterance(200 * time.Millisecond)
	if _, err := p.Transcribe(context.Background(), u); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotLang != "de" {
		t.Errorf("language = %q, want de", gotLang)
	}
	if gotPrompt != "Deal Scanner" {
		t.Errorf("prompt = %q", gotPrompt)
	}
	if gotFormat != (audio.Format{SampleRate: 16000, Channels: 1}) {
		t.Errorf("wav format = %v", gotFormat)
	}
	if gotBytes != len(u.PCM) {
		t.Errorf("wav data = %d bytes, want %d", gotBytes, len(u.PCM))
	}
}

func TestTranscribe_StripsNonSpeechMarkers(t *testing.T) {
	srv := newMockServer(t, " [BLANK_AUDIO] ", nil)
	p, _ := whisper.New(srv.URL)
	tr, err := p.Transcribe(context.Background(), makeUtterance(300*time.Millisecond))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "" || !tr.Empty() {
		t.Errorf("Text = %q, want empty", tr.Text)
	}
}

func TestTranscribe_EmptyAudio_SkipsServer(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "ghost", &calls)
	p, _ := whisper.New(srv.URL)
	tr, err := p.Transcribe(context.Background(), types.Utterance{ID: "x"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "" {
		t.Errorf("Text = %q, want empty", tr.Text)
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times for empty audio", calls.Load())
	}
}

func TestTranscribe_ServerError_IsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), makeUtterance(300*time.Millisecond))
	if !errors.Is(err, stt.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error %q does not mention status", err)
	}
}

func TestTranscribe_ConnectionRefused_IsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, _ := whisper.New(url)
	_, err := p.Transcribe(context.Background(), makeUtterance(300*time.Millisecond))
	if !errors.Is(err, stt.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestTranscribe_MalformedJSON_ReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	_, err := p.Transcribe(context.Background(), makeUtterance(300*time.Millisecond))
	if err == nil {
		t.Fatal("expected error for malformed JSON")
	}
	if errors.Is(err, stt.ErrUnavailable) {
		t.Error("malformed body should not be reported as unavailable")
	}
}

func TestTranscribe_ContextCancelled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Transcribe(ctx, makeUtterance(300*time.Millisecond))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}
