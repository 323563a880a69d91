// Package piper implements tts.Provider by running the Piper neural TTS
// binary once per sentence. Text goes in on stdin and raw 16-bit mono PCM at
// the voice model's native rate comes back on stdout (--output_raw).
//
//	p, _ := piper.New("voices/en_US-lessac-medium.onnx")
//	a, err := p.Synthesize(ctx, "Routing to Deal Scanner.")
package piper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/types"
)

var _ tts.Provider = (*Provider)(nil)

// DefaultCommand runs piper from PATH. {model} is replaced with the model path.
var DefaultCommand = []string{"piper", "--model", "{model}", "--output_raw", "--quiet"}

// defaultSampleRate is the rate of Piper's "medium" and "high" voices.
const defaultSampleRate = 22050

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithCommand replaces the command template.
func WithCommand(cmd []string) Option {
	return func(p *Provider) { p.command = cmd }
}

// WithSampleRate declares the model's output rate. "low" voices use 16000.
func WithSampleRate(rate int) Option {
	return func(p *Provider) { p.sampleRate = rate }
}

// Provider synthesizes speech with the Piper CLI.
type Provider struct {
	model      string
	command    []string
	sampleRate int
}

// New returns a Provider for the given .onnx voice model.
func New(model string, opts ...Option) (*Provider, error) {
	if model == "" {
		return nil, errors.New("piper: model must not be empty")
	}
	p := &Provider{model: model, command: DefaultCommand, sampleRate: defaultSampleRate}
	for _, o := range opts {
		o(p)
	}
	if len(p.command) == 0 {
		return nil, errors.New("piper: command must not be empty")
	}
	if p.sampleRate <= 0 {
		return nil, fmt.Errorf("piper: invalid sample rate %d", p.sampleRate)
	}
	args := make([]string, len(p.command))
	for i, a := range p.command {
		args[i] = strings.ReplaceAll(a, "{model}", model)
	}
	p.command = args
	return p, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) (types.Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Audio{}, nil
	}

	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	cmd.Stdin = strings.NewReader(text + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return types.Audio{}, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		return types.Audio{}, fmt.Errorf("%w: piper: %v: %s", tts.ErrUnavailable, err, msg)
	}

	pcm := stdout.Bytes()
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	return types.Audio{PCM: pcm, SampleRate: p.sampleRate, Channels: 1}, nil
}
