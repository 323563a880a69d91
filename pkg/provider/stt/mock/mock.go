// Package mock provides a test double for stt.Provider.
//
//	p := &mock.Provider{Text: "check system status"}
//	tr, _ := p.Transcribe(ctx, utt)
package mock

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/types"
)

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Text is returned as the transcript for every call, unless Texts has
	// an entry for the call index.
	Text string

	// Texts, if set, supplies per-call results in order.
	Texts []string

	// Confidence is reported on every transcript.
	Confidence float64

	// Err, if non-nil, is returned instead of a transcript.
	Err error

	// Delay blocks each call (respecting ctx) to simulate engine latency.
	Delay time.Duration

	// Calls records every utterance passed to Transcribe.
	Calls []types.Utterance
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, u types.Utterance) (types.Transcript, error) {
	p.mu.Lock()
	idx := len(p.Calls)
	p.Calls = append(p.Calls, u)
	text := p.Text
	if idx < len(p.Texts) {
		text = p.Texts[idx]
	}
	err, delay, conf := p.Err, p.Delay, p.Confidence
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return types.Transcript{}, ctx.Err()
		}
	}
	if err != nil {
		return types.Transcript{}, err
	}
	return types.Transcript{Text: text, Confidence: conf, Duration: u.Duration, UtteranceID: u.ID}, nil
}

// CallCount returns the number of Transcribe calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Utterances returns a copy of the utterances passed to Transcribe, in call
// order.
func (p *Provider) Utterances() []types.Utterance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.Calls)
}

var _ stt.Provider = (*Provider)(nil)
