package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/segment"
	"github.com/MrWong99/jarvis/pkg/audio/playback"
	"github.com/MrWong99/jarvis/pkg/types"
)

// say speaks a complete text under t's epoch and waits for it to finish.
func (o *Orchestrator) say(t *turn, text string) {
	if _, err := o.speak(t, sentences(text, t.epoch)); err != nil && !errors.Is(err, errStale) && !errors.Is(err, context.Canceled) {
		observe.Logger(t.ctx).Warn("pipeline: speaking failed", "err", err)
	}
}

// speak synthesizes sentences in order and queues them for playback, keeping
// at most two in the pipeline: sentence k+1 is synthesized while k plays. It
// returns the sentences that were queued and waits until the last has played.
// A superseded epoch ends speak with errStale; nothing from it reaches the
// player.
func (o *Orchestrator) speak(t *turn, in <-chan segment.Sentence) ([]string, error) {
	var (
		spoken []string
		seqs   []uint64
	)
	for {
		var (
			s  segment.Sentence
			ok bool
		)
		select {
		case <-t.ctx.Done():
			return spoken, t.ctx.Err()
		case s, ok = <-in:
		}
		if !ok {
			break
		}
		if s.Epoch != t.epoch || !t.current() {
			return spoken, errStale
		}

		if o.d.Synthesizer == nil {
			o.print(s.Text)
			spoken = append(spoken, s.Text)
			continue
		}

		if k := len(seqs); k >= 2 {
			if err := o.d.Player.Wait(t.ctx, t.epoch, seqs[k-2]); err != nil {
				return spoken, o.speakErr(err)
			}
		}
		seq, err := o.d.Player.Reserve(t.epoch)
		if err != nil {
			return spoken, o.speakErr(err)
		}
		seqs = append(seqs, seq)

		a, err := o.synthesize(t.ctx, s.Text)
		if err != nil {
			o.d.Player.Skip(t.epoch, seq)
			if !t.current() {
				return spoken, errStale
			}
			observe.Logger(t.ctx).Warn("pipeline: synthesis failed, skipping sentence", "seq", seq, "err", err)
			continue
		}
		if !o.d.Player.Enqueue(playback.Segment{Seq: seq, Epoch: t.epoch, Text: s.Text, Audio: a}) {
			return spoken, errStale
		}
		spoken = append(spoken, s.Text)
	}

	if len(seqs) > 0 {
		if err := o.d.Player.Wait(t.ctx, t.epoch, seqs[len(seqs)-1]); err != nil {
			return spoken, o.speakErr(err)
		}
	}
	return spoken, nil
}

func (o *Orchestrator) speakErr(err error) error {
	if errors.Is(err, playback.ErrStaleEpoch) {
		return errStale
	}
	return err
}

func (o *Orchestrator) synthesize(ctx context.Context, text string) (types.Audio, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.SynthesizeTimeout)
	defer cancel()
	start := time.Now()
	a, err := o.d.Synthesizer.Synthesize(ctx, text)
	if o.metrics != nil {
		o.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		return types.Audio{}, fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	return a, nil
}

// print writes a reply line in text-only mode.
func (o *Orchestrator) print(text string) {
	o.outMu.Lock()
	defer o.outMu.Unlock()
	fmt.Fprintf(o.d.Out, "[jarvis] %s\n", text)
}
