package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrWong99/jarvis/internal/cmdlog"
	"github.com/MrWong99/jarvis/internal/memory"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/router"
	"github.com/MrWong99/jarvis/internal/segment"
	"github.com/MrWong99/jarvis/pkg/types"
)

// outcome is what a turn did, for the command log and metrics.
type outcome struct {
	decision string
	agentID  string
	response string
	metric   string
}

func (o *Orchestrator) handleUtterance(ctx context.Context, u types.Utterance) {
	t := o.beginTurn(ctx)
	defer t.end()
	log := observe.Logger(t.ctx).With("utterance", u.ID, "epoch", t.epoch)

	t.setState(StateRecognizing)
	text, err := o.recognize(t.ctx, u)
	switch {
	case !t.current():
		return
	case errors.Is(err, ErrNoSpeech):
		log.Debug("pipeline: no speech in utterance", "duration", u.Duration)
		o.recordUtterance("empty")
		return
	case err != nil:
		log.Warn("pipeline: recognition failed", "err", err)
		o.recordUtterance("failed")
		o.say(t, phraseNotCaught)
		return
	}
	o.handleTranscript(t, text)
}

// recognize classifies the recognizer result into text, [ErrNoSpeech] or
// [ErrEngineUnavailable].
func (o *Orchestrator) recognize(ctx context.Context, u types.Utterance) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RecognizeTimeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "pipeline.recognize")
	defer span.End()

	start := time.Now()
	tr, err := o.d.Recognizer.Transcribe(ctx, u)
	if o.metrics != nil {
		o.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err != nil {
		observe.SpanError(span, err)
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: %w", ErrEngineUnavailable, err)
	}
	if tr.Empty() {
		return "", ErrNoSpeech
	}
	return strings.TrimSpace(tr.Text), nil
}

// handleTranscript routes one transcript and speaks the result.
func (o *Orchestrator) handleTranscript(t *turn, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		o.recordUtterance("empty")
		return
	}
	log := observe.Logger(t.ctx).With("epoch", t.epoch)
	if o.d.Corrector != nil {
		if fixed, corrections := o.d.Corrector.Correct(text); len(corrections) > 0 {
			log.Info("pipeline: corrected agent names", "from", text, "to", fixed, "corrections", len(corrections))
			text = fixed
		}
	}
	log.Info("pipeline: heard", "text", text)
	t.setState(StateRouting)

	var out outcome
	if cmd := o.d.Meta.Match(text); cmd != router.CommandNone {
		out = o.handleMeta(t, cmd)
	} else if o.cfg.Mode == router.ModeCommand {
		out = o.command(t, text)
	} else {
		out = o.converse(t, text)
	}

	o.recordUtterance(out.metric)
	rec := cmdlog.NewRecord(text, out.decision, out.agentID, string(o.cfg.Mode), out.response)
	if err := o.d.CommandLog.Append(context.WithoutCancel(t.parent), rec); err != nil {
		log.Warn("pipeline: command log append failed", "err", err)
	}
}

// handleMeta executes a meta-command. Meta-commands never reach the
// reasoning engine or the gateway.
func (o *Orchestrator) handleMeta(t *turn, cmd router.Command) outcome {
	out := outcome{decision: "meta:" + cmd.String(), metric: "meta"}
	mem := o.d.Memory
	switch cmd {
	case router.CommandClear:
		mem.Clear()
		t.restart()
		out.response = phraseCleared
	case router.CommandForget:
		mem.DropLastExchange()
		t.restart()
		out.response = phraseForgotten
	case router.CommandRepeatUser:
		if turn, ok := mem.LastOf(memory.RoleUser); ok {
			out.response = fmt.Sprintf(repeatQuestionFormat, turn.Text)
		} else {
			out.response = phraseNoQuestions
		}
	case router.CommandRepeatAssistant:
		if turn, ok := mem.LastOf(memory.RoleAssistant); ok {
			out.response = unrouted(turn.Text)
		} else {
			out.response = phraseNothingSaid
		}
	}
	o.say(t, out.response)
	return out
}

// command routes through the trigger table.
func (o *Orchestrator) command(t *turn, text string) outcome {
	d, ok := o.d.Table.Match(text)
	if !ok {
		o.recordRoute(router.Local())
		o.say(t, phraseWhichAgent)
		return outcome{decision: d.String(), response: phraseWhichAgent, metric: "unmatched"}
	}
	o.d.Memory.AppendUser(text)
	return o.dispatch(t, d, fmt.Sprintf(commandBridgeFormat, o.d.Agents.Name(d.AgentID)))
}

// converse streams a local answer, unless its first line is a route tag.
func (o *Orchestrator) converse(t *turn, text string) outcome {
	log := observe.Logger(t.ctx).With("epoch", t.epoch)
	o.d.Memory.AppendUser(text)
	t.setState(StateAnswering)

	stream, err := o.d.Inference.Start(t.ctx, o.d.Memory.Snapshot())
	if err != nil {
		if !t.current() {
			return outcome{decision: "cancelled", metric: "cancelled"}
		}
		log.Warn("pipeline: inference unavailable", "err", err)
		o.say(t, phraseNoEngines)
		return outcome{decision: router.Local().String(), response: phraseNoEngines, metric: "failed"}
	}
	defer stream.Cancel()

	det := router.NewDetector(o.cfg.RouteDetectionChars)
	verdict := router.Undecided
	for verdict == router.Undecided {
		select {
		case <-t.ctx.Done():
			return outcome{decision: "cancelled", metric: "cancelled"}
		case delta, ok := <-stream.Deltas():
			if !ok {
				verdict = det.Finish()
				continue
			}
			verdict = det.Feed(delta)
		}
	}
	if err := det.Err(); err != nil {
		log.Warn("pipeline: ignoring malformed route tag", "err", err)
	}

	if verdict == router.VerdictRoute {
		stream.Cancel()
		d := det.Decision()
		if d.Query == "" {
			d.Query = text
		}
		return o.dispatch(t, d, bridgePhrase(o.d.Agents.Name(d.AgentID)))
	}

	o.recordRoute(router.Local())
	sctx, scancel := context.WithCancel(t.ctx)
	defer scancel()
	feed := make(chan string, 8)
	go func() {
		defer close(feed)
		send := func(s string) bool {
			select {
			case feed <- s:
				return true
			case <-sctx.Done():
				return false
			}
		}
		if !send(det.Buffered()) {
			return
		}
		for d := range stream.Deltas() {
			if !send(d) {
				return
			}
		}
	}()
	sentences := make(chan segment.Sentence, 4)
	go func() {
		defer close(sentences)
		_ = segment.New().Run(sctx, t.epoch, feed, sentences)
	}()

	t.setState(StateSpeaking)
	spoken, _ := o.speak(t, sentences)
	scancel()
	stream.Cancel()
	<-stream.Done()

	reply := strings.TrimSpace(stream.Text())
	switch {
	case !t.current():
		// A superseded turn discards its reply; memory keeps only the question.
		return outcome{decision: "local", response: strings.Join(spoken, " "), metric: "interrupted"}
	case reply == "":
		log.Warn("pipeline: inference produced nothing", "err", stream.Err())
		o.say(t, phraseNoEngines)
		return outcome{decision: "local", response: phraseNoEngines, metric: "failed"}
	}
	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("pipeline: inference stream ended early", "err", err)
	}
	o.d.Memory.AppendAssistant(reply)
	return outcome{decision: "local", response: reply, metric: "local"}
}

func (o *Orchestrator) recordRoute(d router.Decision) {
	if o.metrics != nil {
		o.metrics.RecordRoute(context.Background(), d.Kind.String(), d.AgentID)
	}
}
