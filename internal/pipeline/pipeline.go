// Package pipeline wires capture, recognition, routing, inference, dispatch
// and playback into one hands-free turn cycle.
//
// The [Orchestrator] is the only component that holds cross-component state.
// It owns the cancellation epoch: every unit of work (recognition, an
// inference stream, a dispatch, a synthesized sentence) is started under the
// epoch current at that moment, and [Orchestrator.BargeIn] advances the epoch,
// cancels whatever is in flight and flushes playback. Stale work is dropped
// silently.
//
// Utterances are handled one at a time in boundary order by a single worker,
// while the capture goroutine keeps endpointing the next one. No error ends
// the loop; failures are logged, optionally spoken, and the pipeline returns
// to rest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/jarvis/internal/cmdlog"
	"github.com/MrWong99/jarvis/internal/endpoint"
	"github.com/MrWong99/jarvis/internal/gateway"
	"github.com/MrWong99/jarvis/internal/handoff"
	"github.com/MrWong99/jarvis/internal/inference"
	"github.com/MrWong99/jarvis/internal/memory"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/router"
	"github.com/MrWong99/jarvis/internal/segment"
	"github.com/MrWong99/jarvis/internal/transcript/phonetic"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/audio/playback"
	"github.com/MrWong99/jarvis/pkg/provider/stt"
	"github.com/MrWong99/jarvis/pkg/provider/tts"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
	"github.com/MrWong99/jarvis/pkg/types"
)

// ToneConfig describes the activation and end-of-utterance cues.
type ToneConfig struct {
	Enabled bool

	// ActivationHz is played when listening starts. Default 880.
	ActivationHz float64

	// EndHz is played when an utterance closes. Default 440.
	EndHz float64

	// Duration of each cue. Default 100 ms.
	Duration time.Duration

	// Gain in (0, 1]. Default 0.3.
	Gain float64
}

// Config tunes the orchestrator.
type Config struct {
	Mode router.Mode

	// RouteDetectionChars is the route tag window in conversational mode.
	RouteDetectionChars int

	// Endpoint is the endpointing policy for captured audio.
	Endpoint endpoint.Config

	// DispatchTimeout bounds one gateway call. Zero uses the client default.
	DispatchTimeout time.Duration

	// GraceWindow is how long a dispatch may run before the "still working"
	// notice is spoken. Default 10 s.
	GraceWindow time.Duration

	// BridgeDelay is how long a dispatch may run before the bridge phrase is
	// spoken, so a quick specialist answers in a single segment. Negative
	// speaks the bridge at once. Default 1 s.
	BridgeDelay time.Duration

	// ContextTurns is how many recent turns are sent along with a dispatch.
	// Default 6; negative sends none.
	ContextTurns int

	// RecognizeTimeout bounds one recognition. Default 30 s.
	RecognizeTimeout time.Duration

	// SynthesizeTimeout bounds one sentence synthesis. Default 15 s.
	SynthesizeTimeout time.Duration

	// QueueSize is how many closed utterances may wait for recognition.
	// Further utterances are dropped. Default 4.
	QueueSize int

	// BargeInOnSpeech interrupts a reply as soon as the user starts talking.
	BargeInOnSpeech bool

	// PushToTalk discards captured audio until [Orchestrator.Activate] is
	// called; each activation admits one utterance.
	PushToTalk bool

	// ListenWindow is how long an activation waits for speech in push-to-talk
	// mode. Default 8 s.
	ListenWindow time.Duration

	Tones ToneConfig
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = router.ModeConversational
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = 10 * time.Second
	}
	if c.BridgeDelay == 0 {
		c.BridgeDelay = time.Second
	}
	if c.ContextTurns == 0 {
		c.ContextTurns = 6
	}
	if c.RecognizeTimeout <= 0 {
		c.RecognizeTimeout = 30 * time.Second
	}
	if c.SynthesizeTimeout <= 0 {
		c.SynthesizeTimeout = 15 * time.Second
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 4
	}
	if c.ListenWindow <= 0 {
		c.ListenWindow = 8 * time.Second
	}
	if c.Tones.ActivationHz <= 0 {
		c.Tones.ActivationHz = 880
	}
	if c.Tones.EndHz <= 0 {
		c.Tones.EndHz = 440
	}
	if c.Tones.Duration <= 0 {
		c.Tones.Duration = 100 * time.Millisecond
	}
	if c.Tones.Gain <= 0 {
		c.Tones.Gain = 0.3
	}
}

// Deps are the components the orchestrator drives. Memory, Meta and Agents
// are always required; the rest depend on the mode and on how the pipeline
// is run.
type Deps struct {
	// Source and VAD are needed by [Orchestrator.Run].
	Source audio.Source
	VAD    vad.SessionHandle

	Recognizer stt.Provider

	// Synthesizer and Player speak replies. When Synthesizer is nil replies
	// are written to Out instead.
	Synthesizer tts.Provider
	Player      *playback.Player
	Out         io.Writer

	// Inference answers locally. Required in conversational mode.
	Inference *inference.Engine

	Gateway *gateway.Client
	Memory  *memory.Memory

	// Table is the trigger table. Required in command mode.
	Table *router.Table

	Meta   *router.MetaMatcher
	Agents router.Directory

	// Corrector fixes misheard agent names before routing. Optional.
	Corrector *phonetic.Corrector

	// Handoff receives what could not be spoken. Optional.
	Handoff handoff.Notifier

	// CommandLog records every recognized utterance. Optional.
	CommandLog cmdlog.Sink
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithMetrics records pipeline metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithStateHook registers fn for every state change. fn runs with the
// orchestrator's lock held and must not block or call back into it.
func WithStateHook(fn func(State, Epoch)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

// Orchestrator runs the turn cycle. All exported methods are safe for
// concurrent use.
type Orchestrator struct {
	cfg     Config
	d       Deps
	metrics *observe.Metrics
	onState func(State, Epoch)

	mu         sync.Mutex
	state      State
	epoch      Epoch
	turnID     uint64
	turnCancel context.CancelFunc

	armed    atomic.Bool
	armedAt  atomic.Int64
	outMu    sync.Mutex
	pending  chan types.Utterance
	handoffs sync.WaitGroup
}

// New validates deps for cfg.Mode and returns an orchestrator at rest.
func New(deps Deps, cfg Config, opts ...Option) (*Orchestrator, error) {
	cfg.applyDefaults()
	var errs []error
	if deps.Memory == nil {
		errs = append(errs, errors.New("pipeline: memory is required"))
	}
	if deps.Meta == nil {
		errs = append(errs, errors.New("pipeline: meta matcher is required"))
	}
	if deps.Gateway == nil {
		errs = append(errs, errors.New("pipeline: gateway client is required"))
	}
	switch cfg.Mode {
	case router.ModeCommand:
		if deps.Table == nil {
			errs = append(errs, errors.New("pipeline: command mode needs a trigger table"))
		}
	case router.ModeConversational:
		if deps.Inference == nil {
			errs = append(errs, errors.New("pipeline: conversational mode needs an inference engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("pipeline: unknown mode %q", cfg.Mode))
	}
	if deps.Synthesizer != nil && deps.Player == nil {
		errs = append(errs, errors.New("pipeline: a synthesizer needs a player"))
	}
	if deps.Synthesizer == nil && deps.Out == nil {
		deps.Out = io.Discard
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if deps.Agents == nil {
		deps.Agents = router.DefaultAgents
	}
	if deps.CommandLog == nil {
		deps.CommandLog = cmdlog.Discard{}
	}

	o := &Orchestrator{
		cfg:     cfg,
		d:       deps,
		pending: make(chan types.Utterance, cfg.QueueSize),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.state = o.restState()
	return o, nil
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Epoch returns the current cancellation epoch.
func (o *Orchestrator) Epoch() Epoch {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.epoch
}

// Mode returns the routing mode.
func (o *Orchestrator) Mode() router.Mode { return o.cfg.Mode }

// Run captures audio and handles utterances until ctx ends. It needs
// Deps.Source, Deps.VAD and Deps.Recognizer. Only a capture device failure
// ends Run early.
func (o *Orchestrator) Run(ctx context.Context) error {
	if o.d.Source == nil || o.d.VAD == nil || o.d.Recognizer == nil {
		return errors.New("pipeline: run needs an audio source, a VAD session and a recognizer")
	}
	ep, err := endpoint.New(o.d.VAD, o.cfg.Endpoint, endpoint.WithEventHook(o.onSpeechEvent))
	if err != nil {
		return err
	}
	frames, err := o.d.Source.Start(ctx)
	if err != nil {
		return fmt.Errorf("pipeline: start capture: %w", err)
	}

	slog.Info("pipeline: listening", "mode", o.cfg.Mode, "push_to_talk", o.cfg.PushToTalk)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.capture(ctx, ep, frames) })
	g.Go(func() error { return o.work(ctx) })
	err = g.Wait()
	o.handoffs.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// HandleText runs one turn from already recognized text and returns once the
// reply has been spoken. It is the entry point for text-only operation.
func (o *Orchestrator) HandleText(ctx context.Context, text string) error {
	t := o.beginTurn(ctx)
	defer t.end()
	o.handleTranscript(t, text)
	o.handoffs.Wait()
	return ctx.Err()
}

// BargeIn advances the epoch, cancels the turn in flight, flushes playback
// and returns the pipeline to listening.
func (o *Orchestrator) BargeIn(reason string) {
	start := time.Now()
	e := o.advance()
	o.mu.Lock()
	if o.epoch == e {
		o.setStateLocked(StateListening)
	}
	o.mu.Unlock()
	took := time.Since(start)
	if o.metrics != nil {
		o.metrics.RecordBargeIn(context.Background(), reason, took)
	}
	slog.Info("pipeline: barge-in", "reason", reason, "epoch", e, "took", took)
}

// Activate is a push-to-talk trigger: it interrupts any turn in flight,
// including one still being recognized, plays the activation cue and opens
// the listen window.
func (o *Orchestrator) Activate(source string) {
	if o.inFlight() || (o.d.Player != nil && o.d.Player.Busy()) {
		o.BargeIn("activation:" + source)
	}
	o.armedAt.Store(time.Now().UnixNano())
	o.armed.Store(true)
	o.mu.Lock()
	if o.state == StateIdle {
		o.setStateLocked(StateListening)
	}
	o.mu.Unlock()
	o.cue(o.cfg.Tones.ActivationHz)
	slog.Debug("pipeline: activated", "source", source)
}

// inFlight reports whether a turn is running or a reply is being produced.
func (o *Orchestrator) inFlight() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turnCancel != nil || o.state.producing()
}

// capture endpoints frames and queues closed utterances without ever
// blocking on recognition.
func (o *Orchestrator) capture(ctx context.Context, ep *endpoint.Endpointer, frames <-chan types.AudioFrame) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case f, ok := <-frames:
			if !ok {
				if err := o.d.Source.Err(); err != nil {
					return fmt.Errorf("pipeline: capture: %w", err)
				}
				return nil
			}
			if o.cfg.PushToTalk && !o.admit(ep) {
				continue
			}
			u, err := ep.Push(f)
			if err != nil {
				slog.Warn("pipeline: dropping frame", "err", err)
				continue
			}
			if u == nil {
				continue
			}
			o.armed.Store(false)
			o.cue(o.cfg.Tones.EndHz)
			select {
			case o.pending <- *u:
			default:
				slog.Warn("pipeline: recognizer backlog full, dropping utterance", "utterance", u.ID)
				o.recordUtterance("dropped")
			}
		}
	}
}

// admit gates frames in push-to-talk mode.
func (o *Orchestrator) admit(ep *endpoint.Endpointer) bool {
	if !o.armed.Load() {
		return false
	}
	if !ep.InSpeech() && time.Since(time.Unix(0, o.armedAt.Load())) > o.cfg.ListenWindow {
		o.armed.Store(false)
		ep.Reset()
		o.mu.Lock()
		if !o.state.producing() && o.turnCancel == nil {
			o.setStateLocked(StateIdle)
		}
		o.mu.Unlock()
		slog.Debug("pipeline: listen window expired")
		return false
	}
	return true
}

func (o *Orchestrator) onSpeechEvent(ev endpoint.Event) {
	if ev != endpoint.SpeechStarted || !o.cfg.BargeInOnSpeech {
		return
	}
	if o.State().producing() {
		o.BargeIn("speech")
	}
}

// work handles queued utterances one at a time.
func (o *Orchestrator) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u := <-o.pending:
			o.handleUtterance(ctx, u)
		}
	}
}

// turn is the unit of work started for one utterance or text input.
type turn struct {
	o      *Orchestrator
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc
	id     uint64
	epoch  Epoch
}

func (o *Orchestrator) beginTurn(parent context.Context) *turn {
	t := &turn{o: o, parent: parent}
	o.register(t)
	return t
}

// register attaches a fresh context to t under the current epoch.
func (o *Orchestrator) register(t *turn) {
	ctx, cancel := context.WithCancel(t.parent)
	o.mu.Lock()
	o.turnID++
	t.ctx, t.cancel, t.id, t.epoch = ctx, cancel, o.turnID, o.epoch
	o.turnCancel = cancel
	o.mu.Unlock()
}

// restart advances the epoch and continues t under the new one.
func (t *turn) restart() {
	t.o.advance()
	t.o.register(t)
}

// end releases t and, when it is still current, returns to rest.
func (t *turn) end() {
	t.cancel()
	o := t.o
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.turnID == t.id {
		o.turnCancel = nil
	}
	if o.epoch == t.epoch && o.turnCancel == nil {
		o.setStateLocked(o.restState())
	}
}

// current reports whether t's epoch is still live.
func (t *turn) current() bool {
	return t.ctx.Err() == nil && t.o.Epoch() == t.epoch
}

// setState moves to s if t is still current.
func (t *turn) setState(s State) {
	o := t.o
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.epoch == t.epoch {
		o.setStateLocked(s)
	}
}

// advance moves to a new epoch, cancels the turn in flight and flushes
// playback. It returns the new epoch.
func (o *Orchestrator) advance() Epoch {
	o.mu.Lock()
	o.epoch++
	e := o.epoch
	cancel := o.turnCancel
	o.turnCancel = nil
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if o.d.Player != nil {
		o.d.Player.Reset(e)
	}
	return e
}

func (o *Orchestrator) restState() State {
	if o.cfg.PushToTalk {
		return StateIdle
	}
	return StateListening
}

// setStateLocked must be called with o.mu held.
func (o *Orchestrator) setStateLocked(s State) {
	if o.state == s {
		return
	}
	o.state = s
	if o.metrics != nil {
		o.metrics.PipelineState.Record(context.Background(), int64(s))
	}
	if o.onState != nil {
		o.onState(s, o.epoch)
	}
}

// cue plays a short tone in the current epoch.
func (o *Orchestrator) cue(freq float64) {
	if !o.cfg.Tones.Enabled || o.d.Player == nil {
		return
	}
	e := o.Epoch()
	seq, err := o.d.Player.Reserve(e)
	if err != nil {
		return
	}
	f := audio.Format{SampleRate: 16000, Channels: 1}
	o.d.Player.Enqueue(playback.Segment{
		Seq:   seq,
		Epoch: e,
		Text:  "cue",
		Audio: types.Audio{PCM: audio.Tone(freq, o.cfg.Tones.Duration, f, o.cfg.Tones.Gain), SampleRate: f.SampleRate, Channels: f.Channels},
	})
}

func (o *Orchestrator) recordUtterance(outcome string) {
	if o.metrics != nil {
		o.metrics.RecordUtterance(context.Background(), outcome)
	}
}

// sentences adapts a finished text into a sentence stream for epoch.
func sentences(text string, epoch Epoch) <-chan segment.Sentence {
	parts := segment.Split(text)
	ch := make(chan segment.Sentence, len(parts))
	for _, p := range parts {
		ch <- segment.Sentence{Text: p, Epoch: epoch}
	}
	close(ch)
	return ch
}
