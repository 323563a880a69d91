// Package app wires all jarvis subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the capture loop, the activation sources and the
// control server, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSource,
// WithTransport, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/jarvis/internal/activation"
	"github.com/MrWong99/jarvis/internal/cmdlog"
	"github.com/MrWong99/jarvis/internal/cmdlog/postgres"
	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/internal/endpoint"
	"github.com/MrWong99/jarvis/internal/gateway"
	"github.com/MrWong99/jarvis/internal/gateway/mcpgw"
	"github.com/MrWong99/jarvis/internal/handoff"
	"github.com/MrWong99/jarvis/internal/handoff/discord"
	"github.com/MrWong99/jarvis/internal/health"
	"github.com/MrWong99/jarvis/internal/inference"
	"github.com/MrWong99/jarvis/internal/memory"
	"github.com/MrWong99/jarvis/internal/memory/redisstore"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/pipeline"
	"github.com/MrWong99/jarvis/internal/resilience"
	"github.com/MrWong99/jarvis/internal/router"
	"github.com/MrWong99/jarvis/internal/transcript/phonetic"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/audio/execdev"
	"github.com/MrWong99/jarvis/pkg/audio/playback"
	"github.com/MrWong99/jarvis/pkg/provider/vad"
)

// App owns all subsystem lifetimes and runs the jarvis voice pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Injected or created in New.
	telemetry *observe.Telemetry
	metrics   *observe.Metrics
	store     memory.Store
	memory    *memory.Memory
	transport gateway.Transport
	gateway   *gateway.Client
	notifier  handoff.Notifier
	cmdlog    cmdlog.Sink
	source    audio.Source
	sink      audio.Sink
	player    *playback.Player
	vadSess   vad.SessionHandle
	hub       *activation.Hub
	health    *health.Handler
	orch      *pipeline.Orchestrator

	textOut io.Writer
	capture bool
	stdin   io.Reader

	checkers []health.Checker
	server   *http.Server

	addrMu   sync.Mutex
	listener net.Listener

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects the capture device instead of spawning the capture
// command.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithSink injects the playback device instead of spawning the playback
// command.
func WithSink(s audio.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithTransport injects the gateway transport.
func WithTransport(t gateway.Transport) Option {
	return func(a *App) { a.transport = t }
}

// WithMemoryStore injects the memory store instead of the configured one.
func WithMemoryStore(s memory.Store) Option {
	return func(a *App) { a.store = s }
}

// WithNotifier injects the hand-off notifier.
func WithNotifier(n handoff.Notifier) Option {
	return func(a *App) { a.notifier = n }
}

// WithCommandLog injects the command log sink.
func WithCommandLog(s cmdlog.Sink) Option {
	return func(a *App) { a.cmdlog = s }
}

// WithTelemetry injects the telemetry providers instead of creating them.
func WithTelemetry(t *observe.Telemetry) Option {
	return func(a *App) { a.telemetry = t }
}

// WithTextOutput disables speech synthesis; replies are written to w.
func WithTextOutput(w io.Writer) Option {
	return func(a *App) { a.textOut = w }
}

// WithoutCapture builds the pipeline without audio capture. Only
// [App.HandleText] can drive it.
func WithoutCapture() Option {
	return func(a *App) { a.capture = false }
}

// WithStdin replaces os.Stdin as the push-to-talk reader.
func WithStdin(r io.Reader) Option {
	return func(a *App) { a.stdin = r }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers come
// from [BuildProviders]. New performs all initialisation synchronously:
// telemetry, memory restore, gateway connection, hand-off and command log
// sinks, audio devices and the orchestrator.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		capture:   true,
		stdin:     os.Stdin,
	}
	for _, o := range opts {
		o(a)
	}

	// Registered first so the telemetry closer runs last.
	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"telemetry", a.initTelemetry},
		{"memory", a.initMemory},
		{"gateway", a.initGateway},
		{"handoff", a.initHandoff},
		{"cmdlog", a.initCommandLog},
		{"audio", a.initAudio},
		{"pipeline", a.initPipeline},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			a.closeAll()
			return nil, fmt.Errorf("app: init %s: %w", s.name, err)
		}
	}
	a.initControl()
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initTelemetry(ctx context.Context) error {
	if a.telemetry == nil {
		tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName: a.cfg.Observe.ServiceName,
		})
		if err != nil {
			return err
		}
		a.telemetry = tel
		a.closers = append(a.closers, func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return tel.Shutdown(ctx)
		})
	}
	m, err := observe.NewMetrics(a.telemetry.MeterProvider)
	if err != nil {
		return err
	}
	a.metrics = m
	return nil
}

// initMemory restores the rolling history from the configured store. A store
// that cannot be read is logged and the conversation starts empty.
func (a *App) initMemory(ctx context.Context) error {
	mc := a.cfg.Memory
	if a.store == nil {
		switch mc.Store {
		case config.MemoryStoreFile:
			a.store = memory.NewFileStore(mc.Path)
		case config.MemoryStoreRedis:
			rs, err := redisstore.New(ctx, redisstore.Config{
				Addr:     mc.Redis.Addr,
				Password: mc.Redis.Password,
				DB:       mc.Redis.DB,
				Key:      mc.Redis.Key,
				TTL:      mc.Redis.TTL,
			})
			if err != nil {
				return err
			}
			a.store = rs
			a.closers = append(a.closers, rs.Close)
			a.checkers = append(a.checkers, health.Ping("memory", rs))
		}
	}

	var opts []memory.Option
	if a.store != nil {
		opts = append(opts, memory.WithStore(a.store))
	}
	a.memory = memory.New(mc.MaxTurns, opts...)
	if err := a.memory.Restore(ctx); err != nil {
		slog.Warn("memory: restore failed, starting empty", "store", mc.Store, "err", err)
	}
	return nil
}

func (a *App) initGateway(ctx context.Context) error {
	gc := a.cfg.Gateway
	if a.transport == nil {
		switch gc.Transport {
		case config.GatewayMCP:
			t, err := mcpgw.Connect(ctx, mcpgw.Config{
				Command: gc.MCP.Command,
				URL:     gc.MCP.URL,
				Env:     gc.MCP.Env,
				Tool:    gc.MCP.Tool,
			})
			if err != nil {
				return err
			}
			a.transport = t
			a.closers = append(a.closers, t.Close)
		default:
			t, err := gateway.NewHTTP(gc.URL, gc.Token)
			if err != nil {
				return err
			}
			a.transport = t
			a.checkers = append(a.checkers, health.HTTP("gateway", gc.URL, nil))
		}
	}

	a.gateway = gateway.New(a.transport, gateway.Config{
		Timeout:          gc.Timeout,
		MaxWords:         gc.MaxWords,
		TruncationNotice: gc.TruncationNotice,
		RatePerMinute:    gc.RatePerMinute,
		Burst:            gc.Burst,
		Breaker:          a.breakerConfig("gateway", gc.Breaker),
	}, gateway.WithMetrics(a.metrics))
	return nil
}

// breakerConfig converts a config block and reports state changes to the
// log and the breaker gauge.
func (a *App) breakerConfig(name string, bc config.BreakerConfig) resilience.CircuitBreakerConfig {
	m := a.metrics
	return resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  bc.MaxFailures,
		ResetTimeout: bc.ResetTimeout,
		HalfOpenMax:  bc.HalfOpenMax,
		OnStateChange: func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from, "to", to)
			m.RecordBreakerState(context.Background(), name, int64(to))
		},
	}
}

func (a *App) initHandoff(context.Context) error {
	if a.notifier != nil {
		return nil
	}
	hc := a.cfg.Handoff
	var ns handoff.Multi
	if hc.Discord.Enabled() {
		d, err := discord.New(hc.Discord.Token, hc.Discord.ChannelID)
		if err != nil {
			return err
		}
		ns = append(ns, d)
	}
	if hc.Log {
		ns = append(ns, handoff.NewLog(slog.Default()))
	}
	switch len(ns) {
	case 0:
	case 1:
		a.notifier = ns[0]
	default:
		a.notifier = ns
	}
	return nil
}

func (a *App) initCommandLog(ctx context.Context) error {
	if a.cmdlog != nil {
		return nil
	}
	cc := a.cfg.CommandLog
	switch cc.Sink {
	case config.CommandLogJSONL:
		s, err := cmdlog.OpenJSONL(cc.Path)
		if err != nil {
			return err
		}
		a.cmdlog = s
		a.closers = append(a.closers, s.Close)
	case config.CommandLogPostgres:
		s, err := postgres.New(ctx, cc.PostgresDSN)
		if err != nil {
			return err
		}
		a.cmdlog = s
		a.closers = append(a.closers, s.Close)
		a.checkers = append(a.checkers, health.Ping("cmdlog", s))
	}
	return nil
}

// initAudio opens the capture and playback devices the run mode needs.
func (a *App) initAudio(context.Context) error {
	ac := a.cfg.Audio
	if a.capture {
		if a.providers.VAD == nil || a.providers.STT == nil {
			return errors.New("audio capture needs a VAD engine and a recognizer")
		}
		if a.source == nil {
			src, err := execdev.NewSource(
				audio.Format{SampleRate: ac.SampleRate, Channels: 1},
				time.Duration(ac.FrameMs)*time.Millisecond,
				ac.CaptureCommand,
			)
			if err != nil {
				return err
			}
			a.source = src
		}
		a.closers = append(a.closers, a.source.Close)
		a.checkers = append(a.checkers, health.Flag("capture", func() bool {
			return a.source.Err() == nil
		}, "audio capture stopped"))

		sess, err := a.providers.VAD.NewSession(vad.Config{
			SampleRate:       ac.SampleRate,
			FrameSizeMs:      ac.FrameMs,
			SpeechThreshold:  a.cfg.VAD.SpeechThreshold,
			SilenceThreshold: a.cfg.VAD.SilenceThreshold,
		})
		if err != nil {
			return fmt.Errorf("open vad session: %w", err)
		}
		a.vadSess = sess
		a.closers = append(a.closers, sess.Close)
	}

	if a.textOut != nil || a.providers.TTS == nil {
		return nil
	}
	if a.sink == nil {
		sink, err := execdev.NewSink(audio.Format{SampleRate: ac.PlaybackSampleRate, Channels: 1}, ac.PlaybackCommand)
		if err != nil {
			return err
		}
		a.sink = sink
	}
	a.player = playback.New(a.sink)
	// Closers run in reverse: the player stops writing before the sink closes.
	a.closers = append(a.closers, a.sink.Close, a.player.Close)
	return nil
}

func (a *App) initPipeline(context.Context) error {
	rc := a.cfg.Router
	agents := router.DefaultAgents.Merge(rc.Agents)

	deps := pipeline.Deps{
		Source:     a.source,
		VAD:        a.vadSess,
		Recognizer: a.providers.STT,
		Player:     a.player,
		Out:        a.textOut,
		Gateway:    a.gateway,
		Memory:     a.memory,
		Meta:       router.NewMetaMatcher(rc.Meta),
		Agents:     agents,
		Handoff:    a.notifier,
		CommandLog: a.cmdlog,
	}
	if a.player != nil {
		deps.Synthesizer = a.providers.TTS
	}
	if rc.Mode == router.ModeCommand {
		table, err := router.NewTable(rc.Triggers)
		if err != nil {
			return err
		}
		deps.Table = table
	}
	if a.providers.LLM != nil {
		ic := a.cfg.Inference
		deps.Inference = inference.New(a.providers.LLM, inference.Config{
			SystemPrompt: ic.SystemPrompt,
			Temperature:  ic.Temperature,
			MaxTokens:    ic.MaxTokens,
			Timeout:      ic.Timeout,
		}, inference.WithMetrics(a.metrics), inference.WithProviderName(a.providers.LLMName))
	}
	if rc.PhoneticCorrection {
		deps.Corrector = phonetic.NewCorrector(agents.Names())
	}

	ac, pc, vc := a.cfg.Audio, a.cfg.Pipeline, a.cfg.VAD
	cfg := pipeline.Config{
		Mode:                rc.Mode,
		RouteDetectionChars: rc.RouteDetectionChars,
		Endpoint: endpoint.Config{
			OnsetFrames:    vc.OnsetFrames,
			SilenceTimeout: vc.SilenceTimeout,
			MaxUtterance:   vc.MaxUtterance,
			MinUtterance:   vc.MinUtterance,
		},
		DispatchTimeout:   a.cfg.Gateway.Timeout,
		GraceWindow:       a.cfg.Gateway.GraceWindow,
		BridgeDelay:       a.cfg.Gateway.BridgeDelay,
		ContextTurns:      a.cfg.Gateway.ContextTurns,
		RecognizeTimeout:  pc.RecognizeTimeout,
		SynthesizeTimeout: pc.SynthesizeTimeout,
		QueueSize:         pc.QueueSize,
		BargeInOnSpeech:   pc.BargeInOnSpeech,
		PushToTalk:        pc.PushToTalk,
		ListenWindow:      pc.ListenWindow,
		Tones: pipeline.ToneConfig{
			Enabled:      ac.Beeps.Enabled,
			ActivationHz: ac.Beeps.ActivationHz,
			EndHz:        ac.Beeps.EndHz,
			Duration:     ac.Beeps.Duration,
			Gain:         ac.Beeps.Gain,
		},
	}

	a.hub = activation.NewHub(1)
	orch, err := pipeline.New(deps, cfg,
		pipeline.WithMetrics(a.metrics),
		pipeline.WithStateHook(func(s pipeline.State, e pipeline.Epoch) {
			a.hub.PublishState(s.String(), e)
		}),
	)
	if err != nil {
		return err
	}
	a.orch = orch
	return nil
}

// initControl builds the control server: activation, events, health and
// metrics on one mux.
func (a *App) initControl() {
	if llmURL := a.providers.LLMHealthURL; llmURL != "" {
		a.checkers = append(a.checkers, health.HTTP("llm", llmURL, nil))
	}
	a.checkers = append(a.checkers, a.providers.breakerChecks()...)
	a.health = health.New(a.checkers...)

	if a.cfg.Server.ListenAddr == config.ListenOff {
		return
	}
	mux := http.NewServeMux()
	a.health.Register(mux)
	mux.Handle("GET /metrics", a.telemetry.Handler())
	mux.Handle("/v1/", a.hub.Handler())

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Orchestrator returns the pipeline orchestrator.
func (a *App) Orchestrator() *pipeline.Orchestrator { return a.orch }

// Memory returns the conversation memory.
func (a *App) Memory() *memory.Memory { return a.memory }

// Health returns the readiness handler.
func (a *App) Health() *health.Handler { return a.health }

// Addr returns the control server's bound address once Run is listening, or
// nil.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts capture, the activation sources and the control server, and
// blocks until ctx is cancelled or capture fails.
func (a *App) Run(ctx context.Context) error {
	if !a.capture {
		return errors.New("app: built without audio capture")
	}

	var ln net.Listener
	if a.server != nil {
		var err error
		ln, err = net.Listen("tcp", a.server.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
		}
		a.addrMu.Lock()
		a.listener = ln
		a.addrMu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.orch.Run(ctx)
	})
	g.Go(func() error {
		a.forwardTriggers(ctx)
		return nil
	})
	if a.cfg.Activation.Stdin {
		g.Go(func() error {
			if err := a.hub.WatchReader(ctx, a.stdin); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("activation: stdin watcher stopped", "err", err)
			}
			return nil
		})
	}
	if a.cfg.Activation.Signal && len(activationSignals) > 0 {
		g.Go(func() error {
			return a.hub.WatchSignals(ctx, activationSignals...)
		})
	}
	if a.server != nil {
		g.Go(func() error {
			slog.Info("control server listening", "addr", ln.Addr().String())
			if err := a.server.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: control server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	slog.Info("jarvis running",
		"mode", a.cfg.Router.Mode,
		"memory_turns", a.memory.Len(),
		"push_to_talk", a.cfg.Pipeline.PushToTalk,
	)
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// forwardTriggers turns hub activations into push-to-talk activations.
func (a *App) forwardTriggers(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-a.hub.Triggers():
			a.orch.Activate(string(t.Source))
		}
	}
}

// HandleText runs one turn from text, bypassing capture and recognition.
func (a *App) HandleText(ctx context.Context, text string) error {
	return a.orch.HandleText(ctx, text)
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Warn("control server shutdown error", "err", err)
			}
		}
		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// closeAll releases whatever New managed to open before failing.
func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Debug("closer error during failed init", "index", i, "err", err)
		}
	}
	a.closers = nil
}
