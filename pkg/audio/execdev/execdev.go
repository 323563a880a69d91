// Package execdev implements [audio.Source] and [audio.Sink] by running the
// host's audio tools as subprocesses and exchanging raw s16le PCM over their
// stdio pipes.
//
// Capture defaults to ALSA's arecord and playback to aplay; any tool that can
// read or write raw PCM works (ffmpeg, sox, parec/pacat). Command templates may
// contain the placeholders {rate} and {channels}.
//
//	src, _ := execdev.NewSource(audio.Format{SampleRate: 16000, Channels: 1}, 30*time.Millisecond, nil)
//	frames, _ := src.Start(ctx)
package execdev

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/types"
)

// Default command templates.
var (
	DefaultCaptureCommand  = []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}"}
	DefaultPlaybackCommand = []string{"aplay", "-q", "-t", "raw", "-f", "S16_LE", "-r", "{rate}", "-c", "{channels}"}
)

// expand substitutes the format placeholders in a command template.
func expand(tmpl []string, f audio.Format) []string {
	r := strings.NewReplacer("{rate}", strconv.Itoa(f.SampleRate), "{channels}", strconv.Itoa(f.Channels))
	out := make([]string, len(tmpl))
	for i, a := range tmpl {
		out[i] = r.Replace(a)
	}
	return out
}

// ─── Source ──────────────────────────────────────────────────────────────────

// Source captures audio from a subprocess's stdout.
type Source struct {
	format    audio.Format
	frameSize time.Duration
	command   []string
	name      string

	mu      sync.Mutex
	cmd     *exec.Cmd
	started bool
	err     error
	cancel  context.CancelFunc
}

// NewSource returns a capture source producing frames of frameSize in format
// f. A nil command uses [DefaultCaptureCommand].
func NewSource(f audio.Format, frameSize time.Duration, command []string) (*Source, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("execdev: invalid capture format %v", f)
	}
	if frameSize <= 0 {
		return nil, errors.New("execdev: frame size must be positive")
	}
	if len(command) == 0 {
		command = DefaultCaptureCommand
	}
	return &Source{format: f, frameSize: frameSize, command: expand(command, f), name: "mic"}, nil
}

// Start implements [audio.Source].
func (s *Source) Start(ctx context.Context) (<-chan types.AudioFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, errors.New("execdev: source already started")
	}
	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, s.command[0], s.command[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("execdev: capture stdout: %w", err)
	}
	stderr, _ := cmd.StderrPipe()
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("execdev: start %s: %w", s.command[0], err)
	}
	s.cmd, s.cancel, s.started = cmd, cancel, true

	if stderr != nil {
		go logStderr(stderr, s.command[0])
	}

	out := make(chan types.AudioFrame, 64)
	go s.readLoop(ctx, stdout, out)
	return out, nil
}

// readLoop slices the raw stream into fixed-size frames. It never blocks on
// a slow consumer: when out is full the oldest frame is dropped.
func (s *Source) readLoop(ctx context.Context, r io.Reader, out chan types.AudioFrame) {
	defer close(out)
	frameBytes := s.format.BytesPer(s.frameSize)
	reader := bufio.NewReaderSize(r, 64*1024)
	var offset time.Duration

	for {
		buf := make([]byte, frameBytes)
		if _, err := io.ReadFull(reader, buf); err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				s.setErr(fmt.Errorf("execdev: read capture: %w", err))
			} else if ctx.Err() == nil {
				s.setErr(fmt.Errorf("execdev: %s exited", s.command[0]))
			}
			_ = s.cmd.Wait()
			return
		}
		frame := types.AudioFrame{
			Data:       buf,
			SampleRate: s.format.SampleRate,
			Channels:   s.format.Channels,
			Timestamp:  offset,
			Source:     s.name,
		}
		offset += s.frameSize

		select {
		case out <- frame:
		default:
			select {
			case <-out:
			default:
			}
			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *Source) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

// Format implements [audio.Source].
func (s *Source) Format() audio.Format { return s.format }

// Err implements [audio.Source].
func (s *Source) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close implements [audio.Source].
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

// ─── Sink ────────────────────────────────────────────────────────────────────

// chunkDuration is how much audio is written to the player per step. Play
// checks for cancellation between chunks.
const chunkDuration = 20 * time.Millisecond

// Sink plays audio through a subprocess reading raw PCM on stdin. The process
// is started lazily and killed by Stop, which is the only reliable way to
// discard what the tool has already buffered.
type Sink struct {
	format  audio.Format
	command []string

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	gen    uint64 // incremented by every Stop
	closed bool
}

// NewSink returns a playback sink for format f. A nil command uses
// [DefaultPlaybackCommand].
func NewSink(f audio.Format, command []string) (*Sink, error) {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return nil, fmt.Errorf("execdev: invalid playback format %v", f)
	}
	if len(command) == 0 {
		command = DefaultPlaybackCommand
	}
	return &Sink{format: f, command: expand(command, f)}, nil
}

// ensureProcess starts the player if it is not running. Must hold s.mu.
func (s *Sink) ensureProcess() error {
	if s.cmd != nil {
		return nil
	}
	cmd := exec.Command(s.command[0], s.command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("execdev: playback stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("execdev: start %s: %w", s.command[0], err)
	}
	s.cmd, s.stdin = cmd, stdin
	return nil
}

// killLocked terminates the player. Must hold s.mu.
func (s *Sink) killLocked() {
	if s.cmd == nil {
		return
	}
	_ = s.stdin.Close()
	_ = s.cmd.Process.Kill()
	cmd := s.cmd
	go func() { _ = cmd.Wait() }()
	s.cmd, s.stdin = nil, nil
}

// Play implements [audio.Sink]. Writes are paced to real time so Play returns
// roughly when the audio has finished sounding.
func (s *Sink) Play(ctx context.Context, pcm []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return audio.ErrDeviceClosed
	}
	if err := s.ensureProcess(); err != nil {
		s.mu.Unlock()
		return err
	}
	gen, stdin := s.gen, s.stdin
	s.mu.Unlock()

	chunk := s.format.BytesPer(chunkDuration)
	start := time.Now()
	var written time.Duration

	for off := 0; off < len(pcm); off += chunk {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.stoppedSince(gen) {
			return audio.ErrPlaybackStopped
		}
		end := min(off+chunk, len(pcm))
		if _, err := stdin.Write(pcm[off:end]); err != nil {
			if s.stoppedSince(gen) {
				return audio.ErrPlaybackStopped
			}
			s.mu.Lock()
			s.killLocked()
			s.mu.Unlock()
			return fmt.Errorf("execdev: write playback: %w", err)
		}
		written += s.format.Duration(pcm[off:end])
		// Stay at most a few chunks ahead of the wall clock.
		if ahead := written - time.Since(start) - 3*chunkDuration; ahead > 0 {
			select {
			case <-time.After(ahead):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if rest := written - time.Since(start); rest > 0 {
		select {
		case <-time.After(rest):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.stoppedSince(gen) {
		return audio.ErrPlaybackStopped
	}
	return nil
}

func (s *Sink) stoppedSince(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen
}

// Stop implements [audio.Sink].
func (s *Sink) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.killLocked()
	return nil
}

// Format implements [audio.Sink].
func (s *Sink) Format() audio.Format { return s.format }

// Close implements [audio.Sink].
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.killLocked()
	return nil
}

func logStderr(r io.Reader, tool string) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			slog.Warn("execdev: audio tool", "tool", tool, "msg", line)
		}
	}
}

var (
	_ audio.Source = (*Source)(nil)
	_ audio.Sink   = (*Sink)(nil)
)
