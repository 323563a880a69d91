package playback

import (
	"container/heap"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/types"
)

// ErrStaleEpoch is returned when an operation targets an epoch that has
// already been superseded by [Player.Reset].
var ErrStaleEpoch = errors.New("playback: stale epoch")

// ErrClosed is returned after [Player.Close].
var ErrClosed = errors.New("playback: player closed")

// Segment is one synthesized sentence queued for playback.
type Segment struct {
	// Seq orders segments within an epoch. Obtain it from [Player.Reserve]
	// before synthesis starts so the slot is held in generation order.
	Seq uint64

	// Epoch is the cancellation epoch the segment was produced under.
	Epoch uint64

	// Text is the sentence that was synthesized. Used for logging only.
	Text string

	// Audio is the PCM to play. Empty audio marks a skipped slot (for example
	// after a synthesis failure) and releases later segments without sound.
	Audio types.Audio
}

// Option configures a [Player].
type Option func(*Player)

// WithGap inserts silence between consecutive segments. Default: none.
func WithGap(d time.Duration) Option {
	return func(p *Player) { p.gap = d }
}

// WithOnPlayed registers a callback invoked after every segment that played
// to completion. It runs on the dispatch goroutine and must not block.
func WithOnPlayed(fn func(Segment)) Option {
	return func(p *Player) { p.onPlayed = fn }
}

// Player serializes segments onto an [audio.Sink].
//
// Sequence numbers are allocated from one monotonic counter; Reset moves the
// player to a new epoch and fast-forwards the play cursor past every slot
// reserved so far, so nothing from the old epoch can ever reach the sink.
//
// All methods are safe for concurrent use.
type Player struct {
	sink     audio.Sink
	gap      time.Duration
	onPlayed func(Segment)

	mu         sync.Mutex
	epoch      uint64
	seq        uint64 // next sequence number to hand out
	next       uint64 // next sequence number to play
	queue      segmentHeap
	playing    *Segment
	cancelPlay context.CancelFunc
	changed    chan struct{} // closed and replaced on every state change
	closed     bool

	notify chan struct{}
	done   chan struct{}
}

// New creates a Player writing to sink and starts its dispatch goroutine.
// Call [Player.Close] to stop it.
func New(sink audio.Sink, opts ...Option) *Player {
	p := &Player{
		sink:    sink,
		changed: make(chan struct{}),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	heap.Init(&p.queue)
	go p.dispatch()
	return p
}

// Epoch returns the current playback epoch.
func (p *Player) Epoch() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.epoch
}

// Reserve allocates the next sequence slot in epoch. It fails with
// [ErrStaleEpoch] when epoch is not current.
func (p *Player) Reserve(epoch uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}
	if epoch != p.epoch {
		return 0, ErrStaleEpoch
	}
	s := p.seq
	p.seq++
	return s, nil
}

// Enqueue submits a segment for its reserved slot. Segments from a stale
// epoch, or for slots already passed, are dropped and Enqueue reports false.
func (p *Player) Enqueue(seg Segment) bool {
	p.mu.Lock()
	if p.closed || seg.Epoch != p.epoch || seg.Seq < p.next {
		p.mu.Unlock()
		slog.Debug("playback: dropping stale segment", "seq", seg.Seq, "epoch", seg.Epoch)
		return false
	}
	heap.Push(&p.queue, &seg)
	p.mu.Unlock()

	p.wake()
	return true
}

// Skip releases a reserved slot without playing anything.
func (p *Player) Skip(epoch, seq uint64) {
	p.Enqueue(Segment{Seq: seq, Epoch: epoch})
}

// Reset starts epoch and discards everything older: queued segments are
// dropped, the segment being played is cut off and the sink is flushed.
// Reset returns once the sink has been told to stop.
func (p *Player) Reset(epoch uint64) {
	p.mu.Lock()
	p.epoch = epoch
	p.queue = p.queue[:0]
	p.next = p.seq
	if p.cancelPlay != nil {
		p.cancelPlay()
		p.cancelPlay = nil
	}
	p.broadcastLocked()
	p.mu.Unlock()

	if err := p.sink.Stop(); err != nil {
		slog.Warn("playback: sink stop failed", "err", err)
	}
	p.wake()
}

// Busy reports whether a segment is playing or queued.
func (p *Player) Busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing != nil || len(p.queue) > 0
}

// Wait blocks until every slot up to and including seq in epoch has been
// played or skipped. It returns [ErrStaleEpoch] as soon as the epoch moves on.
func (p *Player) Wait(ctx context.Context, epoch, seq uint64) error {
	for {
		p.mu.Lock()
		switch {
		case p.closed:
			p.mu.Unlock()
			return ErrClosed
		case p.epoch != epoch:
			p.mu.Unlock()
			return ErrStaleEpoch
		case p.next > seq:
			p.mu.Unlock()
			return nil
		}
		ch := p.changed
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the dispatch goroutine. Queued segments are discarded.
func (p *Player) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.queue = p.queue[:0]
	if p.cancelPlay != nil {
		p.cancelPlay()
	}
	p.broadcastLocked()
	p.mu.Unlock()

	close(p.done)
	return nil
}

func (p *Player) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// broadcastLocked wakes every Wait call. Must hold p.mu.
func (p *Player) broadcastLocked() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// dispatch is the single goroutine that talks to the sink.
func (p *Player) dispatch() {
	for {
		seg, ctx, cancel, epoch := p.nextSegment()
		if seg == nil {
			select {
			case <-p.notify:
				continue
			case <-p.done:
				return
			}
		}

		completed := false
		if len(seg.Audio.PCM) > 0 {
			pcm := audio.Convert(seg.Audio.PCM,
				audio.Format{SampleRate: seg.Audio.SampleRate, Channels: seg.Audio.Channels},
				p.sink.Format())
			err := p.sink.Play(ctx, pcm)
			switch {
			case err == nil:
				completed = true
			case errors.Is(err, context.Canceled), errors.Is(err, audio.ErrPlaybackStopped):
			default:
				slog.Warn("playback: sink error", "seq", seg.Seq, "err", err)
			}
		}

		cancel()

		p.mu.Lock()
		stillCurrent := p.epoch == epoch && !p.closed
		if stillCurrent {
			p.next = seg.Seq + 1
		}
		p.playing = nil
		p.cancelPlay = nil
		p.broadcastLocked()
		p.mu.Unlock()

		if completed && stillCurrent && p.onPlayed != nil {
			p.onPlayed(*seg)
		}
		if completed && stillCurrent && p.gap > 0 {
			select {
			case <-time.After(p.gap):
			case <-p.done:
				return
			}
		}
	}
}

// nextSegment pops the segment for the play cursor if it has arrived.
func (p *Player) nextSegment() (*Segment, context.Context, context.CancelFunc, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) > 0 && p.queue[0].Seq < p.next {
		heap.Pop(&p.queue)
	}
	if p.closed || len(p.queue) == 0 || p.queue[0].Seq != p.next {
		return nil, nil, nil, 0
	}
	seg := heap.Pop(&p.queue).(*Segment)
	ctx, cancel := context.WithCancel(context.Background())
	p.playing = seg
	p.cancelPlay = cancel
	return seg, ctx, cancel, p.epoch
}
