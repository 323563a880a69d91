// Package audio holds the PCM primitives shared by the capture and playback
// paths: the [Source] and [Sink] device contracts, format conversion, WAV
// framing and activation tones.
//
// Concrete devices live in sub-packages (audio/execdev drives the system's
// audio tools as subprocesses). The pipeline depends on the interfaces only.
package audio

import (
	"context"
	"errors"

	"github.com/MrWong99/jarvis/pkg/types"
)

// ErrDeviceClosed is returned by devices used after Close.
var ErrDeviceClosed = errors.New("audio: device closed")

// Source is a microphone-like capture device.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Start begins capture and returns a channel that receives one
	// [types.AudioFrame] per frame period. The channel is closed when ctx is
	// cancelled, Close is called, or the device fails. Start may be called
	// only once per Source.
	Start(ctx context.Context) (<-chan types.AudioFrame, error)

	// Format is the format of every frame the source produces.
	Format() Format

	// Err returns the error that terminated capture, if any.
	Err() error

	Close() error
}

// Sink is a speaker-like playback device.
//
// Implementations must be safe for concurrent use, in particular Stop may be
// called from any goroutine while Play is blocked.
type Sink interface {
	// Play writes pcm (in the sink's [Format]) to the device and blocks until
	// it has been played, ctx is cancelled, or Stop is called. A cancelled
	// or stopped Play returns ctx.Err() or [ErrPlaybackStopped].
	Play(ctx context.Context, pcm []byte) error

	// Stop discards everything queued on the device immediately.
	Stop() error

	Format() Format

	Close() error
}

// ErrPlaybackStopped is returned by [Sink.Play] when Stop cut playback short.
var ErrPlaybackStopped = errors.New("audio: playback stopped")
