package pipeline

import "errors"

// State is the orchestrator's position in the turn cycle.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateRecognizing
	StateRouting
	StateAnswering
	StateDispatching
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateRecognizing:
		return "recognizing"
	case StateRouting:
		return "routing"
	case StateAnswering:
		return "answering"
	case StateDispatching:
		return "dispatching"
	case StateSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}

// producing reports whether the pipeline is generating or playing a reply,
// the states in which new speech from the user interrupts.
func (s State) producing() bool {
	return s == StateAnswering || s == StateDispatching || s == StateSpeaking
}

// Epoch is the cancellation token. Barge-in and conversation resets advance
// it; work started under an older epoch is dropped without error.
type Epoch = uint64

var (
	// ErrNoSpeech is reported for an utterance that recognized to nothing.
	// Recovery is silent.
	ErrNoSpeech = errors.New("pipeline: no speech detected")

	// ErrEngineUnavailable is reported when recognition, inference or
	// synthesis failed on every configured engine.
	ErrEngineUnavailable = errors.New("pipeline: engine unavailable")

	// errStale aborts work whose epoch has been superseded.
	errStale = errors.New("pipeline: stale epoch")
)
