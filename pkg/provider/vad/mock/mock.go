// Package mock provides test doubles for the vad package interfaces.
//
// Session replays a scripted sequence of classes, which makes endpointing
// tests independent of audio content:
//
//	sess := &mock.Session{Script: []vad.Class{vad.Speech, vad.Speech, vad.Silence}}
//	eng := &mock.Engine{Session: sess}
package mock

import (
	"sync"

	"github.com/MrWong99/jarvis/pkg/provider/vad"
)

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// Session is returned by NewSession. If nil a new default Session is returned.
	Session vad.SessionHandle

	// NewSessionErr, if non-nil, is returned from NewSession.
	NewSessionErr error

	// NewSessionCalls records every Config passed to NewSession.
	NewSessionCalls []vad.Config
}

// NewSession records the call and returns Session, NewSessionErr.
func (e *Engine) NewSession(cfg vad.Config) (vad.SessionHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewSessionCalls = append(e.NewSessionCalls, cfg)
	if e.NewSessionErr != nil {
		return nil, e.NewSessionErr
	}
	if e.Session != nil {
		return e.Session, nil
	}
	return &Session{}, nil
}

// Session is a mock vad.SessionHandle.
//
// Classify returns Script[i] for the i-th call; once the script is exhausted
// it returns Default. When Func is set it takes precedence over Script.
type Session struct {
	mu sync.Mutex

	Script  []vad.Class
	Default vad.Class

	// Func, if set, classifies frames by content.
	Func func(frame []byte) vad.Class

	// ClassifyErr, if non-nil, is returned by every Classify call.
	ClassifyErr error

	calls      int
	ResetCalls int
	CloseCalls int
}

// Classify implements vad.SessionHandle.
func (s *Session) Classify(frame []byte) (vad.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ClassifyErr != nil {
		return vad.Decision{}, s.ClassifyErr
	}
	c := s.Default
	switch {
	case s.Func != nil:
		c = s.Func(frame)
	case s.calls < len(s.Script):
		c = s.Script[s.calls]
	}
	s.calls++
	score := 0.0
	if c == vad.Speech {
		score = 1
	}
	return vad.Decision{Class: c, Score: score}, nil
}

// Calls returns how many frames were classified.
func (s *Session) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Reset implements vad.SessionHandle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ResetCalls++
}

// Close implements vad.SessionHandle.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCalls++
	return nil
}

var (
	_ vad.Engine        = (*Engine)(nil)
	_ vad.SessionHandle = (*Session)(nil)
)
