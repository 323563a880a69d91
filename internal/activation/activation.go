// Package activation collects "start listening" triggers from every source
// the daemon supports and streams pipeline state changes back to remote
// clients.
//
// A [Hub] is the meeting point: sources call [Hub.Activate], the pipeline
// reads [Hub.Triggers] and reports its state with [Hub.Publish]. The HTTP
// surface is exposed by [Hub.Handler]:
//
//	POST /v1/activate   trigger push-to-talk
//	GET  /v1/events     websocket stream of state events; clients may send
//	                    {"type":"activate"} to trigger as well
package activation

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"
)

// Source names where a trigger came from.
type Source string

const (
	SourceStdin     Source = "stdin"
	SourceSignal    Source = "signal"
	SourceHTTP      Source = "http"
	SourceWebSocket Source = "websocket"
)

// Trigger is one activation request.
type Trigger struct {
	Source Source
	Time   time.Time
}

// Event is published to websocket subscribers.
type Event struct {
	Type  string    `json:"type"`
	State string    `json:"state,omitempty"`
	Epoch uint64    `json:"epoch,omitempty"`
	Text  string    `json:"text,omitempty"`
	Time  time.Time `json:"time"`
}

// subscriberBuffer bounds how far a slow subscriber may lag before events are
// dropped for it.
const subscriberBuffer = 32

// Hub fans triggers in and events out. It is safe for concurrent use.
type Hub struct {
	triggers chan Trigger

	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub returns a hub. Pending triggers beyond buffer are dropped; one is
// enough to wake the pipeline.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 1
	}
	return &Hub{
		triggers: make(chan Trigger, buffer),
		subs:     make(map[chan Event]struct{}),
	}
}

// Triggers delivers activation requests.
func (h *Hub) Triggers() <-chan Trigger { return h.triggers }

// Activate queues a trigger without blocking. It reports false when the
// trigger was dropped because one is already pending.
func (h *Hub) Activate(src Source) bool {
	select {
	case h.triggers <- Trigger{Source: src, Time: time.Now()}:
		return true
	default:
		slog.Debug("activation: trigger already pending", "source", src)
		return false
	}
}

// Publish sends ev to every subscriber. Subscribers that are full miss it.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// PublishState is a convenience for state-change events.
func (h *Hub) PublishState(state string, epoch uint64) {
	h.Publish(Event{Type: "state", State: state, Epoch: epoch})
}

// Subscribe registers a new event listener. Call the returned function to
// unsubscribe; it closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// WatchReader triggers once per line read from r (the Enter key on a
// terminal). It returns nil at EOF and ctx.Err() when ctx ends first.
func (h *Hub) WatchReader(ctx context.Context, r io.Reader) error {
	lines := make(chan struct{})
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- struct{}{}:
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-lines:
			h.Activate(SourceStdin)
		case err := <-errc:
			return err
		}
	}
}

// WatchSignals triggers on every delivery of one of sigs until ctx ends.
func (h *Hub) WatchSignals(ctx context.Context, sigs ...os.Signal) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			h.Activate(SourceSignal)
		}
	}
}
