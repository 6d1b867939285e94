// Package event provides core.EventSink implementations: an in-memory
// Recorder, a channel-backed Stream for streaming transports, a Fanout that
// forwards to several sinks and a LogSink.
package event

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/hupe1980/agentgate/core"
	"github.com/hupe1980/agentgate/logging"
)

// Event is one emitted notification.
type Event struct {
	Name    string `json:"name"`
	Payload any    `json:"payload"`
}

// QueryID extracts the correlation id from a known payload.
func (e Event) QueryID() string {
	switch p := e.Payload.(type) {
	case core.ResponsePayload:
		return p.QueryID
	case core.ErrorPayload:
		return p.QueryID
	case core.EndPayload:
		return p.QueryID
	}
	return ""
}

// Recorder captures events in emission order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

var _ core.EventSink = (*Recorder)(nil)

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder { return &Recorder{} }

// Emit implements core.EventSink.
func (r *Recorder) Emit(_ context.Context, name string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{Name: name, Payload: payload})
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

// Stream delivers events over a channel. Emit blocks while the buffer is
// full and drops events once the context is done or the stream is closed.
type Stream struct {
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

var _ core.EventSink = (*Stream)(nil)

// NewStream creates a stream with the given buffer size.
func NewStream(buffer int) *Stream {
	return &Stream{ch: make(chan Event, buffer), done: make(chan struct{})}
}

// Emit implements core.EventSink.
func (s *Stream) Emit(ctx context.Context, name string, payload any) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- Event{Name: name, Payload: payload}:
	case <-ctx.Done():
	case <-s.done:
	}
}

// Events returns the receive side. It is closed by Close.
func (s *Stream) Events() <-chan Event { return s.ch }

// Close ends the stream. Pending Emit calls return; it is safe to call more
// than once.
func (s *Stream) Close() {
	s.once.Do(func() {
		close(s.done)
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// Fanout forwards each event to every sink in order.
type Fanout []core.EventSink

// Emit implements core.EventSink.
func (f Fanout) Emit(ctx context.Context, name string, payload any) {
	for _, s := range f {
		if s != nil {
			s.Emit(ctx, name, payload)
		}
	}
}

// LogSink logs every event at debug level and error events at warn level.
type LogSink struct {
	Logger logging.Logger
}

// Emit implements core.EventSink.
func (l LogSink) Emit(_ context.Context, name string, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		l.Logger.Error("event not encodable", "event", name, "error", err)
		return
	}
	if name == core.EventResponseError {
		l.Logger.Warn("event emitted", "event", name, "payload", string(body))
		return
	}
	l.Logger.Debug("event emitted", "event", name, "payload", string(body))
}

// Noop discards every event.
type Noop struct{}

// Emit implements core.EventSink.
func (Noop) Emit(context.Context, string, any) {}
