// ABOUTME: Fire-and-forget telemetry emitter with buffered async dispatch
// ABOUTME: Emission failures are swallowed at the boundary and never reach the caller

package telemetry

import (
	"log/slog"
	"sync"
	"time"
)

// Event is one named telemetry event with a flat property bag.
type Event struct {
	Name  string
	At    time.Time
	Props map[string]any
}

// Sink receives dispatched events. Implementations may fail; the emitter
// logs and drops on failure.
type Sink interface {
	Write(event Event) error
}

// Emitter dispatches events asynchronously through a buffered channel.
// Emit never blocks the caller's critical path: when the buffer is full
// the event is dropped.
type Emitter struct {
	events chan Event
	sink   Sink
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// New creates an emitter with the given sink and buffer size and starts
// the dispatch goroutine.
func New(sink Sink, buffer int, logger *slog.Logger) *Emitter {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		events: make(chan Event, buffer),
		sink:   sink,
		logger: logger.With("component", "telemetry"),
		done:   make(chan struct{}),
	}
	go e.dispatch()
	return e
}

// Emit queues one event for dispatch. Safe to call on a nil emitter.
func (e *Emitter) Emit(name string, props map[string]any) {
	if e == nil {
		return
	}

	event := Event{Name: name, At: time.Now(), Props: props}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	select {
	case e.events <- event:
	default:
		e.logger.Debug("telemetry buffer full, dropping event", "event", name)
	}
	e.mu.Unlock()
}

// dispatch drains the event channel into the sink. A panicking or failing
// sink is contained here.
func (e *Emitter) dispatch() {
	defer close(e.done)
	for event := range e.events {
		e.write(event)
	}
}

// write delivers one event, recovering from sink panics.
func (e *Emitter) write(event Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("telemetry sink panicked", "event", event.Name, "panic", r)
		}
	}()

	if err := e.sink.Write(event); err != nil {
		e.logger.Debug("telemetry write failed", "event", event.Name, "error", err)
	}
}

// Close stops the dispatcher after draining queued events. Safe to call
// multiple times.
func (e *Emitter) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.events)
	e.mu.Unlock()
	<-e.done
}

// SlogSink writes events as structured log lines.
type SlogSink struct {
	Logger *slog.Logger
}

// Write implements Sink.
func (s SlogSink) Write(event Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := make([]any, 0, 2+2*len(event.Props))
	attrs = append(attrs, "event", event.Name)
	for k, v := range event.Props {
		attrs = append(attrs, k, v)
	}
	logger.Info("telemetry", attrs...)
	return nil
}
