package events

import (
	"context"
	"log/slog"
	"sync"

	"escrowchain/core/types"
)

// Event represents a structured state change emitted by the ledger.
type Event interface {
	EventType() string
}

// Payload is implemented by events that can render themselves as the
// canonical attribute map.
type Payload interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. the gateway, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder keeps every emitted event in memory. The transaction processor uses
// it to hold events back until the state they describe has been committed.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events in emission order.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Flush forwards the recorded events to the target emitter and clears the
// recorder.
func (r *Recorder) Flush(target Emitter) {
	if r == nil {
		return
	}
	r.mu.Lock()
	pending := r.events
	r.events = nil
	r.mu.Unlock()
	if target == nil {
		return
	}
	for _, evt := range pending {
		target.Emit(evt)
	}
}

// LogEmitter writes each event as a structured log line.
type LogEmitter struct {
	Logger *slog.Logger
}

func (l LogEmitter) Emit(evt Event) {
	if evt == nil {
		return
	}
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	attrs := []slog.Attr{slog.String("type", evt.EventType())}
	if payload, ok := evt.(Payload); ok {
		if rendered := payload.Event(); rendered != nil {
			for _, key := range sortedKeys(rendered.Attributes) {
				attrs = append(attrs, slog.String(key, rendered.Attributes[key]))
			}
		}
	}
	logger.LogAttrs(context.Background(), slog.LevelInfo, "ledger event", attrs...)
}

// Render converts any event into its canonical payload, falling back to a
// payload carrying only the type.
func Render(evt Event) types.Event {
	if evt == nil {
		return types.Event{Attributes: map[string]string{}}
	}
	if payload, ok := evt.(Payload); ok {
		if rendered := payload.Event(); rendered != nil {
			return *rendered
		}
	}
	return types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}
