package events

import "drivechain/core/types"

// Event represents a structured state change committed by the ledger.
type Event interface {
	EventType() string
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. the notifier,
// the change feed, webhooks).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Buffer is an Emitter that holds events until they are drained. The ledger
// engine hands a buffer to its sub-components so that events produced inside
// an operation are only published once the whole operation has committed.
// Buffer is not safe for concurrent use; the engine's writer lock guards it.
type Buffer struct {
	pending []Event
}

// Emit implements the Emitter interface.
func (b *Buffer) Emit(e Event) {
	if b == nil || e == nil {
		return
	}
	b.pending = append(b.pending, e)
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.pending)
}

// Drain returns the buffered events in emission order and empties the buffer.
func (b *Buffer) Drain() []Event {
	if b == nil || len(b.pending) == 0 {
		return nil
	}
	out := b.pending
	b.pending = nil
	return out
}

// Discard drops buffered events, used when an operation is rejected.
func (b *Buffer) Discard() {
	if b == nil {
		return
	}
	b.pending = nil
}
