package bufferpool

import "github.com/brightlinelabs/depthstream/internal/model"

// EventKind discriminates the events the pool emits on its event channel.
type EventKind int

const (
	EventPoolExhausted EventKind = iota
	EventBufferReleased
	EventPoolResized
)

// Event is emitted for every observable pool transition (spec.md §4.1).
type Event struct {
	Kind      EventKind
	StreamKind model.StreamKind
	Total     int
	InUse     int
	Available int
	MaxSize   int
}
