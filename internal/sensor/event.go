package sensor

import "github.com/brightlinelabs/depthstream/internal/model"

// EventKind discriminates what a Sensor emits on its Events channel.
type EventKind int

const (
	EventFrame EventKind = iota
	EventMovement
	EventGesture
	EventError
)

// Event is one item emitted by a Sensor's worker-response path
// (spec.md §4.3).
type Event struct {
	Kind     EventKind
	Frame    model.ProcessedFrame
	Movement model.MovementEvent
	Gesture  model.GestureEvent
	Err      error
}
