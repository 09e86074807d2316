// Package driver abstracts the depth-camera device (spec.md §6.1). The
// real hardware driver is explicitly out of scope; this package
// defines the contract the rest of the pipeline consumes and a
// Simulated implementation used for development, demos and tests.
package driver

import (
	"context"

	"github.com/brightlinelabs/depthstream/internal/model"
)

// LEDColor is one of the fixed LED states the device exposes.
type LEDColor string

const (
	LEDOff        LEDColor = "off"
	LEDGreen      LEDColor = "green"
	LEDRed        LEDColor = "red"
	LEDYellow     LEDColor = "yellow"
	LEDBlinkGreen LEDColor = "blink_green"
)

// FrameEvent is one raw frame delivered by the driver for a single
// stream kind, or a combined multi-source emission.
type FrameEvent struct {
	Kind         model.StreamKind
	Data         []byte        // nil for KindBody
	Bodies       []model.BodyRecord // only set for KindBody
	CapturedAtMs int64
}

// MultiSourceEvent bundles the latest frame per kind at one wall-clock
// instant, as delivered by the driver's combined multi-source stream.
type MultiSourceEvent struct {
	TimestampMs int64
	Frames      map[model.StreamKind]FrameEvent
}

// Driver is the device handle the Supervisor owns and the Sensors and
// Synchronizer subscribe to (spec.md §4.6, §5 "driver handle").
type Driver interface {
	Open(ctx context.Context) error
	Close() error

	// OpenStream starts emitting FrameEvents for kind onto the
	// returned channel; CloseStream stops it. OpenStream returns an
	// error (falsy open, spec.md §6.1) if the stream cannot be
	// started, e.g. the device is absent or the kind is disabled.
	OpenStream(kind model.StreamKind) (<-chan FrameEvent, error)
	CloseStream(kind model.StreamKind) error

	// OpenMultiSource starts the combined emission the
	// MultiSourceSynchronizer taps directly.
	OpenMultiSource() (<-chan MultiSourceEvent, error)
	CloseMultiSource() error

	SetLED(color LEDColor) error
	SetIREmitter(enabled bool) error
	SetTilt(angleDegrees float64) error
}
