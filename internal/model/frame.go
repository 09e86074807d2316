package model

// RawFrame is the opaque bytes delivered by the driver for one capture,
// plus the monotonic capture timestamp. The Sensor owns it until the
// worker returns a result; the underlying Data slice is borrowed from a
// bufferpool.Buffer and must be released exactly once.
type RawFrame struct {
	Kind      StreamKind
	Data      []byte
	CapturedAtMs int64
	// Bodies carries the driver's raw skeleton records for KindBody
	// frames, which have no byte payload and so no bufferpool buffer.
	Bodies []BodyRecord
}

// BodyJoint is one named joint of a tracked skeleton.
//
// The canonical joint keys are fixed (SPEC_FULL §4.2): Head, Neck,
// SpineShoulder, SpineMid, SpineBase, ShoulderLeft, ShoulderRight,
// ElbowLeft, ElbowRight, WristLeft, WristRight, HandLeft, HandRight,
// HipLeft, HipRight, KneeLeft, KneeRight, AnkleLeft, AnkleRight,
// FootLeft, FootRight, HandTipLeft, HandTipRight, ThumbLeft, ThumbRight.
type BodyJoint struct {
	Position        Vec3
	TrackingState   int // 0 = not tracked, 1 = inferred, 2 = tracked
	Confidence      float64
	PreviousPosition *Vec3
}

type Vec3 struct {
	X, Y, Z float64
}

// HandState describes one hand's open/closed/lasso tracking state.
type HandState struct {
	State      int
	Confidence float64
}

// BodyRecord is one tracked-or-untracked skeleton as delivered by the
// driver's body stream.
type BodyRecord struct {
	TrackingID int64
	Tracked    bool
	Joints     map[string]BodyJoint
	LeftHand   HandState
	RightHand  HandState
}

// ProcessedFrame is the kind-specific artifact a worker returns.
type ProcessedFrame struct {
	Kind           StreamKind
	Sequence       uint64
	CapturedAtMs   int64
	EmittedAtMs    int64
	Width          int
	Height         int
	ProcessTimeMs  float64
	Payload        any // DepthPayload | IRPayload | ColorPayload | BodyPayload (values, not pointers)
}

type DepthPayload struct {
	Processed  []float64
	MinDepth   uint16
	MaxDepth   uint16
	PointCloud []Vec3 `json:",omitempty"`
	Colorized  []byte `json:",omitempty"`
}

type IRPayload struct {
	Processed []float64
	Format    string
}

type ColorPayload struct {
	Processed  []byte
	Format     string
	Compressed bool
}

type BodyPayload struct {
	Bodies      []ProcessedBody
	TimestampMs int64
}

type ProcessedBody struct {
	TrackingID int64
	Joints     map[string]BodyJoint
	CenterOfMass *Vec3 `json:",omitempty"`
	AABB         *AABB `json:",omitempty"`
	Confidence   *float64 `json:",omitempty"`
}

type AABB struct {
	Min, Max Vec3
}

// MovementEvent is a side-channel message emitted by the body worker
// alongside the main artifact.
type MovementEvent struct {
	TrackingID int64
	Joint      string
	Velocity   Vec3
	TimestampMs int64
}

// GestureEvent is a side-channel swipe-gesture detection.
type GestureEvent struct {
	TrackingID  int64
	Gesture     string // "swipeLeft" | "swipeRight"
	TimestampMs int64
}

// SyncBundle is a wall-clock-aligned set of per-kind frames emitted by
// the MultiSourceSynchronizer.
type SyncBundle struct {
	TimestampMs  int64
	Frames       map[StreamKind]RawFrame
	MaxDelayMs   int64
}
