package worker

import (
	"fmt"
	"math"
	"sync"

	"github.com/brightlinelabs/depthstream/internal/model"
)

// BodyParams configures BodyProcessor.Process.
type BodyParams struct {
	MaxDeviation      float64 // meters; joints moving further than this in one frame are clamped to this distance from the previous position
	JitterRadius      float64 // meters; movement smaller than this snaps back to the previous position
	GestureThreshold  float64 // meters; spine-relative horizontal hand displacement above this fires a swipe gesture
	ComputeVelocity   bool
	ComputeCOM        bool
	ComputeConfidence bool
}

type trackState struct {
	joints      map[string]model.Vec3
	timestampMs int64
}

// BodyProcessor holds the per-track smoothing state the body contract
// needs across frames (previous joint positions, for clamp/jitter-snap
// and velocity). A Worker is built around its Process method rather
// than a free function because every other kind's contract is pure.
type BodyProcessor struct {
	mu    sync.Mutex
	state map[int64]*trackState
}

// NewBodyProcessor constructs an empty tracker-state table.
func NewBodyProcessor() *BodyProcessor {
	return &BodyProcessor{state: make(map[int64]*trackState)}
}

// Process implements the body worker contract (spec.md §4.2): joint
// smoothing via clamp and jitter-snap, spine-relative velocity,
// center-of-mass and axis-aligned bounding box, an overall confidence
// figure, and swipe gesture detection on the right hand's
// spine-relative horizontal displacement while the hand is above the
// spine.
func (bp *BodyProcessor) Process(frame model.RawFrame, p any) (model.ProcessedFrame, []SideMessage, error) {
	params, _ := p.(BodyParams)
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for _, rec := range frame.Bodies {
		if rec.Tracked && len(rec.Joints) == 0 {
			return model.ProcessedFrame{}, nil, fmt.Errorf("body: tracking id %d marked tracked with no joints", rec.TrackingID)
		}
	}

	var out []model.ProcessedBody
	var side []SideMessage

	seen := make(map[int64]bool, len(frame.Bodies))
	for _, rec := range frame.Bodies {
		seen[rec.TrackingID] = true
		if !rec.Tracked {
			delete(bp.state, rec.TrackingID)
			continue
		}
		prev := bp.state[rec.TrackingID]
		smoothed := make(map[string]model.BodyJoint, len(rec.Joints))
		positions := make(map[string]model.Vec3, len(rec.Joints))

		for name, j := range rec.Joints {
			pos := j.Position
			if prev != nil {
				if pp, ok := prev.joints[name]; ok {
					pos = smoothJoint(pp, pos, params.MaxDeviation, params.JitterRadius)
				}
			}
			j.Position = pos
			smoothed[name] = j
			positions[name] = pos
		}

		body := model.ProcessedBody{TrackingID: rec.TrackingID, Joints: smoothed}

		if params.ComputeCOM {
			com, aabb := centerAndBounds(smoothed)
			body.CenterOfMass = &com
			body.AABB = &aabb
		}
		if params.ComputeConfidence {
			conf := overallConfidence(smoothed)
			body.Confidence = &conf
		}

		if prev != nil {
			spine := positions["SpineBase"]
			prevSpine := prev.joints["SpineBase"]

			if params.ComputeVelocity && frame.CapturedAtMs > prev.timestampMs {
				dtSec := float64(frame.CapturedAtMs-prev.timestampMs) / 1000.0
				for _, hand := range []string{"HandLeft", "HandRight"} {
					cur, ok1 := positions[hand]
					prior, ok2 := prev.joints[hand]
					if !ok1 || !ok2 {
						continue
					}
					curRel := sub(cur, spine)
					priorRel := sub(prior, prevSpine)
					vel := scale(sub(curRel, priorRel), 1/dtSec)
					side = append(side, SideMessage{Movement: &model.MovementEvent{
						TrackingID:  rec.TrackingID,
						Joint:       hand,
						Velocity:    vel,
						TimestampMs: frame.CapturedAtMs,
					}})
				}
			}

			if params.GestureThreshold > 0 {
				curHand, ok1 := positions["HandRight"]
				priorHand, ok2 := prev.joints["HandRight"]
				if ok1 && ok2 {
					curRel := sub(curHand, spine)
					priorRel := sub(priorHand, prevSpine)
					horizontal := curRel.X - priorRel.X
					if curRel.Y > 0 && math.Abs(horizontal) > params.GestureThreshold {
						gesture := "swipeLeft"
						if horizontal > 0 {
							gesture = "swipeRight"
						}
						side = append(side, SideMessage{Gesture: &model.GestureEvent{
							TrackingID:  rec.TrackingID,
							Gesture:     gesture,
							TimestampMs: frame.CapturedAtMs,
						}})
					}
				}
			}
		}

		bp.state[rec.TrackingID] = &trackState{joints: positions, timestampMs: frame.CapturedAtMs}
		out = append(out, body)
	}

	for id := range bp.state {
		if !seen[id] {
			delete(bp.state, id)
		}
	}

	artifact := model.ProcessedFrame{
		Kind:         model.KindBody,
		CapturedAtMs: frame.CapturedAtMs,
		Payload:      model.BodyPayload{Bodies: out, TimestampMs: frame.CapturedAtMs},
	}
	return artifact, side, nil
}

func smoothJoint(prev, cur model.Vec3, maxDeviation, jitterRadius float64) model.Vec3 {
	delta := sub(cur, prev)
	dist := math.Sqrt(delta.X*delta.X + delta.Y*delta.Y + delta.Z*delta.Z)
	if jitterRadius > 0 && dist < jitterRadius {
		return prev
	}
	if maxDeviation > 0 && dist > maxDeviation {
		return add(prev, scale(delta, maxDeviation/dist))
	}
	return cur
}

// centerAndBounds computes the center-of-mass and AABB over joints
// whose tracking_state is greater than 0 (spec.md §4.2 item 3).
func centerAndBounds(joints map[string]model.BodyJoint) (model.Vec3, model.AABB) {
	var sum model.Vec3
	var aabb model.AABB
	first := true
	n := 0
	for _, j := range joints {
		if j.TrackingState <= 0 {
			continue
		}
		p := j.Position
		n++
		sum = add(sum, p)
		if first {
			aabb = model.AABB{Min: p, Max: p}
			first = false
			continue
		}
		aabb.Min = model.Vec3{X: math.Min(aabb.Min.X, p.X), Y: math.Min(aabb.Min.Y, p.Y), Z: math.Min(aabb.Min.Z, p.Z)}
		aabb.Max = model.Vec3{X: math.Max(aabb.Max.X, p.X), Y: math.Max(aabb.Max.Y, p.Y), Z: math.Max(aabb.Max.Z, p.Z)}
	}
	if n == 0 {
		return model.Vec3{}, model.AABB{}
	}
	return scale(sum, 1/float64(n)), aabb
}

// overallConfidence averages the per-joint confidences of joints whose
// tracking_state is greater than 0 (spec.md §4.2 item 4).
func overallConfidence(joints map[string]model.BodyJoint) float64 {
	n := 0
	var sum float64
	for _, j := range joints {
		if j.TrackingState <= 0 {
			continue
		}
		n++
		sum += j.Confidence
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func sub(a, b model.Vec3) model.Vec3   { return model.Vec3{X: a.X - b.X, Y: a.Y - b.Y, Z: a.Z - b.Z} }
func add(a, b model.Vec3) model.Vec3   { return model.Vec3{X: a.X + b.X, Y: a.Y + b.Y, Z: a.Z + b.Z} }
func scale(a model.Vec3, k float64) model.Vec3 { return model.Vec3{X: a.X * k, Y: a.Y * k, Z: a.Z * k} }
