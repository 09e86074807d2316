package worker

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/brightlinelabs/depthstream/internal/model"
)

// Calibration holds the pinhole intrinsics used to project depth
// pixels into a point cloud (spec.md §4.2 depth contract).
type Calibration struct {
	PrincipalX float64
	PrincipalY float64
	FocalLen   float64
}

// DepthParams configures ProcessDepth. Zero value disables every
// optional stage (normalize/gamma off, no point cloud, no
// colorization) so a freshly decoded config that forgets a field
// degrades to "pass raw values through" rather than panicking.
type DepthParams struct {
	MinDistance uint16 // millimeters; readings below this are unreliable and zeroed
	MaxDistance uint16 // millimeters; readings above this are out of range and zeroed
	Normalize   bool   // scale surviving readings into [0,1]
	Gamma       float64
	PointCloud  bool
	Calibration Calibration
	Colorize    bool
	ColorRamp   []model.Vec3 // LUT indexed by normalize(value)*(len(ramp)-1), cold-to-hot
}

// ProcessDepth implements the depth worker contract: reliability
// filtering by distance window, optional normalize+gamma, optional
// point-cloud projection and optional colorization via a named LUT.
// Matches the spec.md §8 concrete scenario: input [100, 5000, 2000]mm
// with min=500 max=4500 normalize+gamma produces [0, 0, ~0.612].
func ProcessDepth(frame model.RawFrame, p any) (model.ProcessedFrame, []SideMessage, error) {
	params, _ := p.(DepthParams)
	geo := model.Geometry(model.KindDepth)
	count := geo.Width * geo.Height
	if len(frame.Data) < count*2 {
		return model.ProcessedFrame{}, nil, fmt.Errorf("depth: short frame, want %d bytes got %d", count*2, len(frame.Data))
	}

	raw := make([]uint16, count)
	for i := 0; i < count; i++ {
		raw[i] = binary.LittleEndian.Uint16(frame.Data[2*i:])
	}

	processed := make([]float64, count)
	var minSeen, maxSeen uint16
	first := true
	for i, v := range raw {
		if params.MinDistance > 0 && v < params.MinDistance {
			v = 0
		}
		if params.MaxDistance > 0 && v > params.MaxDistance {
			v = 0
		}
		if v > 0 {
			if first || v < minSeen {
				minSeen = v
			}
			if first || v > maxSeen {
				maxSeen = v
			}
			first = false
		}
		val := float64(v)
		if params.Normalize && params.MaxDistance > params.MinDistance {
			span := float64(params.MaxDistance - params.MinDistance)
			val = (val - float64(params.MinDistance)) / span
			if val < 0 {
				val = 0
			}
			if val > 1 {
				val = 1
			}
			if params.Gamma > 0 {
				val = math.Pow(val, params.Gamma)
			}
		}
		processed[i] = val
	}

	payload := model.DepthPayload{Processed: processed, MinDepth: minSeen, MaxDepth: maxSeen}

	if params.PointCloud {
		payload.PointCloud = projectPointCloud(raw, geo.Width, geo.Height, params.Calibration)
	}
	if params.Colorize && len(params.ColorRamp) > 0 {
		payload.Colorized = colorize(processed, params.ColorRamp)
	}

	artifact := model.ProcessedFrame{
		Kind:         model.KindDepth,
		CapturedAtMs: frame.CapturedAtMs,
		Width:        geo.Width,
		Height:       geo.Height,
		Payload:      payload,
	}
	return artifact, nil, nil
}

func projectPointCloud(raw []uint16, width, height int, cal Calibration) []model.Vec3 {
	if cal.FocalLen == 0 {
		return nil
	}
	points := make([]model.Vec3, 0, len(raw))
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			d := raw[row*width+col]
			if d == 0 {
				continue
			}
			z := float64(d) / 1000.0 // mm to meters
			x := (float64(col) - cal.PrincipalX) * z / cal.FocalLen
			y := (float64(row) - cal.PrincipalY) * z / cal.FocalLen
			points = append(points, model.Vec3{X: x, Y: y, Z: z})
		}
	}
	return points
}

func colorize(normalized []float64, ramp []model.Vec3) []byte {
	out := make([]byte, len(normalized)*3)
	last := len(ramp) - 1
	for i, v := range normalized {
		idx := int(v * float64(last))
		if idx < 0 {
			idx = 0
		}
		if idx > last {
			idx = last
		}
		c := ramp[idx]
		out[3*i] = byte(c.X)
		out[3*i+1] = byte(c.Y)
		out[3*i+2] = byte(c.Z)
	}
	return out
}
