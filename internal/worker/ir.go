package worker

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/brightlinelabs/depthstream/internal/model"
)

// IRParams configures ProcessIR. Gamma <= 0 disables correction and
// the raw 16-bit reading is normalized by its natural range only.
type IRParams struct {
	Gamma float64
}

// ProcessIR implements the infrared worker contract (spec.md §4.2):
// normalize the raw 16-bit reading into [0,1] and apply gamma
// correction.
func ProcessIR(frame model.RawFrame, p any) (model.ProcessedFrame, []SideMessage, error) {
	params, _ := p.(IRParams)
	geo := model.Geometry(model.KindInfrared)
	count := geo.Width * geo.Height
	if len(frame.Data) < count*2 {
		return model.ProcessedFrame{}, nil, fmt.Errorf("ir: short frame, want %d bytes got %d", count*2, len(frame.Data))
	}

	processed := make([]float64, count)
	const maxReading = 65535.0
	for i := 0; i < count; i++ {
		raw := binary.LittleEndian.Uint16(frame.Data[2*i:])
		v := float64(raw) / maxReading
		if params.Gamma > 0 {
			v = math.Pow(v, params.Gamma)
		}
		processed[i] = v
	}

	artifact := model.ProcessedFrame{
		Kind:         model.KindInfrared,
		CapturedAtMs: frame.CapturedAtMs,
		Width:        geo.Width,
		Height:       geo.Height,
		Payload:      model.IRPayload{Processed: processed, Format: "gray_f64"},
	}
	return artifact, nil, nil
}
