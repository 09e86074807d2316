package worker

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/brightlinelabs/depthstream/internal/model"
)

// ColorParams configures ProcessColor.
type ColorParams struct {
	ForceAlpha    bool // overwrite the alpha channel with fully opaque
	Compress      bool
	JPEGQuality   int // 1-100, passed through to image/jpeg
}

// ProcessColor implements the color worker contract (spec.md §4.2):
// optionally force the alpha channel opaque, then optionally compress
// to JPEG via the standard library encoder. Compressed is always set
// to what actually happened, never assumed true just because it was
// requested (an encode failure falls back to the raw frame honestly).
func ProcessColor(frame model.RawFrame, p any) (model.ProcessedFrame, []SideMessage, error) {
	params, _ := p.(ColorParams)
	geo := model.Geometry(model.KindColor)
	count := geo.Width * geo.Height
	if len(frame.Data) < count*4 {
		return model.ProcessedFrame{}, nil, fmt.Errorf("color: short frame, want %d bytes got %d", count*4, len(frame.Data))
	}

	data := frame.Data
	if params.ForceAlpha {
		data = append([]byte(nil), frame.Data...)
		for i := 0; i < count; i++ {
			data[4*i+3] = 255
		}
	}

	payload := model.ColorPayload{Processed: data, Format: "rgba", Compressed: false}

	if params.Compress {
		img := &image.RGBA{
			Pix:    data,
			Stride: geo.Width * 4,
			Rect:   image.Rect(0, 0, geo.Width, geo.Height),
		}
		quality := params.JPEGQuality
		if quality <= 0 {
			quality = 85
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err == nil {
			payload = model.ColorPayload{Processed: buf.Bytes(), Format: "jpeg", Compressed: true}
		}
	}

	artifact := model.ProcessedFrame{
		Kind:         model.KindColor,
		CapturedAtMs: frame.CapturedAtMs,
		Width:        geo.Width,
		Height:       geo.Height,
		Payload:      payload,
	}
	return artifact, nil, nil
}
