package depth

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
)

// Gray 把深度图量化为 8 位灰度：floor(v*255)，超出范围的值被截断，NaN 视为 0
func (m *Map) Gray() *image.Gray {
	gray := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			gray.SetGray(x, y, color.Gray{Y: quantize(m.At(x, y))})
		}
	}
	return gray
}

func quantize(v float32) uint8 {
	s := float64(v) * 255
	switch {
	case math.IsNaN(s), s <= 0:
		return 0
	case s >= 255:
		return 255
	default:
		return uint8(s)
	}
}

// EncodePNG 把深度图编码为单通道 PNG
func EncodePNG(m *Map) ([]byte, error) {
	if m == nil || m.Width <= 0 || m.Height <= 0 {
		return nil, errors.New("empty depth map")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, m.Gray()); err != nil {
		return nil, fmt.Errorf("png encode: %w", err)
	}
	return buf.Bytes(), nil
}
