package depth

import (
	"context"
	"errors"
	"fmt"
)

// Estimate 调用模型并把原始深度归一化到 [0,1]
//
// 模型返回的尺寸必须与图片一致，否则返回 ErrShapeMismatch。
func Estimate(ctx context.Context, img *Image, model Model) (*Map, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	raw, err := model.Predict(ctx, img)
	if err != nil {
		if errors.Is(err, ErrInference) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInference, err)
	}

	if raw == nil || raw.Width != img.Width() || raw.Height != img.Height() || len(raw.Data) != raw.Width*raw.Height {
		return nil, fmt.Errorf("%w: raster %s, image %dx%d", ErrShapeMismatch, raw, img.Width(), img.Height())
	}

	return Normalize(raw), nil
}

// Normalize 最小最大归一化。所有值相同时返回全 0，避免除零
func Normalize(r *Raster) *Map {
	out := NewMap(r.Width, r.Height)
	if len(r.Data) == 0 {
		return out
	}

	lo, hi := r.Data[0], r.Data[0]
	for _, v := range r.Data[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if lo == hi {
		return out
	}

	span := hi - lo
	for i, v := range r.Data {
		out.Data[i] = float32((v - lo) / span)
	}
	return out
}
