package depth

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInference 模型加载或推理失败
	ErrInference = errors.New("depth inference failed")
	// ErrShapeMismatch 模型输出尺寸与输入图片不一致
	ErrShapeMismatch = errors.New("depth raster shape mismatch")
)

// Model 深度模型端口
//
// Predict 返回与输入图片同尺寸的原始深度，数值越大离相机越近，单位和范围由具体模型决定。
type Model interface {
	Predict(ctx context.Context, img *Image) (*Raster, error)
}

// ModelFunc 让普通函数满足 Model
type ModelFunc func(ctx context.Context, img *Image) (*Raster, error)

func (f ModelFunc) Predict(ctx context.Context, img *Image) (*Raster, error) {
	return f(ctx, img)
}

// Raster 模型输出的原始深度，行优先
type Raster struct {
	Width  int
	Height int
	Data   []float64
}

func NewRaster(w, h int) *Raster {
	return &Raster{Width: w, Height: h, Data: make([]float64, w*h)}
}

func (r *Raster) At(x, y int) float64 { return r.Data[y*r.Width+x] }

func (r *Raster) Set(x, y int, v float64) { r.Data[y*r.Width+x] = v }

func (r *Raster) String() string {
	if r == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Map 归一化后的深度图，取值 [0,1]，0 表示最远，1 表示最近
type Map struct {
	Width  int
	Height int
	Data   []float32
}

func NewMap(w, h int) *Map {
	return &Map{Width: w, Height: h, Data: make([]float32, w*h)}
}

func (m *Map) At(x, y int) float32 { return m.Data[y*m.Width+x] }
