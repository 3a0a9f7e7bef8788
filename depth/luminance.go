package depth

import (
	"context"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// Luminance 不依赖神经网络的深度估计：亮的地方视为更近
//
// 处理流程：缩小 → 灰度 + gamma → 3x3 高斯模糊 → 放大回原尺寸。
type Luminance struct {
	// BaseSize 工作分辨率的最长边，<= 0 时使用 320
	BaseSize int
	// Gamma 灰度 gamma 校正，<= 0 时使用 1.5
	Gamma float64
	// Invert 反转远近
	Invert bool
}

func NewLuminance() *Luminance {
	return &Luminance{BaseSize: 320, Gamma: 1.5}
}

func (l *Luminance) Predict(ctx context.Context, img *Image) (*Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := img.Width(), img.Height()
	base := l.BaseSize
	if base <= 0 {
		base = 320
	}
	gamma := l.Gamma
	if gamma <= 0 {
		gamma = 1.5
	}

	// 缩放到工作尺寸，只缩小不放大
	ratio := math.Min(1, math.Min(float64(base)/float64(w), float64(base)/float64(h)))
	nw, nh := max(1, int(float64(w)*ratio)), max(1, int(float64(h)*ratio))
	small := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(small, small.Bounds(), img, img.Bounds(), draw.Src, nil)

	// 灰度化 + gamma 校正
	gray := image.NewGray16(small.Bounds())
	for y := 0; y < nh; y++ {
		for x := 0; x < nw; x++ {
			i := small.PixOffset(x, y)
			r, g, b := float64(small.Pix[i]), float64(small.Pix[i+1]), float64(small.Pix[i+2])
			v := math.Pow((0.299*r+0.587*g+0.114*b)/255.0, gamma)
			setGray16(gray, x, y, v)
		}
	}

	blurred := gaussian3x3(gray)

	// 放大回原尺寸
	full := image.NewGray16(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(full, full.Bounds(), blurred, blurred.Bounds(), draw.Src, nil)

	out := NewRaster(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(full.Gray16At(x, y).Y) / 0xffff
			if l.Invert {
				v = 1 - v
			}
			out.Set(x, y, v)
		}
	}
	return out, nil
}

// gaussian3x3 边缘像素按就近复制处理，输出与输入同尺寸
func gaussian3x3(src *image.Gray16) *image.Gray16 {
	k := [3][3]float64{
		{1, 2, 1},
		{2, 4, 2},
		{1, 2, 1},
	}
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray16(b)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var sum float64
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					sx := min(max(x+kx, 0), w-1)
					sy := min(max(y+ky, 0), h-1)
					sum += float64(src.Gray16At(sx, sy).Y) * k[ky+1][kx+1]
				}
			}
			setGray16(dst, x, y, sum/16/0xffff)
		}
	}
	return dst
}

func setGray16(img *image.Gray16, x, y int, v float64) {
	v = math.Max(0, math.Min(1, v))
	i := img.PixOffset(x, y)
	u := uint16(v*0xffff + 0.5)
	img.Pix[i] = uint8(u >> 8)
	img.Pix[i+1] = uint8(u)
}
