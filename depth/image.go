package depth

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrInvalidImage 上传内容无法解码为图片。错误文本会直接返回给客户端
var ErrInvalidImage = errors.New("Invalid image data") //nolint:staticcheck

// Image 解码后的 RGB 图像，每个像素 3 个字节，行优先，原点固定为 (0,0)
type Image struct {
	Pix    []uint8
	Stride int
	Rect   image.Rectangle
}

// NewImage 创建 w×h 的黑色 RGB 图像
func NewImage(w, h int) *Image {
	return &Image{
		Pix:    make([]uint8, 3*w*h),
		Stride: 3 * w,
		Rect:   image.Rect(0, 0, w, h),
	}
}

func (m *Image) Width() int  { return m.Rect.Dx() }
func (m *Image) Height() int { return m.Rect.Dy() }

func (m *Image) ColorModel() color.Model { return color.RGBAModel }

func (m *Image) Bounds() image.Rectangle { return m.Rect }

func (m *Image) At(x, y int) color.Color { return m.RGBAAt(x, y) }

// Opaque RGB 图像没有透明通道
func (m *Image) Opaque() bool { return true }

func (m *Image) PixOffset(x, y int) int {
	return (y-m.Rect.Min.Y)*m.Stride + (x-m.Rect.Min.X)*3
}

func (m *Image) RGBAAt(x, y int) color.RGBA {
	if !image.Pt(x, y).In(m.Rect) {
		return color.RGBA{}
	}
	i := m.PixOffset(x, y)
	return color.RGBA{R: m.Pix[i], G: m.Pix[i+1], B: m.Pix[i+2], A: 0xff}
}

func (m *Image) SetRGB(x, y int, r, g, b uint8) {
	if !image.Pt(x, y).In(m.Rect) {
		return
	}
	i := m.PixOffset(x, y)
	m.Pix[i], m.Pix[i+1], m.Pix[i+2] = r, g, b
}

// MaxPixels 默认允许解码的最大像素数，超过视为解压炸弹
const MaxPixels = 178956970

// DecodeUpload 把上传的字节完整解码为 RGB 图像，像素数上限为 MaxPixels
//
// 支持标准库和 x/image 注册的所有格式。透明通道直接丢弃（不与背景混合）。
// 截断、损坏、空的或过大的数据都返回 ErrInvalidImage。
func DecodeUpload(data []byte) (*Image, error) {
	return DecodeUploadLimit(data, MaxPixels)
}

// DecodeUploadLimit 同 DecodeUpload，maxPixels <= 0 时使用 MaxPixels
//
// 先只读头部拿到尺寸，超限时不分配像素缓冲。
func DecodeUploadLimit(data []byte, maxPixels int64) (*Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	if maxPixels <= 0 {
		maxPixels = MaxPixels
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if pixels := int64(cfg.Width) * int64(cfg.Height); pixels > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: zero-sized image", ErrInvalidImage)
	}

	return FromImage(img), nil
}

// FromImage 把任意 image.Image 转为 RGB，使用非预乘的颜色值并丢弃 alpha
func FromImage(img image.Image) *Image {
	if rgb, ok := img.(*Image); ok && rgb.Rect.Min == (image.Point{}) {
		return rgb
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := NewImage(w, h)

	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < h; y++ {
			row := src.Pix[(y+b.Min.Y-src.Rect.Min.Y)*src.Stride+(b.Min.X-src.Rect.Min.X)*4:]
			out := dst.Pix[y*dst.Stride:]
			for x := 0; x < w; x++ {
				out[x*3] = row[x*4]
				out[x*3+1] = row[x*4+1]
				out[x*3+2] = row[x*4+2]
			}
		}
		return dst
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(x+b.Min.X, y+b.Min.Y)).(color.NRGBA)
			dst.SetRGB(x, y, c.R, c.G, c.B)
		}
	}
	return dst
}
