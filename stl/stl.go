// Package stl 把深度图导出为 ASCII STL 浮雕模型
package stl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/chaos-io/comic-engine/depth"
)

// MaxSamples 默认步长下长边最多采样的点数
const MaxSamples = 256

var ErrTooSmall = errors.New("depth map too small for a mesh")

// Options 尺寸单位均为毫米
type Options struct {
	// Width 模型 X 方向的宽度
	Width float64
	// Thickness 深度 1.0 对应的浮雕高度
	Thickness float64
	// Base 底座厚度，底面位于 z = -Base
	Base float64
	// Step 像素采样步长，0 表示按 MaxSamples 自动选择
	Step int
}

func DefaultOptions() Options {
	return Options{Width: 50, Thickness: 5, Base: 2}
}

func (o Options) Validate() error {
	if !(o.Width > 0) || math.IsInf(o.Width, 0) {
		return fmt.Errorf("width must be positive, got %v", o.Width)
	}
	if !(o.Thickness >= 0) || math.IsInf(o.Thickness, 0) {
		return fmt.Errorf("thickness must be non-negative, got %v", o.Thickness)
	}
	if !(o.Base >= 0) || math.IsInf(o.Base, 0) {
		return fmt.Errorf("base must be non-negative, got %v", o.Base)
	}
	if o.Step < 0 {
		return fmt.Errorf("step must be non-negative, got %d", o.Step)
	}
	return nil
}

// DefaultStep 让长边的采样点不超过 MaxSamples
func DefaultStep(w, h int) int {
	n := max(w, h) - 1
	if n <= 0 {
		return 1
	}
	return n/MaxSamples + 1
}

// Write 输出顶面、底面和四周侧壁组成的封闭网格
func Write(w io.Writer, m *depth.Map, opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if m == nil {
		return ErrTooSmall
	}
	step := opts.Step
	if step == 0 {
		step = DefaultStep(m.Width, m.Height)
	}

	cols := (m.Width + step - 1) / step
	rows := (m.Height + step - 1) / step
	if cols < 2 || rows < 2 {
		return fmt.Errorf("%w: %dx%d samples at step %d", ErrTooSmall, cols, rows, step)
	}

	// 采样后的顶点高度
	heights := make([][]float64, rows)
	for r := range heights {
		heights[r] = make([]float64, cols)
		for c := range heights[r] {
			heights[r][c] = float64(m.At(c*step, r*step)) * opts.Thickness
		}
	}

	spacing := opts.Width / float64(m.Width) * float64(step)
	// 图像第 0 行在模型的最远端
	xAt := func(c int) float64 { return float64(c) * spacing }
	yAt := func(r int) float64 { return float64(rows-1-r) * spacing }
	top := func(r, c int) vec { return vec{xAt(c), yAt(r), heights[r][c]} }
	bottom := func(r, c int) vec { return vec{xAt(c), yAt(r), -opts.Base} }

	fw := &facetWriter{w: bufio.NewWriter(w)}
	fw.printf("solid relief_model\n")

	// 顶面和底面
	for r := 0; r < rows-1; r++ {
		for c := 0; c < cols-1; c++ {
			fw.facet(top(r+1, c), top(r+1, c+1), top(r, c))
			fw.facet(top(r+1, c+1), top(r, c+1), top(r, c))

			fw.facet(bottom(r+1, c), bottom(r, c), bottom(r+1, c+1))
			fw.facet(bottom(r+1, c+1), bottom(r, c), bottom(r, c+1))
		}
	}

	// 侧壁，俯视逆时针绕一圈
	var ring [][2]int
	for c := 0; c < cols-1; c++ {
		ring = append(ring, [2]int{rows - 1, c})
	}
	for r := rows - 1; r > 0; r-- {
		ring = append(ring, [2]int{r, cols - 1})
	}
	for c := cols - 1; c > 0; c-- {
		ring = append(ring, [2]int{0, c})
	}
	for r := 0; r < rows-1; r++ {
		ring = append(ring, [2]int{r, 0})
	}
	for i, a := range ring {
		b := ring[(i+1)%len(ring)]
		fw.facet(bottom(a[0], a[1]), bottom(b[0], b[1]), top(b[0], b[1]))
		fw.facet(bottom(a[0], a[1]), top(b[0], b[1]), top(a[0], a[1]))
	}

	fw.printf("endsolid relief_model\n")
	if fw.err != nil {
		return fw.err
	}
	return fw.w.Flush()
}

type vec [3]float64

func (a vec) sub(b vec) vec { return vec{a[0] - b[0], a[1] - b[1], a[2] - b[2]} }

func (a vec) cross(b vec) vec {
	return vec{
		a[1]*b[2] - a[2]*b[1],
		a[2]*b[0] - a[0]*b[2],
		a[0]*b[1] - a[1]*b[0],
	}
}

// normalize 退化三角形返回零向量
func (a vec) normalize() vec {
	n := math.Sqrt(a[0]*a[0] + a[1]*a[1] + a[2]*a[2])
	if n == 0 {
		return vec{}
	}
	return vec{a[0] / n, a[1] / n, a[2] / n}
}

// facetWriter 记录第一个写错误，之后的写入直接忽略
type facetWriter struct {
	w   *bufio.Writer
	err error
}

func (f *facetWriter) printf(format string, args ...any) {
	if f.err != nil {
		return
	}
	_, f.err = fmt.Fprintf(f.w, format, args...)
}

// facet 按右手法则由顶点顺序计算法线
func (f *facetWriter) facet(v1, v2, v3 vec) {
	n := v2.sub(v1).cross(v3.sub(v1)).normalize()
	f.printf("  facet normal %f %f %f\n", n[0], n[1], n[2])
	f.printf("    outer loop\n")
	f.printf("      vertex %f %f %f\n", v1[0], v1[1], v1[2])
	f.printf("      vertex %f %f %f\n", v2[0], v2[1], v2[2])
	f.printf("      vertex %f %f %f\n", v3[0], v3[1], v3[2])
	f.printf("    endloop\n")
	f.printf("  endfacet\n")
}
