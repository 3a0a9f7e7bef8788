package onnx

import "math"

// cubicA 与 PyTorch bicubic 插值一致
const cubicA = -0.75

// resizeBicubic 把 sw×sh 的单通道数据缩放到 dw×dh，align_corners=false，越界取边缘值
func resizeBicubic(src []float32, sw, sh, dw, dh int) []float64 {
	// 先横向再纵向
	tmp := make([]float64, dw*sh)
	for x := 0; x < dw; x++ {
		i0, wts := taps(x, sw, dw)
		for y := 0; y < sh; y++ {
			row := src[y*sw:]
			var v float64
			for k := 0; k < 4; k++ {
				v += float64(row[clampIndex(i0+k, sw)]) * wts[k]
			}
			tmp[y*dw+x] = v
		}
	}

	out := make([]float64, dw*dh)
	for y := 0; y < dh; y++ {
		i0, wts := taps(y, sh, dh)
		for x := 0; x < dw; x++ {
			var v float64
			for k := 0; k < 4; k++ {
				v += tmp[clampIndex(i0+k, sh)*dw+x] * wts[k]
			}
			out[y*dw+x] = v
		}
	}
	return out
}

// taps 返回目标坐标 dst 对应的第一个源索引和 4 个权重
func taps(dst, in, out int) (int, [4]float64) {
	scale := float64(in) / float64(out)
	s := (float64(dst)+0.5)*scale - 0.5
	f := math.Floor(s)
	return int(f) - 1, cubicWeights(s - f)
}

func cubicWeights(t float64) [4]float64 {
	var w [4]float64
	w[0] = cubicFar(t + 1)
	w[1] = cubicNear(t)
	w[2] = cubicNear(1 - t)
	w[3] = cubicFar(2 - t)
	return w
}

// cubicNear |x| <= 1
func cubicNear(x float64) float64 {
	return ((cubicA+2)*x-(cubicA+3))*x*x + 1
}

// cubicFar 1 < |x| < 2
func cubicFar(x float64) float64 {
	return ((cubicA*x-5*cubicA)*x+8*cubicA)*x - 4*cubicA
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
