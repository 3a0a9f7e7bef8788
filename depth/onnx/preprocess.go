package onnx

import (
	"image"
	"math"

	"github.com/nfnt/resize"
)

// targetSize 计算模型输入尺寸
//
// 保持宽高比并尽量少缩放，使一条边等于 size，两条边都取 multiple 的整数倍。
func targetSize(w, h, size, multiple int) (int, int) {
	scaleW := float64(size) / float64(w)
	scaleH := float64(size) / float64(h)
	if math.Abs(1-scaleW) < math.Abs(1-scaleH) {
		scaleH = scaleW
	} else {
		scaleW = scaleH
	}
	return constrainToMultiple(scaleW*float64(w), multiple), constrainToMultiple(scaleH*float64(h), multiple)
}

func constrainToMultiple(v float64, multiple int) int {
	m := float64(multiple)
	x := int(math.RoundToEven(v/m)) * multiple
	if x < multiple {
		x = multiple
	}
	return x
}

// toTensor 双三次缩放到 w×h，归一化后按 NCHW 排列
func toTensor(img image.Image, w, h int, mean, std [3]float32) []float32 {
	resized := resize.Resize(uint(w), uint(h), img, resize.Bicubic)
	b := resized.Bounds()

	plane := w * h
	data := make([]float32, 3*plane)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, bl, _ := resized.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*w + x
			data[i] = (float32(r)/0xffff - mean[0]) / std[0]
			data[plane+i] = (float32(g)/0xffff - mean[1]) / std[1]
			data[2*plane+i] = (float32(bl)/0xffff - mean[2]) / std[2]
		}
	}
	return data
}
