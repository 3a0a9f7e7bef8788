// Package onnx 用 onnxruntime 运行 Depth Anything V2 的 ONNX 导出模型。
package onnx

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/chaos-io/comic-engine/hub"
)

// ErrCGORequired 没有 cgo 时无法加载 onnxruntime
var ErrCGORequired = errors.New("onnx adapter requires CGO support; rebuild with CGO_ENABLED=1")

type Config struct {
	// ModelPath 本地模型文件，设置后不再访问 Hub
	ModelPath string
	ModelID   string
	ModelFile string
	Hub       *hub.Cache

	// SharedLibraryPath onnxruntime 动态库，为空时读取 ONNXRUNTIME_SHARED_LIBRARY_PATH
	SharedLibraryPath string
	// Device auto / coreml / cuda / cpu
	Device string
	// Threads 单次推理的线程数，<= 0 由 onnxruntime 决定
	Threads int

	InputName  string
	OutputName string

	// 预处理参数，与 DPTImageProcessor 一致
	InputSize int
	Multiple  int
	Mean      [3]float32
	Std       [3]float32
}

func DefaultConfig() Config {
	return Config{
		ModelID:    "onnx-community/depth-anything-v2-small",
		ModelFile:  "onnx/model.onnx",
		Device:     "auto",
		InputName:  "pixel_values",
		OutputName: "predicted_depth",
		InputSize:  518,
		Multiple:   14,
		Mean:       [3]float32{0.485, 0.456, 0.406},
		Std:        [3]float32{0.229, 0.224, 0.225},
	}
}

// withDefaults 零值字段使用默认配置
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ModelID == "" {
		c.ModelID = def.ModelID
	}
	if c.ModelFile == "" {
		c.ModelFile = def.ModelFile
	}
	if c.Device == "" {
		c.Device = def.Device
	}
	if c.InputName == "" {
		c.InputName = def.InputName
	}
	if c.OutputName == "" {
		c.OutputName = def.OutputName
	}
	if c.InputSize <= 0 {
		c.InputSize = def.InputSize
	}
	if c.Multiple <= 0 {
		c.Multiple = def.Multiple
	}
	if c.Std == ([3]float32{}) {
		c.Mean, c.Std = def.Mean, def.Std
	}
	if c.SharedLibraryPath == "" {
		c.SharedLibraryPath = os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	return c
}

// resolveModel 返回本地模型路径，必要时从 Hub 下载
func (c Config) resolveModel(ctx context.Context) (string, error) {
	if c.ModelPath != "" {
		if _, err := os.Stat(c.ModelPath); err != nil {
			return "", fmt.Errorf("model file: %w", err)
		}
		return c.ModelPath, nil
	}
	if c.Hub == nil {
		return "", errors.New("neither model path nor hub cache configured")
	}
	return c.Hub.Resolve(ctx, c.ModelID, c.ModelFile)
}
