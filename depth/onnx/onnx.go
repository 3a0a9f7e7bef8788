//go:build cgo

package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/chaos-io/comic-engine/depth"
	"github.com/chaos-io/comic-engine/util"
)

// Adapter 懒加载的 onnxruntime 深度模型，并发安全
type Adapter struct {
	cfg Config

	mu      sync.RWMutex
	session *ort.DynamicAdvancedSession
	device  Device
	ownsEnv bool
}

func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg.withDefaults()}
}

// Load 解析模型文件并创建会话，只在第一次调用时生效
func (a *Adapter) Load(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.session != nil {
		return nil
	}
	defer util.Trace("load onnx depth model", "model", a.cfg.ModelID)()

	modelPath, err := a.cfg.resolveModel(ctx)
	if err != nil {
		return fmt.Errorf("%w: resolve model: %w", depth.ErrInference, err)
	}

	devices, err := candidates(a.cfg.Device)
	if err != nil {
		return fmt.Errorf("%w: %w", depth.ErrInference, err)
	}

	if !ort.IsInitialized() {
		if a.cfg.SharedLibraryPath != "" {
			ort.SetSharedLibraryPath(a.cfg.SharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("%w: initialize onnxruntime: %w", depth.ErrInference, err)
		}
		a.ownsEnv = true
	}

	var session *ort.DynamicAdvancedSession
	device, err := selectDevice(devices, func(d Device) error {
		if !platformSupports(d) {
			return errUnavailable
		}
		s, err := newSession(modelPath, a.cfg, d)
		if err != nil {
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: create session: %w", depth.ErrInference, err)
	}

	a.session, a.device = session, device
	slog.Info("depth model loaded", "model", a.cfg.ModelID, "path", modelPath, "device", device)
	return nil
}

func newSession(modelPath string, cfg Config, d Device) (*ort.DynamicAdvancedSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer opts.Destroy()

	if cfg.Threads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.Threads); err != nil {
			return nil, err
		}
	}

	switch d {
	case DeviceCoreML:
		if err := opts.AppendExecutionProviderCoreML(0); err != nil {
			return nil, err
		}
	case DeviceCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, err
		}
		defer cuda.Destroy()
		if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
			return nil, err
		}
	}

	return ort.NewDynamicAdvancedSession(modelPath, []string{cfg.InputName}, []string{cfg.OutputName}, opts)
}

// Predict 推理得到与 img 同尺寸的相对深度
func (a *Adapter) Predict(ctx context.Context, img *depth.Image) (*depth.Raster, error) {
	if err := a.Load(ctx); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := targetSize(img.Width(), img.Height(), a.cfg.InputSize, a.cfg.Multiple)
	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(h), int64(w)), toTensor(img, w, h, a.cfg.Mean, a.cfg.Std))
	if err != nil {
		return nil, fmt.Errorf("%w: input tensor: %w", depth.ErrInference, err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	a.mu.RLock()
	if a.session == nil {
		a.mu.RUnlock()
		return nil, fmt.Errorf("%w: session closed", depth.ErrInference)
	}
	err = a.session.Run([]ort.Value{input}, outputs)
	a.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("%w: run session: %w", depth.ErrInference, err)
	}
	defer outputs[0].Destroy()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("%w: unexpected output type %T", depth.ErrInference, outputs[0])
	}
	shape := out.GetShape()
	if len(shape) < 2 {
		return nil, fmt.Errorf("%w: unexpected output shape %v", depth.ErrInference, shape)
	}
	oh, ow := int(shape[len(shape)-2]), int(shape[len(shape)-1])
	data := out.GetData()
	if oh <= 0 || ow <= 0 || len(data) < oh*ow {
		return nil, fmt.Errorf("%w: unexpected output shape %v", depth.ErrInference, shape)
	}

	return &depth.Raster{
		Width:  img.Width(),
		Height: img.Height(),
		Data:   resizeBicubic(data[:oh*ow], ow, oh, img.Width(), img.Height()),
	}, nil
}

// Device 当前会话使用的执行设备，未加载时为空
func (a *Adapter) Device() Device {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.device
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	var err error
	if a.session != nil {
		err = a.session.Destroy()
		a.session, a.device = nil, ""
	}
	if a.ownsEnv {
		if derr := ort.DestroyEnvironment(); derr != nil && err == nil {
			err = derr
		}
		a.ownsEnv = false
	}
	return err
}
