//go:build !cgo

package onnx

import (
	"context"
	"fmt"

	"github.com/chaos-io/comic-engine/depth"
)

type Adapter struct {
	cfg Config
}

func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg.withDefaults()}
}

func (a *Adapter) Load(context.Context) error {
	return fmt.Errorf("%w: %w", depth.ErrInference, ErrCGORequired)
}

func (a *Adapter) Predict(ctx context.Context, _ *depth.Image) (*depth.Raster, error) {
	return nil, a.Load(ctx)
}

func (a *Adapter) Device() Device { return "" }

func (a *Adapter) Close() error { return nil }
