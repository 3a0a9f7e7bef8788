package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/comic-engine/config"
	"github.com/chaos-io/comic-engine/depth"
	"github.com/chaos-io/comic-engine/depth/onnx"
	"github.com/chaos-io/comic-engine/depth/remote"
	"github.com/chaos-io/comic-engine/hub"
	"github.com/chaos-io/comic-engine/server"
	"github.com/chaos-io/comic-engine/stl"
	"github.com/chaos-io/comic-engine/util"
)

// loader 需要预加载的模型
type loader interface {
	Load(ctx context.Context) error
}

func main() {
	inputPath := flag.String("in", "", "image path or URL; process once instead of serving")
	outputPath := flag.String("out", "depth.png", "depth png output, used with -in")
	stlPath := flag.String("stl", "", "optional STL output, used with -in")
	flag.Parse()

	if err := run(*inputPath, *outputPath, *stlPath); err != nil {
		slog.Error("exit", "error", err)
		os.Exit(1)
	}
}

func run(inputPath, outputPath, stlPath string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache := hub.NewCache(cfg.HFHome, cfg.HubEndpoint)
	cache.Token = cfg.HFToken
	cache.Progress = func(downloaded, total int64) {
		slog.Info("downloading model", "model", cfg.ModelID, "downloaded", downloaded, "total", total)
	}

	model, closeModel := newModel(cfg, cache)
	defer func() {
		if err := closeModel(); err != nil {
			slog.Warn("close model", "error", err)
		}
	}()

	if inputPath != "" {
		return runOnce(ctx, model, cfg.MaxImagePixels, inputPath, outputPath, stlPath)
	}

	if l, ok := model.(loader); ok && cfg.Preload {
		if err := l.Load(ctx); err != nil {
			return fmt.Errorf("preload model: %w", err)
		}
	}

	if cfg.Backend == config.BackendONNX && cfg.HubSweepSchedule != "" {
		sweeper, err := cache.StartSweeper(cfg.HubSweepSchedule, hub.DefaultPartialMaxAge)
		if err != nil {
			return err
		}
		defer sweeper.Stop()
	}

	gin.SetMode(cfg.GinMode)
	srv := server.New(model, server.Options{
		MaxUploadBytes: cfg.MaxUploadBytes,
		MaxPixels:      cfg.MaxImagePixels,
	})
	slog.Info("starting depth service", "backend", cfg.Backend, "port", cfg.Port)
	return srv.Run(ctx, net.JoinHostPort("", cfg.Port))
}

// newModel 按 DEPTH_BACKEND 构造模型，返回的 close 在退出时调用
func newModel(cfg *config.Config, cache *hub.Cache) (depth.Model, func() error) {
	switch cfg.Backend {
	case config.BackendRemote:
		return remote.New(cfg.RemoteURL), func() error { return nil }
	case config.BackendLuminance:
		return depth.NewLuminance(), func() error { return nil }
	default:
		a := onnx.New(onnx.Config{
			ModelID:           cfg.ModelID,
			ModelFile:         cfg.ModelFile,
			Hub:               cache,
			SharedLibraryPath: cfg.ORTSharedLibraryPath,
			Device:            cfg.Device,
		})
		return a, a.Close
	}
}

// runOnce 处理单张图片并写出深度图，可选输出 STL
func runOnce(ctx context.Context, model depth.Model, maxPixels int64, inputPath, outputPath, stlPath string) error {
	defer util.Trace("process image", "input", inputPath)()

	data, err := util.ReadSource(ctx, inputPath)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	img, err := depth.DecodeUploadLimit(data, maxPixels)
	if err != nil {
		return err
	}

	m, err := depth.Estimate(ctx, img, model)
	if err != nil {
		return err
	}

	pngData, err := depth.EncodePNG(m)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(outputPath); dir != "." {
		if err := os.MkdirAll(dir, os.ModePerm); err != nil {
			return err
		}
	}
	if err := os.WriteFile(outputPath, pngData, 0o644); err != nil {
		return fmt.Errorf("write depth map: %w", err)
	}
	slog.Info("depth map written", "path", outputPath, "width", m.Width, "height", m.Height)

	if stlPath == "" {
		return nil
	}
	return writeSTL(stlPath, m)
}

func writeSTL(path string, m *depth.Map) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create stl: %w", err)
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()

	if err := stl.Write(f, m, stl.DefaultOptions()); err != nil {
		return fmt.Errorf("write stl: %w", err)
	}
	slog.Info("stl written", "path", path)
	return nil
}
