// Package server 暴露深度估计的 HTTP 接口
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chaos-io/comic-engine/depth"
)

const (
	// ShutdownTimeout 收到退出信号后等待进行中请求的时间
	ShutdownTimeout = 10 * time.Second

	defaultMaxUploadBytes = 32 << 20
)

type Options struct {
	// MaxUploadBytes 请求体上限，超过返回 413
	MaxUploadBytes int64
	// MaxPixels 解码前的像素数上限，超过返回 400，<= 0 时使用 depth.MaxPixels
	MaxPixels int64
}

func DefaultOptions() Options {
	return Options{MaxUploadBytes: defaultMaxUploadBytes, MaxPixels: depth.MaxPixels}
}

type Server struct {
	engine *gin.Engine
	model  depth.Model
	opts   Options
}

func New(model depth.Model, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.MaxPixels <= 0 {
		opts.MaxPixels = depth.MaxPixels
	}

	s := &Server{
		engine: gin.New(),
		model:  model,
		opts:   opts,
	}
	s.engine.Use(recovery(), requestID(), accessLog(), cors(), limitBody(opts.MaxUploadBytes))
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.POST("/depth", s.handleDepth)
	api.POST("/depth/stl", s.handleDepthSTL)
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run 阻塞直到 ctx 结束或监听失败，ctx 结束后优雅关闭
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down server", "timeout", ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
