package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	BackendONNX      = "onnx"
	BackendRemote    = "remote"
	BackendLuminance = "luminance"
)

type Config struct {
	Port string

	// 模型缓存目录，兼容 HuggingFace 的 HF_HOME
	HFHome      string
	HubEndpoint string
	HFToken     string
	ModelID     string
	ModelFile   string

	Backend   string
	Device    string
	RemoteURL string
	Preload   bool

	ORTSharedLibraryPath string

	MaxUploadBytes   int64
	MaxImagePixels   int64
	HubSweepSchedule string

	LogLevel slog.Level
	GinMode  string
}

// Load 读取环境变量，当前目录存在 .env 时先加载它
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8000"),
		HFHome:               getEnv("HF_HOME", "models"),
		HubEndpoint:          strings.TrimRight(getEnv("HF_ENDPOINT", "https://huggingface.co"), "/"),
		HFToken:              os.Getenv("HF_TOKEN"),
		ModelID:              getEnv("DEPTH_MODEL_ID", "onnx-community/depth-anything-v2-small"),
		ModelFile:            getEnv("DEPTH_MODEL_FILE", "onnx/model.onnx"),
		Backend:              strings.ToLower(getEnv("DEPTH_BACKEND", BackendONNX)),
		Device:               strings.ToLower(getEnv("DEPTH_DEVICE", "auto")),
		RemoteURL:            getEnv("DEPTH_REMOTE_URL", "http://localhost:5000/predict"),
		ORTSharedLibraryPath: os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH"),
		HubSweepSchedule:     getEnvAllowEmpty("HUB_SWEEP_SCHEDULE", "@every 1h"),
		GinMode:              getEnv("GIN_MODE", "release"),
	}

	var err error
	if cfg.Preload, err = strconv.ParseBool(getEnv("DEPTH_PRELOAD", "true")); err != nil {
		return nil, fmt.Errorf("DEPTH_PRELOAD: %w", err)
	}
	if cfg.MaxUploadBytes, err = strconv.ParseInt(getEnv("MAX_UPLOAD_BYTES", "33554432"), 10, 64); err != nil {
		return nil, fmt.Errorf("MAX_UPLOAD_BYTES: %w", err)
	}
	if cfg.MaxImagePixels, err = strconv.ParseInt(getEnv("MAX_IMAGE_PIXELS", "178956970"), 10, 64); err != nil {
		return nil, fmt.Errorf("MAX_IMAGE_PIXELS: %w", err)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendONNX, BackendRemote, BackendLuminance:
	default:
		return fmt.Errorf("unknown DEPTH_BACKEND %q", c.Backend)
	}
	switch c.Device {
	case "auto", "coreml", "cuda", "cpu":
	default:
		return fmt.Errorf("unknown DEPTH_DEVICE %q", c.Device)
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("unknown GIN_MODE %q", c.GinMode)
	}
	if c.MaxImagePixels <= 0 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be positive, got %d", c.MaxImagePixels)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvAllowEmpty 变量显式设为空字符串时返回空
func getEnvAllowEmpty(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}
