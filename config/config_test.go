package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"PORT", "HF_HOME", "HF_ENDPOINT", "HF_TOKEN", "DEPTH_MODEL_ID", "DEPTH_MODEL_FILE",
	"DEPTH_BACKEND", "DEPTH_DEVICE", "DEPTH_REMOTE_URL", "DEPTH_PRELOAD",
	"ONNXRUNTIME_SHARED_LIBRARY_PATH", "MAX_UPLOAD_BYTES", "MAX_IMAGE_PIXELS", "LOG_LEVEL", "GIN_MODE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Port)
	assert.Equal(t, "models", cfg.HFHome)
	assert.Equal(t, "https://huggingface.co", cfg.HubEndpoint)
	assert.Equal(t, "onnx-community/depth-anything-v2-small", cfg.ModelID)
	assert.Equal(t, "onnx/model.onnx", cfg.ModelFile)
	assert.Equal(t, BackendONNX, cfg.Backend)
	assert.Equal(t, "auto", cfg.Device)
	assert.True(t, cfg.Preload)
	assert.Equal(t, int64(32<<20), cfg.MaxUploadBytes)
	assert.Equal(t, int64(178956970), cfg.MaxImagePixels)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "release", cfg.GinMode)
}

func TestLoad_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("HF_HOME", "/var/cache/hf")
	t.Setenv("HF_ENDPOINT", "http://mirror.local/")
	t.Setenv("HF_TOKEN", "hf_secret")
	t.Setenv("DEPTH_BACKEND", "Luminance")
	t.Setenv("DEPTH_DEVICE", "CPU")
	t.Setenv("DEPTH_PRELOAD", "false")
	t.Setenv("MAX_UPLOAD_BYTES", "1024")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("HUB_SWEEP_SCHEDULE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "/var/cache/hf", cfg.HFHome)
	assert.Equal(t, "http://mirror.local", cfg.HubEndpoint)
	assert.Equal(t, "hf_secret", cfg.HFToken)
	assert.Equal(t, BackendLuminance, cfg.Backend)
	assert.Equal(t, "cpu", cfg.Device)
	assert.False(t, cfg.Preload)
	assert.Equal(t, int64(1024), cfg.MaxUploadBytes)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Empty(t, cfg.HubSweepSchedule)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{name: "未知后端", key: "DEPTH_BACKEND", value: "torch"},
		{name: "未知设备", key: "DEPTH_DEVICE", value: "tpu"},
		{name: "预加载不是布尔值", key: "DEPTH_PRELOAD", value: "maybe"},
		{name: "上传上限不是数字", key: "MAX_UPLOAD_BYTES", value: "lots"},
		{name: "上传上限非正数", key: "MAX_UPLOAD_BYTES", value: "0"},
		{name: "日志级别", key: "LOG_LEVEL", value: "chatty"},
		{name: "gin 模式", key: "GIN_MODE", value: "prod"},
		{name: "像素上限不是数字", key: "MAX_IMAGE_PIXELS", value: "huge"},
		{name: "像素上限非正数", key: "MAX_IMAGE_PIXELS", value: "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
