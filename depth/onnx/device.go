package onnx

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
)

type Device string

const (
	DeviceCoreML Device = "coreml"
	DeviceCUDA   Device = "cuda"
	DeviceCPU    Device = "cpu"
)

// Preference 自动选择时的优先级，第一个可用的胜出
var Preference = []Device{DeviceCoreML, DeviceCUDA, DeviceCPU}

var errUnavailable = errors.New("not available on this platform")

// candidates 根据配置返回待尝试的设备列表
func candidates(pin string) ([]Device, error) {
	switch pin {
	case "", "auto":
		return Preference, nil
	case string(DeviceCoreML), string(DeviceCUDA), string(DeviceCPU):
		return []Device{Device(pin)}, nil
	default:
		return nil, fmt.Errorf("unknown device %q", pin)
	}
}

// platformSupports 快速排除当前平台不可能有的加速器
func platformSupports(d Device) bool {
	switch d {
	case DeviceCoreML:
		return runtime.GOOS == "darwin"
	case DeviceCUDA:
		return runtime.GOOS == "linux" || runtime.GOOS == "windows"
	default:
		return true
	}
}

// selectDevice 依次调用 try，返回第一个成功的设备
func selectDevice(devices []Device, try func(Device) error) (Device, error) {
	var errs []error
	for _, d := range devices {
		err := try(d)
		if err == nil {
			return d, nil
		}
		slog.Debug("execution device unavailable", "device", d, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", d, err))
	}
	if len(errs) == 0 {
		return "", errors.New("no execution device candidates")
	}
	return "", errors.Join(errs...)
}
