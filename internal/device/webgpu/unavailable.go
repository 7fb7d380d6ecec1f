//go:build !windows

package webgpu

import "github.com/born-ml/graphrt/internal/device"

// New always fails on this platform.
func New() (device.Device, error) {
	return nil, ErrUnavailable
}

// IsAvailable reports whether WebGPU can be used on this system.
func IsAvailable() bool {
	return false
}
