// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package webgpu provides a device backed by WebGPU compute shaders.
//
// The device is available on Windows with wgpu-native installed. Elsewhere New
// returns ErrUnavailable.
//
// Example:
//
//	dev, err := webgpu.New()
//	if err != nil {
//	    dev = host.New()
//	}
//	defer dev.Close()
package webgpu

import (
	"github.com/born-ml/graphrt/device"
	internalwebgpu "github.com/born-ml/graphrt/internal/device/webgpu"
)

// ErrUnavailable reports a platform without WebGPU support.
var ErrUnavailable = internalwebgpu.ErrUnavailable

// New opens the default adapter.
func New() (device.Device, error) {
	return internalwebgpu.New()
}

// IsAvailable reports whether an adapter can be opened.
func IsAvailable() bool {
	return internalwebgpu.IsAvailable()
}
