// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package host provides a device that executes kernels on the CPU.
package host

import (
	"github.com/born-ml/graphrt/device"
	internalhost "github.com/born-ml/graphrt/internal/device/host"
)

// Device executes host kernels on a pool of goroutines.
type Device = internalhost.Device

// Option configures a Device.
type Option = internalhost.Option

// Compile-time check that Device implements device.Device.
var _ device.Device = (*Device)(nil)

// Options.
var (
	WithWorkers     = internalhost.WithWorkers
	WithPoolLimit   = internalhost.WithPoolLimit
	WithQueueDepth  = internalhost.WithQueueDepth
	WithVectorWidth = internalhost.WithVectorWidth
)

// New starts a host device. Call Close to stop its command stream.
//
// Example:
//
//	dev := host.New(host.WithWorkers(4))
//	defer dev.Close()
func New(opts ...Option) *Device {
	return internalhost.New(opts...)
}
