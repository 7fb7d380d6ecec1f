// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package device defines the execution contract shared by all devices.
//
// A device owns one command stream. Submissions from any number of sessions are
// executed in the order they were handed to Submit.
package device

import "github.com/born-ml/graphrt/internal/device"

// Device is a compute device with its own command stream.
type Device = device.Device

// Buffer is a device memory region.
type Buffer = device.Buffer

// Stats are device counters.
type Stats = device.Stats

// ErrDeviceLost reports a device that can no longer execute work.
var ErrDeviceLost = device.ErrDeviceLost

// ErrClosed reports use of a closed device.
var ErrClosed = device.ErrClosed
