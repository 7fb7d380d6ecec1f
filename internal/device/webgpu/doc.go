// Package webgpu implements a device running compiled kernels as WGSL compute
// shaders. Uses go-webgpu (github.com/go-webgpu/webgpu) for zero-CGO WebGPU
// bindings, which are only wired up on Windows; elsewhere New reports
// ErrUnavailable.
package webgpu

import "github.com/pkg/errors"

// ErrUnavailable is returned by New when no WebGPU implementation can be loaded.
var ErrUnavailable = errors.New("webgpu: not available")

// WebGPU default limits. Kernels compiled against them run on every conforming
// adapter.
const (
	maxComputeInvocationsPerWorkgroup = 256
	maxComputeWorkgroupsPerDimension  = 65535
)
