//go:build windows

package webgpu

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/graphrt/internal/device"
	"github.com/born-ml/graphrt/internal/operators"
)

// storageUsage is the usage of every session buffer: bound as storage by
// kernels and copied to and from staging buffers.
const storageUsage = wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst

// buffer is a storage buffer on the GPU. The allocation is at least
// alignedSize(size) bytes.
type buffer struct {
	owner    *Device
	label    string
	size     int
	buf      *wgpu.Buffer
	capacity uint64
	released bool
}

func (b *buffer) Label() string { return b.label }
func (b *buffer) Size() int     { return b.size }

type job struct {
	sub    *device.Submission
	future *device.Future
}

// Device is a WebGPU device with a single command stream.
type Device struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	info     wgpu.AdapterInfo

	// Shader and pipeline cache, keyed by WGSL source (and entry point).
	shaders   map[string]*wgpu.ShaderModule
	pipelines map[string]*wgpu.ComputePipeline
	cacheMu   sync.RWMutex

	pool *device.Pool[*wgpu.Buffer]

	jobs   chan job
	done   chan struct{}
	sendMu sync.RWMutex
	closed bool

	mu        sync.Mutex
	live      map[*buffer]struct{}
	liveBytes uint64
	peakBytes uint64

	submissions atomic.Uint64
	dispatches  atomic.Uint64
	lost        atomic.Bool
}

var _ device.Device = (*Device)(nil)

// New opens the high-performance adapter and starts its command stream.
// Returns ErrUnavailable if the native library or an adapter is missing.
func New() (dev device.Device, err error) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			dev = nil
			err = errors.Wrapf(ErrUnavailable, "native library: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return nil, errors.Wrapf(ErrUnavailable, "request adapter: %v", err)
	}
	info := adapter.GetInfo()

	gpu, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return nil, errors.Wrapf(ErrUnavailable, "request device: %v", err)
	}
	queue := gpu.GetQueue()
	if queue == nil {
		gpu.Release()
		adapter.Release()
		instance.Release()
		return nil, errors.Wrap(ErrUnavailable, "no queue")
	}

	d := &Device{
		instance:  instance,
		adapter:   adapter,
		device:    gpu,
		queue:     queue,
		info:      info,
		shaders:   make(map[string]*wgpu.ShaderModule),
		pipelines: make(map[string]*wgpu.ComputePipeline),
		jobs:      make(chan job, 16),
		done:      make(chan struct{}),
		live:      make(map[*buffer]struct{}),
	}
	d.pool = device.NewPool(func(size uint64) (*wgpu.Buffer, error) {
		return gpu.CreateBuffer(&wgpu.BufferDescriptor{Usage: storageUsage, Size: size}), nil
	}, func(b *wgpu.Buffer) {
		b.Release()
	}, device.DefaultPoolLimit)

	go d.run()
	klog.V(1).Infof("webgpu device: %s", d.Name())
	return d, nil
}

// IsAvailable checks if WebGPU is available on this system.
func IsAvailable() (available bool) {
	// Recover from panic if wgpu_native library is not found.
	defer func() {
		if r := recover(); r != nil {
			available = false
		}
	}()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}

// Name implements device.Device.
func (d *Device) Name() string {
	if d.info.Device != "" {
		return fmt.Sprintf("WebGPU (%s %s)", d.info.Device, d.info.Vendor)
	}
	return "WebGPU"
}

// Target implements device.Device.
func (d *Device) Target() operators.Target {
	return operators.Target{
		Name:                      "webgpu",
		MaxWorkgroupInvocations:   maxComputeInvocationsPerWorkgroup,
		MaxWorkgroupsPerDimension: maxComputeWorkgroupsPerDimension,
	}
}

// Allocate implements device.Device.
func (d *Device) Allocate(label string, size int) (device.Buffer, error) {
	if size <= 0 {
		return nil, errors.Errorf("webgpu: allocate %q: invalid size %d", label, size)
	}
	if d.lost.Load() {
		return nil, errors.WithMessagef(device.ErrDeviceLost, "webgpu: allocate %q", label)
	}
	d.sendMu.RLock()
	closed := d.closed
	d.sendMu.RUnlock()
	if closed {
		return nil, errors.WithMessagef(device.ErrClosed, "webgpu: allocate %q", label)
	}

	buf, capacity, err := d.acquire(alignedSize(size))
	if err != nil {
		return nil, errors.WithMessagef(err, "webgpu: allocate %q", label)
	}
	b := &buffer{owner: d, label: label, size: size, buf: buf, capacity: capacity}

	d.mu.Lock()
	d.live[b] = struct{}{}
	d.liveBytes += capacity
	d.peakBytes = max(d.peakBytes, d.liveBytes)
	d.mu.Unlock()

	klog.V(2).Infof("webgpu: allocated %q (%s)", label, humanize.IBytes(capacity))
	return b, nil
}

// acquire converts a panic of the native allocator into ErrDeviceLost.
func (d *Device) acquire(size uint64) (buf *wgpu.Buffer, capacity uint64, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.lost.Store(true)
			err = errors.Wrapf(device.ErrDeviceLost, "create buffer: %v", r)
		}
	}()
	return d.pool.Acquire(size)
}

// Release implements device.Device.
func (d *Device) Release(buf device.Buffer) error {
	b, err := d.own(buf)
	if err != nil {
		return err
	}
	d.mu.Lock()
	if b.released {
		d.mu.Unlock()
		return errors.Errorf("webgpu: buffer %q released twice", b.label)
	}
	b.released = true
	delete(d.live, b)
	d.liveBytes -= b.capacity
	d.mu.Unlock()

	d.pool.Release(b.buf, b.capacity)
	return nil
}

// Submit implements device.Device.
func (d *Device) Submit(ctx context.Context, sub *device.Submission) *device.Future {
	if sub == nil {
		return device.Failed(errors.New("webgpu: nil submission"))
	}
	d.sendMu.RLock()
	defer d.sendMu.RUnlock()
	if d.closed {
		return device.Failed(errors.WithMessagef(device.ErrClosed, "webgpu: submit %q", sub.Label))
	}
	f := device.NewFuture()
	select {
	case d.jobs <- job{sub: sub, future: f}:
		return f
	case <-ctx.Done():
		return device.Failed(errors.Wrapf(ctx.Err(), "webgpu: submit %q", sub.Label))
	}
}

// Stats implements device.Device.
func (d *Device) Stats() device.Stats {
	hits, misses, idle := d.pool.Stats()
	d.mu.Lock()
	defer d.mu.Unlock()
	return device.Stats{
		Submissions:   d.submissions.Load(),
		Dispatches:    d.dispatches.Load(),
		LiveBuffers:   len(d.live),
		LiveBytes:     d.liveBytes,
		PeakBytes:     d.peakBytes,
		PoolHits:      hits,
		PoolMisses:    misses,
		PooledBuffers: idle,
	}
}

// Close implements device.Device. Queued submissions finish first, then every
// WebGPU object is released.
func (d *Device) Close() error {
	d.sendMu.Lock()
	if d.closed {
		d.sendMu.Unlock()
		return nil
	}
	d.closed = true
	close(d.jobs)
	d.sendMu.Unlock()
	<-d.done

	d.pool.Clear()

	d.mu.Lock()
	for b := range d.live {
		b.buf.Release()
		b.released = true
	}
	if n := len(d.live); n > 0 {
		klog.Warningf("webgpu device closed with %d live buffers (%s)", n, humanize.IBytes(d.liveBytes))
	}
	d.live = make(map[*buffer]struct{})
	d.liveBytes = 0
	d.mu.Unlock()

	d.cacheMu.Lock()
	for _, p := range d.pipelines {
		p.Release()
	}
	for _, s := range d.shaders {
		s.Release()
	}
	d.pipelines, d.shaders = nil, nil
	d.cacheMu.Unlock()

	d.queue.Release()
	d.device.Release()
	d.adapter.Release()
	d.instance.Release()
	return nil
}

func (d *Device) run() {
	defer close(d.done)
	for j := range d.jobs {
		j.future.Complete(d.execute(j.sub))
	}
}

// compileShader compiles WGSL source. Modules are cached by their source, so
// kernels are never confused by name.
func (d *Device) compileShader(code string) *wgpu.ShaderModule {
	d.cacheMu.RLock()
	if shader, exists := d.shaders[code]; exists {
		d.cacheMu.RUnlock()
		return shader
	}
	d.cacheMu.RUnlock()

	shader := d.device.CreateShaderModuleWGSL(code)

	d.cacheMu.Lock()
	d.shaders[code] = shader
	d.cacheMu.Unlock()
	return shader
}

// pipeline returns the cached compute pipeline of a kernel, creating it with
// an automatic layout on first use. Pipelines are keyed by entry point and
// shader source.
func (d *Device) pipeline(k *operators.CompiledKernel) (*wgpu.ComputePipeline, error) {
	if k.Shader == "" {
		return nil, errors.Errorf("webgpu: kernel %s has no shader", k.Name)
	}
	entry := k.EntryPoint
	if entry == "" {
		entry = "main"
	}
	key := entry + "\x00" + k.Shader

	d.cacheMu.RLock()
	if pipeline, exists := d.pipelines[key]; exists {
		d.cacheMu.RUnlock()
		return pipeline, nil
	}
	d.cacheMu.RUnlock()

	shader := d.compileShader(k.Shader)
	pipeline := d.device.CreateComputePipelineSimple(nil, shader, entry)

	d.cacheMu.Lock()
	d.pipelines[key] = pipeline
	d.cacheMu.Unlock()
	return pipeline, nil
}

// own checks that buf is a live buffer of this device.
func (d *Device) own(buf device.Buffer) (*buffer, error) {
	b, ok := buf.(*buffer)
	if !ok || b == nil || b.owner != d {
		return nil, errors.Errorf("webgpu: buffer %v does not belong to this device", buf)
	}
	d.mu.Lock()
	released := b.released
	d.mu.Unlock()
	if released {
		return nil, errors.Errorf("webgpu: buffer %q used after release", b.label)
	}
	return b, nil
}

// alignedSize rounds a byte size up to the 4-byte granularity of buffer copies.
func alignedSize(size int) uint64 {
	//nolint:gosec // G115: Safe conversion, size is positive
	return (uint64(size) + 3) &^ 3
}
