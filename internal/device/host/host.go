// Package host implements a device running compiled kernels on the CPU.
//
// The device owns a single command stream: one worker goroutine drains a FIFO
// of submissions. Dispatches of one stage run concurrently on an errgroup,
// and kernels split their rows across the configured workers.
package host

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/born-ml/graphrt/internal/device"
	"github.com/born-ml/graphrt/internal/operators"
	"github.com/born-ml/graphrt/internal/parallel"
)

// buffer is a host allocation. data may be larger than size when it came from
// the pool.
type buffer struct {
	owner    *Device
	label    string
	size     int
	data     []byte
	capacity uint64
	released bool
}

func (b *buffer) Label() string { return b.label }
func (b *buffer) Size() int     { return b.size }

func (b *buffer) bytes() []byte { return b.data[:b.size] }

type job struct {
	sub    *device.Submission
	future *device.Future
}

// Device is a CPU device.
type Device struct {
	opts options
	pool *device.Pool[[]byte]

	queue  chan job
	done   chan struct{}
	sendMu sync.RWMutex // guards closed and sends on queue
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

// New creates a host device and starts its command stream.
func New(opts ...Option) *Device {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	d := &Device{
		opts:  o,
		queue: make(chan job, o.queueDepth),
		done:  make(chan struct{}),
		live:  make(map[*buffer]struct{}),
	}
	d.pool = device.NewPool(func(size uint64) ([]byte, error) {
		return make([]byte, size), nil
	}, func([]byte) {}, o.poolLimit)

	go d.run()
	klog.V(1).Infof("host device: %d workers, vector width %d", o.workers, o.vectorWidth)
	return d
}

// Name implements device.Device.
func (d *Device) Name() string {
	return "host"
}

// Target implements device.Device.
func (d *Device) Target() operators.Target {
	return operators.Target{
		Name:          "host",
		HostExecution: true,
		VectorWidth:   d.opts.vectorWidth,
	}
}

// Allocate implements device.Device. The returned buffer is zeroed.
func (d *Device) Allocate(label string, size int) (device.Buffer, error) {
	if size <= 0 {
		return nil, errors.Errorf("host: allocate %q: invalid size %d", label, size)
	}
	if d.lost.Load() {
		return nil, errors.WithMessagef(device.ErrDeviceLost, "host: allocate %q", label)
	}
	d.sendMu.RLock()
	closed := d.closed
	d.sendMu.RUnlock()
	if closed {
		return nil, errors.WithMessagef(device.ErrClosed, "host: allocate %q", label)
	}

	data, capacity, err := d.pool.Acquire(uint64(size))
	if err != nil {
		return nil, errors.Wrapf(err, "host: allocate %q", label)
	}
	clear(data)
	b := &buffer{owner: d, label: label, size: size, data: data, capacity: capacity}

	d.mu.Lock()
	d.live[b] = struct{}{}
	d.liveBytes += capacity
	d.peakBytes = max(d.peakBytes, d.liveBytes)
	d.mu.Unlock()

	klog.V(2).Infof("host: allocated %q (%s)", label, humanize.IBytes(uint64(size)))
	return b, nil
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
		return errors.Errorf("host: buffer %q released twice", b.label)
	}
	b.released = true
	delete(d.live, b)
	d.liveBytes -= b.capacity
	d.mu.Unlock()

	d.pool.Release(b.data, b.capacity)
	return nil
}

// Submit implements device.Device.
func (d *Device) Submit(ctx context.Context, sub *device.Submission) *device.Future {
	if sub == nil {
		return device.Failed(errors.New("host: nil submission"))
	}
	d.sendMu.RLock()
	defer d.sendMu.RUnlock()
	if d.closed {
		return device.Failed(errors.WithMessagef(device.ErrClosed, "host: submit %q", sub.Label))
	}
	f := device.NewFuture()
	select {
	case d.queue <- job{sub: sub, future: f}:
		return f
	case <-ctx.Done():
		return device.Failed(errors.Wrapf(ctx.Err(), "host: submit %q", sub.Label))
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

// Close implements device.Device. Queued submissions finish first.
func (d *Device) Close() error {
	d.sendMu.Lock()
	if d.closed {
		d.sendMu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.sendMu.Unlock()

	<-d.done
	d.pool.Clear()

	d.mu.Lock()
	leaked, bytes := len(d.live), d.liveBytes
	d.mu.Unlock()
	if leaked > 0 {
		klog.Warningf("host device closed with %d live buffers (%s)", leaked, humanize.IBytes(bytes))
	}
	klog.V(1).Infof("host device closed: %s", d.Stats())
	return nil
}

func (d *Device) run() {
	defer close(d.done)
	for j := range d.queue {
		j.future.Complete(d.execute(j.sub))
	}
}

func (d *Device) execute(sub *device.Submission) error {
	if d.lost.Load() {
		return errors.WithMessagef(device.ErrDeviceLost, "host: submission %q", sub.Label)
	}
	d.submissions.Add(1)
	klog.V(2).Infof("host: submission %q: %d uploads, %d dispatches in %d stages, %d downloads",
		sub.Label, len(sub.Uploads), sub.NumDispatches(), len(sub.Stages), len(sub.Downloads))

	for _, up := range sub.Uploads {
		b, err := d.own(up.Dst)
		if err != nil {
			return err
		}
		if len(up.Data) != b.size {
			return errors.Errorf("host: upload of %d bytes into %q of %d bytes", len(up.Data), b.label, b.size)
		}
		copy(b.bytes(), up.Data)
	}

	for i, stage := range sub.Stages {
		if err := d.runStage(stage, sub.Sequential); err != nil {
			return errors.WithMessagef(err, "host: submission %q stage %d", sub.Label, i)
		}
	}

	for _, down := range sub.Downloads {
		b, err := d.own(down.Src)
		if err != nil {
			return err
		}
		if len(down.Dst) < b.size {
			return errors.Errorf("host: download of %q (%d bytes) into %d bytes", b.label, b.size, len(down.Dst))
		}
		copy(down.Dst, b.bytes())
	}
	return nil
}

func (d *Device) runStage(stage []device.Dispatch, sequential bool) error {
	workers := d.opts.workers
	if sequential {
		workers = 1
	}
	cfg := parallel.Config{Enabled: workers > 1, NumWorkers: workers, MinChunkSize: 4}

	if workers == 1 || len(stage) == 1 {
		for _, dp := range stage {
			if err := d.dispatch(dp, cfg); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(workers)
	for _, dp := range stage {
		g.Go(func() error {
			return d.dispatch(dp, cfg)
		})
	}
	return g.Wait()
}

// dispatch runs one kernel. A panic in the kernel, or in one of its parallel
// chunks, marks the device as lost.
func (d *Device) dispatch(dp device.Dispatch, cfg parallel.Config) (err error) {
	k := dp.Kernel
	if k == nil || k.Host == nil {
		return errors.Errorf("host: kernel %v has no host implementation", k)
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(device.ErrDeviceLost, "host: kernel %s panicked: %v", k.Name, r)
		}
		if errors.Is(err, parallel.ErrPanic) {
			err = errors.Wrapf(device.ErrDeviceLost, "host: kernel %s: %v", k.Name, err)
		}
		if errors.Is(err, device.ErrDeviceLost) {
			d.lost.Store(true)
		}
	}()

	inputs := make([][]byte, len(dp.Inputs))
	for i, in := range dp.Inputs {
		b, err := d.own(in)
		if err != nil {
			return err
		}
		inputs[i] = b.bytes()
	}
	out, err := d.own(dp.Output)
	if err != nil {
		return err
	}

	d.dispatches.Add(1)
	klog.V(2).Infof("host: dispatch %s -> %q", k, out.label)
	if err := k.Host(context.Background(), inputs, out.bytes(), cfg); err != nil {
		return errors.WithMessagef(err, "host: kernel %s", k.Name)
	}
	return nil
}

// own checks that buf is a live buffer of this device.
func (d *Device) own(buf device.Buffer) (*buffer, error) {
	b, ok := buf.(*buffer)
	if !ok || b == nil || b.owner != d {
		return nil, errors.Errorf("host: buffer %v does not belong to this device", buf)
	}
	d.mu.Lock()
	released := b.released
	d.mu.Unlock()
	if released {
		return nil, errors.Errorf("host: buffer %q used after release", b.label)
	}
	return b, nil
}
