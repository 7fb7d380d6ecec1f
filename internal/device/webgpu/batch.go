//go:build windows

package webgpu

import (
	"unsafe"

	"github.com/go-webgpu/webgpu/wgpu"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/graphrt/internal/device"
)

// commandBatch encodes a whole submission into one command encoder, so the
// GPU sees a single queue submission per session run. Compute passes execute
// in encoding order, which provides the barrier between stages.
type commandBatch struct {
	dev     *Device
	encoder *wgpu.CommandEncoder

	staging    []*wgpu.Buffer    // released after the queue submission
	bindGroups []*wgpu.BindGroup // released after the queue submission
	readbacks  []readback
}

type readback struct {
	staging *wgpu.Buffer
	size    uint64
	dst     []byte
	n       int
}

func (d *Device) newBatch() *commandBatch {
	return &commandBatch{dev: d, encoder: d.device.CreateCommandEncoder(nil)}
}

// upload stages data in a buffer mapped at creation and copies it into dst.
func (batch *commandBatch) upload(dst *buffer, data []byte) {
	size := alignedSize(len(data))
	staging := batch.dev.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            wgpu.BufferUsageCopySrc,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})
	mappedPtr := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
	mapped := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mapped, data)
	clear(mapped[len(data):])
	staging.Unmap()

	batch.encoder.CopyBufferToBuffer(staging, 0, dst.buf, 0, size)
	batch.staging = append(batch.staging, staging)
}

// dispatch encodes one compute pass.
func (batch *commandBatch) dispatch(dp device.Dispatch, inputs []*buffer, output *buffer) error {
	k := dp.Kernel
	pipeline, err := batch.dev.pipeline(k)
	if err != nil {
		return err
	}

	entries := make([]wgpu.BindGroupEntry, 0, len(inputs)+1)
	for i, in := range inputs {
		//nolint:gosec // G115: Safe conversion, binding index is small
		entries = append(entries, wgpu.BufferBindingEntry(uint32(i), in.buf, 0, alignedSize(in.size)))
	}
	//nolint:gosec // G115: Safe conversion, binding index is small
	entries = append(entries, wgpu.BufferBindingEntry(uint32(len(inputs)), output.buf, 0, alignedSize(output.size)))

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := batch.dev.device.CreateBindGroupSimple(bindGroupLayout, entries)
	batch.bindGroups = append(batch.bindGroups, bindGroup)

	computePass := batch.encoder.BeginComputePass(nil)
	computePass.SetPipeline(pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)
	wg := k.Dispatch.Workgroups
	//nolint:gosec // G115: Safe conversions, workgroup counts are bounded by the target limits
	computePass.DispatchWorkgroups(uint32(wg[0]), uint32(wg[1]), uint32(wg[2]))
	computePass.End()

	batch.dev.dispatches.Add(1)
	klog.V(2).Infof("webgpu: dispatch %s -> %q", k, output.label)
	return nil
}

// download copies src into a staging buffer that is read after submission.
func (batch *commandBatch) download(src *buffer, dst []byte) {
	size := alignedSize(src.size)
	staging := batch.dev.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	batch.encoder.CopyBufferToBuffer(src.buf, 0, staging, 0, size)
	batch.readbacks = append(batch.readbacks, readback{staging: staging, size: size, dst: dst, n: src.size})
}

// submit finishes the encoder, submits it and completes every readback.
func (batch *commandBatch) submit() error {
	defer batch.release()

	cmdBuffer := batch.encoder.Finish(nil)
	batch.dev.queue.Submit(cmdBuffer)

	for _, rb := range batch.readbacks {
		if err := rb.staging.MapAsync(batch.dev.device, wgpu.MapModeRead, 0, rb.size); err != nil {
			return errors.Wrapf(device.ErrDeviceLost, "webgpu: map staging buffer: %v", err)
		}
		mappedPtr := rb.staging.GetMappedRange(0, rb.size)
		//nolint:gosec // unsafe.Slice for zero-copy conversion from unsafe.Pointer
		mapped := unsafe.Slice((*byte)(mappedPtr), rb.size)
		copy(rb.dst[:rb.n], mapped)
		rb.staging.Unmap()
	}
	return nil
}

func (batch *commandBatch) release() {
	for _, bg := range batch.bindGroups {
		bg.Release()
	}
	for _, b := range batch.staging {
		b.Release()
	}
	for _, rb := range batch.readbacks {
		rb.staging.Release()
	}
	batch.bindGroups, batch.staging, batch.readbacks = nil, nil, nil
}

// execute runs a submission on the GPU. A panic in the native layer marks the
// device as lost.
func (d *Device) execute(sub *device.Submission) (err error) {
	if d.lost.Load() {
		return errors.WithMessagef(device.ErrDeviceLost, "webgpu: submission %q", sub.Label)
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(device.ErrDeviceLost, "webgpu: submission %q: %v", sub.Label, r)
		}
		if errors.Is(err, device.ErrDeviceLost) {
			d.lost.Store(true)
		}
	}()

	d.submissions.Add(1)
	klog.V(2).Infof("webgpu: submission %q: %d uploads, %d dispatches in %d stages, %d downloads",
		sub.Label, len(sub.Uploads), sub.NumDispatches(), len(sub.Stages), len(sub.Downloads))

	batch := d.newBatch()
	for _, up := range sub.Uploads {
		b, err := d.own(up.Dst)
		if err != nil {
			batch.release()
			return err
		}
		if len(up.Data) != b.size {
			batch.release()
			return errors.Errorf("webgpu: upload of %d bytes into %q of %d bytes", len(up.Data), b.label, b.size)
		}
		batch.upload(b, up.Data)
	}

	for _, stage := range sub.Stages {
		for _, dp := range stage {
			if dp.Kernel == nil {
				batch.release()
				return errors.New("webgpu: dispatch without kernel")
			}
			inputs := make([]*buffer, len(dp.Inputs))
			for i, in := range dp.Inputs {
				b, err := d.own(in)
				if err != nil {
					batch.release()
					return err
				}
				inputs[i] = b
			}
			out, err := d.own(dp.Output)
			if err != nil {
				batch.release()
				return err
			}
			if err := batch.dispatch(dp, inputs, out); err != nil {
				batch.release()
				return err
			}
		}
	}

	for _, down := range sub.Downloads {
		b, err := d.own(down.Src)
		if err != nil {
			batch.release()
			return err
		}
		if len(down.Dst) < b.size {
			batch.release()
			return errors.Errorf("webgpu: download of %q (%d bytes) into %d bytes", b.label, b.size, len(down.Dst))
		}
		batch.download(b, down.Dst)
	}
	return batch.submit()
}
