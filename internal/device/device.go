// Package device defines the contract between an execution session and the
// hardware running its kernels.
//
// A Device owns one command stream. Sessions allocate buffers on it and hand it
// Submissions: uploads, stages of kernel dispatches and downloads. The device
// executes submissions in the order they were submitted and reports completion
// through a Future.
package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"

	"github.com/born-ml/graphrt/internal/operators"
)

// ErrDeviceLost reports that the device can no longer execute work. It is
// sticky: every later submission fails with it as well.
var ErrDeviceLost = errors.New("device lost")

// ErrClosed is returned by a device after Close.
var ErrClosed = errors.New("device closed")

// Buffer is a device allocation. Its contents are only reachable through
// uploads and downloads of a Submission.
type Buffer interface {
	Label() string
	Size() int
}

// Device executes compiled kernels on buffers it owns.
type Device interface {
	// Name identifies the device in logs.
	Name() string

	// Target describes what kernels must be compiled for.
	Target() operators.Target

	// Allocate reserves a buffer of size bytes.
	Allocate(label string, size int) (Buffer, error)

	// Release returns a buffer to the device. Releasing a buffer twice is an error.
	Release(buf Buffer) error

	// Submit enqueues work on the command stream. It blocks only while the
	// queue is full; if ctx is done first, the returned future fails with
	// ctx.Err() and the work is not executed.
	Submit(ctx context.Context, sub *Submission) *Future

	// Stats returns a snapshot of the device counters.
	Stats() Stats

	// Close waits for queued submissions and releases all device resources.
	Close() error
}

// Upload copies host bytes into a device buffer.
type Upload struct {
	Dst  Buffer
	Data []byte
}

// Dispatch runs one kernel. Inputs are bound in order, followed by Output.
type Dispatch struct {
	Kernel *operators.CompiledKernel
	Inputs []Buffer
	Output Buffer
}

// Download copies a device buffer back into host memory. Dst must be at least
// Src.Size() bytes long.
type Download struct {
	Src Buffer
	Dst []byte
}

// Submission is a unit of work on a command stream. Uploads complete before the
// first stage, stages run in order, and dispatches of one stage are independent
// of each other. Downloads observe the results of every stage.
type Submission struct {
	Label     string
	Uploads   []Upload
	Stages    [][]Dispatch
	Downloads []Download

	// Sequential forbids running dispatches of a stage concurrently.
	Sequential bool
}

// NumDispatches returns the number of kernel dispatches across all stages.
func (s *Submission) NumDispatches() int {
	n := 0
	for _, stage := range s.Stages {
		n += len(stage)
	}
	return n
}

// Future is the completion handle of a Submission.
type Future struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewFuture creates a pending future.
func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Failed returns an already completed future carrying err.
func Failed(err error) *Future {
	f := NewFuture()
	f.Complete(err)
	return f
}

// Complete resolves the future. Only the first call has an effect.
func (f *Future) Complete(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Done is closed once the submission finished, successfully or not.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Err returns the completion error. Only valid after Done is closed.
func (f *Future) Err() error {
	return f.err
}

// Wait blocks until the submission completes or ctx is done. On cancellation
// the submission keeps running on the device.
func (f *Future) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats are cumulative device counters.
type Stats struct {
	Submissions   uint64
	Dispatches    uint64
	LiveBuffers   int
	LiveBytes     uint64
	PeakBytes     uint64
	PoolHits      uint64
	PoolMisses    uint64
	PooledBuffers int
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("%d submissions, %d dispatches, %d live buffers (%s, peak %s), pool %d hits / %d misses",
		s.Submissions, s.Dispatches, s.LiveBuffers, humanize.IBytes(s.LiveBytes), humanize.IBytes(s.PeakBytes),
		s.PoolHits, s.PoolMisses)
}
