package host

import "runtime"

// Option configures a host device.
type Option func(*options)

type options struct {
	workers     int
	poolLimit   int
	queueDepth  int
	vectorWidth int
}

func defaultOptions() options {
	return options{
		workers:     runtime.NumCPU(),
		queueDepth:  16,
		vectorWidth: vectorWidth(),
	}
}

// WithWorkers sets the number of goroutines kernels and independent dispatches
// may use. Values below 1 select one worker.
func WithWorkers(n int) Option {
	return func(o *options) {
		o.workers = max(n, 1)
	}
}

// WithPoolLimit bounds the number of idle buffers kept per size class.
func WithPoolLimit(n int) Option {
	return func(o *options) {
		o.poolLimit = n
	}
}

// WithQueueDepth sets how many submissions may wait on the command stream
// before Submit blocks.
func WithQueueDepth(n int) Option {
	return func(o *options) {
		o.queueDepth = max(n, 0)
	}
}

// WithVectorWidth overrides the detected SIMD width reported in the target.
func WithVectorWidth(n int) Option {
	return func(o *options) {
		o.vectorWidth = max(n, 1)
	}
}
