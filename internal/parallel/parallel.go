// Package parallel splits data-parallel loops of host kernels across goroutines.
package parallel

import (
	"context"
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 16,
	}
}

// ErrPanic marks errors produced by a panic inside a loop body.
var ErrPanic = errors.New("panic in parallel loop")

// Sequential returns a config that runs every loop on the calling goroutine.
func Sequential() Config {
	return Config{Enabled: false, NumWorkers: 1, MinChunkSize: 1}
}

// For calls f on contiguous chunks [start, end) covering [0, n).
//
// Falls back to a single chunk on the calling goroutine if parallelism is
// disabled or n is too small. A panic inside f is recovered and returned as
// an error wrapping ErrPanic. Chunks not yet started when ctx is canceled are
// skipped and ctx.Err() is returned.
func For(ctx context.Context, n int, f func(start, end int), cfg Config) error {
	if n <= 0 {
		return nil
	}
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n < 2*max(cfg.MinChunkSize, 1) {
		if err := ctx.Err(); err != nil {
			return err
		}
		return runChunk(f, 0, n)
	}

	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.NumWorkers)
	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return runChunk(f, start, end)
		})
	}
	return g.Wait()
}

// ForBatch iterates the rows of a batch of matrices, calling f(b, r) for every
// batch index b < batch and row r < rows.
func ForBatch(ctx context.Context, batch, rows int, f func(b, r int), cfg Config) error {
	return For(ctx, batch*rows, func(start, end int) {
		for k := start; k < end; k++ {
			f(k/rows, k%rows)
		}
	}, cfg)
}

func runChunk(f func(start, end int), start, end int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrPanic, "chunk [%d, %d): %v", start, end, r)
		}
	}()
	f(start, end)
	return nil
}
