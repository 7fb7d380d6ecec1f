package parallel

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFor(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 8}

	n := 1000
	seen := make([]int32, n)
	err := For(context.Background(), n, func(start, end int) {
		for i := start; i < end; i++ {
			atomic.AddInt32(&seen[i], 1)
		}
	}, cfg)
	require.NoError(t, err)
	for i, c := range seen {
		require.Equal(t, int32(1), c, "index %d visited %d times", i, c)
	}
}

func TestForBatch(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 3, MinChunkSize: 2}

	batch, rows := 4, 8
	results := make([][]bool, batch)
	for b := range results {
		results[b] = make([]bool, rows)
	}

	err := ForBatch(context.Background(), batch, rows, func(b, r int) {
		results[b][r] = true
	}, cfg)
	require.NoError(t, err)

	for b := range batch {
		for r := range rows {
			assert.True(t, results[b][r], "missing result at [%d][%d]", b, r)
		}
	}
}

func TestFor_Sequential(t *testing.T) {
	var calls, counter int64
	err := For(context.Background(), 100, func(start, end int) {
		atomic.AddInt64(&calls, 1)
		atomic.AddInt64(&counter, int64(end-start))
	}, Sequential())
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls)
	assert.Equal(t, int64(100), counter)
}

func TestFor_SmallChunk(t *testing.T) {
	// Small work units fall back to a single chunk.
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.NumWorkers = 8

	var calls int64
	err := For(context.Background(), cfg.MinChunkSize, func(_, _ int) {
		atomic.AddInt64(&calls, 1)
	}, cfg)
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls)
}

func TestFor_Empty(t *testing.T) {
	err := For(context.Background(), 0, func(_, _ int) {
		t.Fatal("must not be called")
	}, DefaultConfig())
	require.NoError(t, err)
}

func TestFor_RecoversPanic(t *testing.T) {
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}
	err := For(context.Background(), 64, func(start, _ int) {
		if start == 0 {
			panic("boom")
		}
	}, cfg)
	require.ErrorIs(t, err, ErrPanic)
	assert.Contains(t, err.Error(), "boom")

	err = For(context.Background(), 4, func(_, _ int) { panic("sequential boom") }, Sequential())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sequential boom")
}

func TestFor_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int64
	cfg := Config{Enabled: true, NumWorkers: 4, MinChunkSize: 1}
	err := For(ctx, 64, func(_, _ int) {
		atomic.AddInt64(&calls, 1)
	}, cfg)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, atomic.LoadInt64(&calls))

	err = For(ctx, 4, func(_, _ int) { atomic.AddInt64(&calls, 1) }, Sequential())
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, atomic.LoadInt64(&calls))
}

func BenchmarkFor(b *testing.B) {
	cfg := DefaultConfig()
	n := 10000
	ctx := context.Background()

	b.Run("parallel", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var sum int64
			_ = For(ctx, n, func(start, end int) {
				atomic.AddInt64(&sum, int64(end-start))
			}, cfg)
		}
	})

	b.Run("sequential", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			var sum int64
			_ = For(ctx, n, func(start, end int) {
				atomic.AddInt64(&sum, int64(end-start))
			}, Sequential())
		}
	})
}
