package session

import (
	"context"
	"math"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"github.com/born-ml/graphrt/internal/device"
	"github.com/born-ml/graphrt/internal/device/host"
	"github.com/born-ml/graphrt/internal/graph"
	"github.com/born-ml/graphrt/internal/operators"
	"github.com/born-ml/graphrt/internal/parallel"
	"github.com/born-ml/graphrt/internal/tensor"
)

// fakeDevice is a host device whose submissions can be held back or failed.
type fakeDevice struct {
	*host.Device

	submissions atomic.Int32
	allocations atomic.Int32

	fail       error         // returned by every submission when set
	gate       chan struct{} // submissions wait for it to be closed when set
	allocLimit int32         // Allocate fails after this many calls when > 0
}

func newFakeDevice(t *testing.T) *fakeDevice {
	t.Helper()
	d := &fakeDevice{Device: host.New(host.WithWorkers(2))}
	t.Cleanup(func() { _ = d.Device.Close() })
	return d
}

func (f *fakeDevice) Allocate(label string, size int) (device.Buffer, error) {
	if n := f.allocations.Add(1); f.allocLimit > 0 && n > f.allocLimit {
		return nil, errors.New("out of device memory")
	}
	return f.Device.Allocate(label, size)
}

func (f *fakeDevice) Submit(ctx context.Context, sub *device.Submission) *device.Future {
	f.submissions.Add(1)
	if f.fail != nil {
		return device.Failed(f.fail)
	}
	if f.gate == nil {
		return f.Device.Submit(ctx, sub)
	}
	fut := device.NewFuture()
	go func() {
		<-f.gate
		fut.Complete(f.Device.Submit(context.Background(), sub).Wait(context.Background()))
	}()
	return fut
}

func newHost(t *testing.T) *host.Device {
	t.Helper()
	d := host.New()
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func matmulGraph(t *testing.T, left, right, out []int) *graph.Graph {
	t.Helper()
	g, err := graph.NewBuilder().
		Input("X", tensor.Float32, left...).
		Input("Y", tensor.Float32, right...).
		Output("Z", tensor.Float32, out...).
		Node("matmul", graph.MatMul, []string{"X", "Y"}, []string{"Z"}, nil).
		Build()
	require.NoError(t, err)
	return g
}

func randomTensor(rng *rand.Rand, shape ...int) *tensor.Tensor {
	data := make([]float32, tensor.Shape(shape).NumElements())
	for i := range data {
		data[i] = rng.Float32()
	}
	return must.M1(tensor.FromFloat32(shape, data))
}

// reference multiplies row-major matrices with gonum.
func reference(a, b []float32, m, k, n int) []float32 {
	toDense := func(v []float32, r, c int) *mat.Dense {
		d := make([]float64, len(v))
		for i, x := range v {
			d[i] = float64(x)
		}
		return mat.NewDense(r, c, d)
	}
	var c mat.Dense
	c.Mul(toDense(a, m, k), toDense(b, k, n))
	out := make([]float32, 0, m*n)
	for _, v := range c.RawMatrix().Data {
		out = append(out, float32(v))
	}
	return out
}

func TestPlainMatMul(t *testing.T) {
	dev := newHost(t)
	rng := rand.New(rand.NewPCG(11, 12))
	ctx := context.Background()

	for range 5 {
		m, k, n := 1+rng.IntN(60), 1+rng.IntN(60), 1+rng.IntN(60)
		s := must.M1(New(ctx, dev, matmulGraph(t, []int{m, k}, []int{k, n}, []int{m, n})))

		x, y := randomTensor(rng, m, k), randomTensor(rng, k, n)
		out, err := s.Run(ctx, map[string]*tensor.Tensor{"X": x, "Y": y})
		require.NoError(t, err)

		z := out["Z"]
		require.NotNil(t, z)
		assert.Equal(t, tensor.Float32, z.DType())
		assert.Equal(t, tensor.Shape{m, n}, z.Shape())
		assert.InDeltaSlice(t, reference(x.Float32(), y.Float32(), m, k, n), z.Float32(), 1e-3)
		require.NoError(t, s.Close())
	}
}

func TestStackedMatMulWithBatchDim(t *testing.T) {
	dev := newHost(t)
	rng := rand.New(rand.NewPCG(13, 14))
	ctx := context.Background()
	const batch, m, k, n = 3, 7, 5, 11

	g := matmulGraph(t, []int{tensor.BatchDim, m, k}, []int{k, n}, []int{tensor.BatchDim, m, n})
	s := must.M1(New(ctx, dev, g, WithBatchSize(batch)))
	defer s.Close()

	assert.Equal(t, tensor.Shape{batch, m, k}, s.Inputs()[0].Shape)
	assert.Equal(t, tensor.Shape{batch, m, n}, s.Outputs()[0].Shape)
	require.Len(t, s.Kernels(), 1)
	assert.Equal(t, operators.VariantStack, s.Kernels()[0].Variant)

	x, y := randomTensor(rng, batch, m, k), randomTensor(rng, k, n)
	out := must.M1(s.Run(ctx, map[string]*tensor.Tensor{"X": x, "Y": y}))

	z := out["Z"].Float32()
	for b := range batch {
		want := reference(x.Float32()[b*m*k:(b+1)*m*k], y.Float32(), m, k, n)
		assert.InDeltaSlice(t, want, z[b*m*n:(b+1)*m*n], 1e-3, "batch %d", b)
	}
}

func TestTwoStacksUnsupported(t *testing.T) {
	dev := newHost(t)
	g := matmulGraph(t, []int{2, 4, 3}, []int{2, 3, 5}, []int{2, 4, 5})
	_, err := New(context.Background(), dev, g)
	require.Error(t, err)

	var cerr *CreationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "resolve", cerr.Stage)
	assert.Equal(t, "matmul", cerr.Node)

	var serr *operators.UnsupportedShapeError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, graph.MatMul, serr.Op)
	assert.Equal(t, operators.Unimplemented, serr.Reason)
	assert.Equal(t, []tensor.Shape{{2, 4, 3}, {2, 3, 5}}, serr.Shapes)
	assert.Zero(t, dev.Stats().LiveBuffers)
}

func TestDeclaredOutputMismatch(t *testing.T) {
	g := matmulGraph(t, []int{4, 3}, []int{3, 5}, []int{4, 6})
	_, err := New(context.Background(), newHost(t), g)
	require.ErrorIs(t, err, operators.ErrInvalidShape)
}

func TestMissingInputSubmitsNothing(t *testing.T) {
	dev := newFakeDevice(t)
	s := must.M1(New(context.Background(), dev, matmulGraph(t, []int{2, 2}, []int{2, 2}, []int{2, 2})))
	defer s.Close()

	x := must.M1(tensor.FromFloat32(tensor.Shape{2, 2}, []float32{1, 2, 3, 4}))
	_, err := s.Run(context.Background(), map[string]*tensor.Tensor{"X": x})
	require.ErrorIs(t, err, ErrMissingInput)

	var rerr *RunError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "Y", rerr.Name)
	assert.Zero(t, dev.submissions.Load())
	assert.Equal(t, uint64(1), s.Stats().Failures)
}

func TestInputChecks(t *testing.T) {
	dev := newFakeDevice(t)
	s := must.M1(New(context.Background(), dev, matmulGraph(t, []int{2, 2}, []int{2, 2}, []int{2, 2})))
	defer s.Close()

	ok := must.M1(tensor.FromFloat32(tensor.Shape{2, 2}, []float32{1, 2, 3, 4}))
	wrongType := must.M1(tensor.FromInt64(tensor.Shape{2, 2}, []int64{1, 2, 3, 4}))
	wrongShape := must.M1(tensor.FromFloat32(tensor.Shape{4}, []float32{1, 2, 3, 4}))

	tests := []struct {
		name   string
		inputs map[string]*tensor.Tensor
		want   error
	}{
		{"unknown", map[string]*tensor.Tensor{"X": ok, "Y": ok, "W": ok}, ErrUnknownInput},
		{"nil", map[string]*tensor.Tensor{"X": ok, "Y": nil}, ErrMissingInput},
		{"type", map[string]*tensor.Tensor{"X": wrongType, "Y": ok}, ErrTypeMismatch},
		{"shape", map[string]*tensor.Tensor{"X": ok, "Y": wrongShape}, ErrInputShapeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Run(context.Background(), tt.inputs)
			require.ErrorIs(t, err, tt.want)
		})
	}
	assert.Zero(t, dev.submissions.Load())
}

func TestMatMul384(t *testing.T) {
	const m, n, k = 384, 384, 384
	dev := newHost(t)
	ctx := context.Background()
	rng := rand.New(rand.NewPCG(15, 16))

	s := must.M1(New(ctx, dev, matmulGraph(t, []int{1, m, k}, []int{k, n}, []int{1, m, n})))
	defer s.Close()

	x, y := randomTensor(rng, 1, m, k), randomTensor(rng, k, n)
	out := must.M1(s.Run(ctx, map[string]*tensor.Tensor{"X": x, "Y": y}))
	z := out["Z"]
	require.Equal(t, tensor.Shape{1, m, n}, z.Shape())

	want := reference(x.Float32(), y.Float32(), m, k, n)
	differing := 0
	for i, v := range z.Float32() {
		if math.Abs(float64(v-want[i])) > 1e-3 {
			differing++
		}
	}
	assert.Less(t, float64(differing)/float64(m*n), 0.01)
}

func TestBusy(t *testing.T) {
	dev := newFakeDevice(t)
	dev.gate = make(chan struct{})
	s := must.M1(New(context.Background(), dev, matmulGraph(t, []int{1, 1}, []int{1, 1}, []int{1, 1})))
	defer s.Close()

	inputs := map[string]*tensor.Tensor{
		"X": must.M1(tensor.FromFloat32(tensor.Shape{1, 1}, []float32{2})),
		"Y": must.M1(tensor.FromFloat32(tensor.Shape{1, 1}, []float32{3})),
	}
	first := s.RunAsync(context.Background(), inputs)
	require.Eventually(t, func() bool { return dev.submissions.Load() == 1 }, time.Second, time.Millisecond)

	_, err := s.Run(context.Background(), inputs)
	require.ErrorIs(t, err, ErrBusy)

	close(dev.gate)
	res := <-first
	require.NoError(t, res.Err)
	assert.Equal(t, []float32{6}, res.Outputs["Z"].Float32())

	_, err = s.Run(context.Background(), inputs)
	require.NoError(t, err)
}

func TestDeviceLostPoisons(t *testing.T) {
	dev := newFakeDevice(t)
	s := must.M1(New(context.Background(), dev, matmulGraph(t, []int{1, 1}, []int{1, 1}, []int{1, 1})))
	defer s.Close()
	inputs := map[string]*tensor.Tensor{
		"X": must.M1(tensor.FromFloat32(tensor.Shape{1, 1}, []float32{2})),
		"Y": must.M1(tensor.FromFloat32(tensor.Shape{1, 1}, []float32{3})),
	}

	dev.fail = errors.New("transient")
	_, err := s.Run(context.Background(), inputs)
	require.ErrorIs(t, err, ErrDeviceFailure)
	assert.False(t, s.Stats().Poisoned)

	dev.fail = errors.Wrap(device.ErrDeviceLost, "gpu reset")
	_, err = s.Run(context.Background(), inputs)
	require.ErrorIs(t, err, ErrDeviceFailure)
	require.ErrorIs(t, err, device.ErrDeviceLost)

	dev.fail = nil
	_, err = s.Run(context.Background(), inputs)
	require.ErrorIs(t, err, ErrPoisoned)
	assert.True(t, s.Stats().Poisoned)
	assert.Equal(t, int32(2), dev.submissions.Load())
}

func TestHostKernelPanicPoisons(t *testing.T) {
	r := operators.NewRegistry()
	const crash graph.OpKind = "Crash"
	r.Register(crash, elementwise(func(_ context.Context, _ [][]byte, _ []byte, _ parallel.Config) error {
		panic("kernel fault")
	}))

	g := must.M1(graph.NewBuilder().
		Input("X", tensor.Float32, 2).
		Node("crash", crash, []string{"X"}, []string{"Y"}, nil).
		Export("Y").
		Build())
	s := must.M1(New(context.Background(), newHost(t), g, WithRegistry(r)))
	defer s.Close()

	inputs := map[string]*tensor.Tensor{"X": must.M1(tensor.FromFloat32(tensor.Shape{2}, []float32{1, 2}))}
	_, err := s.Run(context.Background(), inputs)
	require.ErrorIs(t, err, device.ErrDeviceLost)
	_, err = s.Run(context.Background(), inputs)
	require.ErrorIs(t, err, ErrPoisoned)
}

func TestCancelKeepsSessionBusyUntilDrained(t *testing.T) {
	dev := newFakeDevice(t)
	dev.gate = make(chan struct{})
	s := must.M1(New(context.Background(), dev, matmulGraph(t, []int{1, 1}, []int{1, 1}, []int{1, 1})))
	defer s.Close()
	inputs := map[string]*tensor.Tensor{
		"X": must.M1(tensor.FromFloat32(tensor.Shape{1, 1}, []float32{2})),
		"Y": must.M1(tensor.FromFloat32(tensor.Shape{1, 1}, []float32{3})),
	}

	ctx, cancel := context.WithCancel(context.Background())
	res := s.RunAsync(ctx, inputs)
	require.Eventually(t, func() bool { return dev.submissions.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	r := <-res
	require.ErrorIs(t, r.Err, ErrCanceled)
	require.ErrorIs(t, r.Err, context.Canceled)

	_, err := s.Run(context.Background(), inputs)
	require.ErrorIs(t, err, ErrBusy)

	close(dev.gate)
	require.Eventually(t, func() bool {
		_, err := s.Run(context.Background(), inputs)
		return err == nil
	}, time.Second, time.Millisecond)
}

func TestCanceledBeforeSubmit(t *testing.T) {
	dev := newFakeDevice(t)
	s := must.M1(New(context.Background(), dev, matmulGraph(t, []int{1, 1}, []int{1, 1}, []int{1, 1})))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Run(ctx, map[string]*tensor.Tensor{
		"X": must.M1(tensor.FromFloat32(tensor.Shape{1, 1}, []float32{2})),
		"Y": must.M1(tensor.FromFloat32(tensor.Shape{1, 1}, []float32{3})),
	})
	require.ErrorIs(t, err, ErrCanceled)
	assert.Zero(t, dev.submissions.Load())
}

func TestRerunIsolation(t *testing.T) {
	dev := newHost(t)
	s := must.M1(New(context.Background(), dev, matmulGraph(t, []int{2, 2}, []int{2, 2}, []int{2, 2})))
	defer s.Close()

	identity := must.M1(tensor.FromFloat32(tensor.Shape{2, 2}, []float32{1, 0, 0, 1}))
	first := must.M1(s.Run(context.Background(), map[string]*tensor.Tensor{
		"X": must.M1(tensor.FromFloat32(tensor.Shape{2, 2}, []float32{1, 2, 3, 4})),
		"Y": identity,
	}))
	second := must.M1(s.Run(context.Background(), map[string]*tensor.Tensor{
		"X": must.M1(tensor.FromFloat32(tensor.Shape{2, 2}, []float32{5, 6, 7, 8})),
		"Y": identity,
	}))

	assert.Equal(t, []float32{1, 2, 3, 4}, first["Z"].Float32())
	assert.Equal(t, []float32{5, 6, 7, 8}, second["Z"].Float32())
	assert.Equal(t, uint64(2), s.Stats().Runs)
}

func TestDeterministicAcrossSessions(t *testing.T) {
	dev := newHost(t)
	rng := rand.New(rand.NewPCG(17, 18))
	g := matmulGraph(t, []int{2, 33, 21}, []int{21, 17}, []int{2, 33, 17})
	inputs := map[string]*tensor.Tensor{"X": randomTensor(rng, 2, 33, 21), "Y": randomTensor(rng, 21, 17)}

	a := must.M1(New(context.Background(), dev, g))
	defer a.Close()
	b := must.M1(New(context.Background(), dev, g, WithSequential(true)))
	defer b.Close()

	assert.Equal(t, a.Kernels(), b.Kernels())
	za := must.M1(a.Run(context.Background(), inputs))["Z"]
	zb := must.M1(b.Run(context.Background(), inputs))["Z"]
	assert.Equal(t, za.Float32(), zb.Float32())
	assert.NotEqual(t, a.ID(), b.ID())
}

// elementwise builds an elementwise float32 operator that keeps its input shape
// and runs fn on the host.
func elementwise(fn operators.HostFunc) operators.Operator {
	return operators.Operator{
		Resolve: func(inputs []tensor.Info, _ graph.Attributes) (tensor.Info, error) {
			return tensor.Info{Shape: inputs[0].Shape.Clone(), DType: inputs[0].DType}, nil
		},
		Compile: func(inputs []tensor.Info, output tensor.Info, _ graph.Attributes, _ operators.Target) (*operators.CompiledKernel, error) {
			return &operators.CompiledKernel{
				Name:        "elementwise_" + output.Shape.String(),
				InputShapes: []tensor.Shape{inputs[0].Shape},
				OutputShape: output.Shape,
				DType:       output.DType,
				Host:        fn,
			}, nil
		},
	}
}

func TestCustomOperatorAndStages(t *testing.T) {
	r := operators.NewRegistry()
	const double graph.OpKind = "Double"
	r.Register(double, elementwise(func(_ context.Context, in [][]byte, out []byte, _ parallel.Config) error {
		src, dst := tensor.View[float32](in[0]), tensor.View[float32](out)
		for i, v := range src {
			dst[i] = 2 * v
		}
		return nil
	}))

	// P = X·Y and Q = 2·X run in the first stage, R = P·Q in the second.
	g := must.M1(graph.NewBuilder().
		Input("X", tensor.Float32, 2, 2).
		Input("Y", tensor.Float32, 2, 2).
		Node("mm", graph.MatMul, []string{"X", "Y"}, []string{"P"}, nil).
		Node("double", double, []string{"X"}, []string{"Q"}, nil).
		Node("join", graph.MatMul, []string{"P", "Q"}, []string{"R"}, nil).
		Export("R").
		Export("Q").
		Build())
	s := must.M1(New(context.Background(), newHost(t), g, WithRegistry(r)))
	defer s.Close()
	require.Len(t, s.Kernels(), 3)

	out := must.M1(s.Run(context.Background(), map[string]*tensor.Tensor{
		"X": must.M1(tensor.FromFloat32(tensor.Shape{2, 2}, []float32{1, 2, 3, 4})),
		"Y": must.M1(tensor.FromFloat32(tensor.Shape{2, 2}, []float32{1, 0, 0, 1})),
	}))
	assert.Equal(t, []float32{2, 4, 6, 8}, out["Q"].Float32())
	// [1 2; 3 4]·[2 4; 6 8]
	assert.Equal(t, []float32{14, 20, 30, 44}, out["R"].Float32())
}

func TestOperatorsWithSameKernelName(t *testing.T) {
	r := operators.NewRegistry()
	const double, negate graph.OpKind = "Double", "Negate"
	r.Register(double, elementwise(func(_ context.Context, in [][]byte, out []byte, _ parallel.Config) error {
		src, dst := tensor.View[float32](in[0]), tensor.View[float32](out)
		for i, v := range src {
			dst[i] = 2 * v
		}
		return nil
	}))
	r.Register(negate, elementwise(func(_ context.Context, in [][]byte, out []byte, _ parallel.Config) error {
		src, dst := tensor.View[float32](in[0]), tensor.View[float32](out)
		for i, v := range src {
			dst[i] = -v
		}
		return nil
	}))

	g := must.M1(graph.NewBuilder().
		Input("X", tensor.Float32, 2).
		Node("double", double, []string{"X"}, []string{"A"}, nil).
		Node("negate", negate, []string{"X"}, []string{"B"}, nil).
		Export("A").
		Export("B").
		Build())
	s := must.M1(New(context.Background(), newHost(t), g, WithRegistry(r)))
	defer s.Close()

	kernels := s.Kernels()
	require.Len(t, kernels, 2)
	assert.NotEqual(t, kernels[0].Name, kernels[1].Name)
	assert.Equal(t, double, kernels[0].Op)
	assert.Equal(t, negate, kernels[1].Op)

	out := must.M1(s.Run(context.Background(), map[string]*tensor.Tensor{
		"X": must.M1(tensor.FromFloat32(tensor.Shape{2}, []float32{1, 2})),
	}))
	assert.Equal(t, []float32{2, 4}, out["A"].Float32())
	assert.Equal(t, []float32{-1, -2}, out["B"].Float32())
}

func TestConcurrentSessionsShareDevice(t *testing.T) {
	const sessions, runs = 6, 4
	dev := host.New(host.WithWorkers(2), host.WithQueueDepth(2))
	defer dev.Close()

	var eg errgroup.Group
	for i := range sessions {
		eg.Go(func() error {
			rng := rand.New(rand.NewPCG(uint64(i), 99))
			m, k, n := 8+rng.IntN(24), 8+rng.IntN(24), 8+rng.IntN(24)
			g, err := graph.NewBuilder().
				Input("X", tensor.Float32, m, k).
				Input("Y", tensor.Float32, k, n).
				Output("Z", tensor.Float32, m, n).
				Node("matmul", graph.MatMul, []string{"X", "Y"}, []string{"Z"}, nil).
				Build()
			if err != nil {
				return err
			}
			s, err := New(context.Background(), dev, g)
			if err != nil {
				return err
			}
			defer s.Close()

			for range runs {
				x, y := randomTensor(rng, m, k), randomTensor(rng, k, n)
				out, err := s.Run(context.Background(), map[string]*tensor.Tensor{"X": x, "Y": y})
				if err != nil {
					return err
				}
				want := reference(x.Float32(), y.Float32(), m, k, n)
				for j, v := range out["Z"].Float32() {
					if math.Abs(float64(v-want[j])) > 1e-3 {
						return errors.Errorf("session %d: element %d is %g, want %g", i, j, v, want[j])
					}
				}
			}
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	stats := dev.Stats()
	assert.Equal(t, uint64(sessions*runs), stats.Submissions)
	assert.Zero(t, stats.LiveBuffers)
}

func TestStatsWhileClosing(t *testing.T) {
	dev := newHost(t)
	s := must.M1(New(context.Background(), dev, matmulGraph(t, []int{4, 3}, []int{3, 5}, []int{4, 5})))
	assert.Equal(t, 3, s.Stats().Buffers)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			_ = s.Stats()
		}
	}()
	require.NoError(t, s.Close())
	<-done
	assert.Zero(t, s.Stats().Buffers)
}

func TestCanceledWhileDeviceQueueFull(t *testing.T) {
	dev := host.New(host.WithQueueDepth(1))
	defer dev.Close()
	s := must.M1(New(context.Background(), dev, matmulGraph(t, []int{1, 1}, []int{1, 1}, []int{1, 1})))
	defer s.Close()
	inputs := map[string]*tensor.Tensor{
		"X": must.M1(tensor.FromFloat32(tensor.Shape{1, 1}, []float32{2})),
		"Y": must.M1(tensor.FromFloat32(tensor.Shape{1, 1}, []float32{3})),
	}

	// Occupy the command stream and fill its queue.
	release := make(chan struct{})
	scratch := must.M1(dev.Allocate("scratch", 4))
	blocker := &operators.CompiledKernel{
		Name: "block",
		Host: func(_ context.Context, _ [][]byte, _ []byte, _ parallel.Config) error {
			<-release
			return nil
		},
	}
	running := dev.Submit(context.Background(), &device.Submission{
		Stages: [][]device.Dispatch{{{Kernel: blocker, Output: scratch}}},
	})
	require.Eventually(t, func() bool { return dev.Stats().Submissions == 1 }, time.Second, time.Millisecond)
	queued := dev.Submit(context.Background(), &device.Submission{Label: "queued"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Run(ctx, inputs)
	require.ErrorIs(t, err, ErrCanceled)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, running.Wait(context.Background()))
	require.NoError(t, queued.Wait(context.Background()))
	require.NoError(t, dev.Release(scratch))
	require.Eventually(t, func() bool {
		out, err := s.Run(context.Background(), inputs)
		return err == nil && out["Z"].Float32()[0] == 6
	}, time.Second, time.Millisecond)
	assert.False(t, s.Stats().Poisoned)
}

func TestUnknownOperator(t *testing.T) {
	g := must.M1(graph.NewBuilder().
		Input("X", tensor.Float32, 2).
		Node("conv", "Conv", []string{"X"}, []string{"Y"}, nil).
		Export("Y").
		Build())
	_, err := New(context.Background(), newHost(t), g)
	require.ErrorIs(t, err, operators.ErrUnsupportedOperator)
}

func TestFloat16MatMul(t *testing.T) {
	g := must.M1(graph.NewBuilder().
		Input("X", tensor.Float16, 1, 2).
		Input("Y", tensor.Float16, 2, 2).
		Output("Z", tensor.Float16, 1, 2).
		Node("matmul", graph.MatMul, []string{"X", "Y"}, []string{"Z"}, nil).
		Build())
	s := must.M1(New(context.Background(), newHost(t), g))
	defer s.Close()

	out := must.M1(s.Run(context.Background(), map[string]*tensor.Tensor{
		"X": must.M1(tensor.Float16FromFloat32(tensor.Shape{1, 2}, []float32{1.5, -2})),
		"Y": must.M1(tensor.Float16FromFloat32(tensor.Shape{2, 2}, []float32{2, 1, 0.5, 4})),
	}))
	z := out["Z"]
	assert.Equal(t, tensor.Float16, z.DType())
	assert.Equal(t, []float32{2, -6.5}, z.ToFloat32())
}

func TestConstants(t *testing.T) {
	w := must.M1(tensor.FromFloat32(tensor.Shape{2, 1}, []float32{1, -1}))
	g := must.M1(graph.NewBuilder().
		Input("X", tensor.Float32, 3, 2).
		Constant("W", w).
		Node("proj", graph.MatMul, []string{"X", "W"}, []string{"Y"}, nil).
		Export("Y").
		Build())
	dev := newFakeDevice(t)
	s := must.M1(New(context.Background(), dev, g))
	defer s.Close()
	assert.Equal(t, int32(1), dev.submissions.Load(), "constants are uploaded once")

	for range 2 {
		out := must.M1(s.Run(context.Background(), map[string]*tensor.Tensor{
			"X": must.M1(tensor.FromFloat32(tensor.Shape{3, 2}, []float32{5, 2, 1, 1, 0, 3})),
		}))
		assert.Equal(t, []float32{3, 0, -3}, out["Y"].Float32())
	}
}

func TestCloseReleasesBuffers(t *testing.T) {
	dev := newHost(t)
	s := must.M1(New(context.Background(), dev, matmulGraph(t, []int{4, 3}, []int{3, 5}, []int{4, 5})))
	assert.Equal(t, 3, dev.Stats().LiveBuffers)
	assert.Equal(t, uint64((12+15+20)*4), s.Stats().BytesAllocated)

	require.NoError(t, s.Close())
	assert.Zero(t, dev.Stats().LiveBuffers)
	require.NoError(t, s.Close())

	_, err := s.Run(context.Background(), nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestAllocationFailureReleases(t *testing.T) {
	dev := newFakeDevice(t)
	dev.allocLimit = 2
	_, err := New(context.Background(), dev, matmulGraph(t, []int{4, 3}, []int{3, 5}, []int{4, 5}))

	var cerr *CreationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "allocate", cerr.Stage)
	assert.Contains(t, err.Error(), "out of device memory")
	assert.Zero(t, dev.Stats().LiveBuffers)
}

func TestCanceledCreation(t *testing.T) {
	dev := newHost(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(ctx, dev, matmulGraph(t, []int{4, 3}, []int{3, 5}, []int{4, 5}))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, dev.Stats().LiveBuffers)
}

func TestInvalidOptions(t *testing.T) {
	_, err := New(context.Background(), newHost(t), matmulGraph(t, []int{1, 1}, []int{1, 1}, []int{1, 1}), WithBatchSize(0))
	var cerr *CreationError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, "configure", cerr.Stage)
}

func TestStatsString(t *testing.T) {
	s := Stats{Runs: 3, Failures: 1, Buffers: 2, BytesAllocated: 2048, Poisoned: true}
	assert.Equal(t, "3 runs (1 failed), 2 buffers (2.0 KiB), poisoned", s.String())
}
