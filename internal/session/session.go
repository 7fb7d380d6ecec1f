// Package session executes a validated graph on a device.
//
// New resolves every node's output shape, compiles one kernel per node and
// allocates one device buffer per tensor name. Run uploads the inputs, hands a
// single submission to the device command stream and collects the declared
// outputs into fresh host tensors.
package session

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/graphrt/internal/device"
	"github.com/born-ml/graphrt/internal/graph"
	"github.com/born-ml/graphrt/internal/operators"
	"github.com/born-ml/graphrt/internal/tensor"
)

// step is one kernel dispatch of a compiled graph.
type step struct {
	node   string
	kernel *operators.CompiledKernel
	inputs []string
	output string
}

// Session runs one graph on one device. A session executes at most one Run at
// a time; a concurrent Run fails with a Busy error.
type Session struct {
	id    uuid.UUID
	label string
	opts  options
	dev   device.Device
	graph *graph.Graph

	tensors map[string]tensor.Info // resolved, batch-bound descriptors
	inputs  []tensor.Info
	outputs []tensor.Info
	stages  [][]step
	kernels []KernelInfo

	buffers        map[string]device.Buffer
	numBuffers     atomic.Int32 // len(buffers), readable without the run lock
	allocatedBytes uint64

	mu       sync.Mutex // guards closed and the inflight handoff
	closed   bool
	inflight sync.WaitGroup
	busy     atomic.Bool
	poisoned atomic.Bool

	runs     atomic.Uint64
	failures atomic.Uint64
}

// New prepares g for execution on dev.
//
// Every node is resolved and compiled in topological order and every buffer is
// allocated before New returns. On failure all buffers allocated so far are
// released and a *CreationError is returned.
func New(ctx context.Context, dev device.Device, g *graph.Graph, opts ...Option) (*Session, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if dev == nil || g == nil {
		return nil, &CreationError{Stage: "configure", Err: errors.New("nil device or graph")}
	}
	if o.batchSize < 1 {
		return nil, &CreationError{Stage: "configure", Err: errors.Errorf("invalid batch size %d", o.batchSize)}
	}
	if o.registry == nil {
		o.registry = operators.NewRegistry()
	}

	s := &Session{
		id:      uuid.New(),
		label:   o.label,
		opts:    o,
		dev:     dev,
		graph:   g,
		tensors: make(map[string]tensor.Info),
		buffers: make(map[string]device.Buffer),
	}
	if s.label == "" {
		s.label = "session-" + s.id.String()[:8]
	}

	if err := s.resolve(); err != nil {
		return nil, err
	}
	if err := s.compile(); err != nil {
		return nil, err
	}
	if err := s.allocate(ctx); err != nil {
		_ = s.releaseBuffers()
		return nil, err
	}
	if err := s.uploadConstants(ctx); err != nil {
		_ = s.releaseBuffers()
		return nil, err
	}

	klog.V(1).Infof("%s: %d kernels in %d stages, %d buffers (%s) on %s",
		s.label, len(s.kernels), len(s.stages), len(s.buffers), humanize.IBytes(s.allocatedBytes), dev.Name())
	return s, nil
}

// resolve binds the batch dimension and computes the descriptor of every
// tensor in topological order.
func (s *Session) resolve() error {
	g := s.graph
	for _, info := range g.Tensors() {
		s.tensors[info.Name] = info.Bind(s.opts.batchSize)
	}

	for _, i := range g.Order() {
		node := g.Node(i)
		if len(node.Outputs) != 1 {
			return &CreationError{Stage: "resolve", Node: node.Name, Err: &operators.CompileError{
				Kind: operators.UnsupportedOperator, Op: node.Op,
				Detail: fmt.Sprintf("nodes with %d outputs are not supported", len(node.Outputs)),
			}}
		}
		inputs := s.infos(node.Inputs)
		out, err := s.opts.registry.Resolve(node.Op, inputs, node.Attributes)
		if err != nil {
			return &CreationError{Stage: "resolve", Node: node.Name, Err: err}
		}
		out.Name = node.Outputs[0]
		if declared, ok := s.tensors[out.Name]; ok {
			if declared.DType != out.DType || !declared.Shape.Equal(out.Shape) {
				shapes := make([]tensor.Shape, len(inputs))
				for j, in := range inputs {
					shapes[j] = in.Shape
				}
				return &CreationError{Stage: "resolve", Node: node.Name, Err: &operators.UnsupportedShapeError{
					Op: node.Op, Shapes: shapes, Reason: operators.Invalid,
					Detail: fmt.Sprintf("resolved output %s does not match declared %s", out, declared),
				}}
			}
		}
		s.tensors[out.Name] = out
	}

	for _, name := range g.Inputs() {
		s.inputs = append(s.inputs, s.tensors[name])
	}
	for _, name := range g.Outputs() {
		s.outputs = append(s.outputs, s.tensors[name])
	}
	return nil
}

// compile selects a kernel per node. Nodes of the same operator kind with
// identical specializations share one kernel.
func (s *Session) compile() error {
	g := s.graph
	target := s.dev.Target()
	type kernelKey struct {
		op   graph.OpKind
		name string
	}
	cache := make(map[kernelKey]*operators.CompiledKernel)

	for _, stage := range g.Stages() {
		steps := make([]step, 0, len(stage))
		for _, i := range stage {
			node := g.Node(i)
			out := s.tensors[node.Outputs[0]]
			k, err := s.opts.registry.Compile(node.Op, s.infos(node.Inputs), out, node.Attributes, target)
			if err != nil {
				return &CreationError{Stage: "compile", Node: node.Name, Err: err}
			}
			key := kernelKey{op: node.Op, name: k.Name}
			if cached, ok := cache[key]; ok {
				k = cached
			} else {
				cache[key] = k
			}
			steps = append(steps, step{
				node:   node.Name,
				kernel: k,
				inputs: slices.Clone(node.Inputs),
				output: out.Name,
			})
			s.kernels = append(s.kernels, newKernelInfo(node.Name, k))
		}
		s.stages = append(s.stages, steps)
	}
	return nil
}

// allocate reserves one buffer for every tensor that has a source.
func (s *Session) allocate(ctx context.Context) error {
	for _, name := range s.liveTensors() {
		if err := ctx.Err(); err != nil {
			return &CreationError{Stage: "allocate", Err: err}
		}
		info := s.tensors[name]
		buf, err := s.dev.Allocate(s.label+"/"+name, info.ByteSize())
		if err != nil {
			return &CreationError{Stage: "allocate", Err: errors.WithMessagef(err, "tensor %s", info)}
		}
		s.buffers[name] = buf
		s.numBuffers.Add(1)
		//nolint:gosec // G115: Safe conversion, ByteSize() returns non-negative int
		s.allocatedBytes += uint64(info.ByteSize())
	}
	return nil
}

// liveTensors lists inputs, constants and node outputs, in graph order.
func (s *Session) liveTensors() []string {
	g := s.graph
	var names []string
	for _, name := range g.Names() {
		_, produced := g.Producer(name)
		_, constant := g.Constant(name)
		if produced || constant || slices.Contains(g.Inputs(), name) {
			names = append(names, name)
		}
	}
	return names
}

func (s *Session) uploadConstants(ctx context.Context) error {
	sub := &device.Submission{Label: s.label + "/constants"}
	for _, name := range s.graph.Names() {
		if c, ok := s.graph.Constant(name); ok {
			sub.Uploads = append(sub.Uploads, device.Upload{Dst: s.buffers[name], Data: c.Bytes()})
		}
	}
	if len(sub.Uploads) == 0 {
		return nil
	}
	fut := s.dev.Submit(ctx, sub)
	if err := fut.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			// Buffers are released only once the device is done with them.
			<-fut.Done()
		}
		return &CreationError{Stage: "upload", Err: err}
	}
	return nil
}

func (s *Session) infos(names []string) []tensor.Info {
	out := make([]tensor.Info, len(names))
	for i, name := range names {
		out[i] = s.tensors[name]
	}
	return out
}

// Run executes the graph once.
//
// All checks on inputs happen before any device work. When ctx is canceled
// while the device is executing, Run returns a Canceled error immediately and
// the session stays busy until the device finished the submission.
func (s *Session) Run(ctx context.Context, inputs map[string]*tensor.Tensor) (map[string]*tensor.Tensor, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, runError(Closed, "", "session %s is closed", s.label)
	case s.poisoned.Load():
		s.mu.Unlock()
		return nil, runError(Poisoned, "", "session %s lost its device", s.label)
	case !s.busy.CompareAndSwap(false, true):
		s.mu.Unlock()
		return nil, runError(Busy, "", "session %s is already running", s.label)
	}
	s.inflight.Add(1)
	s.mu.Unlock()

	done := func() {
		s.busy.Store(false)
		s.inflight.Done()
	}
	s.runs.Add(1)

	if err := s.checkInputs(inputs); err != nil {
		s.failures.Add(1)
		done()
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		s.failures.Add(1)
		done()
		return nil, &RunError{Kind: Canceled, Err: err}
	}

	sub, outputs := s.plan(inputs)
	fut := s.dev.Submit(ctx, sub)

	select {
	case <-fut.Done():
	case <-ctx.Done():
		s.failures.Add(1)
		go func() {
			<-fut.Done()
			s.observe(fut.Err())
			done()
		}()
		return nil, &RunError{Kind: Canceled, Err: ctx.Err()}
	}
	defer done()

	if err := fut.Err(); err != nil {
		s.failures.Add(1)
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			// Canceled while waiting for room in the device queue.
			return nil, &RunError{Kind: Canceled, Err: err}
		}
		s.observe(err)
		return nil, &RunError{Kind: DeviceFailure, Err: err}
	}
	return outputs, nil
}

// observe poisons the session if err reports a lost device.
func (s *Session) observe(err error) {
	if errors.Is(err, device.ErrDeviceLost) {
		if s.poisoned.CompareAndSwap(false, true) {
			klog.Warningf("%s: poisoned: %v", s.label, err)
		}
	}
}

func (s *Session) checkInputs(inputs map[string]*tensor.Tensor) error {
	for _, want := range s.inputs {
		t, ok := inputs[want.Name]
		if !ok || t == nil {
			return runError(MissingInput, want.Name, "expected %s", want)
		}
	}
	if len(inputs) != len(s.inputs) {
		names := make([]string, 0, len(inputs))
		for name := range inputs {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			if !slices.ContainsFunc(s.inputs, func(info tensor.Info) bool { return info.Name == name }) {
				return runError(UnknownInput, name, "not a declared input")
			}
		}
	}
	for _, want := range s.inputs {
		t := inputs[want.Name]
		if t.DType() != want.DType {
			return runError(TypeMismatch, want.Name, "got %s, expected %s", t.DType(), want.DType)
		}
		if !t.Shape().Equal(want.Shape) {
			return runError(InputShapeMismatch, want.Name, "got %s, expected %s", t.Shape(), want.Shape)
		}
	}
	return nil
}

// plan builds the submission of one run and the output tensors it fills.
func (s *Session) plan(inputs map[string]*tensor.Tensor) (*device.Submission, map[string]*tensor.Tensor) {
	sub := &device.Submission{
		Label:      fmt.Sprintf("%s/run-%d", s.label, s.runs.Load()),
		Sequential: s.opts.sequential,
	}
	for _, in := range s.inputs {
		sub.Uploads = append(sub.Uploads, device.Upload{
			Dst:  s.buffers[in.Name],
			Data: slices.Clone(inputs[in.Name].Bytes()),
		})
	}
	for _, stage := range s.stages {
		dispatches := make([]device.Dispatch, len(stage))
		for i, st := range stage {
			bufs := make([]device.Buffer, len(st.inputs))
			for j, name := range st.inputs {
				bufs[j] = s.buffers[name]
			}
			dispatches[i] = device.Dispatch{Kernel: st.kernel, Inputs: bufs, Output: s.buffers[st.output]}
		}
		sub.Stages = append(sub.Stages, dispatches)
	}

	outputs := make(map[string]*tensor.Tensor, len(s.outputs))
	for _, out := range s.outputs {
		if _, dup := outputs[out.Name]; dup {
			continue
		}
		t, err := tensor.New(out.DType, out.Shape)
		if err != nil {
			// Descriptors were validated when the session was created.
			panic(err)
		}
		outputs[out.Name] = t
		sub.Downloads = append(sub.Downloads, device.Download{Src: s.buffers[out.Name], Dst: t.Bytes()})
	}
	return sub, outputs
}

// Result is the outcome of RunAsync.
type Result struct {
	Outputs map[string]*tensor.Tensor
	Err     error
}

// RunAsync is Run with completion delivered on a channel. The channel receives
// exactly one Result and is then closed.
func (s *Session) RunAsync(ctx context.Context, inputs map[string]*tensor.Tensor) <-chan Result {
	ch := make(chan Result, 1)
	go func() {
		defer close(ch)
		outputs, err := s.Run(ctx, inputs)
		ch <- Result{Outputs: outputs, Err: err}
	}()
	return ch
}

// Close waits for in-flight device work and releases every buffer of the
// session. Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.inflight.Wait()
	err := s.releaseBuffers()
	klog.V(1).Infof("%s: closed after %s", s.label, s.Stats())
	return err
}

func (s *Session) releaseBuffers() error {
	var first error
	for _, name := range slices.Sorted(maps.Keys(s.buffers)) {
		if err := s.dev.Release(s.buffers[name]); err != nil {
			klog.Warningf("%s: release %q: %v", s.label, name, err)
			if first == nil {
				first = errors.WithMessagef(err, "release %q", name)
			}
		}
		delete(s.buffers, name)
		s.numBuffers.Add(-1)
	}
	return first
}

// ID returns the unique session ID.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Label returns the session name used in logs.
func (s *Session) Label() string {
	return s.label
}

// Inputs returns the batch-bound descriptors of the declared inputs.
func (s *Session) Inputs() []tensor.Info {
	return cloneInfos(s.inputs)
}

// Outputs returns the resolved descriptors of the declared outputs.
func (s *Session) Outputs() []tensor.Info {
	return cloneInfos(s.outputs)
}

// Kernels returns the compiled kernels in topological order.
func (s *Session) Kernels() []KernelInfo {
	return slices.Clone(s.kernels)
}

// Stats returns the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Runs:           s.runs.Load(),
		Failures:       s.failures.Load(),
		Buffers:        int(s.numBuffers.Load()),
		BytesAllocated: s.allocatedBytes,
		Poisoned:       s.poisoned.Load(),
	}
}

func cloneInfos(in []tensor.Info) []tensor.Info {
	out := make([]tensor.Info, len(in))
	for i, info := range in {
		out[i] = tensor.Info{Name: info.Name, Shape: info.Shape.Clone(), DType: info.DType}
	}
	return out
}
