package session

import "github.com/born-ml/graphrt/internal/operators"

// Option configures a Session.
type Option func(*options)

type options struct {
	batchSize  int
	sequential bool
	label      string
	registry   *operators.Registry
}

func defaultOptions() options {
	return options{batchSize: 1}
}

// WithBatchSize binds the symbolic batch dimension of every declared shape.
func WithBatchSize(n int) Option {
	return func(o *options) {
		o.batchSize = n
	}
}

// WithSequential runs the dispatches of one stage one after another instead of
// concurrently.
func WithSequential(sequential bool) Option {
	return func(o *options) {
		o.sequential = sequential
	}
}

// WithLabel names the session in logs and device submissions.
func WithLabel(label string) Option {
	return func(o *options) {
		o.label = label
	}
}

// WithRegistry uses r to resolve and compile operators instead of the
// built-in registry.
func WithRegistry(r *operators.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}
