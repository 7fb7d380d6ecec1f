// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package session runs validated graphs on a device.
//
// # Basic Usage
//
//	dev := host.New()
//	defer dev.Close()
//
//	s, err := session.New(ctx, dev, g)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer s.Close()
//
//	out, err := s.Run(ctx, map[string]*tensor.Tensor{"X": x, "Y": y})
//
// A session allocates all of its device buffers when it is created and releases
// them on Close. Runs on one session never overlap: a Run issued while another
// one is in progress fails with ErrBusy.
package session

import (
	"context"

	"github.com/born-ml/graphrt/device"
	"github.com/born-ml/graphrt/graph"
	"github.com/born-ml/graphrt/internal/session"
)

// Session executes one graph on one device.
type Session = session.Session

// Option configures a Session.
type Option = session.Option

// Result is the outcome of Session.RunAsync.
type Result = session.Result

// Stats are cumulative session counters.
type Stats = session.Stats

// KernelInfo summarizes a compiled kernel.
type KernelInfo = session.KernelInfo

// CreationError reports why New failed.
type CreationError = session.CreationError

// RunError reports why Run failed.
type RunError = session.RunError

// RunErrorKind classifies a RunError.
type RunErrorKind = session.RunErrorKind

// Sentinels for errors.Is.
var (
	ErrClosed             = session.ErrClosed
	ErrPoisoned           = session.ErrPoisoned
	ErrBusy               = session.ErrBusy
	ErrMissingInput       = session.ErrMissingInput
	ErrUnknownInput       = session.ErrUnknownInput
	ErrTypeMismatch       = session.ErrTypeMismatch
	ErrInputShapeMismatch = session.ErrInputShapeMismatch
	ErrDeviceFailure      = session.ErrDeviceFailure
	ErrCanceled           = session.ErrCanceled
)

// Options.
var (
	WithBatchSize  = session.WithBatchSize
	WithSequential = session.WithSequential
	WithLabel      = session.WithLabel
	WithRegistry   = session.WithRegistry
)

// New resolves, compiles and allocates g on dev.
func New(ctx context.Context, dev device.Device, g *graph.Graph, opts ...Option) (*Session, error) {
	return session.New(ctx, dev, g, opts...)
}
