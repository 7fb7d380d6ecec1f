package tensor

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// BatchDim marks dimension 0 of a declared shape as a symbolic batch size.
// It is bound to a concrete value when a session is created.
const BatchDim = -1

// Shape represents the dimensions of a tensor.
type Shape []int

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s)
}

// NumElements returns the total number of elements in the tensor.
// A shape holding a BatchDim placeholder counts the placeholder as 1.
func (s Shape) NumElements() int {
	n := 1
	for _, dim := range s {
		if dim == BatchDim {
			continue
		}
		n *= dim
	}
	return n
}

// Validate checks that every dimension is concrete and positive.
func (s Shape) Validate() error {
	for i, dim := range s {
		if dim <= 0 {
			return errors.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// ValidateDeclared is like Validate but accepts a BatchDim placeholder at dimension 0.
func (s Shape) ValidateDeclared() error {
	for i, dim := range s {
		if dim == BatchDim {
			if i != 0 {
				return errors.Errorf("batch placeholder only allowed at dimension 0, found at %d", i)
			}
			continue
		}
		if dim <= 0 {
			return errors.Errorf("invalid dimension at index %d: %d (must be > 0)", i, dim)
		}
	}
	return nil
}

// HasBatchDim reports whether dimension 0 is a batch placeholder.
func (s Shape) HasBatchDim() bool {
	return len(s) > 0 && s[0] == BatchDim
}

// BindBatch returns a copy of the shape with the batch placeholder replaced by batch.
func (s Shape) BindBatch(batch int) Shape {
	out := s.Clone()
	if out.HasBatchDim() {
		out[0] = batch
	}
	return out
}

// Equal checks if two shapes are equal.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Clone returns a copy of the shape.
func (s Shape) Clone() Shape {
	if s == nil {
		return nil
	}
	clone := make(Shape, len(s))
	copy(clone, s)
	return clone
}

// String formats the shape as "2x3x4", with "?" for a batch placeholder.
func (s Shape) String() string {
	if len(s) == 0 {
		return "scalar"
	}
	parts := make([]string, len(s))
	for i, dim := range s {
		if dim == BatchDim {
			parts[i] = "?"
			continue
		}
		parts[i] = strconv.Itoa(dim)
	}
	return strings.Join(parts, "x")
}
