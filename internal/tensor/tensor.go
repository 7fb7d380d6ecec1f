package tensor

import (
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// Tensor is a host tensor crossing the session boundary.
//
// It is a tagged union over the element type: DType is the tag and the payload is
// a contiguous little-endian buffer, viewed through Float32, Float16, Int32 or Int64.
// Inputs are owned by the caller; outputs returned by a session are owned by the caller
// once returned.
type Tensor struct {
	shape Shape
	dtype DataType
	data  []byte
}

// New allocates a zero-filled host tensor.
func New(dtype DataType, shape Shape) (*Tensor, error) {
	if !dtype.Valid() {
		return nil, errors.Errorf("unknown data type %d", int(dtype))
	}
	if err := shape.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid shape")
	}
	return &Tensor{
		shape: shape.Clone(),
		dtype: dtype,
		data:  make([]byte, shape.NumElements()*dtype.Size()),
	}, nil
}

// FromBytes wraps a copy of raw little-endian bytes.
func FromBytes(dtype DataType, shape Shape, raw []byte) (*Tensor, error) {
	t, err := New(dtype, shape)
	if err != nil {
		return nil, err
	}
	if len(raw) != len(t.data) {
		return nil, errors.Errorf("tensor of shape %s and type %s needs %d bytes, got %d",
			shape, dtype, len(t.data), len(raw))
	}
	copy(t.data, raw)
	return t, nil
}

// FromFloat32 creates a Float32 tensor holding a copy of data.
func FromFloat32(shape Shape, data []float32) (*Tensor, error) {
	t, err := newChecked(Float32, shape, len(data))
	if err != nil {
		return nil, err
	}
	copy(t.Float32(), data)
	return t, nil
}

// FromFloat16 creates a Float16 tensor holding a copy of data.
func FromFloat16(shape Shape, data []float16.Float16) (*Tensor, error) {
	t, err := newChecked(Float16, shape, len(data))
	if err != nil {
		return nil, err
	}
	copy(t.Float16(), data)
	return t, nil
}

// Float16FromFloat32 creates a Float16 tensor rounding each value of data.
func Float16FromFloat32(shape Shape, data []float32) (*Tensor, error) {
	t, err := newChecked(Float16, shape, len(data))
	if err != nil {
		return nil, err
	}
	dst := t.Float16()
	for i, v := range data {
		dst[i] = float16.Fromfloat32(v)
	}
	return t, nil
}

// FromInt32 creates an Int32 tensor holding a copy of data.
func FromInt32(shape Shape, data []int32) (*Tensor, error) {
	t, err := newChecked(Int32, shape, len(data))
	if err != nil {
		return nil, err
	}
	copy(t.Int32(), data)
	return t, nil
}

// FromInt64 creates an Int64 tensor holding a copy of data.
func FromInt64(shape Shape, data []int64) (*Tensor, error) {
	t, err := newChecked(Int64, shape, len(data))
	if err != nil {
		return nil, err
	}
	copy(t.Int64(), data)
	return t, nil
}

func newChecked(dtype DataType, shape Shape, n int) (*Tensor, error) {
	t, err := New(dtype, shape)
	if err != nil {
		return nil, err
	}
	if n != shape.NumElements() {
		return nil, errors.Errorf("shape %s holds %d elements, got %d values", shape, shape.NumElements(), n)
	}
	return t, nil
}

// Shape returns the tensor's shape.
func (t *Tensor) Shape() Shape {
	return t.shape
}

// DType returns the element type tag.
func (t *Tensor) DType() DataType {
	return t.dtype
}

// NumElements returns the number of elements.
func (t *Tensor) NumElements() int {
	return t.shape.NumElements()
}

// ByteSize returns the payload size in bytes.
func (t *Tensor) ByteSize() int {
	return len(t.data)
}

// Bytes returns the raw payload. The slice aliases the tensor storage.
func (t *Tensor) Bytes() []byte {
	return t.data
}

// Float32 views the payload as []float32.
// Panics if the tensor's dtype is not Float32.
func (t *Tensor) Float32() []float32 {
	t.mustBe(Float32)
	//nolint:gosec // unsafe.Slice for zero-copy view, length bounded by NumElements()
	return unsafe.Slice((*float32)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// Float16 views the payload as []float16.Float16.
// Panics if the tensor's dtype is not Float16.
func (t *Tensor) Float16() []float16.Float16 {
	t.mustBe(Float16)
	//nolint:gosec // unsafe.Slice for zero-copy view, length bounded by NumElements()
	return unsafe.Slice((*float16.Float16)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// Int32 views the payload as []int32.
// Panics if the tensor's dtype is not Int32.
func (t *Tensor) Int32() []int32 {
	t.mustBe(Int32)
	//nolint:gosec // unsafe.Slice for zero-copy view, length bounded by NumElements()
	return unsafe.Slice((*int32)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// Int64 views the payload as []int64.
// Panics if the tensor's dtype is not Int64.
func (t *Tensor) Int64() []int64 {
	t.mustBe(Int64)
	//nolint:gosec // unsafe.Slice for zero-copy view, length bounded by NumElements()
	return unsafe.Slice((*int64)(unsafe.Pointer(&t.data[0])), t.NumElements())
}

// ToFloat32 returns a converted copy of the values, whatever the element type.
func (t *Tensor) ToFloat32() []float32 {
	out := make([]float32, t.NumElements())
	switch t.dtype {
	case Float32:
		copy(out, t.Float32())
	case Float16:
		for i, v := range t.Float16() {
			out[i] = v.Float32()
		}
	case Int32:
		for i, v := range t.Int32() {
			out[i] = float32(v)
		}
	case Int64:
		for i, v := range t.Int64() {
			out[i] = float32(v)
		}
	}
	return out
}

// String returns a short description, not the values.
func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(%s, %s)", t.shape, t.dtype)
}

func (t *Tensor) mustBe(dtype DataType) {
	if t.dtype != dtype {
		panic(fmt.Sprintf("tensor dtype is %s, not %s", t.dtype, dtype))
	}
}
