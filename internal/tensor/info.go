package tensor

import "fmt"

// Info describes a named tensor of a graph: its shape and element type.
type Info struct {
	Name  string
	Shape Shape
	DType DataType
}

// NewInfo creates a tensor descriptor.
func NewInfo(name string, dtype DataType, shape ...int) Info {
	return Info{Name: name, Shape: Shape(shape).Clone(), DType: dtype}
}

// ByteSize returns the number of bytes needed to hold the tensor.
func (i Info) ByteSize() int {
	return i.Shape.NumElements() * i.DType.Size()
}

// Bind returns a copy with the batch placeholder bound to batch.
func (i Info) Bind(batch int) Info {
	return Info{Name: i.Name, Shape: i.Shape.BindBatch(batch), DType: i.DType}
}

// String formats the descriptor as "name:2x3:f32".
func (i Info) String() string {
	return fmt.Sprintf("%s:%s:%s", i.Name, i.Shape, i.DType)
}
