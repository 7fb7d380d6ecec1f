// Package tensor provides tensor descriptors, element types and host tensors
// exchanged with an execution session.
package tensor

import "github.com/pkg/errors"

// DataType represents the element type of a tensor.
type DataType int

// Supported element types.
const (
	Float32 DataType = iota
	Float16
	Int32
	Int64
)

// Valid reports whether dt is one of the supported element types.
func (dt DataType) Valid() bool {
	return dt >= Float32 && dt <= Int64
}

// Size returns the byte size of one element, or 0 for an unknown type.
func (dt DataType) Size() int {
	switch dt {
	case Float32, Int32:
		return 4
	case Int64:
		return 8
	case Float16:
		return 2
	default:
		return 0
	}
}

// String returns a human-readable name for the data type.
func (dt DataType) String() string {
	switch dt {
	case Float32:
		return "f32"
	case Float16:
		return "f16"
	case Int32:
		return "i32"
	case Int64:
		return "i64"
	default:
		return "unknown"
	}
}

// IsFloat reports whether the type is a floating point type.
func (dt DataType) IsFloat() bool {
	return dt == Float32 || dt == Float16
}

// ParseDataType converts names such as "f32", "float32" or "int64" to a DataType.
func ParseDataType(name string) (DataType, error) {
	switch name {
	case "f32", "float32", "float":
		return Float32, nil
	case "f16", "float16", "half":
		return Float16, nil
	case "i32", "int32":
		return Int32, nil
	case "i64", "int64":
		return Int64, nil
	}
	return 0, errors.Errorf("unknown data type %q", name)
}
