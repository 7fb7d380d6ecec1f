package tensor

import (
	"unsafe"

	"github.com/x448/float16"
)

// Element is the set of Go types backing the supported element types.
type Element interface {
	float32 | float16.Float16 | int32 | int64
}

// View reinterprets a little-endian byte buffer as a slice of T without copying.
// Trailing bytes that do not fill a whole element are ignored.
func View[T Element](b []byte) []T {
	var zero T
	n := len(b) / int(unsafe.Sizeof(zero))
	if n == 0 {
		return nil
	}
	//nolint:gosec // unsafe.Slice for zero-copy view, length bounded by len(b)
	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b))), n)
}
