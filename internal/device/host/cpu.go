package host

import (
	"runtime"

	"golang.org/x/sys/cpu"
)

// vectorWidth returns the number of float32 lanes of the widest SIMD unit the
// CPU reports.
func vectorWidth() int {
	switch runtime.GOARCH {
	case "amd64", "386":
		switch {
		case cpu.X86.HasAVX512F:
			return 16
		case cpu.X86.HasAVX2, cpu.X86.HasAVX:
			return 8
		case cpu.X86.HasSSE2:
			return 4
		}
	case "arm64":
		if cpu.ARM64.HasASIMD {
			return 4
		}
	}
	return 1
}
