// Package gpukit prepares and launches compute-accelerator kernels: a typed
// option table for native link/compile configuration, a filesystem artifact
// cache, an external ahead-of-time compiler invoker, and a device runtime
// that enforces the device -> context -> module -> function acquisition chain.
//
// The root package holds only the leaf types shared across the pipeline.
package gpukit

import "strconv"

// Precision selects the numeric width a kernel artifact is compiled for.
// It determines the cache subdirectory a source and its compiled artifact
// live under, so float and double builds of the same kernel never collide.
type Precision int

const (
	Float32 Precision = iota + 1
	Float64
)

// Tag returns the cache subdirectory name for the precision.
func (p Precision) Tag() string {
	if p == Float32 {
		return "float"
	}
	return "double"
}

func (p Precision) String() string {
	switch p {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return "precision(" + strconv.Itoa(int(p)) + ")"
	}
}

// Valid reports whether p is one of the supported precision variants.
func (p Precision) Valid() bool {
	return p == Float32 || p == Float64
}

// HostDataModel returns the pointer width of the host process in bits,
// 32 or 64. The ahead-of-time compiler is invoked with a matching -m flag
// so device address arithmetic agrees with the host.
func HostDataModel() int {
	return strconv.IntSize
}
