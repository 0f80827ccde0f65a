package occa

import (
	"fmt"
	"unsafe"

	"github.com/notargets/gocca"

	"github.com/gpukit/gpukit/driver"
)

// AllocFloat64 allocates device memory on the device the context pins and
// copies host into it. The returned memory handle is passed directly as a
// launch argument; the caller frees it.
func (b *Backend) AllocFloat64(ctx driver.Context, host []float64) (*gocca.OCCAMemory, error) {
	c, err := b.context(ctx)
	if err != nil {
		return nil, err
	}
	if len(host) == 0 {
		return nil, fmt.Errorf("occa: alloc of empty slice")
	}
	bytes := int64(len(host) * 8)
	return c.device.dev.Malloc(bytes, unsafe.Pointer(&host[0]), nil), nil
}

// AllocFloat32 is AllocFloat64 for single precision.
func (b *Backend) AllocFloat32(ctx driver.Context, host []float32) (*gocca.OCCAMemory, error) {
	c, err := b.context(ctx)
	if err != nil {
		return nil, err
	}
	if len(host) == 0 {
		return nil, fmt.Errorf("occa: alloc of empty slice")
	}
	bytes := int64(len(host) * 4)
	return c.device.dev.Malloc(bytes, unsafe.Pointer(&host[0]), nil), nil
}

// ReadFloat64 copies device memory back into out, len(out) elements.
func ReadFloat64(mem *gocca.OCCAMemory, out []float64) {
	if len(out) == 0 {
		return
	}
	mem.CopyTo(unsafe.Pointer(&out[0]), int64(len(out)*8))
}

// ReadFloat32 copies device memory back into out, len(out) elements.
func ReadFloat32(mem *gocca.OCCAMemory, out []float32) {
	if len(out) == 0 {
		return
	}
	mem.CopyTo(unsafe.Pointer(&out[0]), int64(len(out)*4))
}
