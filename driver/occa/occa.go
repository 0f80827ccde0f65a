// Package occa backs the driver API with real device execution through
// OCCA (via gocca). OCCA modes include Serial, OpenMP, CUDA, OpenCL and
// HIP.
//
// OCCA JIT-compiles OKL kernel source itself and keeps its own binary
// cache, so a module here is the materialized kernel source file rather
// than a pre-built binary; GetFunction triggers the build of the named
// kernel. Work-group sizes come from the kernel's @outer/@inner
// annotations, so LaunchConfig dimensions are accepted but not forwarded.
// OCCA has no separate context object: the context handle pins the device
// session and destroying it frees the underlying OCCA device.
package occa

import (
	"fmt"
	"os"

	"github.com/notargets/gocca"

	"github.com/gpukit/gpukit/driver"
)

// Backend implements driver.API over gocca.
type Backend struct {
	mode string
	// Devices is how many device ordinals this backend exposes; OCCA
	// offers no portable count query, so it is configuration. Default 1.
	Devices int
}

// New creates a backend for the given OCCA mode ("Serial", "OpenMP",
// "CUDA", ...).
func New(mode string) *Backend {
	return &Backend{mode: mode, Devices: 1}
}

type occaDevice struct {
	dev     *gocca.OCCADevice
	ordinal int
}

type occaContext struct {
	device *occaDevice
	freed  bool
}

type occaModule struct {
	context *occaContext
	path    string
	source  string
	kernels map[string]*gocca.OCCAKernel
}

type occaFunction struct {
	module *occaModule
	kernel *gocca.OCCAKernel
	name   string
}

func (b *Backend) DeviceCount() int {
	if b.Devices > 0 {
		return b.Devices
	}
	return 1
}

func (b *Backend) deviceProps(ordinal int) string {
	// Serial has no device_id concept.
	if b.mode == "Serial" {
		return `{"mode": "Serial"}`
	}
	return fmt.Sprintf(`{"mode": "%s", "device_id": %d}`, b.mode, ordinal)
}

func (b *Backend) DeviceGet(ordinal int) (driver.Device, error) {
	if ordinal < 0 || ordinal >= b.DeviceCount() {
		return driver.Device{}, fmt.Errorf("occa: device ordinal %d out of range [0,%d)", ordinal, b.DeviceCount())
	}
	dev, err := gocca.NewDevice(b.deviceProps(ordinal))
	if err != nil {
		return driver.Device{}, fmt.Errorf("occa: create %s device %d: %w", b.mode, ordinal, err)
	}
	return driver.MakeDevice(&occaDevice{dev: dev, ordinal: ordinal}), nil
}

// DeviceRelease frees a device that never received a context. Once a
// context pins the device, CtxDestroy frees it instead.
func (b *Backend) DeviceRelease(dev driver.Device) error {
	d, ok := dev.Value().(*occaDevice)
	if !ok {
		return fmt.Errorf("occa: device handle not produced by this backend")
	}
	d.dev.Free()
	return nil
}

func (b *Backend) CtxCreate(dev driver.Device, flags uint32) (driver.Context, error) {
	d, ok := dev.Value().(*occaDevice)
	if !ok {
		return driver.Context{}, fmt.Errorf("occa: device handle not produced by this backend")
	}
	return driver.MakeContext(&occaContext{device: d}), nil
}

func (b *Backend) context(ctx driver.Context) (*occaContext, error) {
	c, ok := ctx.Value().(*occaContext)
	if !ok {
		return nil, fmt.Errorf("occa: context handle not produced by this backend")
	}
	if c.freed {
		return nil, fmt.Errorf("occa: context already destroyed")
	}
	return c, nil
}

// CtxDestroy frees the OCCA device session the context pins.
func (b *Backend) CtxDestroy(ctx driver.Context) error {
	c, err := b.context(ctx)
	if err != nil {
		return err
	}
	c.freed = true
	c.device.dev.Free()
	return nil
}

// ModuleLoad reads the kernel source file; OCCA builds kernels from it on
// demand in GetFunction.
func (b *Backend) ModuleLoad(ctx driver.Context, path string) (driver.Module, error) {
	c, err := b.context(ctx)
	if err != nil {
		return driver.Module{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return driver.Module{}, fmt.Errorf("occa: read kernel source: %w", err)
	}
	return driver.MakeModule(&occaModule{
		context: c,
		path:    path,
		source:  string(data),
		kernels: make(map[string]*gocca.OCCAKernel),
	}), nil
}

func (b *Backend) module(mod driver.Module) (*occaModule, error) {
	m, ok := mod.Value().(*occaModule)
	if !ok {
		return nil, fmt.Errorf("occa: module handle not produced by this backend")
	}
	return m, nil
}

func (b *Backend) ModuleUnload(mod driver.Module) error {
	m, err := b.module(mod)
	if err != nil {
		return err
	}
	for name, kernel := range m.kernels {
		kernel.Free()
		delete(m.kernels, name)
	}
	m.source = ""
	return nil
}

// GetFunction builds the named kernel from the module source. A name the
// source does not define surfaces OCCA's build error wrapped as not-found.
func (b *Backend) GetFunction(mod driver.Module, name string) (driver.Function, error) {
	m, err := b.module(mod)
	if err != nil {
		return driver.Function{}, err
	}
	if m.source == "" {
		return driver.Function{}, fmt.Errorf("occa: module %s unloaded", m.path)
	}
	if kernel, ok := m.kernels[name]; ok {
		return driver.MakeFunction(&occaFunction{module: m, kernel: kernel, name: name}), nil
	}

	dev := m.context.device.dev
	var kernel *gocca.OCCAKernel
	if dev.Mode() == "OpenMP" {
		// OCCA bug workaround: OpenMP misses the default -O3 flag.
		props := gocca.JsonParse(`{"compiler_flags": "-O3"}`)
		defer props.Free()
		kernel, err = dev.BuildKernelFromString(m.source, name, props)
	} else {
		kernel, err = dev.BuildKernelFromString(m.source, name, nil)
	}
	if err != nil {
		return driver.Function{}, fmt.Errorf("occa: build kernel %q from %s: %w (%w)",
			name, m.path, err, driver.ErrNotFound)
	}
	if kernel == nil {
		return driver.Function{}, fmt.Errorf("occa: kernel build returned nil for %q: %w", name, driver.ErrNotFound)
	}

	m.kernels[name] = kernel
	return driver.MakeFunction(&occaFunction{module: m, kernel: kernel, name: name}), nil
}

// Launch runs the kernel with the given arguments. Non-default streams are
// not supported by this backend.
func (b *Backend) Launch(fn driver.Function, cfg driver.LaunchConfig) error {
	f, ok := fn.Value().(*occaFunction)
	if !ok {
		return fmt.Errorf("occa: function handle not produced by this backend")
	}
	if cfg.Stream != nil {
		return fmt.Errorf("occa: non-default streams not supported")
	}
	if err := f.kernel.RunWithArgs(cfg.Args...); err != nil {
		return fmt.Errorf("occa: run %q: %w", f.name, err)
	}
	return nil
}

// Synchronize blocks until the device has finished all submitted work.
func (b *Backend) Synchronize(ctx driver.Context) error {
	c, err := b.context(ctx)
	if err != nil {
		return err
	}
	c.device.dev.Finish()
	return nil
}

var _ driver.API = (*Backend)(nil)
