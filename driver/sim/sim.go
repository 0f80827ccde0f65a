// Package sim is an in-process driver backend for tests and for hosts
// without an accelerator toolchain. It honors the full handle-chain
// contract: artifacts must exist on disk, entry points are scanned from the
// artifact's .entry directives (the PTX convention), launches are recorded
// rather than executed, and use of a destroyed or unloaded handle is an
// error instead of undefined behavior.
package sim

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/gpukit/gpukit/driver"
)

// LaunchRecord captures one submitted launch for test assertions.
type LaunchRecord struct {
	Entry          string
	Grid           driver.Dim3
	Block          driver.Dim3
	SharedMemBytes uint32
	ArgCount       int
}

// Backend implements driver.API in memory.
type Backend struct {
	mu             sync.Mutex
	devices        int
	launches       []LaunchRecord
	syncs          int
	deviceReleases int
}

type simDevice struct {
	backend *Backend
	ordinal int
}

type simContext struct {
	device    *simDevice
	destroyed bool
}

type simModule struct {
	context  *simContext
	path     string
	entries  map[string]struct{}
	unloaded bool
}

type simFunction struct {
	module *simModule
	name   string
}

// New creates a backend exposing a single device.
func New() *Backend {
	return &Backend{devices: 1}
}

// NewWithDevices creates a backend exposing n devices.
func NewWithDevices(n int) *Backend {
	return &Backend{devices: n}
}

func (b *Backend) DeviceCount() int {
	return b.devices
}

func (b *Backend) DeviceGet(ordinal int) (driver.Device, error) {
	if ordinal < 0 || ordinal >= b.devices {
		return driver.Device{}, fmt.Errorf("sim: device ordinal %d out of range [0,%d)", ordinal, b.devices)
	}
	return driver.MakeDevice(&simDevice{backend: b, ordinal: ordinal}), nil
}

func (b *Backend) DeviceRelease(dev driver.Device) error {
	d, ok := dev.Value().(*simDevice)
	if !ok || d.backend != b {
		return fmt.Errorf("sim: device handle not produced by this backend")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deviceReleases++
	return nil
}

func (b *Backend) CtxCreate(dev driver.Device, flags uint32) (driver.Context, error) {
	d, ok := dev.Value().(*simDevice)
	if !ok || d.backend != b {
		return driver.Context{}, fmt.Errorf("sim: device handle not produced by this backend")
	}
	return driver.MakeContext(&simContext{device: d}), nil
}

func (b *Backend) CtxDestroy(ctx driver.Context) error {
	c, err := b.context(ctx)
	if err != nil {
		return err
	}
	c.destroyed = true
	return nil
}

func (b *Backend) context(ctx driver.Context) (*simContext, error) {
	c, ok := ctx.Value().(*simContext)
	if !ok || c.device.backend != b {
		return nil, fmt.Errorf("sim: context handle not produced by this backend")
	}
	return c, nil
}

// ModuleLoad reads the artifact and indexes its entry points. A missing
// file or an artifact with no .entry directives fails.
func (b *Backend) ModuleLoad(ctx driver.Context, path string) (driver.Module, error) {
	c, err := b.context(ctx)
	if err != nil {
		return driver.Module{}, err
	}
	if c.destroyed {
		return driver.Module{}, fmt.Errorf("sim: context destroyed")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return driver.Module{}, fmt.Errorf("sim: read artifact: %w", err)
	}
	entries := scanEntries(string(data))
	if len(entries) == 0 {
		return driver.Module{}, fmt.Errorf("sim: malformed artifact %s: no .entry directives", path)
	}

	return driver.MakeModule(&simModule{context: c, path: path, entries: entries}), nil
}

// scanEntries collects the names following .entry directives, trimming the
// parameter list opener PTX attaches to the name.
func scanEntries(text string) map[string]struct{} {
	entries := make(map[string]struct{})
	fields := strings.Fields(text)
	for i := 0; i < len(fields)-1; i++ {
		if fields[i] != ".entry" {
			continue
		}
		name := fields[i+1]
		if j := strings.IndexByte(name, '('); j >= 0 {
			name = name[:j]
		}
		if name != "" {
			entries[name] = struct{}{}
		}
	}
	return entries
}

func (b *Backend) module(mod driver.Module) (*simModule, error) {
	m, ok := mod.Value().(*simModule)
	if !ok || m.context.device.backend != b {
		return nil, fmt.Errorf("sim: module handle not produced by this backend")
	}
	return m, nil
}

func (b *Backend) ModuleUnload(mod driver.Module) error {
	m, err := b.module(mod)
	if err != nil {
		return err
	}
	m.unloaded = true
	return nil
}

func (b *Backend) GetFunction(mod driver.Module, name string) (driver.Function, error) {
	m, err := b.module(mod)
	if err != nil {
		return driver.Function{}, err
	}
	if m.unloaded {
		return driver.Function{}, fmt.Errorf("sim: module %s unloaded", m.path)
	}
	if _, ok := m.entries[name]; !ok {
		return driver.Function{}, fmt.Errorf("sim: entry %q in %s: %w", name, m.path, driver.ErrNotFound)
	}
	return driver.MakeFunction(&simFunction{module: m, name: name}), nil
}

func (b *Backend) Launch(fn driver.Function, cfg driver.LaunchConfig) error {
	f, ok := fn.Value().(*simFunction)
	if !ok || f.module.context.device.backend != b {
		return fmt.Errorf("sim: function handle not produced by this backend")
	}
	if f.module.unloaded {
		return fmt.Errorf("sim: launch of %q after module unload", f.name)
	}
	if f.module.context.destroyed {
		return fmt.Errorf("sim: launch of %q after context destroy", f.name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.launches = append(b.launches, LaunchRecord{
		Entry:          f.name,
		Grid:           cfg.Grid,
		Block:          cfg.Block,
		SharedMemBytes: cfg.SharedMemBytes,
		ArgCount:       len(cfg.Args),
	})
	return nil
}

func (b *Backend) Synchronize(ctx driver.Context) error {
	c, err := b.context(ctx)
	if err != nil {
		return err
	}
	if c.destroyed {
		return fmt.Errorf("sim: synchronize on destroyed context")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.syncs++
	return nil
}

// Launches returns a copy of the recorded launches.
func (b *Backend) Launches() []LaunchRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]LaunchRecord, len(b.launches))
	copy(out, b.launches)
	return out
}

// DeviceReleases returns how many devices were released without ever
// receiving a context.
func (b *Backend) DeviceReleases() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deviceReleases
}

// SyncCount returns how many times Synchronize completed.
func (b *Backend) SyncCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.syncs
}

var _ driver.API = (*Backend)(nil)
