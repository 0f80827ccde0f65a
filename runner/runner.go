// Package runner ties the pipeline together: resolve a kernel source
// through the artifact cache, compile it on a miss, load the artifact into
// a device session, resolve the entry point, and launch.
//
// The pipeline is synchronous. Compilation blocks for the full compiler
// process lifetime and every launch ends in a blocking device
// synchronization. Device and context initialization touches process-wide
// native state, so the Runner serializes all pipeline calls behind one
// mutex; share a Runner rather than creating several over the same backend.
package runner

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/gpukit/gpukit"
	"github.com/gpukit/gpukit/cache"
	"github.com/gpukit/gpukit/compile"
	"github.com/gpukit/gpukit/driver"
	"github.com/gpukit/gpukit/kernels"
	"github.com/gpukit/gpukit/options"
)

// Config configures a Runner. Driver is required; every other field has a
// usable default.
type Config struct {
	// Cache locates sources and compiled artifacts. Default: the
	// process-wide scratch cache over the embedded kernel collection.
	Cache *cache.Cache
	// Toolchain compiles sources on a cache miss. Default: NVCC from PATH.
	Toolchain compile.Toolchain
	// Driver is the device backend. Required.
	Driver driver.API
	// DeviceOrdinal selects the device. Default 0.
	DeviceOrdinal int
	// Precision selects the kernel variant. Default Float64.
	Precision gpukit.Precision
	// Options configures the compiler invocation; identifiers with an
	// ahead-of-time flag equivalent become extra flags. Optional.
	Options *options.Options
	// Logger receives pipeline milestones. Default no-op.
	Logger *zap.Logger
}

// Kernel is a resolved, launchable entry point.
type Kernel struct {
	Name   string
	Source string

	r  *Runner
	fn driver.Function
}

// Runner orchestrates kernel compilation, loading and execution over one
// device session. A Runner holds at most one loaded module; its resolved
// kernels stay valid until Close.
type Runner struct {
	cache     *cache.Cache
	toolchain compile.Toolchain
	precision gpukit.Precision
	ordinal   int
	flags     []string
	log       *zap.Logger

	mu         sync.Mutex
	session    *driver.Session
	modulePath string
	kernels    map[string]*Kernel
}

// New creates a Runner. Zero-value config fields fall back to defaults;
// a nil Driver is an error.
func New(cfg Config) (*Runner, error) {
	if cfg.Driver == nil {
		return nil, fmt.Errorf("runner: Driver is required")
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := cfg.Cache
	if c == nil {
		c = cache.Default(kernels.Embedded())
	}
	tc := cfg.Toolchain
	if tc == nil {
		tc = &compile.NVCC{Log: log}
	}
	p := cfg.Precision
	if p == 0 {
		p = gpukit.Float64
	}
	if !p.Valid() {
		return nil, fmt.Errorf("runner: unsupported precision %s", p)
	}

	return &Runner{
		cache:     c,
		toolchain: tc,
		precision: p,
		ordinal:   cfg.DeviceOrdinal,
		flags:     compile.FlagsFromOptions(cfg.Options),
		log:       log,
		session:   driver.NewSession(cfg.Driver),
		kernels:   make(map[string]*Kernel),
	}, nil
}

// EnsureCompiled returns the compiled artifact path for sourceName at the
// Runner's precision, compiling it first if the cache misses. A hit spawns
// no compiler process.
func (r *Runner) EnsureCompiled(ctx context.Context, sourceName string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureCompiled(ctx, sourceName)
}

func (r *Runner) ensureCompiled(ctx context.Context, sourceName string) (string, error) {
	path, hit := r.cache.Lookup(sourceName, r.precision)
	if hit {
		r.log.Debug("artifact cache hit",
			zap.String("source", sourceName),
			zap.String("artifact", path))
		return path, nil
	}

	srcPath, err := r.cache.Materialize(sourceName, r.precision)
	if err != nil {
		return "", err
	}

	r.log.Info("artifact cache miss, compiling",
		zap.String("source", sourceName),
		zap.String("precision", r.precision.String()))

	if _, err := r.toolchain.Compile(ctx, compile.Request{
		SourcePath: srcPath,
		OutputPath: path,
		ExtraFlags: r.flags,
	}); err != nil {
		return "", err
	}
	return path, nil
}

// LoadKernel compiles (if needed) and loads sourceName, then resolves the
// named entry point. The device and context are acquired lazily on the
// first load; a Runner holds one module, so every LoadKernel call must name
// the same source.
func (r *Runner) LoadKernel(ctx context.Context, sourceName, entry string) (*Kernel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if k, ok := r.kernels[entry]; ok && k.Source == sourceName {
		return k, nil
	}

	path, err := r.ensureCompiled(ctx, sourceName)
	if err != nil {
		return nil, err
	}

	if r.session.State() == driver.Uninitialized {
		if err := r.session.Init(r.ordinal); err != nil {
			return nil, err
		}
		if err := r.session.CreateContext(); err != nil {
			// Release the device selection so the half-built chain
			// does not leak.
			r.session.Close()
			return nil, err
		}
	}

	if r.modulePath == "" {
		if err := r.session.LoadModule(path); err != nil {
			return nil, err
		}
		r.modulePath = path
		r.log.Info("module loaded", zap.String("artifact", path))
	} else if r.modulePath != path {
		return nil, fmt.Errorf("runner: module %s already loaded; one module per runner", r.modulePath)
	}

	fn, err := r.session.GetFunction(entry)
	if err != nil {
		return nil, err
	}

	k := &Kernel{Name: entry, Source: sourceName, r: r, fn: fn}
	r.kernels[entry] = k
	r.log.Info("kernel resolved", zap.String("entry", entry))
	return k, nil
}

// Launch submits the kernel and blocks until the device has finished it.
func (k *Kernel) Launch(cfg driver.LaunchConfig) error {
	k.r.mu.Lock()
	defer k.r.mu.Unlock()

	if err := k.r.session.Launch(k.fn, cfg); err != nil {
		return fmt.Errorf("runner: kernel %s: %w", k.Name, err)
	}
	k.r.log.Debug("kernel completed", zap.String("entry", k.Name))
	return nil
}

// Session exposes the device session for backend-specific operations such
// as memory allocation. The session is shared state; do not Close it
// directly.
func (r *Runner) Session() *driver.Session {
	return r.session
}

// CacheStats reports the underlying artifact cache counters.
func (r *Runner) CacheStats() cache.Stats {
	return r.cache.Stats()
}

// Close releases the device session chain in reverse acquisition order.
// Kernels resolved by this Runner are invalid afterwards.
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.kernels = make(map[string]*Kernel)
	r.modulePath = ""
	return r.session.Close()
}
