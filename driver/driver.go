// Package driver defines the device runtime: opaque native resource
// handles, the backend API they are acquired through, and a Session that
// enforces the acquisition order
//
//	Device -> Context -> Module -> Function -> Launch
//
// with each step gated on its predecessor. Backends live in subpackages:
// driver/occa executes on real hardware through OCCA, driver/sim is an
// in-process backend for tests and hosts without an accelerator toolchain.
//
// Device and context initialization touches process-wide native state (the
// current device/context binding) and is not safe to call concurrently from
// multiple goroutines. A Session serializes its own transitions with a
// mutex, but distinct Sessions over the same backend still need external
// serialization.
package driver

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidState marks a pipeline step called out of order. The message
// names the required and actual session states.
var ErrInvalidState = errors.New("invalid session state")

// ErrNotFound marks a handle-resolution failure such as an unknown kernel
// entry point.
var ErrNotFound = errors.New("not found")

// Device is an opaque handle to a selected accelerator device.
type Device struct{ v any }

// Context is a session bound to a device. It cannot outlive its Device.
type Context struct{ v any }

// Module is a compiled artifact loaded into a context. Functions resolved
// from it are only valid while it stays loaded.
type Module struct{ v any }

// Function is a resolved, invocable kernel entry point.
type Function struct{ v any }

// Stream is an optional command stream for a launch. The zero value means
// the default stream.
type Stream struct{ v any }

// MakeDevice wraps a backend's device representation. Backends only.
func MakeDevice(v any) Device { return Device{v: v} }

// MakeContext wraps a backend's context representation. Backends only.
func MakeContext(v any) Context { return Context{v: v} }

// MakeModule wraps a backend's module representation. Backends only.
func MakeModule(v any) Module { return Module{v: v} }

// MakeFunction wraps a backend's function representation. Backends only.
func MakeFunction(v any) Function { return Function{v: v} }

// MakeStream wraps a backend's stream representation. Backends only.
func MakeStream(v any) Stream { return Stream{v: v} }

// Value returns the backend representation for type assertion by the
// backend that produced the handle.
func (d Device) Value() any   { return d.v }
func (c Context) Value() any  { return c.v }
func (m Module) Value() any   { return m.v }
func (f Function) Value() any { return f.v }
func (s Stream) Value() any   { return s.v }

// IsZero reports whether the handle was never produced by a backend.
func (d Device) IsZero() bool   { return d.v == nil }
func (c Context) IsZero() bool  { return c.v == nil }
func (m Module) IsZero() bool   { return m.v == nil }
func (f Function) IsZero() bool { return f.v == nil }
func (s Stream) IsZero() bool   { return s.v == nil }

// Dim3 is a three-dimensional launch extent.
type Dim3 struct {
	X, Y, Z uint32
}

// normalized maps zero components to 1 so a caller can set only the
// dimensions it cares about.
func (d Dim3) normalized() Dim3 {
	if d.X == 0 {
		d.X = 1
	}
	if d.Y == 0 {
		d.Y = 1
	}
	if d.Z == 0 {
		d.Z = 1
	}
	return d
}

// LaunchConfig describes one kernel launch. Grid is blocks per grid and
// Block is threads per block; the two are never interchangeable.
type LaunchConfig struct {
	Grid           Dim3
	Block          Dim3
	SharedMemBytes uint32
	// Stream selects the command stream; nil means the default stream.
	Stream *Stream
	// Args is the kernel parameter buffer, one element per kernel
	// parameter in declaration order.
	Args []any
}

// API is the backend contract the Session drives. Implementations map these
// to a native driver, a JIT runtime, or a simulation.
type API interface {
	// DeviceCount returns the number of addressable devices.
	DeviceCount() int
	// DeviceGet selects a device by ordinal.
	DeviceGet(ordinal int) (Device, error)
	// DeviceRelease frees a device selected by DeviceGet that never
	// received a context. Once CtxCreate succeeds the context owns the
	// device and CtxDestroy releases it.
	DeviceRelease(dev Device) error
	// CtxCreate creates a context bound to the device. Flags are
	// backend-specific; 0 is the default.
	CtxCreate(dev Device, flags uint32) (Context, error)
	CtxDestroy(ctx Context) error
	// ModuleLoad loads a compiled artifact into the context. It fails if
	// the path does not exist or the artifact is malformed.
	ModuleLoad(ctx Context, path string) (Module, error)
	ModuleUnload(mod Module) error
	// GetFunction resolves a named entry point from a loaded module.
	GetFunction(mod Module, name string) (Function, error)
	// Launch submits a kernel. It does not wait for completion.
	Launch(fn Function, cfg LaunchConfig) error
	// Synchronize blocks until all work submitted to the context has
	// completed.
	Synchronize(ctx Context) error
}

// State is the session lifecycle position.
type State int

const (
	Uninitialized State = iota
	DeviceSelected
	ContextCreated
	ModuleLoaded
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "Uninitialized"
	case DeviceSelected:
		return "DeviceSelected"
	case ContextCreated:
		return "ContextCreated"
	case ModuleLoaded:
		return "ModuleLoaded"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session owns one device/context/module chain and enforces the acquisition
// order. Calling a step before its predecessor succeeded fails fast with
// ErrInvalidState instead of proceeding with an uninitialized handle.
type Session struct {
	api API

	mu      sync.Mutex
	state   State
	device  Device
	context Context
	module  Module
}

// NewSession creates a session over a backend. The session starts
// Uninitialized; call Init first.
func NewSession(api API) *Session {
	return &Session{api: api}
}

func (s *Session) require(step string, want State) error {
	if s.state != want {
		return fmt.Errorf("%w: %s requires state %s, session is %s",
			ErrInvalidState, step, want, s.state)
	}
	return nil
}

// State returns the current lifecycle position.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Context returns the session's context handle for backend-specific
// operations such as memory allocation. The session must have reached at
// least the ContextCreated state.
func (s *Session) Context() (Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state < ContextCreated {
		return Context{}, fmt.Errorf("%w: Context requires state %s, session is %s",
			ErrInvalidState, ContextCreated, s.state)
	}
	return s.context, nil
}

// Init selects the device with the given ordinal. It fails if the ordinal
// is out of range for the backend.
func (s *Session) Init(ordinal int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("Init", Uninitialized); err != nil {
		return err
	}
	if count := s.api.DeviceCount(); ordinal < 0 || ordinal >= count {
		return fmt.Errorf("driver: device ordinal %d out of range [0,%d)", ordinal, count)
	}

	dev, err := s.api.DeviceGet(ordinal)
	if err != nil {
		return fmt.Errorf("driver: select device %d: %w", ordinal, err)
	}
	s.device = dev
	s.state = DeviceSelected
	return nil
}

// CreateContext creates the context bound to the selected device. Default
// flags are always used; the device ordinal is never reused as a flag
// value.
func (s *Session) CreateContext() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("CreateContext", DeviceSelected); err != nil {
		return err
	}

	ctx, err := s.api.CtxCreate(s.device, 0)
	if err != nil {
		return fmt.Errorf("driver: create context: %w", err)
	}
	s.context = ctx
	s.state = ContextCreated
	return nil
}

// LoadModule loads a compiled artifact into the context.
func (s *Session) LoadModule(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("LoadModule", ContextCreated); err != nil {
		return err
	}

	mod, err := s.api.ModuleLoad(s.context, path)
	if err != nil {
		return fmt.Errorf("driver: load module %s: %w", path, err)
	}
	s.module = mod
	s.state = ModuleLoaded
	return nil
}

// GetFunction resolves a named entry point from the loaded module.
func (s *Session) GetFunction(entry string) (Function, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("GetFunction", ModuleLoaded); err != nil {
		return Function{}, err
	}

	fn, err := s.api.GetFunction(s.module, entry)
	if err != nil {
		return Function{}, fmt.Errorf("driver: resolve entry %q: %w", entry, err)
	}
	return fn, nil
}

// Launch submits the kernel and blocks until the device has finished it.
// On return the kernel has completed, or the launch failed; no
// partial-completion state is observable. There is no cancellation path
// once the kernel has been submitted.
func (s *Session) Launch(fn Function, cfg LaunchConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.require("Launch", ModuleLoaded); err != nil {
		return err
	}
	if fn.IsZero() {
		return fmt.Errorf("%w: launch of zero function handle", ErrInvalidState)
	}

	cfg.Grid = cfg.Grid.normalized()
	cfg.Block = cfg.Block.normalized()

	if err := s.api.Launch(fn, cfg); err != nil {
		return fmt.Errorf("driver: launch: %w", err)
	}
	if err := s.api.Synchronize(s.context); err != nil {
		return fmt.Errorf("driver: synchronize: %w", err)
	}
	return nil
}

// Close releases the chain in reverse acquisition order: module, then
// context. A device selected without a context is released directly. It
// tolerates a partially-built chain, so a failure midway through setup
// leaks nothing. The session returns to Uninitialized and may be reused.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	if s.state >= ModuleLoaded {
		if err := s.api.ModuleUnload(s.module); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("driver: unload module: %w", err)
		}
		s.module = Module{}
	}
	if s.state >= ContextCreated {
		if err := s.api.CtxDestroy(s.context); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("driver: destroy context: %w", err)
		}
		s.context = Context{}
	} else if s.state == DeviceSelected {
		if err := s.api.DeviceRelease(s.device); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("driver: release device: %w", err)
		}
	}
	s.device = Device{}
	s.state = Uninitialized
	return firstErr
}
