package driver_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpukit/gpukit/driver"
	"github.com/gpukit/gpukit/driver/sim"
)

func writeArtifact(t *testing.T, entries ...string) string {
	t.Helper()
	var text string
	for _, e := range entries {
		text += ".visible .entry " + e + "(\n.param .u64 p0\n)\n{\nret;\n}\n"
	}
	path := filepath.Join(t.TempDir(), "kernel.ptx")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestSession_OrderingViolations(t *testing.T) {
	artifact := writeArtifact(t, "vectorAdd")

	testCases := []struct {
		name string
		call func(s *driver.Session) error
	}{
		{"CreateContext before Init", func(s *driver.Session) error {
			return s.CreateContext()
		}},
		{"LoadModule before CreateContext", func(s *driver.Session) error {
			require.NoError(t, s.Init(0))
			return s.LoadModule(artifact)
		}},
		{"GetFunction before LoadModule", func(s *driver.Session) error {
			require.NoError(t, s.Init(0))
			require.NoError(t, s.CreateContext())
			_, err := s.GetFunction("vectorAdd")
			return err
		}},
		{"Launch before LoadModule", func(s *driver.Session) error {
			require.NoError(t, s.Init(0))
			return s.Launch(driver.Function{}, driver.LaunchConfig{})
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := driver.NewSession(sim.New())
			err := tc.call(s)
			require.Error(t, err)
			assert.ErrorIs(t, err, driver.ErrInvalidState)
		})
	}
}

func TestSession_InitOrdinalOutOfRange(t *testing.T) {
	s := driver.NewSession(sim.NewWithDevices(2))

	err := s.Init(5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "5")
	assert.Equal(t, driver.Uninitialized, s.State())

	err = s.Init(-1)
	require.Error(t, err)

	require.NoError(t, s.Init(1))
	assert.Equal(t, driver.DeviceSelected, s.State())
}

func TestSession_FullChain(t *testing.T) {
	backend := sim.New()
	s := driver.NewSession(backend)
	artifact := writeArtifact(t, "vectorAdd", "vectorScale")

	require.NoError(t, s.Init(0))
	require.NoError(t, s.CreateContext())
	require.NoError(t, s.LoadModule(artifact))

	fn, err := s.GetFunction("vectorAdd")
	require.NoError(t, err)
	require.False(t, fn.IsZero())

	err = s.Launch(fn, driver.LaunchConfig{
		Grid:  driver.Dim3{X: 128},
		Block: driver.Dim3{X: 256},
		Args:  []any{1, 2, 3},
	})
	require.NoError(t, err)

	launches := backend.Launches()
	require.Len(t, launches, 1)
	assert.Equal(t, "vectorAdd", launches[0].Entry)
	assert.Equal(t, driver.Dim3{X: 128, Y: 1, Z: 1}, launches[0].Grid, "zero dims normalize to 1")
	assert.Equal(t, driver.Dim3{X: 256, Y: 1, Z: 1}, launches[0].Block)
	assert.Equal(t, 3, launches[0].ArgCount)
	assert.Equal(t, 1, backend.SyncCount(), "launch synchronizes before returning")
}

func TestSession_ContextAccessor(t *testing.T) {
	s := driver.NewSession(sim.New())

	_, err := s.Context()
	require.Error(t, err)
	assert.ErrorIs(t, err, driver.ErrInvalidState)

	require.NoError(t, s.Init(0))
	_, err = s.Context()
	require.Error(t, err)

	require.NoError(t, s.CreateContext())
	ctx, err := s.Context()
	require.NoError(t, err)
	assert.False(t, ctx.IsZero())
}

func TestSession_UnknownEntry(t *testing.T) {
	s := driver.NewSession(sim.New())
	artifact := writeArtifact(t, "vectorAdd")

	require.NoError(t, s.Init(0))
	require.NoError(t, s.CreateContext())
	require.NoError(t, s.LoadModule(artifact))

	_, err := s.GetFunction("missingKernel")
	require.Error(t, err)
	assert.ErrorIs(t, err, driver.ErrNotFound)
	assert.Contains(t, err.Error(), "missingKernel")
}

func TestSession_LoadModuleBadArtifact(t *testing.T) {
	s := driver.NewSession(sim.New())
	require.NoError(t, s.Init(0))
	require.NoError(t, s.CreateContext())

	t.Run("missing file", func(t *testing.T) {
		err := s.LoadModule(filepath.Join(t.TempDir(), "nope.ptx"))
		require.Error(t, err)
		assert.Equal(t, driver.ContextCreated, s.State())
	})

	t.Run("no entry directives", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.ptx")
		require.NoError(t, os.WriteFile(path, []byte("// nothing here"), 0o644))
		err := s.LoadModule(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty.ptx")
	})
}

func TestSession_ClosePartialChain(t *testing.T) {
	s := driver.NewSession(sim.New())

	// Close on an untouched session is a no-op.
	require.NoError(t, s.Close())

	// Close after only device selection releases nothing but resets state.
	require.NoError(t, s.Init(0))
	require.NoError(t, s.Close())
	assert.Equal(t, driver.Uninitialized, s.State())

	// The session is reusable after Close.
	require.NoError(t, s.Init(0))
	require.NoError(t, s.CreateContext())
	require.NoError(t, s.Close())
	assert.Equal(t, driver.Uninitialized, s.State())
}

func TestSession_CloseReleasesDeviceWithoutContext(t *testing.T) {
	backend := sim.New()
	s := driver.NewSession(backend)

	// Device selected but no context: Close must release the device
	// directly so nothing leaks.
	require.NoError(t, s.Init(0))
	require.NoError(t, s.Close())
	assert.Equal(t, 1, backend.DeviceReleases())

	// With a context the device is owned by it and released through
	// CtxDestroy, not a second device release.
	require.NoError(t, s.Init(0))
	require.NoError(t, s.CreateContext())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, backend.DeviceReleases())
}

func TestSession_CloseReleasesReverseOrder(t *testing.T) {
	backend := sim.New()
	s := driver.NewSession(backend)
	artifact := writeArtifact(t, "vectorAdd")

	require.NoError(t, s.Init(0))
	require.NoError(t, s.CreateContext())
	require.NoError(t, s.LoadModule(artifact))
	fn, err := s.GetFunction("vectorAdd")
	require.NoError(t, err)

	require.NoError(t, s.Close())

	// The resolved function died with its module.
	err = s.Launch(fn, driver.LaunchConfig{})
	require.Error(t, err)
	assert.ErrorIs(t, err, driver.ErrInvalidState)
}
