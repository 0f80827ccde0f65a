package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpukit/gpukit"
)

// mapProvider serves sources from a map keyed on "name/tag".
type mapProvider map[string][]byte

func (m mapProvider) Source(name string, p gpukit.Precision) ([]byte, error) {
	data, ok := m[name+"/"+p.Tag()]
	if !ok {
		return nil, fmt.Errorf("no embedded source %q for %s", name, p)
	}
	return data, nil
}

func TestCache_Resolve(t *testing.T) {
	c := New("/scratch", nil)

	testCases := []struct {
		name      string
		source    string
		precision gpukit.Precision
		want      string
	}{
		{"float variant", "add.cu", gpukit.Float32, "/scratch/float/add.ptx"},
		{"double variant", "add.cu", gpukit.Float64, "/scratch/double/add.ptx"},
		{"other extension", "scale.src", gpukit.Float32, "/scratch/float/scale.ptx"},
		{"no extension", "scale", gpukit.Float64, "/scratch/double/scale.ptx"},
		{"path stripped to base", "sub/dir/add.cu", gpukit.Float32, "/scratch/float/add.ptx"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, filepath.FromSlash(tc.want), c.Resolve(tc.source, tc.precision))
		})
	}
}

func TestCache_LookupCountsHitsAndMisses(t *testing.T) {
	c := New(t.TempDir(), nil)

	path, hit := c.Lookup("add.cu", gpukit.Float32)
	assert.False(t, hit)

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("ptx"), 0o644))

	got, hit := c.Lookup("add.cu", gpukit.Float32)
	assert.True(t, hit)
	assert.Equal(t, path, got)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCache_Materialize(t *testing.T) {
	src := []byte("__global__ void vectorAdd() {}")
	c := New(t.TempDir(), mapProvider{"add.cu/float": src})

	path, err := c.Materialize("add.cu", gpukit.Float32)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, src, data)

	// Second call finds the file and does not re-extract.
	again, err := c.Materialize("add.cu", gpukit.Float32)
	require.NoError(t, err)
	assert.Equal(t, path, again)
}

func TestCache_MaterializeMissingSourceFails(t *testing.T) {
	c := New(t.TempDir(), mapProvider{})

	_, err := c.Materialize("nothere.cu", gpukit.Float64)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothere.cu")

	// No provider at all is also fatal.
	bare := New(t.TempDir(), nil)
	_, err = bare.Materialize("add.cu", gpukit.Float32)
	require.Error(t, err)
}

func TestCache_EvictForcesMiss(t *testing.T) {
	c := New(t.TempDir(), mapProvider{"add.cu/float": []byte("src")})

	_, err := c.Materialize("add.cu", gpukit.Float32)
	require.NoError(t, err)
	artifact := c.Resolve("add.cu", gpukit.Float32)
	require.NoError(t, os.WriteFile(artifact, []byte("ptx"), 0o644))

	_, hit := c.Lookup("add.cu", gpukit.Float32)
	require.True(t, hit)

	require.NoError(t, c.Evict("add.cu", gpukit.Float32))
	_, hit = c.Lookup("add.cu", gpukit.Float32)
	assert.False(t, hit)
	_, err = os.Stat(c.SourcePath("add.cu", gpukit.Float32))
	assert.True(t, os.IsNotExist(err))
}

func TestCache_CloseRemovesExtractedSourcesOnly(t *testing.T) {
	c := New(t.TempDir(), mapProvider{"add.cu/double": []byte("src")})

	srcPath, err := c.Materialize("add.cu", gpukit.Float64)
	require.NoError(t, err)
	artifact := c.Resolve("add.cu", gpukit.Float64)
	require.NoError(t, os.WriteFile(artifact, []byte("ptx"), 0o644))

	require.NoError(t, c.Close())

	_, err = os.Stat(srcPath)
	assert.True(t, os.IsNotExist(err), "extracted source should be removed")
	_, err = os.Stat(artifact)
	assert.NoError(t, err, "compiled artifact should survive Close")
}
