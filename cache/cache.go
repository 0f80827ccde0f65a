// Package cache maps (kernel source, precision variant) pairs to compiled
// artifact paths under a scratch-root directory. A cache hit is purely the
// existence of the artifact file at its resolved path; there is no content
// hash or timestamp check, so a stale source is not detected. That is a
// documented limitation of the layout, not a bug to patch here: evict the
// entry to force a rebuild.
//
// Layout: <root>/<precision-tag>/<sourceBase with extension swapped to .ptx>.
// The default root is stable across processes so artifacts survive restarts.
package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gpukit/gpukit"
)

// ArtifactExt is the extension of compiled kernel artifacts.
const ArtifactExt = ".ptx"

// SourceProvider supplies kernel source bytes for materialization. The
// kernels package provides an embedded implementation; tests substitute
// their own.
type SourceProvider interface {
	// Source returns the kernel source for name compiled at precision p.
	// A provider that has no such entry returns an error naming it.
	Source(name string, p gpukit.Precision) ([]byte, error)
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits   uint64
	Misses uint64
}

// Cache locates and materializes kernel sources and their compiled
// artifacts under a root directory. Lookup and counter updates are safe for
// concurrent use; Materialize serializes filesystem writes internally.
type Cache struct {
	root    string
	sources SourceProvider

	hits   atomic.Uint64
	misses atomic.Uint64

	mu        sync.Mutex
	extracted map[string]struct{} // source files written by Materialize
}

// New creates a cache rooted at root. The directory is created lazily by
// Materialize; Resolve and Lookup never touch the filesystem layout.
func New(root string, sources SourceProvider) *Cache {
	return &Cache{
		root:      root,
		sources:   sources,
		extracted: make(map[string]struct{}),
	}
}

// Default creates a cache under the process-wide scratch directory,
// <os.TempDir()>/gpukit-kernels. The path is deliberately stable so a second
// process (or run) hits artifacts compiled by the first.
func Default(sources SourceProvider) *Cache {
	return New(filepath.Join(os.TempDir(), "gpukit-kernels"), sources)
}

// Root returns the cache root directory.
func (c *Cache) Root() string {
	return c.root
}

// swapExt replaces the final extension of name with ArtifactExt. A name
// without an extension gets ArtifactExt appended, dot included, so the
// artifact name always carries the extension.
func swapExt(name string) string {
	if ext := filepath.Ext(name); ext != "" {
		return strings.TrimSuffix(name, ext) + ArtifactExt
	}
	return name + ArtifactExt
}

// Resolve computes the artifact path for a source name and precision. It is
// a pure path computation; the file may or may not exist.
func (c *Cache) Resolve(sourceName string, p gpukit.Precision) string {
	return filepath.Join(c.root, p.Tag(), swapExt(filepath.Base(sourceName)))
}

// SourcePath returns where the materialized source for (sourceName, p)
// lives inside the cache.
func (c *Cache) SourcePath(sourceName string, p gpukit.Precision) string {
	return filepath.Join(c.root, p.Tag(), filepath.Base(sourceName))
}

// Lookup reports whether the compiled artifact for (sourceName, p) already
// exists, updating the hit/miss counters. Existence of the file is the sole
// hit signal.
func (c *Cache) Lookup(sourceName string, p gpukit.Precision) (path string, hit bool) {
	path = c.Resolve(sourceName, p)
	if _, err := os.Stat(path); err == nil {
		c.hits.Add(1)
		return path, true
	}
	c.misses.Add(1)
	return path, false
}

// Materialize ensures the kernel source is present in the cache directory,
// extracting it from the source provider if absent, and returns its path.
// A provider without the requested entry is an invalid-state failure: the
// build cannot proceed and the error is surfaced immediately, not retried.
func (c *Cache) Materialize(sourceName string, p gpukit.Precision) (string, error) {
	if c.sources == nil {
		return "", fmt.Errorf("cache: no source provider configured, cannot materialize %q", sourceName)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.SourcePath(sourceName, p)
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	data, err := c.sources.Source(sourceName, p)
	if err != nil {
		return "", fmt.Errorf("cache: source %q (%s) unavailable: %w", sourceName, p, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("cache: create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("cache: write %s: %w", path, err)
	}

	c.extracted[path] = struct{}{}
	return path, nil
}

// Evict removes the compiled artifact and materialized source for
// (sourceName, p), forcing the next Lookup to miss.
func (c *Cache) Evict(sourceName string, p gpukit.Precision) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for _, path := range []string{c.Resolve(sourceName, p), c.SourcePath(sourceName, p)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
		delete(c.extracted, path)
	}
	return firstErr
}

// Stats returns a snapshot of the hit/miss counters.
func (c *Cache) Stats() Stats {
	return Stats{Hits: c.hits.Load(), Misses: c.misses.Load()}
}

// Close removes the source files this cache extracted. Compiled artifacts
// are left in place so later processes still hit them.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for path := range c.extracted {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = err
		}
		delete(c.extracted, path)
	}
	return firstErr
}
