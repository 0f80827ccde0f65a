// Package kernels ships the kernel sources compiled by the pipeline,
// embedded in the binary and organized by precision variant. The cache
// extracts them into its scratch directory before handing them to the
// compiler or the OCCA JIT.
package kernels

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/gpukit/gpukit"
)

//go:embed float double
var sources embed.FS

// Provider serves embedded kernel sources. It implements
// cache.SourceProvider.
type Provider struct {
	fsys fs.FS
}

// Embedded returns the provider over the sources built into this binary.
func Embedded() *Provider {
	return &Provider{fsys: sources}
}

// Source returns the kernel source for name at precision p. A name this
// collection does not carry is an error: the pipeline treats it as an
// illegal state, since nothing else can supply the source.
func (pr *Provider) Source(name string, p gpukit.Precision) ([]byte, error) {
	data, err := fs.ReadFile(pr.fsys, p.Tag()+"/"+name)
	if err != nil {
		return nil, fmt.Errorf("kernels: no embedded source %q for %s: %w", name, p, err)
	}
	return data, nil
}

// Names lists the source names available for precision p.
func (pr *Provider) Names(p gpukit.Precision) ([]string, error) {
	entries, err := fs.ReadDir(pr.fsys, p.Tag())
	if err != nil {
		return nil, fmt.Errorf("kernels: list %s sources: %w", p, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
