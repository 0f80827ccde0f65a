// Package compile invokes the external ahead-of-time kernel compiler. The
// invocation is synchronous: the caller blocks for the full process
// lifetime, with stdout and stderr captured completely before the exit code
// is inspected. Cancellation goes through the context; once the process has
// exited there is nothing left to cancel.
package compile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gpukit/gpukit"
)

// Request describes one compilation: a materialized source file compiled to
// an artifact at OutputPath.
type Request struct {
	SourcePath string
	OutputPath string
	// DataModel is the pointer width in bits for the -m flag. 0 means the
	// host process width.
	DataModel int
	// ExtraFlags are appended verbatim after the standard flags.
	ExtraFlags []string
}

// Result carries the captured process output of a successful compilation.
type Result struct {
	Stdout string
	Stderr string
}

// Toolchain compiles a kernel source file to a device artifact. The runner
// depends on this interface so tests can substitute a counting fake.
type Toolchain interface {
	Compile(ctx context.Context, req Request) (Result, error)
}

// Error is a compilation failure: the compiler ran and exited nonzero. The
// captured stderr is the diagnostic payload and appears verbatim in the
// message.
type Error struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("compile: %s exited %d: %s", e.Command, e.ExitCode, e.Stderr)
}

// Copy is the toolchain for backends that JIT-compile kernel source
// themselves (OCCA builds OKL source at load time). It stages the source
// file at the artifact path unchanged, so the cache layout and hit
// semantics stay identical to the ahead-of-time path.
type Copy struct{}

func (Copy) Compile(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("compile: interrupted before staging %s: %w", req.SourcePath, err)
	}
	data, err := os.ReadFile(req.SourcePath)
	if err != nil {
		return Result{}, fmt.Errorf("compile: read %s: %w", req.SourcePath, err)
	}
	if err := os.WriteFile(req.OutputPath, data, 0o644); err != nil {
		return Result{}, fmt.Errorf("compile: stage %s: %w", req.OutputPath, err)
	}
	return Result{}, nil
}

// NVCC invokes the NVIDIA ahead-of-time compiler as
// <path> -m<width> -ptx <source> -o <output>.
type NVCC struct {
	// Path is the compiler executable; "nvcc" when empty.
	Path string
	// Timeout bounds one invocation. 0 means no bound beyond the caller's
	// context.
	Timeout time.Duration
	// Log receives the command line and outcome; nil means no logging.
	Log *zap.Logger
}

func (n *NVCC) path() string {
	if n.Path != "" {
		return n.Path
	}
	return "nvcc"
}

func (n *NVCC) logger() *zap.Logger {
	if n.Log != nil {
		return n.Log
	}
	return zap.NewNop()
}

// Compile runs the compiler and blocks until it exits. Both output streams
// are captured in full before the exit code is inspected. A nonzero exit
// returns *Error; context cancellation or timeout returns the wrapped
// context error rather than swallowing the interruption.
func (n *NVCC) Compile(ctx context.Context, req Request) (Result, error) {
	if n.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.Timeout)
		defer cancel()
	}

	width := req.DataModel
	if width == 0 {
		width = gpukit.HostDataModel()
	}

	args := []string{"-m" + strconv.Itoa(width), "-ptx", req.SourcePath, "-o", req.OutputPath}
	args = append(args, req.ExtraFlags...)
	cmdLine := n.path() + " " + strings.Join(args, " ")

	log := n.logger()
	log.Info("compiling kernel", zap.String("command", cmdLine))

	cmd := exec.CommandContext(ctx, n.path(), args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// nvcc forks helpers (cicc, ptxas, the host compiler) that inherit the
	// output pipes. Cancellation kills only the direct child, so bound how
	// long Wait holds out for the pipes before abandoning them.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if ctx.Err() != nil {
		return Result{}, fmt.Errorf("compile: interrupted while waiting for %s: %w", n.path(), ctx.Err())
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cerr := &Error{
				Command:  cmdLine,
				ExitCode: exitErr.ExitCode(),
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
			}
			log.Error("kernel compilation failed",
				zap.Int("exit_code", cerr.ExitCode),
				zap.String("stderr", cerr.Stderr),
				zap.String("stdout", cerr.Stdout))
			return Result{}, cerr
		}
		return Result{}, fmt.Errorf("compile: run %s: %w", n.path(), err)
	}

	log.Info("kernel compiled", zap.String("output", req.OutputPath))
	return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
}
