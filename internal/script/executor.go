// Package script runs build scripts. A build script is a POSIX shell file
// interpreted in-process, with builtins that declare sites and write output.
package script

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/conneroisu/spindle/internal/logging"
	"github.com/conneroisu/spindle/internal/registry"
)

// Executor runs build scripts against a build context.
type Executor struct {
	// Stdout and Stderr receive the scripts' own output.
	Stdout io.Writer
	Stderr io.Writer

	logger logging.Logger
}

// NewExecutor creates an executor that forwards script output to the process.
func NewExecutor(logger logging.Logger) *Executor {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Executor{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		logger: logger.WithComponent("script"),
	}
}

// Execute runs the script at path. Sites it declares are recorded in bc;
// commands it requests are queued on bc. The script runs in its own
// directory with errexit set, so the first failing command stops it.
func (e *Executor) Execute(ctx context.Context, path string, bc *registry.BuildContext) (err error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return &Error{Path: path, Cause: err}
	}

	src, err := os.ReadFile(abs)
	if err != nil {
		return &Error{Path: abs, Command: "read", Cause: err}
	}

	prog, err := syntax.NewParser().Parse(bytes.NewReader(src), abs)
	if err != nil {
		return &Error{Path: abs, Command: "parse", Cause: err}
	}

	var stderr bytes.Buffer
	st := &state{
		bc:     bc,
		script: abs,
		dir:    filepath.Dir(abs),
		logger: e.logger.With("script", abs),
	}

	runner, err := interp.New(
		interp.Dir(st.dir),
		interp.Env(expand.ListEnviron(e.environ(abs, bc)...)),
		interp.Params("-e"),
		interp.StdIO(nil, e.stdout(), io.MultiWriter(&stderr, e.stderr())),
		interp.OpenHandler(openHandler),
		interp.ExecHandlers(st.builtins),
	)
	if err != nil {
		return &Error{Path: abs, Command: "init", Cause: err}
	}

	defer func() {
		if r := recover(); r != nil {
			err = &Error{
				Path:    abs,
				Command: st.failed,
				Cause:   fmt.Errorf("panic: %v", r),
				Stderr:  stderr.String(),
			}
		}
	}()

	e.logger.Debug(ctx, "Running build script", "script", abs)

	if runErr := runner.Run(ctx, prog); runErr != nil {
		return &Error{
			Path:    abs,
			Command: st.failed,
			Cause:   runErr,
			Stderr:  stderr.String(),
		}
	}

	return nil
}

func (e *Executor) environ(script string, bc *registry.BuildContext) []string {
	env := os.Environ()
	env = append(env,
		"SPINDLE_SCRIPT="+script,
		"SPINDLE_OUTPUT="+bc.DefaultOutput,
	)
	return env
}

func (e *Executor) stdout() io.Writer {
	if e.Stdout == nil {
		return io.Discard
	}
	return e.Stdout
}

func (e *Executor) stderr() io.Writer {
	if e.Stderr == nil {
		return io.Discard
	}
	return e.Stderr
}

// openHandler maps /dev/null on every platform.
func openHandler(ctx context.Context, path string, flag int, perm os.FileMode) (io.ReadWriteCloser, error) {
	if path == "/dev/null" {
		return devNull{}, nil
	}
	return interp.DefaultOpenHandler()(ctx, path, flag, perm)
}

type devNull struct{}

func (devNull) Read(p []byte) (int, error)  { return 0, io.EOF }
func (devNull) Write(p []byte) (int, error) { return len(p), nil }
func (devNull) Close() error                { return nil }

// IsScript reports whether name matches the build script pattern.
func IsScript(pattern, name string) bool {
	ok, err := doublestar.Match(pattern, filepath.Base(name))
	return err == nil && ok && !strings.HasPrefix(filepath.Base(name), ".")
}
