package script

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"mvdan.cc/sh/v3/interp"

	"github.com/conneroisu/spindle/internal/build"
	"github.com/conneroisu/spindle/internal/logging"
	"github.com/conneroisu/spindle/internal/registry"
)

// state is the per-run view a script has of its sites.
type state struct {
	bc     *registry.BuildContext
	script string
	dir    string
	logger logging.Logger

	current *build.Site
	failed  string
}

type builtin func(ctx context.Context, st *state, args []string) error

var builtinTable = map[string]builtin{
	"site":   siteBuiltin,
	"route":  routeBuiltin,
	"copy":   copyBuiltin,
	"render": renderBuiltin,
	"build":  buildBuiltin,
	"meta":   metaBuiltin,
	"watch":  requestBuiltin("watch"),
	"view":   requestBuiltin("view"),
	"edit":   requestBuiltin("edit"),
	"fail":   failBuiltin,
}

// builtins is the exec middleware that intercepts builtin names and passes
// everything else through to the regular exec handler.
func (st *state) builtins(next interp.ExecHandlerFunc) interp.ExecHandlerFunc {
	return func(ctx context.Context, args []string) error {
		fn, ok := builtinTable[args[0]]
		if !ok {
			err := next(ctx, args)
			if err != nil {
				st.failed = strings.Join(args, " ")
			}
			return err
		}

		if err := fn(ctx, st, args[1:]); err != nil {
			st.failed = strings.Join(args, " ")
			return err
		}
		return nil
	}
}

// site returns the current site, declaring the implicit default one on
// first use.
func (st *state) site() *build.Site {
	if st.current == nil {
		st.current = build.NewSite(st.bc, st.script, "", "", true)
	}
	return st.current
}

func newFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// site [--source DIR] [--output DIR]
func siteBuiltin(_ context.Context, st *state, args []string) error {
	fs := newFlags("site")
	source := fs.String("source", "", "source directory")
	output := fs.String("output", "", "output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	st.current = build.NewSite(st.bc, st.script, *source, *output, false)
	st.logger.Debug(context.Background(), "Declared site",
		"source", st.current.Source(), "output", st.current.Output())
	return nil
}

// route PATH [CONTENT...]; without CONTENT the page is read from stdin.
func routeBuiltin(ctx context.Context, st *state, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: route PATH [CONTENT...]")
	}

	var content []byte
	if len(args) > 1 {
		content = []byte(strings.Join(args[1:], " "))
	} else {
		data, err := readStdin(interp.HandlerCtx(ctx).Stdin)
		if err != nil {
			return err
		}
		content = data
	}

	return st.site().Route(args[0], content)
}

// copy SRC [DST]
func copyBuiltin(_ context.Context, st *state, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return fmt.Errorf("usage: copy SRC [DST]")
	}
	dst := ""
	if len(args) == 2 {
		dst = args[1]
	}
	return st.site().Copy(st.sourcePath(args[0]), dst)
}

// render SRC [DST]
func renderBuiltin(ctx context.Context, st *state, args []string) error {
	if len(args) == 0 || len(args) > 2 {
		return fmt.Errorf("usage: render SRC [DST]")
	}
	dst := ""
	if len(args) == 2 {
		dst = args[1]
	}
	return st.site().Render(ctx, st.sourcePath(args[0]), dst)
}

// build
func buildBuiltin(ctx context.Context, st *state, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("usage: build")
	}
	return st.site().Build(ctx)
}

// meta KEY VALUE...
func metaBuiltin(_ context.Context, st *state, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: meta KEY VALUE")
	}
	st.site().SetMeta(args[0], strings.Join(args[1:], " "))
	return nil
}

// watch|view|edit [PATH] [--host H] [--port N] [--output DIR] asks the
// command loop to switch to another command once this pass is over.
func requestBuiltin(command string) builtin {
	return func(ctx context.Context, st *state, args []string) error {
		fs := newFlags(command)
		host := fs.String("host", "", "server host")
		port := fs.Int("port", 0, "server base port")
		output := fs.String("output", "", "output directory")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() > 1 {
			return fmt.Errorf("usage: %s [PATH]", command)
		}

		target := st.dir
		if fs.NArg() == 1 {
			target = fs.Arg(0)
			if !filepath.IsAbs(target) {
				target = filepath.Join(st.dir, target)
			}
		}

		st.bc.RequestCommand(registry.CommandRequest{
			Command: command,
			Path:    filepath.Clean(target),
			Host:    *host,
			Port:    *port,
			PortSet: fs.Changed("port"),
			Output:  *output,
		})
		st.logger.Info(ctx, "Command requested", "command", command, "path", target)
		return nil
	}
}

// fail MESSAGE...
func failBuiltin(_ context.Context, _ *state, args []string) error {
	msg := strings.Join(args, " ")
	if msg == "" {
		msg = "build failed"
	}
	return fmt.Errorf("%s", msg)
}

// sourcePath resolves a builtin argument against the script directory, the
// way a relative path in the script itself resolves.
func (st *state) sourcePath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(st.dir, p)
}

func readStdin(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, nil
	}
	if f, ok := r.(*os.File); ok && f == nil {
		return nil, nil
	}
	return io.ReadAll(r)
}
