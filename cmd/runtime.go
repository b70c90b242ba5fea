package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/conneroisu/spindle/internal/config"
	"github.com/conneroisu/spindle/internal/logging"
	"github.com/conneroisu/spindle/internal/monitoring"
	"github.com/conneroisu/spindle/internal/registry"
	"github.com/conneroisu/spindle/internal/services"
	"github.com/conneroisu/spindle/internal/version"
)

// runtime is what every command needs: configuration, a logger and the
// process's metrics.
type runtime struct {
	cfg     *config.Config
	logger  logging.Logger
	metrics *monitoring.Metrics
}

func newRuntime(cmd *cobra.Command) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Logging.Format,
		Output:    cmd.ErrOrStderr(),
		Component: "spindle",
	})

	return &runtime{cfg: cfg, logger: logger, metrics: monitoring.NewMetrics()}, nil
}

// serveMetrics starts the metrics listener when metrics.addr is set.
func (rt *runtime) serveMetrics(ctx context.Context) error {
	if rt.cfg.Metrics.Addr == "" {
		return nil
	}
	return rt.metrics.Serve(ctx, rt.cfg.Metrics.Addr, rt.logger)
}

// signalContext is cancelled on Ctrl-C or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// runCommand runs a long-running command until it is interrupted. Only a
// command that cannot start is an error.
func runCommand(cmd *cobra.Command, req registry.CommandRequest) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	if err := rt.serveMetrics(ctx); err != nil {
		return fmt.Errorf("failed to serve metrics: %w", err)
	}

	printBanner(cmd.OutOrStdout(), req)

	runner := services.NewRunner(rt.cfg, rt.logger, rt.metrics)
	if err := runner.Run(ctx, req); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render("spindle "+req.Command+": "+err.Error()))
		return err
	}
	return nil
}

// pathArg returns the optional path argument, defaulting to the working
// directory.
func pathArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}

var (
	bannerTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	bannerKey   = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Width(8)
	bannerValue = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	bannerBox   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// printBanner shows what a long-running command is about to do.
func printBanner(w io.Writer, req registry.CommandRequest) {
	rows := []string{
		bannerTitle.Render("spindle " + req.Command + " " + version.Get().Short()),
		row("path", req.Path),
	}
	if req.Output != "" {
		rows = append(rows, row("output", req.Output))
	}
	if req.Command != services.CommandWatch && req.Port != 0 {
		rows = append(rows, row("port", strconv.Itoa(req.Port)))
	}
	rows = append(rows, row("stop", "Ctrl-C"))
	fmt.Fprintln(w, bannerBox.Render(lipgloss.JoinVertical(lipgloss.Left, rows...)))
}

func row(key, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, bannerKey.Render(key), bannerValue.Render(value))
}
