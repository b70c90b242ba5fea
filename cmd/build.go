package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/conneroisu/spindle/internal/services"
)

var buildOutput string

var buildCmd = &cobra.Command{
	Use:   "build [path]",
	Short: "Run build scripts once",
	Long: `Run every build script at path once and exit.

path may be a single script or a directory, in which case every top-level
file matching the script pattern (*.sh by default) runs in lexical order.
A failing script does not stop the others, but the command exits non-zero.

If a script asks for a long-running command (watch, view or edit), it is
started once the build is over.

Examples:
  spindle build                 # Build every script in the current directory
  spindle build site.sh         # Build one script
  spindle build --output dist   # Default output directory for sites`,
	Args: cobra.MaximumNArgs(1),
	RunE: runBuildCommand,
}

func init() {
	rootCmd.AddCommand(buildCmd)

	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "default output directory (default from config)")
}

func runBuildCommand(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	svc := services.NewBuildService(rt.cfg, rt.logger, rt.metrics)
	result, err := svc.Build(ctx, services.BuildOptions{
		Path:   pathArg(args),
		Output: buildOutput,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, t := range result.Targets {
		fmt.Fprintf(out, "built %s -> %s\n", t.Script, t.Output)
	}

	if !result.Success {
		for _, e := range result.Errors {
			fmt.Fprintln(cmd.ErrOrStderr(), errorStyle.Render(e.Error()))
		}
		return fmt.Errorf("%d build script(s) failed", len(result.Errors))
	}

	fmt.Fprintf(out, "%d target(s) built in %s\n", len(result.Targets), result.Duration.Round(time.Millisecond))

	if len(result.Requests) > 0 {
		return runCommand(cmd, result.Requests[0])
	}
	return nil
}
