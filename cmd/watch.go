package cmd

import (
	"github.com/spf13/cobra"

	"github.com/conneroisu/spindle/internal/registry"
	"github.com/conneroisu/spindle/internal/services"
)

var watchOutput string

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Build, then rebuild whenever sources change",
	Long: `Build every script at path, then keep polling. A changed script, or a
changed file in a site's source directory, rebuilds the script that owns it.
New scripts are built and deleted ones are dropped.

A failing rebuild is reported and the previous output is kept; fixing the
script rebuilds it.

Examples:
  spindle watch                 # Watch the current directory
  spindle watch site.sh         # Watch one script`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatchCommand,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVarP(&watchOutput, "output", "o", "", "default output directory (default from config)")
}

func runWatchCommand(cmd *cobra.Command, args []string) error {
	return runCommand(cmd, registry.CommandRequest{
		Command: services.CommandWatch,
		Path:    pathArg(args),
		Output:  watchOutput,
	})
}
