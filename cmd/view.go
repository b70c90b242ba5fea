package cmd

import (
	"github.com/spf13/cobra"

	"github.com/conneroisu/spindle/internal/registry"
	"github.com/conneroisu/spindle/internal/services"
)

var (
	viewHost   string
	viewPort   int
	viewOutput string
)

var viewCmd = &cobra.Command{
	Use:   "view [path]",
	Short: "Watch and serve every site over HTTP",
	Long: `Watch path like the watch command and serve each site's output on its own
port, starting at --port and counting up. A site keeps its port across
rebuilds. Pages reload in the browser after every rebuild, and a failing
script shows its error in place of the site until it is fixed.

Examples:
  spindle view                  # Serve from localhost:8000
  spindle view --port 3000      # Serve from port 3000 upwards
  spindle view --host 0.0.0.0   # Serve on every interface`,
	Args: cobra.MaximumNArgs(1),
	RunE: runViewCommand,
}

func init() {
	rootCmd.AddCommand(viewCmd)

	viewCmd.Flags().StringVar(&viewHost, "host", "", "server host (default from config)")
	viewCmd.Flags().IntVarP(&viewPort, "port", "p", 0, "base server port, 0 lets the OS choose (default from config)")
	viewCmd.Flags().StringVarP(&viewOutput, "output", "o", "", "default output directory (default from config)")
}

func runViewCommand(cmd *cobra.Command, args []string) error {
	return runCommand(cmd, registry.CommandRequest{
		Command: services.CommandView,
		Path:    pathArg(args),
		Host:    viewHost,
		Port:    viewPort,
		PortSet: cmd.Flags().Changed("port"),
		Output:  viewOutput,
	})
}
