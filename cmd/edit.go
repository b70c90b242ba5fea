package cmd

import (
	"github.com/spf13/cobra"

	"github.com/conneroisu/spindle/internal/registry"
	"github.com/conneroisu/spindle/internal/services"
)

var (
	editHost string
	editPort int
)

var editCmd = &cobra.Command{
	Use:   "edit [path]",
	Short: "View into a scratch directory and open the browser",
	Long: `Like view, but sites without an explicit output are built into a
temporary directory that is removed on exit, and the first site is opened
in the browser.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEditCommand,
}

func init() {
	rootCmd.AddCommand(editCmd)

	editCmd.Flags().StringVar(&editHost, "host", "", "server host (default from config)")
	editCmd.Flags().IntVarP(&editPort, "port", "p", 0, "base server port, 0 lets the OS choose (default from config)")
}

func runEditCommand(cmd *cobra.Command, args []string) error {
	return runCommand(cmd, registry.CommandRequest{
		Command: services.CommandEdit,
		Path:    pathArg(args),
		Host:    editHost,
		Port:    editPort,
		PortSet: cmd.Flags().Changed("port"),
	})
}
