package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conneroisu/spindle/internal/services"
)

var (
	newForce    bool
	newTemplate string
	newName     string
	newList     bool
)

var newCmd = &cobra.Command{
	Use:   "new [path]",
	Short: "Create a starter site",
	Long: `Create a starter site in path (default: the current directory): a build
script, some Markdown content and a .spindle.yml. Existing files are left
alone unless --force is given.

Examples:
  spindle new mysite                  # Default template
  spindle new blog --template blog    # A blog with a generated index
  spindle new --list                  # Show the templates`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNewCommand,
}

func init() {
	rootCmd.AddCommand(newCmd)

	newCmd.Flags().BoolVarP(&newForce, "force", "f", false, "overwrite existing files")
	newCmd.Flags().StringVarP(&newTemplate, "template", "t", "default", "starter template")
	newCmd.Flags().StringVar(&newName, "name", "", "site name (default: the directory name)")
	newCmd.Flags().BoolVar(&newList, "list", false, "list the templates and exit")
}

func runNewCommand(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime(cmd)
	if err != nil {
		return err
	}

	svc := services.NewInitService(rt.logger)
	out := cmd.OutOrStdout()

	if newList {
		for _, t := range svc.Templates() {
			fmt.Fprintf(out, "%-10s %s\n", t.Name, t.Description)
		}
		return nil
	}

	dir := pathArg(args)
	written, err := svc.InitProject(services.InitOptions{
		ProjectDir: dir,
		Name:       newName,
		Template:   newTemplate,
		Force:      newForce,
	})
	if err != nil {
		return err
	}

	for _, f := range written {
		if rel, err := filepath.Rel(dir, f); err == nil {
			f = rel
		}
		fmt.Fprintln(out, "created", f)
	}
	fmt.Fprintf(out, "\nNext:\n  spindle view %s\n", dir)
	return nil
}
