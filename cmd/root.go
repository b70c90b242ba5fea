// Package cmd provides the command-line interface for spindle.
//
// Configuration is read, in order of precedence, from flags, SPINDLE_*
// environment variables (e.g. SPINDLE_SERVER_PORT) and a .spindle.yml file
// in the working directory, or the file named by --config or
// SPINDLE_CONFIG_FILE.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/spindle/internal/config"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "spindle",
	Short: "Build static sites from shell build scripts",
	Long: `spindle builds static sites from build scripts: small shell files that
declare sites and write pages with a handful of builtins.

  site --source content     declare a site
  build                     render Markdown and copy everything else
  route /about.html "hi"    write a single page
  meta title "My Site"      set page context

Quick Start:
  spindle new mysite        Create a starter site
  spindle view mysite       Build, serve and rebuild on change
  spindle build mysite      Build once`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .spindle.yml, can also use SPINDLE_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "serve Prometheus metrics on this address")

	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
	_ = viper.BindPFlag("metrics.addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))
}

// initConfig points viper at the config file and the environment. A missing
// config file is not an error.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(config.EnvPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".spindle")
	}

	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(config.EnvKeyReplacer())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
