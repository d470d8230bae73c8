// Package cmd provides the pagegraph command-line interface.
//
// Configuration is read with the following precedence, highest first:
//  1. Command-line flags (--config, --log-level, ...)
//  2. PAGEGRAPH_<SECTION>_<KEY> environment variables, such as
//     PAGEGRAPH_STORAGE_DRIVER or PAGEGRAPH_SERVER_PORT
//  3. The configuration file: --config, then PAGEGRAPH_CONFIG_FILE, then
//     .pagegraph.yml in the working directory
//  4. Built-in defaults
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/pagegraph/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "pagegraph",
	Short: "Compile Liquid page templates and keep inheriting pages in sync",
	Long: `pagegraph compiles a site's Liquid page templates, records which pages
and snippets each page depends on, and recompiles every descendant when a
parent page or snippet changes.

Quick Start:
  pagegraph init                  Write .pagegraph.yml and a starter layout
  pagegraph sync                  Compile every template under the site root
  pagegraph deps index            Show what index depends on and what depends on it
  pagegraph watch                 Recompile on file changes
  pagegraph serve                 Serve the editor API with live change events`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .pagegraph.yml, or PAGEGRAPH_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("storage", "", "storage driver (memory, sqlite)")
	rootCmd.PersistentFlags().String("site", "", "site id")

	addFlagValidation(rootCmd.PersistentFlags(), "log-level", validateLogLevel)
	addFlagValidation(rootCmd.PersistentFlags(), "storage", validateStorageDriver)

	bindFlags()
}

// bindFlags lets the persistent flags override configuration keys.
func bindFlags() {
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("storage.driver", rootCmd.PersistentFlags().Lookup("storage"))
	_ = viper.BindPFlag("site.id", rootCmd.PersistentFlags().Lookup("site"))
}

func initConfig() {
	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case os.Getenv("PAGEGRAPH_CONFIG_FILE") != "":
		viper.SetConfigFile(os.Getenv("PAGEGRAPH_CONFIG_FILE"))
	default:
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".pagegraph")
	}

	config.BindEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
