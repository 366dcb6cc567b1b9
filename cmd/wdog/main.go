package main

import (
	"fmt"
	"os"

	"github.com/kahiteam/wdog/internal/config"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "wdog",
	Short:         "wdog -- watchdog daemon and A/B boot manager",
	Long:          "wdog supervises application watchdogs, services the hardware watchdog and boots the current system image.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// loadConfig resolves and loads the config file named by --config.
// Warnings go to stderr.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := config.Resolve(configPath)
	if err != nil {
		return nil, "", err
	}
	cfg, warnings, err := config.LoadWithIncludes(path)
	if err != nil {
		return nil, "", err
	}
	for _, w := range warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "config warning: %s\n", w)
	}
	return cfg, path, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: $WDOG_CONFIG or the search path)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
