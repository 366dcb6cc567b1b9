package main

import (
	"context"

	"github.com/kahiteam/wdog/internal/daemon"
	"github.com/kahiteam/wdog/internal/logging"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the watchdog daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, cleanup, err := logging.DaemonLogger(cfg.Daemon.LogLevel, cfg.Daemon.LogFormat, cfg.Daemon.Logfile, cfg.Daemon.Syslog)
		if err != nil {
			return err
		}
		if cleanup != nil {
			defer cleanup()
		}
		daemon.RootWarning(logger, cfg.Device.Enabled)

		d, err := daemon.New(daemon.Options{
			Config:     cfg,
			ConfigPath: path,
			Logger:     logger,
			Signals:    true,
		})
		if err != nil {
			return err
		}
		return d.Run(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(daemonCmd)
}
