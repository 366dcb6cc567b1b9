package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/kahiteam/wdog/internal/boot"
	"github.com/kahiteam/wdog/internal/config"
	"github.com/kahiteam/wdog/internal/logging"
	"github.com/kahiteam/wdog/internal/process"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Select, repair and launch the current system",
	Long: "Prepare the systems directory, install the golden system when needed and\n" +
		"run the current system's supervisor until it stops cleanly.",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger := bootLogger(cmd, cfg)

		capture, err := logging.NewCaptureWriter(logging.CaptureConfig{
			Name:     "supervisor",
			Logfile:  cfg.Boot.Logfile,
			MaxBytes: cfg.Boot.LogfileMaxbytes,
			Backups:  cfg.Boot.LogfileBackups,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		defer capture.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()

		err = newBoot(cfg.Boot, capture, logger).Run(ctx)
		if errors.Is(err, boot.ErrRebooting) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func bootLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return logging.New(logging.LogConfig{
		Level:  cfg.Daemon.LogLevel,
		Format: cfg.Daemon.LogFormat,
		Output: cmd.ErrOrStderr(),
	})
}

// newBoot wires the boot program to real processes. capture may be nil
// when no supervisor will be launched.
func newBoot(c config.BootConfig, capture *logging.CaptureWriter, logger *slog.Logger) *boot.Boot {
	sp := process.ExecSpawner{}
	runner := &boot.SupervisorRunner{
		Spawner: sp,
		Path:    c.Supervisor,
		Args:    c.SupervisorArgs,
		Logger:  logger,
	}
	if capture != nil {
		runner.Output = capture
	}
	return boot.New(boot.Options{
		Layout:          boot.LayoutFromConfig(c),
		Runner:          runner,
		Rebooter:        &boot.SystemRebooter{Spawner: sp, Command: c.RebootCommand, Logger: logger},
		Spawner:         sp,
		LdconfigCommand: c.LdconfigCommand,
		Capture:         capture,
		ConsoleLines:    c.ConsoleLines,
		Logger:          logger,
	})
}

func init() {
	rootCmd.AddCommand(startCmd)
}
