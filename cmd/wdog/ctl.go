package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/kahiteam/wdog/internal/config"
	"github.com/kahiteam/wdog/internal/ctl"
	"github.com/kahiteam/wdog/internal/logging"
	"github.com/kahiteam/wdog/internal/watchdog"
	"github.com/kahiteam/wdog/internal/wdogchain"
	"github.com/spf13/cobra"
)

const defaultSocket = "/var/run/wdog.sock"

var (
	ctlSocket string
	ctlAddr   string
	ctlUser   string
	ctlPass   string
	ctlPID    int
	ctlOutput string
)

var ctlCmd = &cobra.Command{
	Use:   "ctl",
	Short: "Control a running wdog daemon",
	Long: "Send commands to a running wdog daemon via its API.\n\n" +
		"Watchdog commands act on --pid, which defaults to the parent process so\n" +
		"that a shell script can kick its own watchdog.",
}

func newCtlClient() *ctl.Client {
	if ctlAddr != "" {
		return ctl.NewTCPClient(ctlAddr, ctlUser, ctlPass)
	}
	sock := ctlSocket
	if sock == "" {
		sock = defaultSocket
		if path, err := config.Resolve(configPath); err == nil {
			if cfg, _, err := config.LoadWithIncludes(path); err == nil {
				sock = cfg.Server.Unix.File
			}
		}
	}
	return ctl.NewUnixClient(sock)
}

func targetPID() int {
	if ctlPID > 0 {
		return ctlPID
	}
	return os.Getppid()
}

// parseTimeout accepts milliseconds or "never".
func parseTimeout(s string) (int32, error) {
	if strings.EqualFold(s, "never") {
		return watchdog.TimeoutNever, nil
	}
	ms, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q: want milliseconds or \"never\"", s)
	}
	if ms < 0 && int32(ms) != watchdog.TimeoutNever {
		return 0, fmt.Errorf("invalid timeout %q: negative values other than -1 are not allowed", s)
	}
	return int32(ms), nil
}

var ctlKickCmd = &cobra.Command{
	Use:   "kick",
	Short: "Kick a process watchdog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newCtlClient()
		defer c.Close()
		return c.Kick(context.Background(), targetPID())
	},
}

var ctlTimeoutCmd = &cobra.Command{
	Use:   "timeout <ms|never>",
	Short: "Set a process watchdog timeout",
	Long:  "Set the kick interval of a process watchdog. 0 expires it now, never disables it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ms, err := parseTimeout(args[0])
		if err != nil {
			return err
		}
		c := newCtlClient()
		defer c.Close()
		return c.SetTimeout(context.Background(), targetPID(), ms)
	},
}

var ctlGetTimeoutCmd = &cobra.Command{
	Use:   "get-timeout",
	Short: "Print a process watchdog timeout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newCtlClient()
		defer c.Close()
		ms, err := c.GetTimeout(context.Background(), targetPID())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), ctl.FormatMillis(ms))
		return err
	},
}

var ctlGetMaxCmd = &cobra.Command{
	Use:   "get-max",
	Short: "Print a process max watchdog timeout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newCtlClient()
		defer c.Close()
		ms, err := c.GetMaxTimeout(context.Background(), targetPID())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), ctl.FormatMillis(ms))
		return err
	},
}

var ctlDisconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "Drop a process watchdog",
	Long:  "Remove the watchdog of a process. Mandatory watchdogs stay armed at their max timeout.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newCtlClient()
		defer c.Close()
		return c.Disconnect(context.Background(), targetPID())
	},
}

var ctlListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watchdogs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newCtlClient()
		defer c.Close()
		entries, err := c.List(context.Background())
		if err != nil {
			return err
		}
		return ctl.WriteList(entries, ctlOutput, cmd.OutOrStdout())
	},
}

var ctlInstallCmd = &cobra.Command{
	Use:   "install <app>...",
	Short: "Create the mandatory watchdogs of apps",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newCtlClient()
		defer c.Close()
		for _, app := range args {
			n, err := c.InstallApp(context.Background(), app)
			if err != nil {
				return fmt.Errorf("%s: %w", app, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d mandatory watchdogs\n", app, n)
		}
		return nil
	},
}

var ctlUninstallCmd = &cobra.Command{
	Use:   "uninstall <app>...",
	Short: "Remove the mandatory watchdogs of apps",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newCtlClient()
		defer c.Close()
		for _, app := range args {
			n, err := c.UninstallApp(context.Background(), app)
			if err != nil {
				return fmt.Errorf("%s: %w", app, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: removed %d watchdogs\n", app, n)
		}
		return nil
	},
}

var ctlFrameworkTimeout time.Duration

var ctlFrameworkKickCmd = &cobra.Command{
	Use:   "framework-kick <daemon>",
	Short: "Kick a framework daemon watchdog",
	Long: "Kick a framework daemon watchdog once, or with --timeout keep kicking it\n" +
		"at a quarter of that timeout until interrupted.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newCtlClient()
		defer c.Close()
		if ctlFrameworkTimeout <= 0 {
			return c.KickFramework(context.Background(), args[0])
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()
		k := &ctl.FrameworkKicker{
			Client:  c,
			Daemon:  args[0],
			Timeout: ctlFrameworkTimeout,
			Logger:  logging.New(logging.LogConfig{Format: "text", Output: cmd.ErrOrStderr()}),
		}
		if err := k.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var ctlHeartbeatInterval time.Duration

var ctlHeartbeatCmd = &cobra.Command{
	Use:   "heartbeat <file>...",
	Short: "Share a process watchdog between workers that touch files",
	Long: "Watch one heartbeat file per worker and kick the watchdog of --pid only\n" +
		"once every worker has touched its file since the last kick. Removing a\n" +
		"file retires its worker; when all files are gone the watchdog is set to\n" +
		"never and the command exits.",
	Args: cobra.RangeArgs(1, wdogchain.MaxLinks),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newCtlClient()
		defer c.Close()
		logger := logging.New(logging.LogConfig{Format: "text", Output: cmd.ErrOrStderr()})
		chain, err := wdogchain.New(wdogchain.ForPID(c, targetPID()), len(args), logger)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
		defer stop()
		hb := &wdogchain.Heartbeat{
			Chain:    chain,
			Files:    args,
			Interval: ctlHeartbeatInterval,
			Logger:   logger,
		}
		if err := hb.Run(ctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

var ctlHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check daemon health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newCtlClient()
		defer c.Close()
		status, err := c.Health(context.Background())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), status)
		return err
	},
}

func init() {
	ctlCmd.PersistentFlags().StringVarP(&ctlSocket, "socket", "s", "", "Unix socket path (default: from config, else "+defaultSocket+")")
	ctlCmd.PersistentFlags().StringVar(&ctlAddr, "addr", "", "TCP address (host:port)")
	ctlCmd.PersistentFlags().StringVarP(&ctlUser, "username", "u", "", "HTTP Basic Auth username")
	ctlCmd.PersistentFlags().StringVarP(&ctlPass, "password", "p", "", "HTTP Basic Auth password")

	for _, c := range []*cobra.Command{ctlKickCmd, ctlTimeoutCmd, ctlGetTimeoutCmd, ctlGetMaxCmd, ctlDisconnectCmd, ctlHeartbeatCmd} {
		c.Flags().IntVar(&ctlPID, "pid", 0, "target process (default: parent process)")
	}
	ctlFrameworkKickCmd.Flags().DurationVar(&ctlFrameworkTimeout, "timeout", 0, "keep kicking for a daemon with this watchdog timeout")
	ctlHeartbeatCmd.Flags().DurationVar(&ctlHeartbeatInterval, "interval", time.Second, "how often to check the files")
	ctlListCmd.Flags().StringVarP(&ctlOutput, "output", "o", ctl.FormatTable, "output format: table, json or yaml")

	ctlCmd.AddCommand(
		ctlKickCmd, ctlTimeoutCmd, ctlGetTimeoutCmd, ctlGetMaxCmd,
		ctlDisconnectCmd, ctlListCmd, ctlInstallCmd, ctlUninstallCmd,
		ctlFrameworkKickCmd, ctlHeartbeatCmd, ctlHealthCmd,
	)
	rootCmd.AddCommand(ctlCmd)
}
