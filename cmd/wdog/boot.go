package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/kahiteam/wdog/internal/boot"
	"github.com/kahiteam/wdog/internal/ctl"
	"github.com/spf13/cobra"
)

var bootOutput string

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Inspect and change the installed systems",
}

var bootStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the installed systems and their status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		r, err := boot.Inspect(boot.LayoutFromConfig(cfg.Boot), time.Now())
		if err != nil {
			return err
		}
		if bootOutput != "" && bootOutput != ctl.FormatTable {
			return ctl.Format(r, bootOutput, cmd.OutOrStdout())
		}
		return writeBootReport(r, cmd.OutOrStdout())
	},
}

func writeBootReport(r boot.Report, w io.Writer) error {
	fmt.Fprintf(w, "current: %s\n", indexString(r.Current))
	fmt.Fprintf(w, "newest:  %s\n", indexString(r.Newest))
	if r.InstalledVersion != "" {
		fmt.Fprintf(w, "installed golden: %s\n", r.InstalledVersion)
	}
	if r.GoldenVersion != "" {
		fmt.Fprintf(w, "golden:  %s\n", r.GoldenVersion)
	}
	fmt.Fprintf(w, "boot count: %d\n\n", r.BootCount)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tINDEX\tSTATUS\tVERSION\n")
	for _, s := range r.Systems {
		version := s.Version
		if version == "" {
			version = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, indexString(s.Index), s.Status, version)
	}
	return tw.Flush()
}

func indexString(i int) string {
	if i < 0 {
		return "none"
	}
	return fmt.Sprint(i)
}

var bootMarkCmd = &cobra.Command{
	Use:       "mark <good|bad>",
	Short:     "Record the status of the current system",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"good", "bad"},
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := boot.MarkCurrent(boot.LayoutFromConfig(cfg.Boot), args[0]); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "current system marked %s\n", args[0])
		return err
	},
}

var bootRevertCmd = &cobra.Command{
	Use:   "revert",
	Short: "Replace a current system that is not good with the previous one",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := newBoot(cfg.Boot, nil, bootLogger(cmd, cfg)).Revert(); err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), "reverted to the previous system")
		return err
	},
}

func init() {
	bootStatusCmd.Flags().StringVarP(&bootOutput, "output", "o", ctl.FormatTable, "output format: table, json or yaml")
	bootCmd.AddCommand(bootStatusCmd, bootMarkCmd, bootRevertCmd)
	rootCmd.AddCommand(bootCmd)
}
