package ctl

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/kahiteam/wdog/internal/watchdog"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by Format.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatYAML  = "yaml"
)

// Format writes v in the requested structured format. Table output is
// handled by the caller-specific writers.
func Format(v any, format string, w io.Writer) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// WriteList formats a watchdog listing.
func WriteList(entries []watchdog.Entry, format string, w io.Writer) error {
	if format != "" && format != FormatTable {
		return Format(entries, format, w)
	}
	return formatListTable(entries, w, isTerminal(w))
}

func formatListTable(entries []watchdog.Entry, w io.Writer, color bool) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "PID\tAPP\tPROC\tKIND\tTIMEOUT\tMAX\tSTATE\n")

	for _, e := range entries {
		pid := "-"
		if e.PID > 0 {
			pid = strconv.Itoa(e.PID)
		}
		kind := "plain"
		if e.Mandatory {
			kind = "mandatory"
		}
		state := e.State
		if color {
			state = colorState(e.State)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			pid, dash(e.App), dash(e.Proc), kind,
			FormatMillis(e.KickInterval), FormatMillis(e.MaxKickInterval), state)
	}
	return tw.Flush()
}

// FormatMillis renders a timeout, with -1 shown as "never".
func FormatMillis(ms int64) string {
	if ms < 0 {
		return "never"
	}
	return strconv.FormatInt(ms, 10) + "ms"
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func colorState(state string) string {
	switch state {
	case watchdog.StateAttached:
		return "\033[32m" + state + "\033[0m"
	case watchdog.StateDetached:
		return "\033[33m" + state + "\033[0m"
	default:
		return state
	}
}

func isTerminal(w io.Writer) bool {
	if f, ok := w.(*os.File); ok {
		stat, _ := f.Stat()
		return stat != nil && (stat.Mode()&os.ModeCharDevice) != 0
	}
	return false
}
