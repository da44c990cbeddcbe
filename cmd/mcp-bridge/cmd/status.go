package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ROCTUP/1c-mcp-toolkit/internal/config"
	"github.com/ROCTUP/1c-mcp-toolkit/pkg/controlrpc"
)

var statusAddr string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show runtime status of the running bridge",
	Long: `Query the control plane of a running bridge with bridge/status.

The control address defaults to control.http_addr from the configuration.

Examples:
  mcp-bridge status
  mcp-bridge status --addr 127.0.0.1:6004`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusAddr, "addr", "", "control plane address (default: control.http_addr)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	addr := statusAddr
	if addr == "" {
		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		addr = cfg.Control.HTTPAddr
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := controlrpc.NewClient(addr).Status(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", errNotRunning, err)
	}
	printStatus(cmd.OutOrStdout(), st, time.Now())
	return nil
}

// printStatus renders st for humans; now anchors the start time.
func printStatus(w io.Writer, st controlrpc.StatusResult, now time.Time) {
	listener := "stopped"
	if st.Running {
		listener = fmt.Sprintf("running on port %d", st.Port)
	}

	fmt.Fprintf(w, "%-16s %s\n", "Listener:", listener)
	fmt.Fprintf(w, "%-16s %s (%s)\n", "Started:", humanize.RelTime(now.Add(-st.Uptime()), now, "ago", "from now"), st.Uptime().Round(time.Second))
	fmt.Fprintf(w, "%-16s %s pending, %s streaming\n", "Requests:", humanize.Comma(int64(st.Pending)), humanize.Comma(int64(st.Streaming)))
	fmt.Fprintf(w, "%-16s %s of %s slots\n", "Admission:", humanize.Comma(st.Active), humanize.Comma(int64(st.MaxConcurrent)))
	fmt.Fprintf(w, "%-16s %s\n", "Timeout:", st.RequestTimeout())
	fmt.Fprintf(w, "%-16s %s queued, %s dropped\n", "Notifications:", humanize.Comma(int64(st.Queued)), humanize.Comma(st.Dropped))
}
