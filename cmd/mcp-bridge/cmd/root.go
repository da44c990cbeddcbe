// Package cmd provides the CLI commands for mcp-bridge.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ROCTUP/1c-mcp-toolkit/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mcp-bridge",
	Short: "mcp-bridge - HTTP bridge for MCP clients",
	Long: `mcp-bridge accepts MCP-over-HTTP requests, suspends each one and hands it
to an external decision-maker, which answers with a plain response or an
event stream through the control plane.

Quick start:
  1. Run: mcp-bridge start
  2. Point the decision-maker at the control plane (127.0.0.1:6004):
     long-poll GET /events, answer with JSON-RPC on POST /rpc.

Configuration:
  Config is loaded from mcp-bridge.yaml in the current directory,
  $HOME/.mcp-bridge/, or /etc/mcp-bridge/.

  Environment variables can override config values with the MCP_BRIDGE_ prefix.
  Example: MCP_BRIDGE_BRIDGE_MAX_CONCURRENT=20

Commands:
  start       Start the bridge
  stop        Stop the running bridge
  status      Show runtime status of the running bridge
  config      Print the effective configuration
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./mcp-bridge.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
