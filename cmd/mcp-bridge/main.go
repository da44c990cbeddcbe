// Command mcp-bridge suspends MCP-over-HTTP requests until an external
// decision-maker answers them.
package main

import "github.com/ROCTUP/1c-mcp-toolkit/cmd/mcp-bridge/cmd"

func main() {
	cmd.Execute()
}
