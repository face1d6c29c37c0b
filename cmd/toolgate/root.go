package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "MCP aggregation gateway",
	Long: `Toolgate is an MCP (Model Context Protocol) aggregation gateway.

It connects to many independent MCP tool servers ("backends") over HTTP
or stdio, merges their tools into one prefixed catalog, and exposes the
result as a single MCP endpoint. Backends can be added, removed, enabled,
and disabled at runtime without dropping client sessions.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
