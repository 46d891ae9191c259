package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mhutchinson/wd/internal/mcp"
	"github.com/mhutchinson/wd/internal/tracker"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for assistant integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP-capable assistant launch background agents and query
their sessions through the same data layer the CLI uses. Configure
with:

  {
    "mcpServers": {
      "wd": { "command": "wd", "args": ["mcp"] }
    }
  }

Available tools: wd_launch_agent, wd_list_sessions, wd_phase_status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return mcpRun()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}

func mcpRun() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := getStore()
	if err != nil {
		return err
	}
	sv, err := getSupervisor(ctx)
	if err != nil {
		return err
	}

	srv := mcp.NewServer(s, sv, tracker.NewGitHubClient(), workDirFor)
	if err := srv.ServeStdio(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
