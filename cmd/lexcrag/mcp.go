package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/sweetpotato0/lexcrag/mcp"
	"github.com/sweetpotato0/lexcrag/pkg/logging"
)

func newMCPCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the search and ask tools over MCP on stdin and stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol.
			logging.UseWriter(os.Stderr)

			cfg, err := root.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := build(ctx, cfg, withTraceWriter(os.Stderr))
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			return mcp.ServeStdio(ctx, a.mcpServer())
		},
	}
}
