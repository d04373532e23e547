package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scrypster/engram/internal/api/mcp"
	"github.com/scrypster/engram/internal/server"
)

func newMCPCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the engine as MCP tools over stdin and stdout",
		Long: "Serve the engine to an MCP client as JSON-RPC 2.0 over stdio. Stdout carries\n" +
			"only protocol frames; logs go to stderr.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, logger, err := o.setup(cmd)
			if err != nil {
				return err
			}
			a, err := openApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewServer(a.engine, mcp.WithLogger(logger), mcp.WithVersion(server.Version))
			err = mcp.NewStdioTransport(srv, cmd.InOrStdin(), cmd.OutOrStdout(), logger).Serve(ctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
