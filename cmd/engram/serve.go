package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/scrypster/engram/internal/backup"
	"github.com/scrypster/engram/internal/engine"
	"github.com/scrypster/engram/internal/server"
)

func newServeCmd(o *rootOptions) *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := o.setup(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				cfg.Server.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			hub := server.NewHub(cfg, logger)
			a, err := openApp(ctx, cfg, logger, engine.WithOnTurnAmended(hub.BroadcastAmended))
			if err != nil {
				return err
			}
			defer a.Close()

			srv := server.New(cfg, a.engine, hub, logger)
			addr, err := srv.Start(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "engram listening on http://%s\n", addr)

			if cfg.Backup.Scheduled() {
				bc := cfg.BackupConfig()
				bc.Logger = logger
				svc, err := backup.NewService(bc)
				if err != nil {
					return err
				}
				go svc.Run(ctx)
			}

			<-ctx.Done()
			<-srv.Done()
			logger.Info("shut down")
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "bind address (overrides server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}
