package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"transitsync.dev/internal/logging"
)

func newServeCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load static data, start the realtime sync and serve the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgs, err := loadConfigs(cmd, o)
			if err != nil {
				return err
			}

			coreApp, err := BuildApplication(cfgs.app, cfgs.gtfs, cfgs.sync)
			if err != nil {
				return err
			}
			logging.LogOperation(coreApp.Logger, "configuration_loaded",
				slog.String("source", cfgs.source),
				slog.String("env", cfgs.app.Env.String()),
				slog.Bool("realtime", cfgs.sync.Enabled()))

			srv, api := CreateServer(coreApp, cfgs.app)
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				api.Shutdown()
				coreApp.Shutdown()
				return fmt.Errorf("failed to listen on %s: %w", srv.Addr, err)
			}

			ctx, stop := signal.NotifyContext(runContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return Run(ctx, srv, ln, coreApp, api)
		},
	}
}

// runContext is cmd.Context() with a fallback for commands executed without
// ExecuteContext.
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
