package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"helpconv/internal/app"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Load conversations and serve the websocket and admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := root.load(cmd)
			if err != nil {
				return err
			}
			if addr != "" {
				host, port, err := splitAddr(addr)
				if err != nil {
					return err
				}
				cfg.HTTP.Host, cfg.HTTP.Port = host, port
			}

			// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			application, err := app.NewApplication(ctx, cfg, log)
			if err != nil {
				return fmt.Errorf("failed to create application: %w", err)
			}
			if err := application.Start(ctx); err != nil {
				return err
			}

			<-ctx.Done()
			log.Info().Msg("Received shutdown signal")

			// Timeout context prevents hanging shutdown
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
			defer cancel()
			return application.Stop(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address host:port, overriding configuration")
	return cmd
}

func splitAddr(addr string) (string, int, error) {
	host, portText, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port in %q", addr)
	}
	if host == "" {
		host = "0.0.0.0"
	}
	return host, port, nil
}
