package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/codemyspec/codemyspec/internal/hooks"
)

// NewServeCmd creates the serve command running the hook HTTP server.
func NewServeCmd(flags *globalFlags) *cobra.Command {
	var listenAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hook HTTP server",
		Long: `Run the HTTP server that agents and hook scripts call back into:
session CRUD, event ingestion, and out-of-band result delivery.

Examples:
  codemyspec serve
  codemyspec serve --listen :9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags, listenAddr)
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (overrides config)")
	return cmd
}

func runServe(ctx context.Context, flags *globalFlags, listenAddr string) error {
	app, err := buildApp(flags)
	if err != nil {
		return err
	}
	defer app.cleanup()

	addr := app.cfg.ListenAddr
	if listenAddr != "" {
		addr = listenAddr
	}

	server := hooks.NewServer(addr, app.service, app.runtime, app.logger)

	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("hook server listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		app.logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
		app.logger.Info("shutting down", "reason", "context cancelled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
