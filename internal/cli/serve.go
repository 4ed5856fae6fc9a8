package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-sweep/internal/server"
)

// shutdownTimeout bounds graceful shutdown, including running sweeps.
const shutdownTimeout = 2 * time.Minute

func newServeCommand(configPath func() string) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the experiments HTTP API",
		Example: `  # Listen on the configured port (default 3001)
  sweep serve

  # Override the port
  sweep serve --port 8080`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, configPath(), cmd.ErrOrStderr(), appOptions{needsProvider: true})
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			if port > 0 {
				a.cfg.Server.Port = port
			}

			srv := server.New(a.svc, a.client,
				server.WithLogger(a.logger),
				server.WithCORSOrigin(a.cfg.Server.CORSOrigin),
				server.WithGatherer(a.registry))

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe(a.cfg.Addr()) }()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server failed: %w", err)
			case <-ctx.Done():
			}

			a.logger.Info("shutting down", "timeout", shutdownTimeout)
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}
