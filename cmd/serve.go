package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"contactrecon/internal/handlers"
	"contactrecon/internal/metrics"
	"contactrecon/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve [--port port]",
	Short: "Run the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := setup(ctx, cmd)
		if err != nil {
			return err
		}
		defer e.close()

		m := metrics.New()
		svc := service.NewReconciliationService(e.store, e.logger, m)

		srv := &http.Server{
			Addr:         e.cfg.Server.Addr(),
			Handler:      handlers.NewRouter(svc, e.store, e.logger, m),
			ReadTimeout:  e.cfg.Server.ReadTimeout,
			WriteTimeout: e.cfg.Server.WriteTimeout,
		}

		errCh := make(chan error, 1)
		go func() {
			e.logger.Info("server starting", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			if err != nil {
				e.logger.Error("server failed", zap.Error(err))
				return err
			}
			return nil
		case <-ctx.Done():
		}

		e.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), e.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			e.logger.Error("graceful shutdown failed", zap.Error(err))
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "listen port (env PORT)")
	rootCmd.AddCommand(serveCmd)
}
