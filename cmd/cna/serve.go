package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"cna/internal/platform/httpserver"
	httptransport "cna/internal/transport/http"
)

func newServeCmd(configPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve assessments over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *configPath, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func runServe(ctx context.Context, configPath, addr string) error {
	a, err := loadApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := a.close(closeCtx); err != nil {
			a.logger.Warn("failed to close audit sinks", "error", err)
		}
	}()

	if addr == "" {
		addr = a.cfg.Server.Addr
	}
	requestTimeout, err := a.cfg.RequestTimeout()
	if err != nil {
		return err
	}
	handler := httptransport.New(a.pipeline, a.logger, httptransport.WithExtractor(a.recognizer))
	router := httptransport.NewRouter(handler, a.registry, requestTimeout)
	srv := httpserver.New(addr, router, requestTimeout)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("starting cna server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	a.logger.Info("shutting down cna server")
	return srv.Shutdown(shutdownCtx)
}
