package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mfgintel/toolproxy/internal/config"
	"github.com/mfgintel/toolproxy/internal/httpapi"
	"github.com/mfgintel/toolproxy/internal/observability"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST gateway",
		Long: `Start the HTTP gateway that forwards tool calls to the configured tool servers.

The listen address comes from --listen, TOOLPROXY_LISTEN or the config file,
in that order. The process shuts down gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().StringP("listen", "l", "", "Listen address (default: "+config.DefaultListen+")")
	mustBind(config.KeyListen, cmd.Flags().Lookup("listen"))
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close()
	logger := a.logger

	if a.boltCache != nil {
		a.obs.Health().AddChecker(observability.NewPingChecker("token_cache", a.boltCache))
	}

	gateway := httpapi.NewServer(a.registry, a.proxy,
		httpapi.WithAPIKey(a.cfg.APIKey),
		httpapi.WithObservability(a.obs),
		httpapi.WithBreaker(a.breaker),
		httpapi.WithTokenInvalidator(a.proxy.Tokens()),
		httpapi.WithLogger(logger.Named("http")),
	)

	ln, err := net.Listen("tcp", a.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Listen, err)
	}

	srv := &http.Server{
		Handler:           gateway,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Starting toolproxy",
		zap.String("version", version),
		zap.String("listen", ln.Addr().String()),
		zap.Int("servers", a.registry.Len()),
		zap.Bool("api_key_required", a.cfg.APIKey != ""))

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error stopping server", zap.Error(err))
		return err
	}
	return nil
}
