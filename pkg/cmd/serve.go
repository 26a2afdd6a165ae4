// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package cmd

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-core-stack/l8-tunnel-proxy/pkg/auth"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/config"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/controlplane"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/engine"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/ingress"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/interceptor"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/metrics"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/ntorcrypto"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/session"
	"github.com/go-core-stack/l8-tunnel-proxy/pkg/transport"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tunnel proxy's control-plane HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// runServe loads configuration, wires every component together, and
// blocks until a termination signal triggers a graceful shutdown.
func runServe(ctx context.Context) error {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := log.Logger.Level(level)
	if cfg.DevMode {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	t := transport.NewHTTPTransport(transport.HTTPOptions{
		RequestTimeout:      cfg.RequestTimeout,
		InsecureSkipVerify:  cfg.InsecureSkipVerify,
		DialTimeout:         30 * time.Second,
		DialKeepAlive:       30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	})

	registry := session.NewRegistry(logger)
	registry.SetMetrics(m)

	eng := engine.New(t, logger)
	eng.SetMetrics(m)

	client := interceptor.NewClient(registry, eng, t, ntorcrypto.NewClient, cfg.ForwardProxyURL, logger)

	providers := make([]session.Provider, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers = append(providers, session.Provider{URL: p})
	}
	client.InitEncryptedTunnels(ctx, providers)

	signer := auth.NewSigner(cfg.APIKeyID, cfg.APISecret)
	handler := controlplane.NewServer(client, registry, signer, cfg.ForwardProxyURL, reg, logger)

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      handler,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	go func() {
		logger.Info().Str("listen_addr", cfg.ListenAddr).Msg("starting tunnel proxy control plane")
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("control-plane server exited unexpectedly")
		}
	}()

	var ingressServer *http.Server
	if cfg.IngressAddr != "" && cfg.IngressBackend != "" {
		backend, err := url.Parse(cfg.IngressBackend)
		if err != nil {
			return err
		}
		ingressServer = &http.Server{
			Addr:         cfg.IngressAddr,
			Handler:      ingress.New(client, backend, logger),
			ReadTimeout:  cfg.ServerReadTimeout,
			WriteTimeout: cfg.ServerWriteTimeout,
			IdleTimeout:  cfg.ServerIdleTimeout,
		}
		go func() {
			logger.Info().Str("listen_addr", cfg.IngressAddr).Str("backend", cfg.IngressBackend).Msg("starting tunnel ingress listener")
			if err := ingressServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Fatal().Err(err).Msg("ingress server exited unexpectedly")
			}
		}()
	}

	waitForShutdown(context.Background(), server, ingressServer, cfg.GracefulShutdown, logger)
	return nil
}

func waitForShutdown(ctx context.Context, srv, ingressSrv *http.Server, timeout time.Duration, logger zerolog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop

	logger.Info().Msg("shutting down tunnel proxy control plane")

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shutdownOne := func(name string, s *http.Server) {
		if s == nil {
			return
		}
		if err := s.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("server", name).Msg("graceful shutdown failed; forcing close")
			if closeErr := s.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Str("server", name).Msg("forced close failed")
			}
		}
	}

	shutdownOne("control-plane", srv)
	shutdownOne("ingress", ingressSrv)

	logger.Info().Msg("control plane stopped")
}
