// Package main is the entry point for the OAuth exchange relay.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlossalguero/oauthrelay/services/relay/internal/config"
	"github.com/carlossalguero/oauthrelay/services/relay/internal/oauth"
	"github.com/carlossalguero/oauthrelay/services/relay/internal/server"
	"github.com/carlossalguero/oauthrelay/services/relay/internal/service"
	"github.com/carlossalguero/oauthrelay/services/shared/events"
	"github.com/carlossalguero/oauthrelay/services/shared/health"
	"github.com/carlossalguero/oauthrelay/services/shared/logger"
	"github.com/carlossalguero/oauthrelay/services/shared/metrics"
	relaytls "github.com/carlossalguero/oauthrelay/services/shared/tls"
	"github.com/carlossalguero/oauthrelay/services/shared/tracing"
)

const serviceName = "oauthrelay"

func main() {
	cfg, err := config.Load(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: serviceName,
		Environment: cfg.Environment,
	})
	log := logger.Default()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	log.Info("starting oauth relay",
		"port", cfg.Server.Port,
		"allowed_origin", cfg.CORS.AllowedOrigin,
		"tls_enabled", cfg.TLS.Enabled,
	)

	var tracingCleanup func(context.Context) error
	if cfg.Tracing.Enabled {
		tracingCleanup, err = tracing.InitGlobal(tracing.Config{
			ServiceName:    serviceName,
			ServiceVersion: version(),
			Environment:    cfg.Environment,
			Endpoint:       cfg.Tracing.Endpoint,
			SampleRate:     cfg.Tracing.SampleRate,
			Insecure:       cfg.Tracing.Insecure,
			Enabled:        true,
		})
		if err != nil {
			log.Error("failed to initialize tracing", "error", err)
		} else {
			log.Info("tracing initialized", "endpoint", cfg.Tracing.Endpoint)
		}
	}

	var metricsInstance *metrics.Metrics
	if cfg.Metrics.Enabled {
		metricsInstance = metrics.New(metrics.Config{
			ServiceName: "relay",
			Namespace:   serviceName,
		})
	}

	transport, err := upstreamTransport(cfg)
	if err != nil {
		log.Error("failed to configure upstream TLS", "error", err)
		os.Exit(1)
	}

	providerOpts := []oauth.Option{oauth.WithLogger(log)}
	if metricsInstance != nil {
		providerOpts = append(providerOpts, oauth.WithRecorder(metricsInstance))
	}
	provider := oauth.NewGitHubProvider(oauth.GitHubConfig{
		ClientID:     cfg.OAuth.ClientID,
		ClientSecret: cfg.OAuth.ClientSecret,
		RedirectURL:  cfg.OAuth.RedirectURI,
		AuthURL:      cfg.OAuth.AuthURL,
		TokenURL:     cfg.OAuth.TokenURL,
		APIBaseURL:   cfg.OAuth.APIBaseURL,
		Timeout:      cfg.OAuth.Timeout,
		Transport:    transport,
	}, providerOpts...)

	// NATS is optional; the relay works without it.
	var eventsClient *events.Client
	if cfg.NATS.URL != "" {
		eventsClient, err = events.New(events.Config{
			URL:           cfg.NATS.URL,
			Name:          cfg.NATS.Name,
			MaxReconnects: cfg.NATS.MaxReconnects,
			ReconnectWait: cfg.NATS.ReconnectWait,
		})
		if err != nil {
			log.Warn("failed to connect to NATS, continuing without events", "error", err)
			eventsClient = nil
		} else {
			log.Info("connected to NATS", "url", cfg.NATS.URL)
		}
	}

	svcCfg := service.Config{Provider: provider, Logger: log}
	if eventsClient != nil {
		svcCfg.Events = eventsClient
	}
	if metricsInstance != nil {
		svcCfg.Metrics = metricsInstance
	}
	relayService := service.New(svcCfg)

	healthChecker := health.NewChecker(
		health.WithVersion(version()),
		health.WithMessage("relay is running"),
		health.WithTimeout(5*time.Second),
	)
	if eventsClient != nil {
		healthChecker.Register("nats", health.ConnectedCheck("nats", eventsClient.IsConnected))
	}

	httpServer := &http.Server{
		Addr: cfg.Address(),
		Handler: server.NewRouter(server.Config{
			Exchanger:     relayService,
			Health:        healthChecker,
			Metrics:       metricsInstance,
			AllowedOrigin: cfg.CORS.AllowedOrigin,
			Logger:        log,
		}),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	if cfg.TLS.Enabled {
		httpServer.TLSConfig, err = relaytls.ServerTLSConfig(&relaytls.Config{
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
		})
		if err != nil {
			log.Error("failed to configure TLS", "error", err)
			os.Exit(1)
		}
	}

	go func() {
		log.Info("starting HTTP server", "address", httpServer.Addr)
		var err error
		if httpServer.TLSConfig != nil {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}

	if eventsClient != nil {
		if err := eventsClient.Close(); err != nil {
			log.Error("NATS client close error", "error", err)
		}
	}

	if tracingCleanup != nil {
		if err := tracingCleanup(shutdownCtx); err != nil {
			log.Error("tracing shutdown error", "error", err)
		}
	}

	log.Info("server stopped")
}

// upstreamTransport builds the transport for provider calls. Certificates
// are always verified.
func upstreamTransport(cfg *config.Config) (http.RoundTripper, error) {
	tlsConfig, err := relaytls.ClientTLSConfig(&relaytls.Config{CAFile: cfg.OAuth.CAFile})
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	return transport, nil
}

func version() string {
	if v := os.Getenv("VERSION"); v != "" {
		return v
	}
	return "dev"
}
