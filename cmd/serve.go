package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/braidchat/switchboard/internal/instrumentation"
	"github.com/braidchat/switchboard/internal/linking"
	"github.com/braidchat/switchboard/internal/realtime"
	"github.com/braidchat/switchboard/internal/server"
	"github.com/braidchat/switchboard/internal/services"
	"github.com/braidchat/switchboard/internal/store"
)

// serveOptions holds the serve command's resolved configuration.
type serveOptions struct {
	debug              bool
	httpAddr           string
	baseURL            string
	basePath           string
	googleClientID     string
	googleClientSecret string
	livenessPeriod     time.Duration
	metricsEnabled     bool
	metricsAddr        string
	seedUsers          []string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		Long: `Start the switchboard gateway: the HTTP surface (account linking,
profile queries, signout), the websocket endpoint for real-time
delivery, and an optional metrics listener on a dedicated port.

Google OAuth credentials are required for account linking:
  --google-client-id and --google-client-secret flags
  OR GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars

The public base URL (--base-url or BRAID_BASE_URL) determines the OAuth
redirect URL and the base path dynamic routes are mounted under.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runServe(opts)
		},
	}

	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", server.DefaultHTTPAddr, "Gateway listen address")
	cmd.Flags().StringVar(&opts.baseURL, "base-url", "", "Public base URL the gateway is deployed under. Can also use BRAID_BASE_URL env var. Example: https://braid.example/gateway")
	cmd.Flags().StringVar(&opts.basePath, "base-path", "", "Base path for dynamic routes. Defaults to the path of --base-url.")
	cmd.Flags().StringVar(&opts.googleClientID, "google-client-id", "", "Google OAuth client ID. Can also use GOOGLE_CLIENT_ID env var.")
	cmd.Flags().StringVar(&opts.googleClientSecret, "google-client-secret", "", "Google OAuth client secret. Can also use GOOGLE_CLIENT_SECRET env var.")
	cmd.Flags().DurationVar(&opts.livenessPeriod, "liveness-period", 30*time.Second, "Connection liveness probe period. Zero disables probing.")
	cmd.Flags().BoolVar(&opts.metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")
	cmd.Flags().StringSliceVar(&opts.seedUsers, "seed-users", nil, "User ids to create in the in-memory user store at startup (development only)")

	return cmd
}

func runServe(opts serveOptions) error {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Environment fallbacks for values not set via flags.
	if opts.googleClientID == "" {
		opts.googleClientID = os.Getenv("GOOGLE_CLIENT_ID")
	}
	if opts.googleClientSecret == "" {
		opts.googleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	}
	if opts.baseURL == "" {
		opts.baseURL = os.Getenv("BRAID_BASE_URL")
	}
	if !opts.metricsEnabled && os.Getenv("METRICS_ENABLED") == "true" {
		opts.metricsEnabled = true
	}
	if opts.metricsAddr == "" || opts.metricsAddr == server.DefaultMetricsAddr {
		if addr := os.Getenv("METRICS_ADDR"); addr != "" {
			opts.metricsAddr = addr
		}
	}

	level := slog.LevelInfo
	if opts.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if opts.basePath == "" {
		basePath, err := basePathFromURL(opts.baseURL)
		if err != nil {
			return err
		}
		opts.basePath = basePath
	}
	redirectURL, err := oauthRedirectURL(opts.baseURL, opts.httpAddr)
	if err != nil {
		return err
	}

	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("creating instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error("instrumentation shutdown failed", "error", err)
		}
	}()

	if opts.metricsEnabled && provider.Enabled() && provider.HasPrometheusExporter() {
		metricsServer, err := server.NewMetricsServer(opts.metricsAddr, provider)
		if err != nil {
			return fmt.Errorf("creating metrics server: %w", err)
		}

		metricsReady := make(chan struct{})
		metricsErr := make(chan error, 1)
		go func() {
			if err := metricsServer.StartWithReadySignal(metricsReady); err != nil && err != http.ErrServerClosed {
				metricsErr <- err
			}
			close(metricsErr)
		}()
		select {
		case <-metricsReady:
			logger.Info("metrics server started", "addr", metricsServer.Addr())
		case err := <-metricsErr:
			return fmt.Errorf("metrics server failed to start: %w", err)
		case <-time.After(5 * time.Second):
			return fmt.Errorf("metrics server startup timed out")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}()
	}

	mem := store.NewMemory()
	for _, id := range opts.seedUsers {
		if err := mem.CreateUser(ctx, &store.User{ID: id}); err != nil {
			return fmt.Errorf("seeding user %q: %w", id, err)
		}
	}

	metrics := provider.Metrics()
	connRegistry := realtime.NewRegistry(logger, metrics)

	mail := services.NewMail(mem, services.GoogleThreadSearcher{}, connRegistry, logger)
	driveSvc := services.NewDrive(mem, services.GoogleFileSearcher{}, connRegistry, logger)
	svcRegistry, err := services.NewRegistry(mail, driveSvc)
	if err != nil {
		return fmt.Errorf("building service registry: %w", err)
	}

	googleProvider := linking.NewGoogleProvider(linking.GoogleConfig{
		ClientID:     opts.googleClientID,
		ClientSecret: opts.googleClientSecret,
		RedirectURL:  redirectURL,
	})
	flow := linking.NewFlow(googleProvider, svcRegistry, mem, logger, metrics)

	baseConfig := map[string]string{
		"base_url":  opts.baseURL,
		"base_path": opts.basePath,
	}
	router := realtime.NewRouter(realtime.RouterConfig{
		Registry:       connRegistry,
		Authenticator:  server.NewStoreAuthenticator(mem),
		Services:       svcRegistry,
		BaseConfig:     baseConfig,
		LivenessPeriod: opts.livenessPeriod,
		Logger:         logger,
		Metrics:        metrics,
	})

	gateway := server.New(server.Config{
		HTTPAddr:   opts.httpAddr,
		BasePath:   opts.basePath,
		BaseConfig: baseConfig,
		Logger:     logger,
		Metrics:    metrics,
	}, server.Dependencies{
		Flow:     flow,
		Users:    mem,
		Registry: connRegistry,
		Router:   router,
		Services: svcRegistry,
	})

	if err := gateway.Run(ctx); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// basePathFromURL extracts the path component of the public base URL.
func basePathFromURL(baseURL string) (string, error) {
	if baseURL == "" {
		return "", nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	return u.Path, nil
}

// oauthRedirectURL builds the provider redirect URL under the public base
// URL, falling back to localhost for development.
func oauthRedirectURL(baseURL, httpAddr string) (string, error) {
	if baseURL == "" {
		baseURL = "http://localhost" + httpAddr
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}
	u.Path = path.Join(u.Path, "google/auth-cb")
	return u.String(), nil
}
