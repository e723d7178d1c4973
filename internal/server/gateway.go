package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/braidchat/switchboard/internal/dispatch"
	"github.com/braidchat/switchboard/internal/execctx"
	"github.com/braidchat/switchboard/internal/instrumentation"
	"github.com/braidchat/switchboard/internal/linking"
	"github.com/braidchat/switchboard/internal/logging"
	"github.com/braidchat/switchboard/internal/realtime"
	"github.com/braidchat/switchboard/internal/services"
	"github.com/braidchat/switchboard/internal/store"
)

const (
	// DefaultHTTPAddr is the default listen address for the gateway.
	DefaultHTTPAddr = ":8000"

	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 30 * time.Second

	// userHeader carries the caller's Braid user id. Terminating real
	// authentication sits in front of the gateway; the header is trusted.
	userHeader = "X-Braid-User"
)

// Config holds the gateway's own settings; collaborators arrive via
// Dependencies.
type Config struct {
	HTTPAddr string

	// BasePath prefixes dynamic routes; resolved from the public base URL
	// the gateway is deployed under.
	BasePath string

	// BaseConfig is the configuration snapshot handed to every execution
	// context.
	BaseConfig map[string]string

	RateLimit dispatch.RateLimiterConfig

	Logger  *slog.Logger
	Metrics *instrumentation.Metrics
}

// ServiceCatalogue lists the configured sub-services. Satisfied by the
// service registry.
type ServiceCatalogue interface {
	Descriptors() []services.Descriptor
}

// Dependencies are the assembled collaborators of the gateway.
type Dependencies struct {
	Flow     *linking.Flow
	Users    store.UserStore
	Registry *realtime.Registry
	Router   *realtime.Router
	Services ServiceCatalogue
}

// Gateway is the assembled server: dispatcher routes, websocket endpoint,
// health probes, and per-IP rate limiting on one listener.
type Gateway struct {
	config     Config
	logger     *slog.Logger
	dispatcher *dispatch.Dispatcher
	limiter    *dispatch.RateLimiter
	health     *HealthChecker
	upgrader   websocket.Upgrader

	flow     *linking.Flow
	users    store.UserStore
	registry *realtime.Registry
	router   *realtime.Router
	services ServiceCatalogue

	// baseCtx governs accepted websocket connections; set by Run.
	baseCtx context.Context
}

func New(cfg Config, deps Dependencies) *Gateway {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.RateLimit.Rate == 0 {
		cfg.RateLimit = dispatch.DefaultRateLimiterConfig()
	}

	g := &Gateway{
		config:   cfg,
		logger:   logger,
		flow:     deps.Flow,
		users:    deps.Users,
		registry: deps.Registry,
		router:   deps.Router,
		services: deps.Services,
		baseCtx:  context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement belongs to the fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	g.health = NewHealthChecker(deps.Registry.ConnectionCount)
	g.limiter = dispatch.NewRateLimiter(cfg.RateLimit)
	g.dispatcher = dispatch.New(dispatch.Config{
		BasePath:   cfg.BasePath,
		BaseConfig: cfg.BaseConfig,
		Hydrate:    g.hydrate,
		Logger:     logger,
		Metrics:    cfg.Metrics,
	})
	g.registerRoutes()
	return g
}

// Handler returns the gateway's root handler: health probes, the
// websocket endpoint, and everything else through the dispatcher, all
// behind the rate limiter.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	g.health.RegisterHealthEndpoints(mux)
	mux.HandleFunc("/ws", g.handleWebsocket)
	mux.Handle("/", g.dispatcher)
	return g.limiter.Middleware(mux)
}

// Run serves until ctx is cancelled, then drains.
func (g *Gateway) Run(ctx context.Context) error {
	g.baseCtx = ctx

	httpServer := &http.Server{
		Addr:              g.config.HTTPAddr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("gateway listening", slog.String("addr", g.config.HTTPAddr))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway listener: %w", err)
	case <-ctx.Done():
	}

	g.health.SetDraining()
	g.logger.Info("shutting down gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err := httpServer.Shutdown(shutdownCtx)
	g.limiter.Stop()
	return err
}

// hydrate binds the caller's user to the execution context when the
// request carries a known user id. Requests without the header stay
// anonymous; handlers that need a user reject them.
func (g *Gateway) hydrate(c *execctx.Context, r *http.Request) error {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		return nil
	}
	if _, err := g.users.FindUser(r.Context(), userID); err != nil {
		return &dispatch.ClientError{
			Status:  http.StatusUnauthorized,
			Message: "unknown user",
		}
	}
	c.BindUser(userID)
	g.logger.Debug("request hydrated",
		logging.ContextID(c.ID()),
		logging.UserHash(userID),
	)
	return nil
}

// handleWebsocket upgrades the request and hands the connection to the
// realtime router; the handler blocks for the life of the connection.
func (g *Gateway) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", logging.Err(err))
		return
	}
	g.router.Serve(g.baseCtx, conn)
}
