package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/braidchat/switchboard/internal/execctx"
	"github.com/braidchat/switchboard/internal/instrumentation"
	"github.com/braidchat/switchboard/internal/logging"
)

// Message kind labels used on metrics and logs.
const (
	kindOpen      = "open"
	kindService   = "service"
	kindApp       = "app"
	kindMalformed = "malformed"
)

// Authenticator validates the user id presented by an open handshake.
type Authenticator interface {
	Authenticate(ctx context.Context, userID string) error
}

// ServiceHandler is the connection-facing side of a sub-service. Handlers
// receive service-addressed messages and close notifications for
// authenticated sessions.
type ServiceHandler interface {
	HandleMessage(ec *execctx.Context, msg *ServiceMessage) error
	HandleConnectionClosed(ec *execctx.Context)
}

// ServiceResolver maps a wire service id to its handler.
type ServiceResolver interface {
	Lookup(serviceID string) (ServiceHandler, bool)
	Handlers() []ServiceHandler
}

// AppHandler receives messages that are neither handshakes nor
// service-addressed.
type AppHandler func(ec *execctx.Context, msg *AppMessage) error

// RouterConfig carries the router's collaborators.
type RouterConfig struct {
	Registry       *Registry
	Authenticator  Authenticator
	Services       ServiceResolver
	OnApp          AppHandler
	BaseConfig     map[string]string
	LivenessPeriod time.Duration
	Logger         *slog.Logger
	Metrics        *instrumentation.Metrics
}

// Router owns the read loop of every accepted connection: liveness frame
// filtering, handshake gating, and per-message dispatch. Each inbound
// message runs under its own execution context.
type Router struct {
	registry *Registry
	auth     Authenticator
	services ServiceResolver
	onApp    AppHandler
	config   map[string]string
	period   time.Duration
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
}

func NewRouter(cfg RouterConfig) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		registry: cfg.Registry,
		auth:     cfg.Authenticator,
		services: cfg.Services,
		onApp:    cfg.OnApp,
		config:   cfg.BaseConfig,
		period:   cfg.LivenessPeriod,
		logger:   logger,
		metrics:  cfg.Metrics,
	}
}

// Serve runs the read loop for one accepted connection until the peer
// disconnects, the liveness monitor closes the connection, or ctx is
// cancelled. It blocks, and always leaves the registry clean.
func (r *Router) Serve(ctx context.Context, conn Conn) {
	s := NewSession(conn, r.period, r.logger, r.metrics)
	s.Start()
	defer r.closeSession(s)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	for {
		messageType, payload, err := conn.ReadMessage()
		if err != nil {
			r.logger.Debug("connection read loop ended",
				logging.UserHash(s.UserID()),
				logging.Err(err),
			)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		switch string(payload) {
		case PongFrame:
			s.Touch()
		case PingFrame:
			if err := s.WriteText([]byte(PongFrame)); err != nil {
				return
			}
		default:
			r.handleInbound(ctx, s, payload)
		}
	}
}

// handleInbound processes one non-liveness payload under a fresh
// execution context. Handler failures never tear down the connection.
func (r *Router) handleInbound(ctx context.Context, s *Session, payload []byte) {
	ec := execctx.New(execctx.KindConnection, r.config, r.logger)
	ec.BindConn(s)
	if userID := s.UserID(); userID != "" {
		ec.BindUser(userID)
	}

	msg, err := DecodeInbound(payload)
	if err != nil {
		r.record(ctx, kindMalformed, instrumentation.StatusDropped)
		ec.Finish(err)
		return
	}

	open, isOpen := msg.(*Open)
	if isOpen {
		r.record(ctx, kindOpen, instrumentation.StatusSuccess)
		ec.Finish(r.handleOpen(ctx, ec, s, open))
		return
	}

	// All other traffic is gated behind a successful open handshake.
	if s.UserID() == "" {
		r.logger.Warn("dropping message on unauthenticated connection",
			logging.ContextID(ec.ID()),
		)
		r.record(ctx, kindForMessage(msg), instrumentation.StatusDropped)
		ec.Finish(nil)
		return
	}

	switch m := msg.(type) {
	case *ServiceMessage:
		handler, ok := r.services.Lookup(m.ServiceID)
		if !ok {
			r.logger.Warn("dropping message for unknown service",
				logging.ContextID(ec.ID()),
				logging.Service(m.ServiceID),
			)
			r.record(ctx, kindService, instrumentation.StatusDropped)
			ec.Finish(nil)
			return
		}
		err := handler.HandleMessage(ec, m)
		r.record(ctx, kindService, statusFor(err))
		ec.Finish(err)
	case *AppMessage:
		if r.onApp == nil {
			r.logger.Debug("no handler for application message",
				logging.ContextID(ec.ID()),
				logging.MsgType(m.Envelope.Type),
			)
			r.record(ctx, kindApp, instrumentation.StatusDropped)
			ec.Finish(nil)
			return
		}
		err := r.onApp(ec, m)
		r.record(ctx, kindApp, statusFor(err))
		ec.Finish(err)
	}
}

// handleOpen authenticates the presented user id and registers the
// session. A repeated open on an already-bound session acknowledges
// without registering again, so a connection is never delivered to twice.
// A repeated open presenting a different user id is rejected; the session
// stays bound to its original user.
func (r *Router) handleOpen(ctx context.Context, ec *execctx.Context, s *Session, open *Open) error {
	if bound := s.UserID(); bound != "" {
		if open.UserID != "" && open.UserID != bound {
			r.logger.Warn("open handshake for a different user on a bound connection",
				logging.ContextID(ec.ID()),
				logging.UserHash(bound),
			)
			return r.writeEnvelope(s, OpenFailed("connection already bound"))
		}
		return r.writeEnvelope(s, OpenSuccess())
	}

	if open.UserID == "" {
		r.logger.Warn("open handshake without user id", logging.ContextID(ec.ID()))
		return r.writeEnvelope(s, OpenFailed("missing user id"))
	}

	if err := r.auth.Authenticate(ctx, open.UserID); err != nil {
		r.logger.Warn("open handshake rejected",
			logging.ContextID(ec.ID()),
			logging.UserHash(open.UserID),
			logging.Err(err),
		)
		if werr := r.writeEnvelope(s, OpenFailed("authentication failed")); werr != nil {
			return werr
		}
		return nil
	}

	s.BindUser(open.UserID)
	ec.BindUser(open.UserID)
	r.registry.Register(open.UserID, s)
	r.logger.Info("connection opened",
		logging.ContextID(ec.ID()),
		logging.UserHash(open.UserID),
	)
	return r.writeEnvelope(s, OpenSuccess())
}

// closeSession is the single teardown path for a connection: it stops the
// liveness loop, drops the session from the registry, and tells every
// service the connection is gone.
func (r *Router) closeSession(s *Session) {
	s.Close()

	userID := s.UserID()
	if userID == "" {
		return
	}
	r.registry.Unregister(userID, s)

	ec := execctx.New(execctx.KindConnection, r.config, r.logger)
	ec.BindUser(userID)
	for _, handler := range r.services.Handlers() {
		handler.HandleConnectionClosed(ec)
	}
	ec.Finish(nil)
}

func (r *Router) writeEnvelope(s *Session, env Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return s.WriteText(payload)
}

func (r *Router) record(ctx context.Context, kind, result string) {
	if r.metrics != nil {
		r.metrics.RecordMessage(ctx, kind, result)
	}
}

func kindForMessage(msg Inbound) string {
	switch msg.(type) {
	case *ServiceMessage:
		return kindService
	case *AppMessage:
		return kindApp
	default:
		return kindOpen
	}
}

func statusFor(err error) string {
	if err != nil {
		return instrumentation.StatusError
	}
	return instrumentation.StatusSuccess
}
