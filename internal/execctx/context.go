package execctx

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/braidchat/switchboard/internal/logging"
)

// Kind identifies the unit of work a Context belongs to.
type Kind string

const (
	// KindHTTP is a context created for an inbound HTTP request.
	KindHTTP Kind = "http"

	// KindConnection is a context created for a single message on a
	// duplex connection.
	KindConnection Kind = "connection"
)

// Conn is the duplex connection a Context can be bound to. The registry's
// delivery path writes serialized messages through it.
type Conn interface {
	// WriteText writes one text payload to the peer.
	WriteText(payload []byte) error
}

// Context is the state container for one unit of work. It is created by
// the dispatcher or the message router, mutated only by the handler that
// owns it, and finalized exactly once.
type Context struct {
	id      string
	kind    Kind
	created time.Time
	config  map[string]string
	logger  *slog.Logger

	mu       sync.Mutex
	userID   string
	conn     Conn
	err      error
	finished bool
	handled  bool
}

// New creates a Context for one unit of work. The config map is the
// server's base configuration snapshot; it is read, never written.
// A nil logger falls back to slog.Default().
func New(kind Kind, config map[string]string, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		id:      uuid.NewString(),
		kind:    kind,
		created: time.Now(),
		config:  config,
		logger:  logger,
	}
}

// ID returns the correlation id for this unit of work.
func (c *Context) ID() string {
	return c.id
}

// Kind returns the kind of unit of work this context belongs to.
func (c *Context) Kind() Kind {
	return c.kind
}

// Get looks up a key in the inherited configuration snapshot. Lookups are
// lazy: nothing is resolved until a handler actually asks for a value.
func (c *Context) Get(key string) string {
	return c.config[key]
}

// BindUser records the authenticated user for this unit of work.
func (c *Context) BindUser(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userID = userID
}

// UserID returns the authenticated user id, or the empty string when no
// user has been bound.
func (c *Context) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// BindConn records the duplex connection this unit of work arrived on.
func (c *Context) BindConn(conn Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

// Conn returns the bound connection, or nil when the context has none.
func (c *Context) Conn() Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Fail accumulates an error on the context without finalizing it. Multiple
// failures are joined.
func (c *Context) Fail(err error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = errors.Join(c.err, err)
}

// Finish finalizes the context. It is idempotent: the first call reports
// any error (the argument joined with anything recorded via Fail) and
// subsequent calls are no-ops that return the original outcome.
//
// The return value reports whether an error was present and has been
// handled, meaning the caller does not need to surface it again.
func (c *Context) Finish(err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.finished {
		return c.handled
	}
	c.finished = true
	c.err = errors.Join(c.err, err)

	if c.err != nil {
		c.logger.Error("unit of work failed",
			logging.ContextID(c.id),
			slog.String(logging.KeyKind, string(c.kind)),
			logging.UserHash(c.userID),
			slog.Duration(logging.KeyDuration, time.Since(c.created)),
			logging.Err(c.err),
		)
		c.handled = true
		return true
	}

	c.logger.Debug("unit of work finished",
		logging.ContextID(c.id),
		slog.String(logging.KeyKind, string(c.kind)),
		slog.Duration(logging.KeyDuration, time.Since(c.created)),
	)
	return false
}

// Err returns the accumulated error, if any. Primarily useful in tests.
func (c *Context) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Finished reports whether Finish has been called.
func (c *Context) Finished() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finished
}
