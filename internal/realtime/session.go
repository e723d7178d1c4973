package realtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/braidchat/switchboard/internal/instrumentation"
	"github.com/braidchat/switchboard/internal/logging"
)

// disabledLivenessPeriod substitutes a configured period of zero, which
// means liveness probing is effectively disabled.
const disabledLivenessPeriod = 24 * time.Hour * 365 * 100

// Conn is the subset of a websocket connection a session needs. It is
// satisfied by *websocket.Conn.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session is one accepted duplex connection. It owns the connection's
// liveness loop and, once the open handshake has succeeded, carries the
// owning user id.
type Session struct {
	conn    Conn
	period  time.Duration
	logger  *slog.Logger
	metrics *instrumentation.Metrics

	// writeMu serializes writes; websocket connections allow only one
	// concurrent writer.
	writeMu sync.Mutex

	mu        sync.Mutex
	userID    string
	lastReply time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// NewSession wraps an accepted connection. period is the liveness period;
// zero disables probing by substituting a very large period.
func NewSession(conn Conn, period time.Duration, logger *slog.Logger, metrics *instrumentation.Metrics) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if period <= 0 {
		period = disabledLivenessPeriod
	}
	return &Session{
		conn:      conn,
		period:    period,
		logger:    logger,
		metrics:   metrics,
		lastReply: time.Now(),
		done:      make(chan struct{}),
	}
}

// Start launches the liveness loop.
func (s *Session) Start() {
	go s.monitor()
}

// Stop terminates the liveness loop. Safe to call more than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

// Close stops the liveness loop and closes the underlying connection.
func (s *Session) Close() {
	s.Stop()
	_ = s.conn.Close()
}

// WriteText writes one text frame to the peer. It implements the bound
// connection interface of the execution context.
func (s *Session) WriteText(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

// Touch records a liveness reply from the peer.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastReply = time.Now()
}

// BindUser records the authenticated owner of this session.
func (s *Session) BindUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
}

// UserID returns the owning user, or the empty string before a successful
// open handshake.
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *Session) sinceLastReply() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastReply)
}

// monitor alternates between checking the elapsed time since the last
// liveness reply and sending a probe. The first deadline is seeded at half
// a period so a freshly opened connection is not closed before it has had
// a chance to respond once.
func (s *Session) monitor() {
	timer := time.NewTimer(s.period / 2)
	defer timer.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-timer.C:
			if s.sinceLastReply() > s.period {
				s.logger.Warn("closing unresponsive connection",
					logging.UserHash(s.UserID()),
					slog.Duration("liveness_period", s.period),
				)
				if s.metrics != nil {
					s.metrics.RecordLivenessTimeout(context.Background())
				}
				// Closing the connection unblocks the read loop,
				// which performs registry cleanup.
				_ = s.conn.Close()
				return
			}
			if err := s.WriteText([]byte(PingFrame)); err != nil {
				s.logger.Debug("liveness probe failed",
					logging.UserHash(s.UserID()),
					logging.Err(err),
				)
			}
			timer.Reset(s.period)
		}
	}
}
