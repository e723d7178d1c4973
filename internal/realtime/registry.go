package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/braidchat/switchboard/internal/execctx"
	"github.com/braidchat/switchboard/internal/instrumentation"
	"github.com/braidchat/switchboard/internal/logging"
)

// Registry tracks the open sessions of each user. A user may hold several
// concurrent sessions (one per tab or device); delivery addresses users,
// not sessions.
type Registry struct {
	logger  *slog.Logger
	metrics *instrumentation.Metrics

	mu       sync.RWMutex
	sessions map[string][]*Session
}

func NewRegistry(logger *slog.Logger, metrics *instrumentation.Metrics) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string][]*Session),
	}
}

// Register adds a session under the given user.
func (r *Registry) Register(userID string, s *Session) {
	r.mu.Lock()
	r.sessions[userID] = append(r.sessions[userID], s)
	n := len(r.sessions[userID])
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ConnectionRegistered(context.Background())
	}
	r.logger.Debug("connection registered",
		logging.UserHash(userID),
		slog.Int("user_connections", n),
	)
}

// Unregister removes a single session. Removing a session that is no
// longer tracked is a no-op, so cleanup paths may race with CloseUser.
func (r *Registry) Unregister(userID string, s *Session) {
	r.mu.Lock()
	list, ok := r.sessions[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	removed := false
	for i, candidate := range list {
		if candidate == s {
			list = append(list[:i], list[i+1:]...)
			removed = true
			break
		}
	}
	if len(list) == 0 {
		delete(r.sessions, userID)
	} else {
		r.sessions[userID] = list
	}
	r.mu.Unlock()

	if !removed {
		return
	}
	if r.metrics != nil {
		r.metrics.ConnectionUnregistered(context.Background())
	}
	r.logger.Debug("connection unregistered", logging.UserHash(userID))
}

// SessionsFor returns a snapshot of the user's open sessions.
func (r *Registry) SessionsFor(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.sessions[userID]
	out := make([]*Session, len(list))
	copy(out, list)
	return out
}

// ConnectionCount reports the total number of tracked sessions.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, list := range r.sessions {
		n += len(list)
	}
	return n
}

// CloseUser removes every session of the user from the registry and then
// closes them. The removal happens before the closes complete, so a
// delivery issued immediately after CloseUser returns reaches nothing.
func (r *Registry) CloseUser(userID string) int {
	r.mu.Lock()
	list := r.sessions[userID]
	delete(r.sessions, userID)
	r.mu.Unlock()

	for _, s := range list {
		s.Close()
		if r.metrics != nil {
			r.metrics.ConnectionUnregistered(context.Background())
		}
	}
	if len(list) > 0 {
		r.logger.Info("closed user connections",
			logging.UserHash(userID),
			slog.Int("count", len(list)),
		)
	}
	return len(list)
}

// Deliver serializes the envelope once and writes it on behalf of the
// given unit of work: to every open session of the bound user when
// multicast, to the single connection bound to the context otherwise. It
// reports the number of connections written to. No open session (or, for
// unicast, no bound connection) is not an error; the delivery is simply
// dropped.
func (r *Registry) Deliver(ctx context.Context, ec *execctx.Context, env Envelope, multicast bool) (int, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return 0, fmt.Errorf("encoding envelope: %w", err)
	}

	if !multicast {
		return r.deliverUnicast(ctx, ec, payload)
	}

	userID := ec.UserID()
	targets := r.SessionsFor(userID)
	if len(targets) == 0 {
		if r.metrics != nil {
			r.metrics.RecordDelivery(ctx, instrumentation.DeliveryDropped, 0)
		}
		return 0, nil
	}

	delivered := 0
	for _, s := range targets {
		if err := s.WriteText(payload); err != nil {
			r.logger.Debug("delivery write failed",
				logging.UserHash(userID),
				logging.Err(err),
			)
			continue
		}
		delivered++
	}
	if r.metrics != nil {
		r.metrics.RecordDelivery(ctx, instrumentation.DeliveryMulticast, delivered)
	}
	return delivered, nil
}

// deliverUnicast writes to the context's bound connection only. A unit of
// work without a bound connection (an HTTP request, or a connection that
// has already gone away) drops the delivery.
func (r *Registry) deliverUnicast(ctx context.Context, ec *execctx.Context, payload []byte) (int, error) {
	conn := ec.Conn()
	if conn == nil {
		if r.metrics != nil {
			r.metrics.RecordDelivery(ctx, instrumentation.DeliveryDropped, 0)
		}
		return 0, nil
	}
	if err := conn.WriteText(payload); err != nil {
		r.logger.Debug("delivery write failed",
			logging.UserHash(ec.UserID()),
			logging.Err(err),
		)
		if r.metrics != nil {
			r.metrics.RecordDelivery(ctx, instrumentation.DeliveryUnicast, 0)
		}
		return 0, nil
	}
	if r.metrics != nil {
		r.metrics.RecordDelivery(ctx, instrumentation.DeliveryUnicast, 1)
	}
	return 1, nil
}
