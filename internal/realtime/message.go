package realtime

import (
	"encoding/json"
	"fmt"
)

// Reserved liveness control frames. These literals are consumed by the
// connection layer and never forwarded to the router.
const (
	PingFrame = "__ping__"
	PongFrame = "__pong__"
)

// Message type discriminants used on the wire.
const (
	TypeOpen        = "open"
	TypeOpenSuccess = "open-success"
	TypeOpenFailed  = "open-failed"
	TypeCard        = "card"
)

// Envelope is the wire shape of a connection message. Exactly one routing
// discriminant applies per message: the type for handshake messages, the
// serviceId/accountId pair for service messages, anything else is an
// application-level message.
type Envelope struct {
	Type      string                 `json:"type"`
	ServiceID string                 `json:"serviceId,omitempty"`
	AccountID string                 `json:"accountId,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Inbound is the decoded form of an inbound message, a tagged union with
// one variant per routing case.
type Inbound interface {
	inbound()
}

// Open is the connection handshake. UserID may be empty when the peer sent
// an open without a user identifier; authentication then fails.
type Open struct {
	UserID string
}

// ServiceMessage targets the sub-service handler whose id matches
// ServiceID, in the context of a specific linked account.
type ServiceMessage struct {
	ServiceID string
	AccountID string
	Envelope  Envelope
}

// AppMessage is any well-formed message that is neither a handshake nor a
// service message; it is forwarded to general application handling.
type AppMessage struct {
	Envelope Envelope
}

func (*Open) inbound()           {}
func (*ServiceMessage) inbound() {}
func (*AppMessage) inbound()     {}

// DecodeInbound parses a wire payload into its routing variant. A payload
// that is not valid JSON or lacks a type is malformed.
func DecodeInbound(payload []byte) (Inbound, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("unparseable message: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("message has no type")
	}

	if env.Type == TypeOpen {
		userID, _ := env.Details["userId"].(string)
		return &Open{UserID: userID}, nil
	}

	if env.ServiceID != "" && env.AccountID != "" {
		return &ServiceMessage{
			ServiceID: env.ServiceID,
			AccountID: env.AccountID,
			Envelope:  env,
		}, nil
	}

	return &AppMessage{Envelope: env}, nil
}

// OpenSuccess builds the handshake acknowledgement.
func OpenSuccess() Envelope {
	return Envelope{Type: TypeOpenSuccess}
}

// OpenFailed builds the handshake rejection with a reason.
func OpenFailed(reason string) Envelope {
	return Envelope{
		Type:    TypeOpenFailed,
		Details: map[string]interface{}{"reason": reason},
	}
}
