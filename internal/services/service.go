package services

import (
	"context"

	"github.com/braidchat/switchboard/internal/execctx"
	"github.com/braidchat/switchboard/internal/realtime"
)

// Descriptor is the user-facing summary of a sub-service.
type Descriptor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Service is one sub-service of the gateway. It is both the handler for
// connection messages addressed to its id and the authority on which
// OAuth scopes a link to it requires.
type Service interface {
	ID() string
	Descriptor() Descriptor
	OAuthScopes() []string

	HandleMessage(ec *execctx.Context, msg *realtime.ServiceMessage) error
	HandleConnectionClosed(ec *execctx.Context)
}

// Deliverer sends an envelope on behalf of a unit of work: to every open
// connection of the bound user when multicast, to the context's bound
// connection otherwise. Satisfied by the realtime registry.
type Deliverer interface {
	Deliver(ctx context.Context, ec *execctx.Context, env realtime.Envelope, multicast bool) (int, error)
}
