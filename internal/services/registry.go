package services

import (
	"fmt"

	"github.com/braidchat/switchboard/internal/realtime"
)

// Registry holds the configured sub-services keyed by wire id.
type Registry struct {
	order    []string
	services map[string]Service
}

// NewRegistry validates that every service carries a distinct, non-empty
// id and returns the registry. A duplicate id is a configuration mistake,
// not a runtime condition.
func NewRegistry(svcs ...Service) (*Registry, error) {
	r := &Registry{services: make(map[string]Service, len(svcs))}
	for _, svc := range svcs {
		id := svc.ID()
		if id == "" {
			return nil, fmt.Errorf("service with empty id")
		}
		if _, exists := r.services[id]; exists {
			return nil, fmt.Errorf("duplicate service id %q", id)
		}
		r.services[id] = svc
		r.order = append(r.order, id)
	}
	return r, nil
}

// Lookup resolves a wire service id. It implements the realtime router's
// service resolver.
func (r *Registry) Lookup(serviceID string) (realtime.ServiceHandler, bool) {
	svc, ok := r.services[serviceID]
	if !ok {
		return nil, false
	}
	return svc, true
}

// Handlers returns every service in registration order.
func (r *Registry) Handlers() []realtime.ServiceHandler {
	out := make([]realtime.ServiceHandler, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.services[id])
	}
	return out
}

// Descriptors returns the user-facing summaries in registration order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.services[id].Descriptor())
	}
	return out
}

// ScopesFor resolves the requested service ids to the ids that exist and
// the concatenation of their declared scopes, preserving request order.
// Unknown ids are silently excluded. Deduplication is the caller's
// concern.
func (r *Registry) ScopesFor(serviceIDs []string) (accepted []string, scopes []string) {
	for _, id := range serviceIDs {
		svc, ok := r.services[id]
		if !ok {
			continue
		}
		accepted = append(accepted, id)
		scopes = append(scopes, svc.OAuthScopes()...)
	}
	return accepted, scopes
}
