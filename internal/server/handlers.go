package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/braidchat/switchboard/internal/dispatch"
	"github.com/braidchat/switchboard/internal/execctx"
	"github.com/braidchat/switchboard/internal/linking"
	"github.com/braidchat/switchboard/internal/logging"
	"github.com/braidchat/switchboard/internal/store"
)

// registerRoutes binds the gateway's HTTP surface. The linking routes are
// dynamic (mounted under the base path); signout is too, since clients
// reach it the same way.
func (g *Gateway) registerRoutes() {
	g.dispatcher.Register("get", "google/auth", g.handleGoogleAuth, true, false)
	g.dispatcher.Register("get", "google/auth-cb", g.handleGoogleAuthCallback, true, false)
	g.dispatcher.Register("get", "google/profile", g.handleGoogleProfile, true, false)
	g.dispatcher.Register("get", "google/services", g.handleGoogleServices, true, true)
	g.dispatcher.Register("post", "signout", g.handleSignout, true, false)
}

var errAuthRequired = &dispatch.ClientError{
	Status:  http.StatusUnauthorized,
	Message: "authentication required",
}

// handleGoogleAuth starts the linking flow: it builds the provider
// authorization URL for the requested sub-services and redirects the
// browser there.
func (g *Gateway) handleGoogleAuth(c *execctx.Context, r *http.Request) (*dispatch.Result, error) {
	if c.UserID() == "" {
		return nil, errAuthRequired
	}

	callback := r.URL.Query().Get("callback")
	if callback == "" {
		return nil, dispatch.BadRequestf("missing callback parameter")
	}

	authURL, err := g.flow.BeginAuth(r.Context(), &linking.LinkRequest{
		UserID:         c.UserID(),
		Services:       splitServices(r.URL.Query().Get("services")),
		ClientCallback: callback,
	})
	if err != nil {
		if errors.Is(err, linking.ErrValidation) {
			return nil, dispatch.BadRequestf("%v", err)
		}
		return nil, err
	}
	return &dispatch.Result{Redirect: authURL}, nil
}

// handleGoogleAuthCallback terminates the provider round-trip. On success
// the browser is sent back to the client callback with the linked account
// id appended.
func (g *Gateway) handleGoogleAuthCallback(c *execctx.Context, r *http.Request) (*dispatch.Result, error) {
	q := r.URL.Query()
	if perr := q.Get("error"); perr != "" {
		g.logger.Warn("provider declined authorization",
			logging.ContextID(c.ID()),
			logging.Status(perr),
		)
		return nil, dispatch.BadRequestf("authorization declined: %s", perr)
	}

	redirect, err := g.flow.HandleCallback(r.Context(), q.Get("state"), q.Get("code"))
	if err != nil {
		if errors.Is(err, linking.ErrValidation) {
			return nil, dispatch.BadRequestf("%v", err)
		}
		return nil, err
	}
	return &dispatch.Result{Redirect: redirect}, nil
}

// linkedProfile is the wire shape of a profile query. Credentials never
// leave the store.
type linkedProfile struct {
	Provider  string    `json:"provider"`
	AccountID string    `json:"accountId"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	Services  []string  `json:"services"`
	LinkedAt  time.Time `json:"linkedAt"`
}

func (g *Gateway) handleGoogleProfile(c *execctx.Context, r *http.Request) (*dispatch.Result, error) {
	if c.UserID() == "" {
		return nil, errAuthRequired
	}

	account, err := g.flow.ProfileFor(r.Context(), c.UserID())
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, dispatch.NotFoundf("no linked google account")
		}
		return nil, err
	}

	services := account.Services
	if services == nil {
		services = []string{}
	}
	return &dispatch.Result{JSON: linkedProfile{
		Provider:  account.Provider,
		AccountID: account.ExternalID,
		Name:      account.Name,
		Email:     account.Email,
		AvatarURL: account.AvatarURL,
		Services:  services,
		LinkedAt:  account.LinkedAt,
	}}, nil
}

// handleGoogleServices lists the sub-services a link request may ask for.
// The catalogue is fixed at startup, so the response is cacheable.
func (g *Gateway) handleGoogleServices(_ *execctx.Context, _ *http.Request) (*dispatch.Result, error) {
	return &dispatch.Result{JSON: g.services.Descriptors()}, nil
}

// handleSignout synchronously closes every connection of the caller. A
// delivery attempted after this request completes reaches nothing.
func (g *Gateway) handleSignout(c *execctx.Context, _ *http.Request) (*dispatch.Result, error) {
	if c.UserID() == "" {
		return nil, errAuthRequired
	}

	closed := g.registry.CloseUser(c.UserID())
	g.logger.Info("user signed out",
		logging.ContextID(c.ID()),
		logging.UserHash(c.UserID()),
		slog.Int("connections_closed", closed),
	)
	return &dispatch.Result{Status: http.StatusNoContent}, nil
}

// splitServices parses the comma-separated services parameter. An absent
// or empty parameter is an empty, not missing, list.
func splitServices(raw string) []string {
	if raw == "" {
		return []string{}
	}
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
