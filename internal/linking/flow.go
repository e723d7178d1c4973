package linking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	goauth2 "google.golang.org/api/oauth2/v2"

	"github.com/braidchat/switchboard/internal/instrumentation"
	"github.com/braidchat/switchboard/internal/logging"
	"github.com/braidchat/switchboard/internal/store"
)

// ErrValidation marks a linking failure caused by the client's input
// rather than by the provider or the gateway. Callers map it to a 4xx.
var ErrValidation = errors.New("invalid link request")

// baseScopes are requested on every link regardless of the chosen
// sub-services; the profile fetch depends on them.
var baseScopes = []string{
	goauth2.UserinfoEmailScope,
	goauth2.UserinfoProfileScope,
}

// Profile is the provider's view of the linked account.
type Profile struct {
	ExternalID string
	Email      string
	Name       string
	AvatarURL  string
}

// ProviderClient is one OAuth provider. The flow drives it through the
// authorization-code dance and a single profile fetch.
type ProviderClient interface {
	ID() string
	AuthCodeURL(state string, scopes []string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error)
}

// ScopeDirectory resolves sub-service ids to OAuth scopes. Satisfied by
// the service registry; unknown ids are excluded, not rejected.
type ScopeDirectory interface {
	ScopesFor(serviceIDs []string) (accepted []string, scopes []string)
}

// Flow is the account-linking state machine.
type Flow struct {
	provider ProviderClient
	scopes   ScopeDirectory
	accounts store.AccountStore
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
	now      func() time.Time
}

func NewFlow(provider ProviderClient, scopes ScopeDirectory, accounts store.AccountStore, logger *slog.Logger, metrics *instrumentation.Metrics) *Flow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flow{
		provider: provider,
		scopes:   scopes,
		accounts: accounts,
		logger:   logger,
		metrics:  metrics,
		now:      time.Now,
	}
}

// BeginAuth validates the link request, resolves the scope set, and
// returns the provider authorization URL the browser should be sent to.
// Unknown sub-service ids are dropped; the state token carries only the
// accepted ids so the eventual link reflects what was actually granted.
func (f *Flow) BeginAuth(ctx context.Context, req *LinkRequest) (string, error) {
	if err := req.Validate(); err != nil {
		f.record(ctx, instrumentation.LinkStepAuthRequest, instrumentation.StatusError)
		return "", err
	}

	accepted, svcScopes := f.scopes.ScopesFor(req.Services)
	if accepted == nil {
		accepted = []string{}
	}
	if dropped := len(req.Services) - len(accepted); dropped > 0 {
		f.logger.Debug("excluded unknown services from link request",
			logging.UserHash(req.UserID),
			slog.Int("excluded", dropped),
		)
	}

	state, err := EncodeState(&LinkRequest{
		UserID:         req.UserID,
		Services:       accepted,
		ClientCallback: req.ClientCallback,
	})
	if err != nil {
		f.record(ctx, instrumentation.LinkStepAuthRequest, instrumentation.StatusError)
		return "", err
	}

	authURL := f.provider.AuthCodeURL(state, dedupe(append(append([]string{}, baseScopes...), svcScopes...)))
	f.record(ctx, instrumentation.LinkStepAuthRequest, instrumentation.StatusSuccess)
	f.logger.Info("link authorization requested",
		logging.UserHash(req.UserID),
		logging.Service(f.provider.ID()),
		slog.Int("services", len(accepted)),
	)
	return authURL, nil
}

// HandleCallback runs the remaining steps of the flow: state validation,
// code exchange, profile fetch, and account upsert. On success it returns
// the client callback URL with the external account id appended. Any
// failure aborts the attempt with nothing written.
func (f *Flow) HandleCallback(ctx context.Context, state, code string) (string, error) {
	req, err := DecodeState(state)
	if err != nil {
		f.record(ctx, instrumentation.LinkStepCallback, instrumentation.StatusError)
		return "", err
	}
	if code == "" {
		f.record(ctx, instrumentation.LinkStepCallback, instrumentation.StatusError)
		return "", fmt.Errorf("%w: callback without an authorization code", ErrValidation)
	}
	if req.ClientCallback == "" {
		f.record(ctx, instrumentation.LinkStepCallback, instrumentation.StatusError)
		return "", fmt.Errorf("%w: state token without a client callback", ErrValidation)
	}
	f.record(ctx, instrumentation.LinkStepCallback, instrumentation.StatusSuccess)

	token, err := f.provider.Exchange(ctx, code)
	if err != nil {
		f.record(ctx, instrumentation.LinkStepTokenExchange, instrumentation.StatusError)
		return "", fmt.Errorf("exchanging authorization code: %w", err)
	}
	f.record(ctx, instrumentation.LinkStepTokenExchange, instrumentation.StatusSuccess)

	profile, err := f.provider.FetchProfile(ctx, token)
	if err != nil {
		f.record(ctx, instrumentation.LinkStepProfileFetch, instrumentation.StatusError)
		return "", fmt.Errorf("fetching profile: %w", err)
	}
	f.record(ctx, instrumentation.LinkStepProfileFetch, instrumentation.StatusSuccess)
	if profile.Email == "" {
		// Some accounts expose no email address. The link proceeds with
		// an empty field.
		f.logger.Info("linked profile has no email address",
			logging.UserHash(req.UserID),
		)
	}

	account := &store.LinkedAccount{
		Provider:     f.provider.ID(),
		UserID:       req.UserID,
		ExternalID:   profile.ExternalID,
		Name:         profile.Name,
		Email:        profile.Email,
		AvatarURL:    profile.AvatarURL,
		Services:     req.Services,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenExpiry:  token.Expiry,
		LinkedAt:     f.now(),
	}
	if err := f.accounts.Upsert(ctx, account); err != nil {
		f.record(ctx, instrumentation.LinkStepUpsert, instrumentation.StatusError)
		return "", fmt.Errorf("storing linked account: %w", err)
	}
	f.record(ctx, instrumentation.LinkStepUpsert, instrumentation.StatusSuccess)

	f.logger.Info("account linked",
		logging.UserHash(req.UserID),
		logging.Service(f.provider.ID()),
		slog.Int("services", len(req.Services)),
	)
	return callbackURL(req.ClientCallback, profile.ExternalID)
}

// ProfileFor returns the user's linked account, or store.ErrNotFound when
// no link exists. It never starts a flow.
func (f *Flow) ProfileFor(ctx context.Context, userID string) (*store.LinkedAccount, error) {
	return f.accounts.FindByUser(ctx, f.provider.ID(), userID)
}

func (f *Flow) record(ctx context.Context, step, result string) {
	if f.metrics != nil {
		f.metrics.RecordLinkStep(ctx, step, result)
	}
}

// callbackURL appends accountId to the client callback, preserving any
// query it already carries.
func callbackURL(callback, externalID string) (string, error) {
	u, err := url.Parse(callback)
	if err != nil {
		return "", fmt.Errorf("%w: unparseable client callback: %v", ErrValidation, err)
	}
	q := u.Query()
	q.Set("accountId", externalID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// dedupe removes duplicates preserving first occurrence.
func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := values[:0]
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
