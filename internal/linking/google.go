package linking

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	goauth2 "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"github.com/braidchat/switchboard/internal/store"
)

// GoogleConfig configures the Google provider client. Endpoint and
// UserinfoEndpoint exist so tests can point the client at a local server;
// production leaves them empty.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	Endpoint         oauth2.Endpoint
	UserinfoEndpoint string
}

// GoogleProvider implements the provider client against Google's OAuth
// endpoints and the userinfo API.
type GoogleProvider struct {
	config GoogleConfig
}

func NewGoogleProvider(config GoogleConfig) *GoogleProvider {
	if config.Endpoint.AuthURL == "" && config.Endpoint.TokenURL == "" {
		config.Endpoint = google.Endpoint
	}
	return &GoogleProvider{config: config}
}

func (p *GoogleProvider) ID() string { return store.ProviderGoogle }

func (p *GoogleProvider) oauthConfig(scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.config.ClientID,
		ClientSecret: p.config.ClientSecret,
		RedirectURL:  p.config.RedirectURL,
		Endpoint:     p.config.Endpoint,
		Scopes:       scopes,
	}
}

// AuthCodeURL builds the authorization URL. Offline access is always
// requested so the link yields a refresh token.
func (p *GoogleProvider) AuthCodeURL(state string, scopes []string) string {
	return p.oauthConfig(scopes).AuthCodeURL(state, oauth2.AccessTypeOffline)
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.oauthConfig(nil).Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("google token exchange: %w", err)
	}
	return token, nil
}

// FetchProfile reads the account's userinfo record with the freshly
// exchanged token.
func (p *GoogleProvider) FetchProfile(ctx context.Context, token *oauth2.Token) (*Profile, error) {
	opts := []option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(token)),
	}
	if p.config.UserinfoEndpoint != "" {
		opts = append(opts, option.WithEndpoint(p.config.UserinfoEndpoint))
	}
	svc, err := goauth2.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating userinfo service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("fetching userinfo: %w", err)
	}
	if info.Id == "" {
		return nil, fmt.Errorf("userinfo without an account id")
	}
	return &Profile{
		ExternalID: info.Id,
		Email:      info.Email,
		Name:       info.Name,
		AvatarURL:  info.Picture,
	}, nil
}
