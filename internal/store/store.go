package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ProviderGoogle is the provider id under which Google accounts are linked.
const ProviderGoogle = "google"

// User is a Braid user record. Only the fields the gateway needs are
// modeled here.
type User struct {
	ID   string
	Name string
}

// LinkedAccount is a third-party account linked to a Braid user. It is
// created or updated by the account-linking flow on a successful token
// exchange and read by profile-query handlers.
type LinkedAccount struct {
	// Provider is the third-party provider id, e.g. "google".
	Provider string

	// UserID is the owning Braid user.
	UserID string

	// ExternalID is the provider's account identifier.
	ExternalID string

	// Profile summary shown to the user.
	Name      string
	Email     string
	AvatarURL string

	// Services lists the sub-service ids this link authorizes.
	Services []string

	// Provider credential. Opaque to everything but the provider client.
	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time

	LinkedAt time.Time
}

// HasService reports whether the link authorizes the given sub-service.
func (a *LinkedAccount) HasService(id string) bool {
	for _, s := range a.Services {
		if s == id {
			return true
		}
	}
	return false
}

// AccountStore persists linked third-party accounts. Upsert is keyed by
// (provider, user id, external account id).
type AccountStore interface {
	Upsert(ctx context.Context, acct *LinkedAccount) error

	// FindByUser returns the most recently linked account for the given
	// provider and user, or ErrNotFound.
	FindByUser(ctx context.Context, provider, userID string) (*LinkedAccount, error)
}

// UserStore looks up and creates Braid user records.
type UserStore interface {
	FindUser(ctx context.Context, id string) (*User, error)
	CreateUser(ctx context.Context, u *User) error
}
