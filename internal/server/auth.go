package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/braidchat/switchboard/internal/store"
)

// StoreAuthenticator validates connection handshakes against the user
// store. It implements the realtime router's authenticator.
type StoreAuthenticator struct {
	users store.UserStore
}

func NewStoreAuthenticator(users store.UserStore) *StoreAuthenticator {
	return &StoreAuthenticator{users: users}
}

func (a *StoreAuthenticator) Authenticate(ctx context.Context, userID string) error {
	_, err := a.users.FindUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("unknown user")
	}
	return err
}
