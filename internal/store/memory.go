package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Memory is an in-memory implementation of AccountStore and UserStore.
// It is safe for concurrent use.
type Memory struct {
	mu sync.RWMutex

	users map[string]*User

	// accounts is keyed by provider/userID; each entry keeps linked
	// accounts in insertion order so FindByUser can return the most
	// recent link.
	accounts map[string][]*LinkedAccount
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string]*User),
		accounts: make(map[string][]*LinkedAccount),
	}
}

func accountKey(provider, userID string) string {
	return provider + "/" + userID
}

// Upsert inserts or replaces the linked account identified by
// (provider, user id, external account id).
func (m *Memory) Upsert(_ context.Context, acct *LinkedAccount) error {
	if acct.Provider == "" || acct.UserID == "" || acct.ExternalID == "" {
		return fmt.Errorf("linked account requires provider, user id and external id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *acct
	if stored.LinkedAt.IsZero() {
		stored.LinkedAt = time.Now()
	}

	key := accountKey(acct.Provider, acct.UserID)
	for i, existing := range m.accounts[key] {
		if existing.ExternalID == acct.ExternalID {
			m.accounts[key][i] = &stored
			return nil
		}
	}
	m.accounts[key] = append(m.accounts[key], &stored)
	return nil
}

// FindByUser returns the most recently linked account for the provider and
// user, or ErrNotFound.
func (m *Memory) FindByUser(_ context.Context, provider, userID string) (*LinkedAccount, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.accounts[accountKey(provider, userID)]
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	acct := *list[len(list)-1]
	return &acct, nil
}

// FindUser returns the user with the given id, or ErrNotFound.
func (m *Memory) FindUser(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *u
	return &copied, nil
}

// CreateUser stores a user record, replacing any existing record with the
// same id.
func (m *Memory) CreateUser(_ context.Context, u *User) error {
	if u.ID == "" {
		return fmt.Errorf("user requires an id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	copied := *u
	m.users[u.ID] = &copied
	return nil
}

var (
	_ AccountStore = (*Memory)(nil)
	_ UserStore    = (*Memory)(nil)
)
