package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braidchat/switchboard/internal/execctx"
	"github.com/braidchat/switchboard/internal/realtime"
)

type stubService struct {
	id     string
	scopes []string
}

func (s *stubService) ID() string { return s.id }

func (s *stubService) Descriptor() Descriptor { return Descriptor{ID: s.id, Name: s.id} }

func (s *stubService) OAuthScopes() []string { return s.scopes }
func (s *stubService) HandleMessage(*execctx.Context, *realtime.ServiceMessage) error {
	return nil
}
func (s *stubService) HandleConnectionClosed(*execctx.Context) {}

func TestNewRegistryRejectsDuplicateIDs(t *testing.T) {
	_, err := NewRegistry(
		&stubService{id: "mail"},
		&stubService{id: "mail"},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate service id")
}

func TestNewRegistryRejectsEmptyID(t *testing.T) {
	_, err := NewRegistry(&stubService{id: ""})
	require.Error(t, err)
}

func TestRegistryLookup(t *testing.T) {
	mail := &stubService{id: "mail"}
	reg, err := NewRegistry(mail, &stubService{id: "drive"})
	require.NoError(t, err)

	got, ok := reg.Lookup("mail")
	require.True(t, ok)
	assert.Same(t, realtime.ServiceHandler(mail), got)

	_, ok = reg.Lookup("calendar")
	assert.False(t, ok)
}

func TestRegistryHandlersPreserveOrder(t *testing.T) {
	reg, err := NewRegistry(&stubService{id: "drive"}, &stubService{id: "mail"})
	require.NoError(t, err)

	descriptors := reg.Descriptors()
	require.Len(t, descriptors, 2)
	assert.Equal(t, "drive", descriptors[0].ID)
	assert.Equal(t, "mail", descriptors[1].ID)
	assert.Len(t, reg.Handlers(), 2)
}

func TestRegistryScopesFor(t *testing.T) {
	reg, err := NewRegistry(
		&stubService{id: "mail", scopes: []string{"scope-mail"}},
		&stubService{id: "drive", scopes: []string{"scope-drive-a", "scope-drive-b"}},
	)
	require.NoError(t, err)

	tests := []struct {
		name         string
		ids          []string
		wantAccepted []string
		wantScopes   []string
	}{
		{
			name:         "all known",
			ids:          []string{"mail", "drive"},
			wantAccepted: []string{"mail", "drive"},
			wantScopes:   []string{"scope-mail", "scope-drive-a", "scope-drive-b"},
		},
		{
			name:         "unknown ids are silently excluded",
			ids:          []string{"mail", "calendar", "drive"},
			wantAccepted: []string{"mail", "drive"},
			wantScopes:   []string{"scope-mail", "scope-drive-a", "scope-drive-b"},
		},
		{
			name:         "request order preserved",
			ids:          []string{"drive", "mail"},
			wantAccepted: []string{"drive", "mail"},
			wantScopes:   []string{"scope-drive-a", "scope-drive-b", "scope-mail"},
		},
		{
			name: "nothing known",
			ids:  []string{"calendar"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			accepted, scopes := reg.ScopesFor(tt.ids)
			assert.Equal(t, tt.wantAccepted, accepted)
			assert.Equal(t, tt.wantScopes, scopes)
		})
	}
}
