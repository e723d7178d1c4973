package linking

import (
	"encoding/json"
	"fmt"
)

// LinkRequest is the client's linking request, carried opaquely through
// the provider round-trip in the `state` query parameter.
type LinkRequest struct {
	// UserID is the Braid user initiating the link.
	UserID string `json:"braidUserId"`

	// Services lists the sub-service ids the link should authorize. An
	// empty list is valid (profile-only link); a missing list is not.
	Services []string `json:"services"`

	// ClientCallback is the URL the browser is sent back to once the
	// link completes.
	ClientCallback string `json:"clientCallback"`
}

// Validate checks the fields a callback cannot proceed without.
func (r *LinkRequest) Validate() error {
	if r.UserID == "" {
		return fmt.Errorf("%w: state token without a user id", ErrValidation)
	}
	if r.Services == nil {
		return fmt.Errorf("%w: state token without a service list", ErrValidation)
	}
	return nil
}

// EncodeState serializes the request into the state token.
func EncodeState(r *LinkRequest) (string, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("encoding state token: %w", err)
	}
	return string(raw), nil
}

// DecodeState parses and validates a state token received on callback.
func DecodeState(state string) (*LinkRequest, error) {
	if state == "" {
		return nil, fmt.Errorf("%w: missing state token", ErrValidation)
	}
	var r LinkRequest
	if err := json.Unmarshal([]byte(state), &r); err != nil {
		return nil, fmt.Errorf("%w: unparseable state token: %v", ErrValidation, err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}
