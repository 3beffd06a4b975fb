package domain

import "context"

// Credential is the persisted token pair. Stores read and write it as a unit.
type Credential struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Operator     string `json:"operator,omitempty"` // email of the signed-in operator
}

// IsZero reports whether no session is stored.
func (c Credential) IsZero() bool {
	return c.AccessToken == "" && c.RefreshToken == ""
}

// TokenStore persists the credential across restarts.
type TokenStore interface {
	LoadCredential(ctx context.Context) (Credential, error)
	SaveCredential(ctx context.Context, cred Credential) error
	ClearCredential(ctx context.Context) error
	Close() error
}

// TokenSource hands out a currently valid access token, or ok=false when the
// caller must treat the session as unauthenticated.
type TokenSource interface {
	ValidAccessToken(ctx context.Context) (token string, ok bool)
}
