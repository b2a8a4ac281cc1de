package models

import (
	"fmt"
	"time"
)

// Credential is the persisted Spotify credential for one first-party user.
//
// AccessTokenExpiresAt is the absolute instant computed when the token was
// issued (exchange or refresh completion time plus expires_in). It is stored,
// never recomputed from a cached duration.
type Credential struct {
	UserID               string
	ProviderUserID       string
	AccessToken          string
	RefreshToken         string
	AccessTokenExpiresAt time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Validate checks that the credential is fully populated. Access and refresh
// tokens are either both present or the credential must not be written at all.
func (c *Credential) Validate() error {
	switch {
	case c.UserID == "":
		return fmt.Errorf("credential missing user id")
	case c.ProviderUserID == "":
		return fmt.Errorf("credential missing provider user id")
	case c.AccessToken == "":
		return fmt.Errorf("credential missing access token")
	case c.RefreshToken == "":
		return fmt.Errorf("credential missing refresh token")
	case c.AccessTokenExpiresAt.IsZero():
		return fmt.Errorf("credential missing access token expiry")
	}
	return nil
}

// Expired reports whether the access token is unusable at the given instant.
// An expiry at or before now counts as expired.
func (c *Credential) Expired(now time.Time) bool {
	return !c.AccessTokenExpiresAt.After(now)
}

// TokenPair is a validated access/refresh token pair from a code exchange.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// RefreshedToken is the validated result of a refresh call.
//
// RotatedRefreshToken is non-empty only when the provider silently rotated
// the refresh token; callers must persist it or the next refresh fails with
// an otherwise unexplained invalid-grant error.
type RefreshedToken struct {
	AccessToken         string
	ExpiresAt           time.Time
	RotatedRefreshToken string
}
