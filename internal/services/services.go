package services

import (
	"context"
	"time"

	"github.com/hvdberg/spotlink/internal/models"
)

// AuthService defines the provider-side OAuth2 operations the lifecycle
// orchestrator depends on.
type AuthService interface {
	// AuthURL returns the provider authorization URL carrying the configured
	// scopes and the given state value. Pure given configuration.
	AuthURL(state string) string

	// ExchangeCode trades an authorization code for a validated token pair.
	// Single-attempt: authorization codes are single-use.
	ExchangeCode(ctx context.Context, code string) (*models.TokenPair, error)

	// Refresh trades a refresh token for a new access token, reporting a
	// rotated refresh token when the provider issued one. Single-attempt.
	Refresh(ctx context.Context, refreshToken string) (*models.RefreshedToken, error)

	// Identity resolves the provider-side user profile for a bearer token.
	Identity(ctx context.Context, accessToken string) (*SpotifyUser, error)
}

// CredentialStore defines the persistence operations the orchestrator needs.
// Implemented by repositories.CredentialRepository.
type CredentialStore interface {
	Save(cred *models.Credential) error
	Get(userID string) (*models.Credential, error)
	UpdateAccessToken(userID, expectedRefreshToken, accessToken string, expiresAt time.Time, rotatedRefreshToken string) error
	Delete(userID string) error
}
