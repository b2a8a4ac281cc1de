// Spotify OAuth2 implementation of [AuthService]
//
// Spotify API response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hvdberg/spotlink/internal/models"
	"github.com/hvdberg/spotlink/internal/shared"
	"golang.org/x/oauth2"
)

const (
	spotifyAuthURL  = "https://accounts.spotify.com/authorize"
	spotifyTokenURL = "https://accounts.spotify.com/api/token"
	spotifyBaseURL  = "https://api.spotify.com/v1"
)

var defaultScopes = []string{"user-read-private", "user-read-email"}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	Product     string `json:"product"` // premium, free, etc.
}

// SpotifyAuthService implements [AuthService] for Spotify using [oauth2].
type SpotifyAuthService struct {
	config     *oauth2.Config
	httpClient *http.Client
	baseURL    string
}

// NewSpotifyAuthService creates a new Spotify auth service from configuration.
// A missing client id, client secret, or redirect URI is a startup error, not
// a call-time one.
func NewSpotifyAuthService(cfg shared.SpotifyConfig) (*SpotifyAuthService, error) {
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("%w: spotify client_id", shared.ErrMissingCredentials)
	}
	if cfg.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_secret", shared.ErrMissingCredentials)
	}
	if cfg.RedirectURI == "" {
		return nil, fmt.Errorf("%w: spotify redirect_uri", shared.ErrMissingCredentials)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = defaultScopes
	}

	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  spotifyAuthURL,
			TokenURL: spotifyTokenURL,
		},
	}

	return &SpotifyAuthService{
		config:     config,
		httpClient: http.DefaultClient,
		baseURL:    spotifyBaseURL,
	}, nil
}

// AuthURL returns the OAuth2 authorization URL for user consent.
func (s *SpotifyAuthService) AuthURL(state string) string {
	return s.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// ExchangeCode trades an authorization code for a token pair at the Spotify
// token endpoint.
//
// The expiry instant is computed once, at exchange completion, from the
// provider's expires_in. A 200 response missing either token (or carrying a
// non-positive expiry) yields [shared.ErrIncompleteTokenResponse] rather than
// propagating a half-valid credential.
func (s *SpotifyAuthService) ExchangeCode(ctx context.Context, code string) (*models.TokenPair, error) {
	if code == "" {
		return nil, fmt.Errorf("%w: empty authorization code", shared.ErrAPIRequest)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	token, err := s.config.Exchange(ctx, code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, fmt.Errorf("token exchange rejected: %s", providerMessage(re))
		}
		return nil, fmt.Errorf("%w: token exchange: %v", shared.ErrAPIRequest, err)
	}

	if token.AccessToken == "" || token.RefreshToken == "" || !token.Expiry.After(time.Now()) {
		return nil, fmt.Errorf("%w: exchange returned access=%t refresh=%t", shared.ErrIncompleteTokenResponse, token.AccessToken != "", token.RefreshToken != "")
	}

	return &models.TokenPair{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresAt:    token.Expiry,
	}, nil
}

// Refresh trades a refresh token for a new access token.
//
// An invalid_grant response means the refresh token was revoked or expired;
// it maps to [shared.ErrRefreshRejected] and must not be retried. A rotated
// refresh token, when present in the response, is reported so the caller can
// persist it.
func (s *SpotifyAuthService) Refresh(ctx context.Context, refreshToken string) (*models.RefreshedToken, error) {
	if refreshToken == "" {
		return nil, shared.ErrNoRefreshToken
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
	src := s.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			if re.ErrorCode == "invalid_grant" {
				return nil, fmt.Errorf("%w: %s", shared.ErrRefreshRejected, providerMessage(re))
			}
			return nil, fmt.Errorf("token refresh rejected: %s", providerMessage(re))
		}
		return nil, fmt.Errorf("%w: token refresh: %v", shared.ErrAPIRequest, err)
	}

	if token.AccessToken == "" || !token.Expiry.After(time.Now()) {
		return nil, fmt.Errorf("%w: refresh returned no usable access token", shared.ErrIncompleteTokenResponse)
	}

	refreshed := &models.RefreshedToken{
		AccessToken: token.AccessToken,
		ExpiresAt:   token.Expiry,
	}
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		refreshed.RotatedRefreshToken = token.RefreshToken
	}

	return refreshed, nil
}

// Identity retrieves the Spotify profile for the given bearer token. Used to
// resolve the provider-side user id after the first exchange.
func (s *SpotifyAuthService) Identity(ctx context.Context, accessToken string) (*SpotifyUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/me", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: profile request: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: spotify rejected bearer token", shared.ErrTokenExpired)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: spotify API error: status %d", shared.ErrAPIRequest, resp.StatusCode)
	}

	var user SpotifyUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("failed to decode profile response: %w", err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("%w: profile response missing user id", shared.ErrAPIRequest)
	}

	return &user, nil
}

// providerMessage extracts a human-readable reason from a token endpoint error.
func providerMessage(re *oauth2.RetrieveError) string {
	if re.ErrorCode != "" {
		if re.ErrorDescription != "" {
			return fmt.Sprintf("%s: %s", re.ErrorCode, re.ErrorDescription)
		}
		return re.ErrorCode
	}
	if re.Response != nil {
		return fmt.Sprintf("status %d", re.Response.StatusCode)
	}
	return "unknown provider error"
}
