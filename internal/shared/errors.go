package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication and session errors
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrSessionPersist   = fmt.Errorf("could not persist session")
	ErrMissingBinding   = fmt.Errorf("no pending authorization bound to session")
	ErrInvalidState     = fmt.Errorf("invalid state parameter")

	// Provider errors
	ErrIncompleteTokenResponse = fmt.Errorf("incomplete token response")
	ErrRefreshRejected         = fmt.Errorf("refresh token rejected")
	ErrNoRefreshToken          = fmt.Errorf("no refresh token available")
	ErrTokenExpired            = fmt.Errorf("access token expired")
	ErrAPIRequest              = fmt.Errorf("API request failed")

	// Credential lifecycle errors
	ErrNotLinked       = fmt.Errorf("no linked spotify account")
	ErrNeedsReauth     = fmt.Errorf("reauthorization required")
	ErrStaleCredential = fmt.Errorf("credential changed concurrently")
)
