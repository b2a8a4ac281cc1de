package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hvdberg/spotlink/internal/models"
	"github.com/hvdberg/spotlink/internal/shared"
)

// Linker orchestrates the credential lifecycle for linked Spotify accounts:
// completing the authorization callback, answering "give me a usable access
// token", and coordinating refresh.
//
// Linker owns no persistent state. Credentials live in the [CredentialStore];
// the pending-authorization binding lives in the HTTP session. What Linker
// does own is a per-user lock table so duplicate concurrent requests for the
// same user are serialized and perform at most one provider refresh call.
type Linker struct {
	auth   AuthService
	store  CredentialStore
	logger *log.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLinker creates a new Linker with the provided collaborators.
func NewLinker(auth AuthService, store CredentialStore, logger *log.Logger) *Linker {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Linker{
		auth:   auth,
		store:  store,
		logger: logger,
		locks:  map[string]*sync.Mutex{},
	}
}

// AuthorizationURL returns the provider consent URL for the given state value.
func (l *Linker) AuthorizationURL(state string) string {
	return l.auth.AuthURL(state)
}

// CompleteAuthorization finishes the callback leg: exchanges the code,
// resolves the Spotify-side user id with the fresh access token, and upserts
// the credential. Any failure along the chain leaves no partial credential;
// a prior credential (if the user is re-linking) is only replaced once the
// whole chain succeeded.
func (l *Linker) CompleteAuthorization(ctx context.Context, userID, code string) (*models.Credential, error) {
	pair, err := l.auth.ExchangeCode(ctx, code)
	if err != nil {
		return nil, err
	}

	profile, err := l.auth.Identity(ctx, pair.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve spotify profile: %w", err)
	}

	cred := &models.Credential{
		UserID:               userID,
		ProviderUserID:       profile.ID,
		AccessToken:          pair.AccessToken,
		RefreshToken:         pair.RefreshToken,
		AccessTokenExpiresAt: pair.ExpiresAt,
	}

	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := l.store.Save(cred); err != nil {
		return nil, fmt.Errorf("failed to persist credential: %w", err)
	}

	l.logger.Info("spotify account linked", "user_id", userID, "spotify_id", profile.ID)
	return cred, nil
}

// UsableAccessToken is the public read entry point. It returns a token that
// is valid at the time of the call, refreshing transparently when the stored
// expiry is at or before now.
//
// Errors wrap [shared.ErrNotLinked] when the user never linked an account and
// [shared.ErrNeedsReauth] when the provider rejected the refresh token; the
// latter is terminal for the current credential and the caller must restart
// authorization.
func (l *Linker) UsableAccessToken(ctx context.Context, userID string) (string, error) {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	cred, err := l.store.Get(userID)
	if err != nil {
		return "", err
	}

	if !cred.Expired(time.Now()) {
		return cred.AccessToken, nil
	}

	return l.refreshLocked(ctx, cred)
}

// ForceRefresh refreshes the user's access token regardless of expiry and
// returns the new token. Used by the service-to-service refresh endpoint.
func (l *Linker) ForceRefresh(ctx context.Context, userID string) (string, error) {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	cred, err := l.store.Get(userID)
	if err != nil {
		return "", err
	}

	return l.refreshLocked(ctx, cred)
}

// Profile returns the Spotify profile for the user, refreshing the access
// token first if needed.
func (l *Linker) Profile(ctx context.Context, userID string) (*SpotifyUser, error) {
	token, err := l.UsableAccessToken(ctx, userID)
	if err != nil {
		return nil, err
	}
	return l.auth.Identity(ctx, token)
}

// Unlink removes the user's stored credential.
func (l *Linker) Unlink(userID string) error {
	lock := l.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	return l.store.Delete(userID)
}

// refreshLocked performs a single refresh attempt and persists the result.
// Caller must hold the user lock.
func (l *Linker) refreshLocked(ctx context.Context, cred *models.Credential) (string, error) {
	refreshed, err := l.auth.Refresh(ctx, cred.RefreshToken)
	if err != nil {
		if errors.Is(err, shared.ErrRefreshRejected) {
			// The rejected credential stays in place for audit; relinking
			// overwrites it wholesale.
			l.logger.Warn("refresh token rejected, reauthorization required", "user_id", cred.UserID)
			return "", fmt.Errorf("%w: %v", shared.ErrNeedsReauth, err)
		}
		return "", err
	}

	err = l.store.UpdateAccessToken(cred.UserID, cred.RefreshToken, refreshed.AccessToken, refreshed.ExpiresAt, refreshed.RotatedRefreshToken)
	if errors.Is(err, shared.ErrStaleCredential) {
		// Another writer (a re-link from a different instance) replaced the
		// row between our read and write. Serve whatever is current rather
		// than clobbering the newer credential.
		current, getErr := l.store.Get(cred.UserID)
		if getErr != nil {
			return "", getErr
		}
		l.logger.Warn("credential replaced during refresh, using stored token", "user_id", cred.UserID)
		return current.AccessToken, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	if refreshed.RotatedRefreshToken != "" {
		l.logger.Info("refresh token rotated", "user_id", cred.UserID)
	}

	return refreshed.AccessToken, nil
}

// userLock returns the mutex serializing credential writes for one user.
func (l *Linker) userLock(userID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[userID] = lock
	}
	return lock
}
