package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hvdberg/spotlink/internal/models"
	"github.com/hvdberg/spotlink/internal/repositories"
	"github.com/hvdberg/spotlink/internal/shared"
)

// stubAuth is a scriptable [AuthService] for orchestration tests.
type stubAuth struct {
	exchange func(ctx context.Context, code string) (*models.TokenPair, error)
	refresh  func(ctx context.Context, refreshToken string) (*models.RefreshedToken, error)
	identity func(ctx context.Context, accessToken string) (*SpotifyUser, error)

	refreshCalls atomic.Int64
}

func (s *stubAuth) AuthURL(state string) string {
	return "https://accounts.spotify.com/authorize?state=" + state
}

func (s *stubAuth) ExchangeCode(ctx context.Context, code string) (*models.TokenPair, error) {
	if s.exchange == nil {
		return nil, fmt.Errorf("unexpected exchange call")
	}
	return s.exchange(ctx, code)
}

func (s *stubAuth) Refresh(ctx context.Context, refreshToken string) (*models.RefreshedToken, error) {
	s.refreshCalls.Add(1)
	if s.refresh == nil {
		return nil, fmt.Errorf("unexpected refresh call")
	}
	return s.refresh(ctx, refreshToken)
}

func (s *stubAuth) Identity(ctx context.Context, accessToken string) (*SpotifyUser, error) {
	if s.identity == nil {
		return &SpotifyUser{ID: "spotify-1", DisplayName: "Test User"}, nil
	}
	return s.identity(ctx, accessToken)
}

func setupLinkerTest(t *testing.T, auth *stubAuth) (*Linker, *repositories.CredentialRepository, *sql.DB) {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	repo := repositories.NewCredentialRepository(db)
	return NewLinker(auth, repo, nil), repo, db
}

func seedCredential(t *testing.T, repo *repositories.CredentialRepository, userID, accessToken, refreshToken string, expiresAt time.Time) {
	t.Helper()

	err := repo.Save(&models.Credential{
		UserID:               userID,
		ProviderUserID:       "spotify-1",
		AccessToken:          accessToken,
		RefreshToken:         refreshToken,
		AccessTokenExpiresAt: expiresAt,
	})
	if err != nil {
		t.Fatalf("failed to seed credential: %v", err)
	}
}

func TestCompleteAuthorization(t *testing.T) {
	t.Run("Persists Exchanged Tokens", func(t *testing.T) {
		auth := &stubAuth{
			exchange: func(ctx context.Context, code string) (*models.TokenPair, error) {
				if code != "abc" {
					t.Errorf("expected code abc, got %s", code)
				}
				return &models.TokenPair{
					AccessToken:  "AT1",
					RefreshToken: "RT1",
					ExpiresAt:    time.Now().Add(3600 * time.Second),
				}, nil
			},
		}
		linker, repo, _ := setupLinkerTest(t, auth)

		cred, err := linker.CompleteAuthorization(context.Background(), "user-1", "abc")
		if err != nil {
			t.Fatalf("authorization failed: %v", err)
		}

		if cred.AccessToken != "AT1" || cred.RefreshToken != "RT1" {
			t.Errorf("expected AT1/RT1, got %s/%s", cred.AccessToken, cred.RefreshToken)
		}
		if cred.ProviderUserID != "spotify-1" {
			t.Errorf("expected provider id spotify-1, got %s", cred.ProviderUserID)
		}

		stored, err := repo.Get("user-1")
		if err != nil {
			t.Fatalf("failed to read stored credential: %v", err)
		}
		if stored.AccessToken != "AT1" || stored.RefreshToken != "RT1" {
			t.Errorf("stored credential mismatch: %s/%s", stored.AccessToken, stored.RefreshToken)
		}
	})

	t.Run("Exchange Failure Leaves No Credential", func(t *testing.T) {
		auth := &stubAuth{
			exchange: func(ctx context.Context, code string) (*models.TokenPair, error) {
				return nil, fmt.Errorf("%w: exchange returned access=false refresh=false", shared.ErrIncompleteTokenResponse)
			},
		}
		linker, repo, _ := setupLinkerTest(t, auth)

		_, err := linker.CompleteAuthorization(context.Background(), "user-1", "abc")
		if !errors.Is(err, shared.ErrIncompleteTokenResponse) {
			t.Errorf("expected ErrIncompleteTokenResponse, got %v", err)
		}

		if _, err := repo.Get("user-1"); !errors.Is(err, shared.ErrNotLinked) {
			t.Errorf("expected no credential after failed exchange, got %v", err)
		}
	})

	t.Run("Identity Failure Leaves No Credential", func(t *testing.T) {
		auth := &stubAuth{
			exchange: func(ctx context.Context, code string) (*models.TokenPair, error) {
				return &models.TokenPair{AccessToken: "AT1", RefreshToken: "RT1", ExpiresAt: time.Now().Add(time.Hour)}, nil
			},
			identity: func(ctx context.Context, accessToken string) (*SpotifyUser, error) {
				return nil, fmt.Errorf("%w: profile request failed", shared.ErrAPIRequest)
			},
		}
		linker, repo, _ := setupLinkerTest(t, auth)

		if _, err := linker.CompleteAuthorization(context.Background(), "user-1", "abc"); err == nil {
			t.Fatal("expected error from identity failure")
		}

		if _, err := repo.Get("user-1"); !errors.Is(err, shared.ErrNotLinked) {
			t.Errorf("expected no credential after failed identity lookup, got %v", err)
		}
	})

	t.Run("Relink Overwrites Credential", func(t *testing.T) {
		auth := &stubAuth{
			exchange: func(ctx context.Context, code string) (*models.TokenPair, error) {
				return &models.TokenPair{AccessToken: "AT-new", RefreshToken: "RT-new", ExpiresAt: time.Now().Add(time.Hour)}, nil
			},
		}
		linker, repo, _ := setupLinkerTest(t, auth)
		seedCredential(t, repo, "user-1", "AT-old", "RT-old", time.Now().Add(time.Hour))

		if _, err := linker.CompleteAuthorization(context.Background(), "user-1", "new-code"); err != nil {
			t.Fatalf("relink failed: %v", err)
		}

		stored, err := repo.Get("user-1")
		if err != nil {
			t.Fatalf("failed to read credential: %v", err)
		}
		if stored.AccessToken != "AT-new" || stored.RefreshToken != "RT-new" {
			t.Errorf("expected relink to overwrite, got %s/%s", stored.AccessToken, stored.RefreshToken)
		}
	})
}

func TestUsableAccessToken(t *testing.T) {
	t.Run("Valid Token Served Without Refresh", func(t *testing.T) {
		auth := &stubAuth{}
		linker, repo, _ := setupLinkerTest(t, auth)
		seedCredential(t, repo, "user-1", "AT1", "RT1", time.Now().Add(time.Hour))

		token, err := linker.UsableAccessToken(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("failed to get token: %v", err)
		}

		if token != "AT1" {
			t.Errorf("expected AT1, got %s", token)
		}
		if calls := auth.refreshCalls.Load(); calls != 0 {
			t.Errorf("expected no refresh calls, got %d", calls)
		}
	})

	t.Run("Expired Token Refreshed Retaining Refresh Token", func(t *testing.T) {
		auth := &stubAuth{
			refresh: func(ctx context.Context, refreshToken string) (*models.RefreshedToken, error) {
				if refreshToken != "RT1" {
					t.Errorf("expected refresh with RT1, got %s", refreshToken)
				}
				return &models.RefreshedToken{AccessToken: "AT2", ExpiresAt: time.Now().Add(time.Hour)}, nil
			},
		}
		linker, repo, _ := setupLinkerTest(t, auth)
		seedCredential(t, repo, "user-1", "AT1", "RT1", time.Now().Add(-10*time.Second))

		token, err := linker.UsableAccessToken(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("failed to get token: %v", err)
		}

		if token != "AT2" {
			t.Errorf("expected refreshed token AT2, got %s", token)
		}

		stored, err := repo.Get("user-1")
		if err != nil {
			t.Fatalf("failed to read credential: %v", err)
		}
		if stored.AccessToken != "AT2" {
			t.Errorf("expected stored AT2, got %s", stored.AccessToken)
		}
		if stored.RefreshToken != "RT1" {
			t.Errorf("refresh token should be retained, got %s", stored.RefreshToken)
		}
	})

	t.Run("Rotated Refresh Token Persisted", func(t *testing.T) {
		auth := &stubAuth{
			refresh: func(ctx context.Context, refreshToken string) (*models.RefreshedToken, error) {
				return &models.RefreshedToken{AccessToken: "AT2", ExpiresAt: time.Now().Add(time.Hour), RotatedRefreshToken: "RT2"}, nil
			},
		}
		linker, repo, _ := setupLinkerTest(t, auth)
		seedCredential(t, repo, "user-1", "AT1", "RT1", time.Now().Add(-time.Minute))

		if _, err := linker.UsableAccessToken(context.Background(), "user-1"); err != nil {
			t.Fatalf("failed to get token: %v", err)
		}

		stored, err := repo.Get("user-1")
		if err != nil {
			t.Fatalf("failed to read credential: %v", err)
		}
		if stored.RefreshToken != "RT2" {
			t.Errorf("expected rotated refresh token RT2, got %s", stored.RefreshToken)
		}
	})

	t.Run("Not Linked", func(t *testing.T) {
		linker, _, _ := setupLinkerTest(t, &stubAuth{})

		_, err := linker.UsableAccessToken(context.Background(), "nobody")
		if !errors.Is(err, shared.ErrNotLinked) {
			t.Errorf("expected ErrNotLinked, got %v", err)
		}
	})

	t.Run("Rejected Refresh Requires Reauth", func(t *testing.T) {
		auth := &stubAuth{
			refresh: func(ctx context.Context, refreshToken string) (*models.RefreshedToken, error) {
				return nil, fmt.Errorf("%w: invalid_grant: Refresh token revoked", shared.ErrRefreshRejected)
			},
		}
		linker, repo, _ := setupLinkerTest(t, auth)
		seedCredential(t, repo, "user-1", "AT1", "RT1", time.Now().Add(-time.Minute))

		_, err := linker.UsableAccessToken(context.Background(), "user-1")
		if !errors.Is(err, shared.ErrNeedsReauth) {
			t.Fatalf("expected ErrNeedsReauth, got %v", err)
		}

		// The rejected credential stays until the user relinks.
		if _, err := repo.Get("user-1"); err != nil {
			t.Errorf("expected credential retained after rejection, got %v", err)
		}

		// A second call performs a fresh single attempt, not a retry loop.
		if _, err := linker.UsableAccessToken(context.Background(), "user-1"); !errors.Is(err, shared.ErrNeedsReauth) {
			t.Errorf("expected ErrNeedsReauth on second call, got %v", err)
		}
		if calls := auth.refreshCalls.Load(); calls != 2 {
			t.Errorf("expected exactly one refresh per call, got %d", calls)
		}
	})

	t.Run("Reauth After Rejection Restores Service", func(t *testing.T) {
		auth := &stubAuth{
			refresh: func(ctx context.Context, refreshToken string) (*models.RefreshedToken, error) {
				return nil, fmt.Errorf("%w: invalid_grant", shared.ErrRefreshRejected)
			},
			exchange: func(ctx context.Context, code string) (*models.TokenPair, error) {
				return &models.TokenPair{AccessToken: "AT-new", RefreshToken: "RT-new", ExpiresAt: time.Now().Add(time.Hour)}, nil
			},
		}
		linker, repo, _ := setupLinkerTest(t, auth)
		seedCredential(t, repo, "user-1", "AT1", "RT1", time.Now().Add(-time.Minute))

		if _, err := linker.UsableAccessToken(context.Background(), "user-1"); !errors.Is(err, shared.ErrNeedsReauth) {
			t.Fatalf("expected ErrNeedsReauth, got %v", err)
		}

		if _, err := linker.CompleteAuthorization(context.Background(), "user-1", "fresh-code"); err != nil {
			t.Fatalf("relink failed: %v", err)
		}

		token, err := linker.UsableAccessToken(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("expected usable token after relink, got %v", err)
		}
		if token != "AT-new" {
			t.Errorf("expected AT-new, got %s", token)
		}

		stored, _ := repo.Get("user-1")
		if stored.RefreshToken != "RT-new" {
			t.Errorf("expected relink to replace refresh token, got %s", stored.RefreshToken)
		}
	})

	t.Run("Concurrent Requests Refresh Once", func(t *testing.T) {
		auth := &stubAuth{
			refresh: func(ctx context.Context, refreshToken string) (*models.RefreshedToken, error) {
				time.Sleep(10 * time.Millisecond)
				return &models.RefreshedToken{AccessToken: "AT2", ExpiresAt: time.Now().Add(time.Hour)}, nil
			},
		}
		linker, repo, _ := setupLinkerTest(t, auth)
		seedCredential(t, repo, "user-1", "AT1", "RT1", time.Now().Add(-time.Minute))

		const workers = 10
		var wg sync.WaitGroup
		tokens := make([]string, workers)
		errs := make([]error, workers)

		for i := range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tokens[i], errs[i] = linker.UsableAccessToken(context.Background(), "user-1")
			}()
		}
		wg.Wait()

		for i := range workers {
			if errs[i] != nil {
				t.Fatalf("worker %d failed: %v", i, errs[i])
			}
			if tokens[i] != "AT2" {
				t.Errorf("worker %d got %s, expected AT2", i, tokens[i])
			}
		}

		if calls := auth.refreshCalls.Load(); calls != 1 {
			t.Errorf("expected exactly one refresh call, got %d", calls)
		}
	})

	t.Run("Credential Replaced During Refresh", func(t *testing.T) {
		linker, repo, _ := setupLinkerTest(t, nil)
		auth := &stubAuth{
			refresh: func(ctx context.Context, refreshToken string) (*models.RefreshedToken, error) {
				// Simulate a relink landing on another instance between our
				// read and write.
				seedCredential(t, repo, "user-1", "AT-replaced", "RT-replaced", time.Now().Add(time.Hour))
				return &models.RefreshedToken{AccessToken: "AT2", ExpiresAt: time.Now().Add(time.Hour)}, nil
			},
		}
		linker = NewLinker(auth, repo, nil)
		seedCredential(t, repo, "user-1", "AT1", "RT1", time.Now().Add(-time.Minute))

		token, err := linker.UsableAccessToken(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("failed to get token: %v", err)
		}

		if token != "AT-replaced" {
			t.Errorf("expected the current stored token AT-replaced, got %s", token)
		}

		stored, _ := repo.Get("user-1")
		if stored.RefreshToken != "RT-replaced" {
			t.Errorf("stale refresh must not clobber newer credential, got %s", stored.RefreshToken)
		}
	})
}

func TestForceRefresh(t *testing.T) {
	t.Run("Refreshes Unexpired Token", func(t *testing.T) {
		auth := &stubAuth{
			refresh: func(ctx context.Context, refreshToken string) (*models.RefreshedToken, error) {
				return &models.RefreshedToken{AccessToken: "AT2", ExpiresAt: time.Now().Add(time.Hour)}, nil
			},
		}
		linker, repo, _ := setupLinkerTest(t, auth)
		seedCredential(t, repo, "user-1", "AT1", "RT1", time.Now().Add(time.Hour))

		token, err := linker.ForceRefresh(context.Background(), "user-1")
		if err != nil {
			t.Fatalf("force refresh failed: %v", err)
		}

		if token != "AT2" {
			t.Errorf("expected AT2, got %s", token)
		}
		if calls := auth.refreshCalls.Load(); calls != 1 {
			t.Errorf("expected one refresh call, got %d", calls)
		}
	})

	t.Run("Not Linked", func(t *testing.T) {
		linker, _, _ := setupLinkerTest(t, &stubAuth{})

		if _, err := linker.ForceRefresh(context.Background(), "nobody"); !errors.Is(err, shared.ErrNotLinked) {
			t.Errorf("expected ErrNotLinked, got %v", err)
		}
	})
}

func TestUnlink(t *testing.T) {
	t.Run("Removes Credential", func(t *testing.T) {
		linker, repo, _ := setupLinkerTest(t, &stubAuth{})
		seedCredential(t, repo, "user-1", "AT1", "RT1", time.Now().Add(time.Hour))

		if err := linker.Unlink("user-1"); err != nil {
			t.Fatalf("unlink failed: %v", err)
		}

		if _, err := repo.Get("user-1"); !errors.Is(err, shared.ErrNotLinked) {
			t.Errorf("expected credential removed, got %v", err)
		}
	})

	t.Run("Not Linked", func(t *testing.T) {
		linker, _, _ := setupLinkerTest(t, &stubAuth{})

		if err := linker.Unlink("nobody"); !errors.Is(err, shared.ErrNotLinked) {
			t.Errorf("expected ErrNotLinked, got %v", err)
		}
	})
}
