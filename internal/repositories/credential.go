package repositories

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hvdberg/spotlink/internal/models"
	"github.com/hvdberg/spotlink/internal/shared"
)

// CredentialRepository persists [models.Credential] rows keyed by the
// first-party user id.
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository creates a new [CredentialRepository] with the given database connection
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

// Save upserts the credential in a single statement. Re-authorizing an
// already-linked user overwrites the prior credential atomically; concurrent
// readers never observe a partial update.
func (r *CredentialRepository) Save(cred *models.Credential) error {
	if err := cred.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	cred.UpdatedAt = now

	query := `
		INSERT INTO credentials (user_id, provider_user_id, access_token, refresh_token, access_token_expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			provider_user_id = excluded.provider_user_id,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			access_token_expires_at = excluded.access_token_expires_at,
			updated_at = excluded.updated_at
	`

	_, err := r.db.Exec(query, cred.UserID, cred.ProviderUserID, cred.AccessToken, cred.RefreshToken, cred.AccessTokenExpiresAt, cred.CreatedAt, cred.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert credential: %w", err)
	}

	return nil
}

// Get retrieves the credential for a user, or [shared.ErrNotLinked] if the
// user has no linked Spotify account.
func (r *CredentialRepository) Get(userID string) (*models.Credential, error) {
	query := `
		SELECT user_id, provider_user_id, access_token, refresh_token, access_token_expires_at, created_at, updated_at
		FROM credentials
		WHERE user_id = ?
	`

	var cred models.Credential
	err := r.db.QueryRow(query, userID).Scan(
		&cred.UserID,
		&cred.ProviderUserID,
		&cred.AccessToken,
		&cred.RefreshToken,
		&cred.AccessTokenExpiresAt,
		&cred.CreatedAt,
		&cred.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", shared.ErrNotLinked, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query credential: %w", err)
	}

	return &cred, nil
}

// UpdateAccessToken replaces the access token and expiry after a refresh,
// conditioned on the refresh token the caller read. If the stored refresh
// token no longer matches, the row changed under the caller and
// [shared.ErrStaleCredential] is returned instead of overwriting.
//
// A non-empty rotatedRefreshToken replaces the stored refresh token in the
// same statement.
func (r *CredentialRepository) UpdateAccessToken(userID, expectedRefreshToken, accessToken string, expiresAt time.Time, rotatedRefreshToken string) error {
	if accessToken == "" || expiresAt.IsZero() {
		return fmt.Errorf("refusing to store empty access token or expiry for user %s", userID)
	}

	newRefreshToken := expectedRefreshToken
	if rotatedRefreshToken != "" {
		newRefreshToken = rotatedRefreshToken
	}

	query := `
		UPDATE credentials
		SET access_token = ?, access_token_expires_at = ?, refresh_token = ?, updated_at = ?
		WHERE user_id = ? AND refresh_token = ?
	`

	result, err := r.db.Exec(query, accessToken, expiresAt, newRefreshToken, time.Now(), userID, expectedRefreshToken)
	if err != nil {
		return fmt.Errorf("failed to update access token: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: user %s", shared.ErrStaleCredential, userID)
	}

	return nil
}

// Delete removes the credential for a user.
func (r *CredentialRepository) Delete(userID string) error {
	result, err := r.db.Exec(`DELETE FROM credentials WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: user %s", shared.ErrNotLinked, userID)
	}

	return nil
}
