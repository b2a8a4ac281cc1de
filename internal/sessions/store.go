package sessions

import (
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/hvdberg/spotlink/internal/shared"
)

const defaultMaxAge = 86400 // one day, matching the session cookie lifetime

// Store is a SQLite-backed implementation of [sessions.Store].
type Store struct {
	db      *sql.DB
	codecs  []securecookie.Codec
	options sessions.Options
}

// NewStore creates a session store over the given database connection. The
// session secret signs both the cookie and the serialized values; a missing
// secret is a startup error.
func NewStore(db *sql.DB, cfg shared.SessionConfig) (*Store, error) {
	if cfg.Secret == "" {
		return nil, fmt.Errorf("%w: session secret", shared.ErrMissingCredentials)
	}

	maxAge := cfg.MaxAgeSeconds
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}

	return &Store{
		db:     db,
		codecs: securecookie.CodecsFromPairs([]byte(cfg.Secret)),
		options: sessions.Options{
			Path:     "/",
			MaxAge:   maxAge,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		},
	}, nil
}

// Get returns the session for the request, cached in the request registry.
func (s *Store) Get(r *http.Request, name string) (*sessions.Session, error) {
	return sessions.GetRegistry(r).Get(s, name)
}

// New builds a session from the request cookie, falling back to a fresh
// session when the cookie is absent, invalid, or references an expired row.
func (s *Store) New(r *http.Request, name string) (*sessions.Session, error) {
	session := sessions.NewSession(s, name)
	opts := s.options
	session.Options = &opts
	session.IsNew = true

	cookie, err := r.Cookie(name)
	if err != nil {
		return session, nil
	}

	var id string
	if err := securecookie.DecodeMulti(name, cookie.Value, &id, s.codecs...); err != nil {
		return session, nil
	}

	session.ID = id
	if err := s.load(session); err != nil {
		session.ID = ""
		return session, nil
	}

	session.IsNew = false
	return session, nil
}

// Save commits the session row and only then writes the signed session-id
// cookie. A negative MaxAge destroys the session.
func (s *Store) Save(r *http.Request, w http.ResponseWriter, session *sessions.Session) error {
	if session.Options != nil && session.Options.MaxAge < 0 {
		if err := s.destroy(session.ID); err != nil {
			return fmt.Errorf("%w: %v", shared.ErrSessionPersist, err)
		}
		http.SetCookie(w, sessions.NewCookie(session.Name(), "", session.Options))
		return nil
	}

	if session.ID == "" {
		session.ID = shared.GenerateID()
	}

	if err := s.persist(session); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrSessionPersist, err)
	}

	encoded, err := securecookie.EncodeMulti(session.Name(), session.ID, s.codecs...)
	if err != nil {
		return fmt.Errorf("%w: encoding cookie: %v", shared.ErrSessionPersist, err)
	}

	http.SetCookie(w, sessions.NewCookie(session.Name(), encoded, session.Options))
	return nil
}

// Cleanup removes expired session rows and returns how many were deleted.
func (s *Store) Cleanup() (int64, error) {
	result, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at <= ?`, time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) persist(session *sessions.Session) error {
	data, err := securecookie.EncodeMulti(session.Name(), session.Values, s.codecs...)
	if err != nil {
		return err
	}

	now := time.Now()
	expiresAt := now.Add(time.Duration(session.Options.MaxAge) * time.Second).Unix()

	query := `
		INSERT INTO sessions (id, data, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`

	_, err = s.db.Exec(query, session.ID, data, now, now, expiresAt)
	return err
}

func (s *Store) load(session *sessions.Session) error {
	var data string
	var expiresAt int64

	row := s.db.QueryRow(`SELECT data, expires_at FROM sessions WHERE id = ?`, session.ID)
	if err := row.Scan(&data, &expiresAt); err != nil {
		return err
	}

	if expiresAt <= time.Now().Unix() {
		return fmt.Errorf("session expired")
	}

	return securecookie.DecodeMulti(session.Name(), data, &session.Values, s.codecs...)
}

func (s *Store) destroy(id string) error {
	if id == "" {
		return nil
	}
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	return err
}
