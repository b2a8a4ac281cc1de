package server

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/charmbracelet/log"
	"github.com/gorilla/sessions"
	"github.com/hvdberg/spotlink/internal/services"
	"github.com/hvdberg/spotlink/internal/shared"
)

// Session keys for the pending-authorization binding.
const (
	sessionKeyUserID = "user_id"
	sessionKeyState  = "oauth_state"
)

// SpotifyHandler serves the Spotify account-linking endpoints.
//
// The authorization-start leg binds the authenticated user (and a random
// state value) into the session and commits it before the authorization URL
// is returned; the callback leg, which arrives as a bare cross-site redirect,
// resolves that binding to attribute the authorization code to a user.
type SpotifyHandler struct {
	linker      *services.Linker
	store       sessions.Store
	sessionName string
	frontendURL string
	logger      *log.Logger
}

// NewSpotifyHandler creates a new [SpotifyHandler].
func NewSpotifyHandler(linker *services.Linker, store sessions.Store, sessionName, frontendURL string, logger *log.Logger) *SpotifyHandler {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &SpotifyHandler{
		linker:      linker,
		store:       store,
		sessionName: sessionName,
		frontendURL: frontendURL,
		logger:      logger,
	}
}

// AuthURL handles GET /spotify/auth-url.
//
// The session carrying the user binding must be durably committed before the
// URL goes out; otherwise the callback could arrive with nothing to attribute
// it to. A failed commit therefore fails the whole request and no URL is
// issued.
func (h *SpotifyHandler) AuthURL(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	sess, err := h.store.Get(r, h.sessionName)
	if err != nil && sess == nil {
		h.logger.Error("session load failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "could not load session")
		return
	}

	state, err := shared.GenerateState()
	if err != nil {
		h.logger.Error("state generation failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "could not create authorization state")
		return
	}

	sess.Values[sessionKeyUserID] = userID
	sess.Values[sessionKeyState] = state

	if err := sess.Save(r, w); err != nil {
		h.logger.Error("session save failed", "user_id", userID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "could not save session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"authURL": h.linker.AuthorizationURL(state)})
}

// Callback handles GET /spotify/callback, the provider redirect carrying the
// authorization code.
//
// Every failure redirects to the front-end origin with an error_message query
// parameter; the callback has no first-party credential of its own, so a
// missing session binding is the most important failure path and performs no
// token exchange at all.
func (h *SpotifyHandler) Callback(w http.ResponseWriter, r *http.Request) {
	sess, _ := h.store.Get(r, h.sessionName)

	userID, uok := sess.Values[sessionKeyUserID].(string)
	boundState, sok := sess.Values[sessionKeyState].(string)
	if !uok || userID == "" || !sok || boundState == "" {
		h.logger.Warn("callback without pending authorization", "error", shared.ErrMissingBinding)
		h.redirectError(w, r, "user not authenticated, please reconnect")
		return
	}

	// The binding is read-once: consume it before doing anything else.
	delete(sess.Values, sessionKeyUserID)
	delete(sess.Values, sessionKeyState)
	if err := sess.Save(r, w); err != nil {
		h.logger.Warn("failed to consume authorization binding", "user_id", userID, "error", err)
	}

	query := r.URL.Query()

	if errParam := query.Get("error"); errParam != "" {
		h.logger.Warn("authorization denied by provider", "user_id", userID, "reason", errParam)
		h.redirectError(w, r, errParam)
		return
	}

	if query.Get("state") != boundState {
		h.logger.Warn("callback state mismatch", "user_id", userID, "error", shared.ErrInvalidState)
		h.redirectError(w, r, "invalid state parameter")
		return
	}

	code := query.Get("code")
	if code == "" {
		h.redirectError(w, r, "missing authorization code")
		return
	}

	if _, err := h.linker.CompleteAuthorization(r.Context(), userID, code); err != nil {
		h.logger.Error("callback failed", "user_id", userID, "error", err)
		h.redirectError(w, r, callbackErrorMessage(err))
		return
	}

	http.Redirect(w, r, h.frontendURL, http.StatusFound)
}

// Token handles GET /spotify/token. It answers with a token guaranteed fresh
// at the time of the call, refreshing transparently when needed.
func (h *SpotifyHandler) Token(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	token, err := h.linker.UsableAccessToken(r.Context(), userID)
	switch {
	case errors.Is(err, shared.ErrNotLinked):
		writeJSONError(w, http.StatusNotFound, "no linked spotify account")
	case errors.Is(err, shared.ErrNeedsReauth):
		writeJSONError(w, http.StatusForbidden, "spotify authorization revoked, please reconnect")
	case err != nil:
		h.logger.Error("token lookup failed", "user_id", userID, "error", err)
		writeJSONError(w, http.StatusBadGateway, "could not obtain spotify token")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": token})
	}
}

// Check handles GET /spotify/check by probing the Spotify profile endpoint
// with a usable token.
func (h *SpotifyHandler) Check(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	profile, err := h.linker.Profile(r.Context(), userID)
	switch {
	case errors.Is(err, shared.ErrNotLinked):
		writeJSONError(w, http.StatusNotFound, "no linked spotify account")
	case errors.Is(err, shared.ErrNeedsReauth):
		writeJSONError(w, http.StatusForbidden, "spotify authorization revoked, please reconnect")
	case err != nil:
		h.logger.Error("spotify check failed", "user_id", userID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "error checking spotify token")
	default:
		writeJSON(w, http.StatusOK, profile)
	}
}

// Refresh handles POST /spotify/refresh, the service-to-service refresh
// identified by the X-User-ID header rather than a bearer token.
func (h *SpotifyHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-ID")
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	token, err := h.linker.ForceRefresh(r.Context(), userID)
	switch {
	case errors.Is(err, shared.ErrNotLinked):
		writeJSONError(w, http.StatusBadRequest, "no spotify refresh token found")
	case err != nil:
		h.logger.Error("refresh failed", "user_id", userID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "error refreshing spotify token")
	default:
		writeJSON(w, http.StatusOK, map[string]string{"accessToken": token})
	}
}

// Unlink handles DELETE /spotify/link, removing the stored credential.
func (h *SpotifyHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserID(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "user not authenticated")
		return
	}

	if err := h.linker.Unlink(userID); err != nil {
		if errors.Is(err, shared.ErrNotLinked) {
			writeJSONError(w, http.StatusNotFound, "no linked spotify account")
			return
		}
		h.logger.Error("unlink failed", "user_id", userID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "could not unlink spotify account")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SpotifyHandler) redirectError(w http.ResponseWriter, r *http.Request, message string) {
	target := h.frontendURL + "/?error_message=" + url.QueryEscape(message)
	http.Redirect(w, r, target, http.StatusFound)
}

// callbackErrorMessage maps an orchestration error to the human-readable
// reason surfaced on the front-end error page.
func callbackErrorMessage(err error) string {
	switch {
	case errors.Is(err, shared.ErrIncompleteTokenResponse):
		return "no tokens received from spotify"
	case errors.Is(err, shared.ErrAPIRequest):
		return "could not reach spotify"
	default:
		return "error handling spotify callback"
	}
}
