// Package services implements the Spotify OAuth2 client and the token
// lifecycle orchestration on top of it.
//
// # Auth Service
//
// [SpotifyAuthService] implements [AuthService]: authorization URL
// construction, the authorization-code exchange, token refresh, and the
// profile lookup used to resolve the Spotify-side user id. Exchange and
// refresh are single-attempt calls. Authorization codes are single-use, so a
// failed exchange is never retried with the same code.
//
// Provider responses are validated into typed results instead of being
// trusted field-by-field downstream: a 200 response missing a token maps to
// [shared.ErrIncompleteTokenResponse], and an invalid_grant refresh failure
// maps to [shared.ErrRefreshRejected].
//
// # Linker
//
// [Linker] ties the auth service to the credential store. Per user the
// credential moves through: unlinked → pending callback → linked →
// (access expired) → linked again after refresh, or reauthorization required
// when the provider rejects the refresh token. [Linker.UsableAccessToken] is
// the only read entry point other subsystems should use; it performs the
// lazy expiry check and transparent refresh internally.
//
// # Error Handling
//
// Services use typed errors from the shared package:
//   - [shared.ErrNotLinked] : user has no stored credential
//   - [shared.ErrNeedsReauth] : refresh rejected, user must re-run authorization
//   - [shared.ErrTokenExpired] : Spotify rejected the bearer token
//   - [shared.ErrAPIRequest] : HTTP transport failure
package services
