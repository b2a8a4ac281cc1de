// Package server provides HTTP routing, middleware, and the Spotify
// account-linking endpoints.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Middleware
//
//   - [RequestLogger] : structured request logging
//   - [Authenticate] : first-party HS256 bearer validation; the resolved user
//     id is read back with [UserID]
//   - [Throttle] : per-client token-bucket rate limiting
//
// # Spotify Endpoints
//
// [SpotifyHandler] implements the linking flow. Authorization-start requires
// an authenticated caller and commits the session binding before returning
// the authorization URL. The callback route is unauthenticated on purpose: it
// arrives as a cross-site redirect from the provider and is attributed to a
// user solely through the committed session binding, with the state parameter
// verified against the bound value. The token, check, and unlink routes
// require authentication; the refresh route is service-to-service and keyed
// by the X-User-ID header.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
