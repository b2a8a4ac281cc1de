// Package models defines the domain entities for the Spotify account-linking service.
//
// The package contains two categories of types:
//
// 1. Persistent entities: database-backed rows with full lifecycle management
//   - [Credential] : the per-user Spotify token pair with provider identity and expiry
//
// 2. Data Transfer Objects (DTOs): validated provider token responses
//   - [TokenPair] : the access/refresh pair produced by a code exchange
//   - [RefreshedToken] : the result of a refresh call, including a rotated
//     refresh token when the provider issued one
//
// A [Credential] is never persisted half-populated: Validate enforces that the
// access token, refresh token, provider user id, and expiry are all present
// before any write.
package models
