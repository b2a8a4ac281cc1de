// Package repositories implements SQLite persistence for linked Spotify credentials.
//
// [CredentialRepository] owns the credentials table: one row per first-party
// user, written only as a whole (upsert) or through a compare-and-swap token
// update. The compare-and-swap protects against the lost-update race where an
// older refresh result overwrites a newer one when duplicate refresh requests
// run concurrently.
package repositories
