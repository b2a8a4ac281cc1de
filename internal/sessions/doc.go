// Package sessions implements a SQLite-backed [sessions.Store] for the
// authenticated browser session that carries the pending-authorization
// binding across the provider redirect.
//
// The cookie holds only the signed session id; values live in the sessions
// table. Save performs a synchronous upsert and returns only after the row is
// committed, so a caller can refuse to hand out an authorization URL unless
// the binding the callback will need is durably stored. No in-memory caching
// is assumed to survive the round trip to the provider and back.
package sessions
