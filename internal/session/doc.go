// Package session maintains the registry of live CDB sessions.
//
// Sessions are keyed by their target: the canonicalized dump file path for
// dump sessions, the raw connection string for remote ones. A key maps to at
// most one live session at a time, even under concurrent creation; callers
// share the session through counted handles, and a session can only be
// closed once no handles are outstanding.
package session
