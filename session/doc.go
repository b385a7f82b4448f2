// Package session keeps the server-side revocation state for stateless
// session tokens in Redis.
//
// Two kinds of entry exist: a per-token revocation key written on logout,
// and a per-identity "not before" watermark written when every session of an
// identity must end (password change). Both expire on their own once the
// tokens they cover can no longer be valid.
//
// This package does not parse tokens or decide account status. The Engine
// consults it only when revocation checks are enabled.
package session
