// Package hostauth is the identity core of a hosting storefront: password
// credentials, TOTP second factor, single-use recovery codes, stateless
// session tokens and a durable security event log.
//
// Build an [Engine] with [New], supplying a [CredentialStore] (see
// store/sqlstore) and optionally a Redis client for token revocation.
// Engine methods are safe to call from multiple goroutines.
//
// # Architecture boundaries
//
// hostauth is the public surface. It exposes [Engine], [Builder], [Config]
// and value types. Flow orchestration, secret sealing, id generation, the
// hashing worker pool and audit fan-out live under internal/.
//
// # What this package must NOT do
//
//   - Return plaintext secrets after enrollment, or any password hash.
//   - Tell a caller whether a login failed on the email or the password.
//   - Import any sub-package that re-imports hostauth (store/sqlstore,
//     httpapi and middleware import this package, not the reverse).
//
// # Origin metadata
//
// Attach the caller's address and user agent with [WithClientIP] and
// [WithUserAgent]; they are copied onto security events, session records
// and notifications.
package hostauth
