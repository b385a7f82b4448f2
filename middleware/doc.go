// Package middleware adapts hostauth session verification to net/http.
//
// # Guards
//
//   - [Guard] selects a [Mode] explicitly.
//   - [RequireToken] checks signature, expiry and revocation only.
//   - [RequireActive] additionally reads the identity and rejects suspended
//     or banned accounts.
//
// Each guard reads the Authorization bearer token, delegates the decision
// to the Engine and stores the resulting [hostauth.Principal] in the request
// context. [ClientInfo] copies the caller's address and User-Agent into the
// context so the Engine can record them on security events.
//
// This package does not parse tokens or touch Redis itself.
package middleware
