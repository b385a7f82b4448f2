// Package jwt issues and verifies the stateless bearer tokens that represent a
// signed-in session.
//
// A token carries the identity's external id, email, role, issue and expiry
// times, and a KSUID token id (jti). Verification checks signature, algorithm,
// issuer, audience and expiry only; revocation and account status are layered
// on top by the Engine.
package jwt
