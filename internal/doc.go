// Package internal holds the engine's private building blocks:
//
//	audit     asynchronous fan-out of security events to sinks
//	flows     login and recovery code procedures as plain functions
//	ids       snowflake row ids, external ids and session ids
//	vault     key-ring sealing of TOTP secrets
//	workpool  bounded pool for argon2 and TOTP work
//
// None of these import the root hostauth package or leak their types into
// its public API.
package internal
