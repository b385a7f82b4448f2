// Package password implements argon2id hashing for account passwords and
// recovery codes.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Two profiles are provided. [PrimaryConfig] is used for user-chosen passwords
// and [RecoveryConfig] for machine-generated recovery codes. [Argon2.Verify]
// reads the parameters from the stored hash, so both profiles (and hashes from
// older parameter sets) verify through the same code path.
//
// [Argon2.NeedsUpgrade] reports when a stored hash is weaker than the current
// profile so the caller can rehash after a successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (length,
// reuse) is enforced by the Engine, and scheduling onto the worker pool is the
// caller's job.
//
//   - Never stores or retrieves passwords.
//   - Never imports any other hostauth package.
//   - Never logs plaintext or hash material.
package password
