// Package password implements secret hashing and verification with Argon2id.
//
// # Output format
//
// Hashes are encoded in PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Argon2] supports transparent parameter upgrades: if a stored hash was
// produced with weaker parameters, [Argon2.NeedsUpgrade] returns true so the
// caller can re-hash on the next successful verification.
//
// This package owns hashing and verification only. It never stores secrets,
// and it is the default implementation behind the engine's secret verifier
// interface — deployments with an existing hash scheme substitute their own.
package password
