// Package mallornauth provides a session lifecycle engine: password login
// with per-account lockout, short-lived signed access tokens, single-use
// rotating renewal credentials, and early revocation through a Redis
// denylist.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// mallornauth is the public surface. It exposes [Engine], [Builder],
// [Config], and value types (Session, MetricsSnapshot, AuditEvent). Token
// signing lives in the token sub-package, credential persistence in
// credential, and denylisting in denylist; account storage stays with the
// caller behind [AccountProvider].
//
// # What this package must NOT do
//
//   - Store or manage account records; it only reads identity fields and
//     drives the lockout counters through [AccountProvider].
//   - Expose Redis clients, store handles, or token encoding details in its
//     public API.
//   - Import any sub-package that re-imports mallornauth (no import cycles).
//
// # Performance contract
//
// VerifyAccess is the hot path. Signature and expiry checks are pure
// computation; the denylist adds at most one Redis round-trip. Login and
// Renew are allowed one credential-store write plus the configured throttle
// and denylist traffic.
package mallornauth
