// Package rate provides internal primitives used to build Redis-backed rate limit keys,
// errors, and limiter behavior for security-sensitive authentication workflows.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - mrl:login:id: — login per-identifier
//   - mrl:login:ip: — login per-IP
//   - mrl:renew:    — renewal per-credential
//
// # What this package must NOT do
//
//   - Decide which operations get throttled (the engine wires the budgets).
//   - Be imported outside the mallorn-auth module.
package rate
