// Package internal groups helpers that are intentionally private to
// mallorn-auth.
//
// # Sub-packages
//
//   - rate — Redis-backed fixed-window rate limit primitives
//   - userlock — per-user keyed mutexes for issuance serialization
//
// # What this package must NOT do
//
//   - Export types that appear in the public mallorn-auth API.
//   - Be imported by any package outside the mallorn-auth module.
package internal
