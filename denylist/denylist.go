// Package denylist tracks revoked access-token ids until their natural
// expiry. Entries are keyed by the token's unique id (jti) and carry a TTL
// equal to the token's remaining lifetime, so the set stays bounded by the
// access-token volume of one TTL window. Absence — including absence after
// TTL lapse — means "not revoked".
package denylist

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend failures so callers can distinguish them from
// a definitive answer.
var ErrUnavailable = errors.New("denylist backend unavailable")

// Registry is the revocation set consulted during access-token verification.
type Registry interface {
	// Blacklist records the token id as revoked until the given instant.
	// A zero or past instant is a no-op: an expired token needs no entry.
	Blacklist(ctx context.Context, id string, until time.Time) error

	// IsBlacklisted reports whether the token id is currently revoked.
	IsBlacklisted(ctx context.Context, id string) (bool, error)
}
