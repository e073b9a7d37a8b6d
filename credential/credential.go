// Package credential persists the long-lived renewal credentials that back
// issued sessions. A credential is an opaque random token held by one client
// device; presenting it (renewal) yields a fresh access token and, when
// rotation is enabled, a replacement credential. Revocation is monotonic:
// once revoked a credential never becomes active again, and the first
// revocation timestamp and reason are never overwritten.
package credential

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrNotFound is returned when no credential matches the given token.
	ErrNotFound = errors.New("credential not found")
	// ErrNotActive is returned by Consume when the credential exists but is
	// already revoked or expired; the concurrent loser of a rotation race
	// observes this.
	ErrNotActive = errors.New("credential not active")
)

const tokenBytes = 32

// Credential is one renewal credential row.
type Credential struct {
	ID           string
	Token        string
	UserID       string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Revoked      bool
	RevokedAt    *time.Time
	RevokeReason string
	RevokedBy    string
	// ReplacedBy holds the token value of the credential minted by the
	// rotation that consumed this one. Empty for live credentials and for
	// credentials revoked without rotation.
	ReplacedBy string
	IP         string
	UserAgent  string
	DeviceID   string
	LastUsedAt *time.Time
	CreatedBy  string
}

// Active reports whether the credential can still be used at the given instant.
func (c *Credential) Active(now time.Time) bool {
	return c != nil && !c.Revoked && c.ExpiresAt.After(now)
}

// CreateParams describes a credential to be persisted. ID and Token are
// generated by the store.
type CreateParams struct {
	UserID    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	IP        string
	UserAgent string
	DeviceID  string
	CreatedBy string
}

// Store is the persistence contract for renewal credentials.
//
// Time is always passed in explicitly so that stores stay clock-agnostic and
// the engine's injected clock governs expiry everywhere.
type Store interface {
	// Create persists a new credential with a freshly generated token.
	Create(ctx context.Context, p CreateParams) (*Credential, error)

	// FindByToken returns the credential for the exact token value,
	// regardless of revocation or expiry. ErrNotFound when unknown.
	FindByToken(ctx context.Context, token string) (*Credential, error)

	// ListActiveForUser returns the user's active credentials ordered most
	// recently used first (LastUsedAt, falling back to IssuedAt), so the
	// tail of the slice is the eviction candidate set.
	ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]*Credential, error)

	// Revoke marks the credential revoked. Idempotent: returns true when the
	// row exists even if it was already revoked, false when unknown. An
	// earlier revocation timestamp and reason are preserved.
	Revoke(ctx context.Context, token, reason, revokedBy string, at time.Time) (bool, error)

	// Consume atomically revokes the credential iff it is currently active
	// and returns its prior state. Exactly one of any set of concurrent
	// callers succeeds; the rest get ErrNotActive. This is the rotation
	// single-winner guarantee.
	Consume(ctx context.Context, token, reason, revokedBy string, at time.Time) (*Credential, error)

	// LinkReplacement records newToken as the successor of oldToken.
	LinkReplacement(ctx context.Context, oldToken, newToken string) error

	// Touch updates LastUsedAt. Used by non-rotating renewal.
	Touch(ctx context.Context, token string, at time.Time) error

	// RevokeAllForUser revokes every active credential of the user and
	// returns how many were transitioned.
	RevokeAllForUser(ctx context.Context, userID, reason, revokedBy string, at time.Time) (int, error)

	// DeleteExpired hard-deletes rows past expiry, revoked or not, and
	// returns how many were removed. Maintenance only.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// newTokenValue generates the opaque credential token: 256 bits from
// crypto/rand, base64url without padding (43 chars).
func newTokenValue() (string, error) {
	var raw [tokenBytes]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw[:]), nil
}

func newID() string {
	return ulid.Make().String()
}
