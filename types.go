package mallornauth

import (
	"context"
	"time"
)

// UserAccount is the engine's view of one account record. The caller owns
// account storage; the engine only reads identity fields and drives the
// lockout counters through the [AccountProvider] operations.
type UserAccount struct {
	ID          string
	DisplayName string
	LoginName   string
	Email       string
	// SecretHash is the stored secret in whatever encoding the configured
	// secret verifier understands. Opaque to the engine.
	SecretHash string

	FailedAttempts int
	Locked         bool
	// LockExpiresAt is nil for an indefinite lock.
	LockExpiresAt *time.Time
}

// AccountProvider is the caller-supplied account backend. Lookup resolves
// either the login handle or the email through the same operation so the
// engine never has to guess which one the identifier is.
//
// Counter operations must be durable: lockout state survives restarts.
// Unknown identifiers are signalled with [ErrUserNotFound].
type AccountProvider interface {
	GetUserByLogin(ctx context.Context, identifier string) (*UserAccount, error)
	GetUserByID(ctx context.Context, userID string) (*UserAccount, error)

	// IncrementFailedAttempts adds one to the failure counter and returns
	// the new value.
	IncrementFailedAttempts(ctx context.Context, userID string) (int, error)
	ResetFailedAttempts(ctx context.Context, userID string) error

	// SetLock marks the account locked until the given instant
	// (nil = indefinite).
	SetLock(ctx context.Context, userID string, until *time.Time) error
	ClearLock(ctx context.Context, userID string) error

	// UpdateLastLogin records the successful-login metadata: timestamp and
	// originating IP (empty when unknown).
	UpdateLastLogin(ctx context.Context, userID string, at time.Time, ip string) error
}

// SecretVerifier checks a presented secret against a stored hash. A clean
// mismatch is (false, nil); errors are reserved for malformed hashes and
// backend faults. The default implementation is [password.Argon2].
type SecretVerifier interface {
	Verify(secret, storedHash string) (bool, error)
}

// DeviceContext describes the device a session is issued to. IP and
// UserAgent default to the context values set via [WithClientIP] and
// [WithUserAgent] when left empty.
type DeviceContext struct {
	DeviceID  string
	IP        string
	UserAgent string
}

// UserSummary is the identity slice of a session result.
type UserSummary struct {
	ID          string
	DisplayName string
	LoginName   string
	Email       string
}

// Session is the result of a successful login or renewal.
type Session struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RenewalToken     string
	RenewalExpiresAt time.Time
	User             UserSummary
}

// LoginEvent is delivered to the optional [LoginNotifier] after every
// successful login, once the session is fully issued.
type LoginEvent struct {
	UserID       string
	CredentialID string
	At           time.Time
	IP           string
	UserAgent    string
	DeviceID     string
}

// LoginNotifier receives successful-login events. Notify runs synchronously
// on the login path and must return quickly; failures are the notifier's
// problem, the login has already succeeded.
type LoginNotifier interface {
	Notify(ctx context.Context, event LoginEvent)
}
