package mallornauth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned for both an unknown identifier and a
	// wrong secret, so callers cannot probe which accounts exist.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned when the account is under a failure lockout.
	ErrAccountLocked = errors.New("account locked")
	// ErrInvalidCredential is returned when a renewal credential is unknown,
	// revoked, or expired. One error for all three, same reasoning as above.
	ErrInvalidCredential = errors.New("invalid renewal credential")
	// ErrTokenRevoked is returned when a structurally valid access token has
	// been revoked before its natural expiry.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrLoginThrottled is returned when the login throttle budget is exhausted.
	ErrLoginThrottled = errors.New("login rate limited")
	// ErrRenewThrottled is returned when the renewal throttle budget is exhausted.
	ErrRenewThrottled = errors.New("renewal rate limited")
	// ErrUserNotFound is the sentinel an AccountProvider returns for an
	// unknown identifier. The engine maps it to ErrInvalidCredentials.
	ErrUserNotFound = errors.New("user not found")
	// ErrInternal wraps store, provider, and codec faults. The detail stays
	// in the wrapped error for logs; callers only match the sentinel.
	ErrInternal = errors.New("internal failure")
	// ErrEngineNotReady is returned when the engine was not built via the Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// LockedError carries the unlock time of a lockout. It matches
// errors.Is(err, ErrAccountLocked); Until is nil for an indefinite lock.
type LockedError struct {
	Until *time.Time
}

func (e *LockedError) Error() string {
	if e.Until == nil {
		return "account locked"
	}
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Unwrap() error {
	return ErrAccountLocked
}

func internalError(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
}
