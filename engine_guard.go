package mallornauth

import (
	"context"
	"time"
)

// accountGuard drives the consecutive-failure lockout against the
// AccountProvider's durable counters. The guard owns the policy (threshold,
// duration, lazy unlock); the provider owns the state.
type accountGuard struct {
	cfg      LockoutConfig
	accounts AccountProvider
	now      func() time.Time
}

// checkLock reports whether the account is currently locked, clearing
// expired locks on the way (lazy unlock: nothing watches lock expiry, the
// next attempt resolves it).
func (g *accountGuard) checkLock(ctx context.Context, user *UserAccount) (bool, *time.Time, error) {
	if !g.cfg.Enabled || !user.Locked {
		return false, nil, nil
	}

	if user.LockExpiresAt != nil && !user.LockExpiresAt.After(g.now()) {
		if err := g.accounts.ClearLock(ctx, user.ID); err != nil {
			return false, nil, internalError("clear lock", err)
		}
		if err := g.accounts.ResetFailedAttempts(ctx, user.ID); err != nil {
			return false, nil, internalError("reset failed attempts", err)
		}
		user.Locked = false
		user.LockExpiresAt = nil
		user.FailedAttempts = 0
		return false, nil, nil
	}

	return true, user.LockExpiresAt, nil
}

// recordFailure increments the failure counter and, at the threshold,
// transitions the account to locked. Returns whether this failure locked
// the account and the lock expiry.
func (g *accountGuard) recordFailure(ctx context.Context, user *UserAccount) (bool, *time.Time, error) {
	if !g.cfg.Enabled {
		return false, nil, nil
	}

	count, err := g.accounts.IncrementFailedAttempts(ctx, user.ID)
	if err != nil {
		return false, nil, internalError("increment failed attempts", err)
	}
	if count < g.cfg.Threshold {
		return false, nil, nil
	}

	var until *time.Time
	if g.cfg.Duration > 0 {
		t := g.now().Add(g.cfg.Duration)
		until = &t
	}
	if err := g.accounts.SetLock(ctx, user.ID, until); err != nil {
		return false, nil, internalError("set lock", err)
	}

	return true, until, nil
}

// recordSuccess resets the failure counter and clears any lock,
// unconditionally. A successful verification is proof of ownership.
func (g *accountGuard) recordSuccess(ctx context.Context, user *UserAccount) error {
	if !g.cfg.Enabled {
		return nil
	}

	if err := g.accounts.ResetFailedAttempts(ctx, user.ID); err != nil {
		return internalError("reset failed attempts", err)
	}
	if user.Locked {
		if err := g.accounts.ClearLock(ctx, user.ID); err != nil {
			return internalError("clear lock", err)
		}
	}
	return nil
}
