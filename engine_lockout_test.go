package mallornauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLockout_ThresholdTriggersLock(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()

	// Every wrong-secret attempt reads the same, including the one that
	// engages the lock: a different answer there would tell a guesser
	// exactly when the counter crossed the threshold.
	for i := 0; i < env.engine.config.Lockout.Threshold; i++ {
		_, err := env.engine.Login(ctx, "alice", "wrong-password", DeviceContext{})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	// The lock surfaces from the next attempt on.
	_, err := env.engine.Login(ctx, "alice", "wrong-password", DeviceContext{})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("post-threshold attempt: expected ErrAccountLocked, got %v", err)
	}

	var lerr *LockedError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *LockedError, got %T", err)
	}
	if lerr.Until == nil {
		t.Fatal("expected lock expiry with non-zero lockout duration")
	}
}

func TestLockout_LockedUserCannotLoginWithCorrectPassword(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()

	for i := 0; i < env.engine.config.Lockout.Threshold; i++ {
		env.engine.Login(ctx, "alice", "wrong-password", DeviceContext{})
	}

	_, err := env.engine.Login(ctx, "alice", alicePassword, DeviceContext{})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked for locked user, got %v", err)
	}

	// The correct-password attempt while locked must not advance the counter.
	if got := env.accounts.get("u1").FailedAttempts; got != env.engine.config.Lockout.Threshold {
		t.Fatalf("expected counter unchanged at %d, got %d", env.engine.config.Lockout.Threshold, got)
	}
}

func TestLockout_ExpiresWithClock(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()

	for i := 0; i < env.engine.config.Lockout.Threshold; i++ {
		env.engine.Login(ctx, "alice", "wrong-password", DeviceContext{})
	}

	_, err := env.engine.Login(ctx, "alice", alicePassword, DeviceContext{})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked before expiry, got %v", err)
	}

	env.clock.Advance(env.engine.config.Lockout.Duration + time.Second)

	sess, err := env.engine.Login(ctx, "alice", alicePassword, DeviceContext{})
	if err != nil {
		t.Fatalf("login after lock expiry failed: %v", err)
	}
	if sess.AccessToken == "" {
		t.Fatal("expected session after lock expiry")
	}

	if got := env.accounts.get("u1").FailedAttempts; got != 0 {
		t.Fatalf("expected counter reset after unlock, got %d", got)
	}
}

func TestLockout_CounterResetsOnSuccessfulLogin(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()
	threshold := env.engine.config.Lockout.Threshold

	for i := 0; i < threshold-1; i++ {
		_, err := env.engine.Login(ctx, "alice", "wrong-password", DeviceContext{})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	mustLogin(t, env, "alice", alicePassword)

	// After the reset, N-1 more failures still stay under the threshold.
	for i := 0; i < threshold-1; i++ {
		_, err := env.engine.Login(ctx, "alice", "wrong-password", DeviceContext{})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("post-reset attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	mustLogin(t, env, "alice", alicePassword)
}

func TestLockout_IndefiniteWithZeroDuration(t *testing.T) {
	cfg := testConfig()
	cfg.Lockout.Duration = 0
	env := newTestEngine(t, cfg)
	ctx := context.Background()

	for i := 0; i < cfg.Lockout.Threshold; i++ {
		env.engine.Login(ctx, "alice", "wrong-password", DeviceContext{})
	}

	env.clock.Advance(365 * 24 * time.Hour)

	_, err := env.engine.Login(ctx, "alice", alicePassword, DeviceContext{})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected indefinite lock to persist, got %v", err)
	}

	var lerr *LockedError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected *LockedError, got %T", err)
	}
	if lerr.Until != nil {
		t.Fatalf("expected nil Until for indefinite lock, got %v", lerr.Until)
	}
}

func TestLockout_OtherUsersNotAffected(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()

	for i := 0; i < env.engine.config.Lockout.Threshold; i++ {
		env.engine.Login(ctx, "alice", "wrong-password", DeviceContext{})
	}

	mustLogin(t, env, "bob", bobPassword)
}

func TestLockout_DisabledNeverLocks(t *testing.T) {
	cfg := testConfig()
	cfg.Lockout.Enabled = false
	env := newTestEngine(t, cfg)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		_, err := env.engine.Login(ctx, "alice", "wrong-password", DeviceContext{})
		if errors.Is(err, ErrAccountLocked) {
			t.Fatalf("attempt %d: got unexpected ErrAccountLocked with lockout disabled", i+1)
		}
	}

	mustLogin(t, env, "alice", alicePassword)
}

func TestLockout_LockedAccountCannotRenew(t *testing.T) {
	env := newTestEngine(t, testConfig())
	ctx := context.Background()

	sess := mustLogin(t, env, "alice", alicePassword)

	for i := 0; i < env.engine.config.Lockout.Threshold; i++ {
		env.engine.Login(ctx, "alice", "wrong-password", DeviceContext{})
	}

	_, err := env.engine.Renew(ctx, sess.RenewalToken, DeviceContext{})
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked on renew, got %v", err)
	}
}
