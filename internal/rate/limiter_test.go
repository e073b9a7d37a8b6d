package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client, cfg), mr
}

func TestLoginThrottle_BudgetAndReset(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		EnableLoginThrottle:   true,
		MaxLoginAttempts:      3,
		LoginCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.IncrementLogin(ctx, "alice", ""); err != nil {
			t.Fatalf("increment %d: %v", i+1, err)
		}
	}

	if err := l.IncrementLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited after budget, got %v", err)
	}
	if err := l.CheckLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited from check, got %v", err)
	}

	if err := l.ResetLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := l.CheckLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("expected clean slate after reset, got %v", err)
	}
}

func TestLoginThrottle_WindowExpires(t *testing.T) {
	l, mr := newTestLimiter(t, Config{
		EnableLoginThrottle:   true,
		MaxLoginAttempts:      1,
		LoginCooldownDuration: 30 * time.Second,
	})
	ctx := context.Background()

	_ = l.IncrementLogin(ctx, "alice", "")
	if err := l.IncrementLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	mr.FastForward(time.Minute)

	if err := l.CheckLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("expected window expiry to clear the counter, got %v", err)
	}
}

func TestRenewThrottle(t *testing.T) {
	l, _ := newTestLimiter(t, Config{
		EnableRenewThrottle:   true,
		MaxRenewAttempts:      2,
		RenewCooldownDuration: time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.CheckRenew(ctx, "cred-key"); err != nil {
			t.Fatalf("renew %d: %v", i+1, err)
		}
	}
	if err := l.CheckRenew(ctx, "cred-key"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.CheckRenew(ctx, "other-key"); err != nil {
		t.Fatalf("independent credential must not be throttled, got %v", err)
	}
}

func TestDisabledThrottlesAreNoOps(t *testing.T) {
	l, mr := newTestLimiter(t, Config{})
	ctx := context.Background()

	if err := l.CheckLogin(ctx, "alice", "1.2.3.4"); err != nil {
		t.Fatalf("check: %v", err)
	}
	if err := l.IncrementLogin(ctx, "alice", "1.2.3.4"); err != nil {
		t.Fatalf("increment: %v", err)
	}
	if err := l.CheckRenew(ctx, "cred-key"); err != nil {
		t.Fatalf("renew: %v", err)
	}
	if len(mr.Keys()) != 0 {
		t.Fatalf("disabled limiter must not touch redis, found keys %v", mr.Keys())
	}
}
