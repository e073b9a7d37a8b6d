package mallornauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yunhaishang/mallorn-auth/token"
)

func TestVerifyAccess_ValidToken(t *testing.T) {
	env := newTestEngine(t, testConfig())

	sess := mustLogin(t, env, "alice", alicePassword)

	claims, err := env.engine.VerifyAccess(context.Background(), sess.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess failed: %v", err)
	}
	if claims.Subject != "u1" {
		t.Fatalf("expected subject u1, got %q", claims.Subject)
	}
	if claims.Email != "alice@example.com" {
		t.Fatalf("unexpected email claim: %q", claims.Email)
	}
	if claims.ID == "" {
		t.Fatal("expected a token id")
	}
}

func TestVerifyAccess_ExpiredToken(t *testing.T) {
	env := newTestEngine(t, testConfig())

	sess := mustLogin(t, env, "alice", alicePassword)
	env.clock.Advance(env.engine.config.Token.AccessTTL + time.Second)

	_, err := env.engine.VerifyAccess(context.Background(), sess.AccessToken)
	if !errors.Is(err, token.ErrExpired) {
		t.Fatalf("expected token.ErrExpired, got %v", err)
	}
}

func TestVerifyAccess_MalformedToken(t *testing.T) {
	env := newTestEngine(t, testConfig())

	for _, input := range []string{"", "garbage", "a.b", "a.b.c.d"} {
		_, err := env.engine.VerifyAccess(context.Background(), input)
		if !errors.Is(err, token.ErrMalformed) {
			t.Fatalf("input %q: expected token.ErrMalformed, got %v", input, err)
		}
	}
}

func TestVerifyAccess_ForeignSignature(t *testing.T) {
	env := newTestEngine(t, testConfig())

	otherCfg := testConfig()
	otherCfg.Token.Secret = []byte("fedcba9876543210fedcba9876543210")
	other := newTestEngine(t, otherCfg)

	sess := mustLogin(t, other, "alice", alicePassword)

	_, err := env.engine.VerifyAccess(context.Background(), sess.AccessToken)
	if !errors.Is(err, token.ErrBadSignature) {
		t.Fatalf("expected token.ErrBadSignature, got %v", err)
	}
}

func TestVerifyAccess_DenylistUnavailableFailsClosed(t *testing.T) {
	env := newTestEngine(t, testConfig())

	sess := mustLogin(t, env, "alice", alicePassword)
	env.redis.Close()

	_, err := env.engine.VerifyAccess(context.Background(), sess.AccessToken)
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal with denylist down, got %v", err)
	}
}

func TestVerifyAccess_DenylistDisabledSkipsRedis(t *testing.T) {
	cfg := testConfig()
	cfg.Denylist.Enabled = false
	env := newTestEngine(t, cfg)

	sess := mustLogin(t, env, "alice", alicePassword)
	env.redis.Close()

	// With the denylist off, verification is pure computation.
	if _, err := env.engine.VerifyAccess(context.Background(), sess.AccessToken); err != nil {
		t.Fatalf("VerifyAccess should not touch redis: %v", err)
	}
}
