package mallornauth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/yunhaishang/mallorn-auth/credential"
	"github.com/yunhaishang/mallorn-auth/denylist"
)

func validTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	return cfg
}

func TestConfigValidateAcceptsDefaults(t *testing.T) {
	cfg := validTestConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestConfigValidateRejections(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantSub string
	}{
		{
			name:    "short secret",
			mutate:  func(c *Config) { c.Token.Secret = []byte("too-short") },
			wantSub: "Secret",
		},
		{
			name:    "zero access ttl",
			mutate:  func(c *Config) { c.Token.AccessTTL = 0 },
			wantSub: "AccessTTL",
		},
		{
			name:    "excessive leeway",
			mutate:  func(c *Config) { c.Token.Leeway = 10 * time.Minute },
			wantSub: "Leeway",
		},
		{
			name:    "credential ttl below access ttl",
			mutate:  func(c *Config) { c.Credential.TTL = time.Minute },
			wantSub: "Credential TTL",
		},
		{
			name:    "negative ceiling",
			mutate:  func(c *Config) { c.Credential.DeviceCeiling = -1 },
			wantSub: "DeviceCeiling",
		},
		{
			name:    "lockout threshold zero",
			mutate:  func(c *Config) { c.Lockout.Threshold = 0 },
			wantSub: "Threshold",
		},
		{
			name:    "weak argon2 memory",
			mutate:  func(c *Config) { c.Password.Memory = 1024 },
			wantSub: "Memory",
		},
		{
			name: "ip throttle without login throttle",
			mutate: func(c *Config) {
				c.Throttle.EnableIPThrottle = true
				c.Throttle.EnableLoginThrottle = false
			},
			wantSub: "EnableIPThrottle",
		},
		{
			name: "login throttle without budget",
			mutate: func(c *Config) {
				c.Throttle.EnableLoginThrottle = true
				c.Throttle.MaxLoginAttempts = 0
			},
			wantSub: "MaxLoginAttempts",
		},
		{
			name: "renew throttle without cooldown",
			mutate: func(c *Config) {
				c.Throttle.EnableRenewThrottle = true
				c.Throttle.RenewCooldownDuration = 0
			},
			wantSub: "RenewCooldownDuration",
		},
		{
			name: "audit enabled without buffer",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantSub: "BufferSize",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("expected error mentioning %q, got %v", tc.wantSub, err)
			}
		})
	}
}

func TestConfigSecretIsCloned(t *testing.T) {
	secret := []byte("0123456789abcdef0123456789abcdef")
	cfg := validTestConfig()
	cfg.Token.Secret = secret

	cloned := cloneConfig(cfg)
	secret[0] = 'X'

	if cloned.Token.Secret[0] == 'X' {
		t.Fatal("expected cloned secret to be independent of the original")
	}
}

func TestBuilderRequiresStoreAndProvider(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	if _, err := New().WithConfig(validTestConfig()).WithRedis(client).Build(); err == nil {
		t.Fatal("expected error without credential store")
	}

	_, err := New().
		WithConfig(validTestConfig()).
		WithRedis(client).
		WithCredentialStore(credential.NewMemoryStore()).
		Build()
	if err == nil {
		t.Fatal("expected error without account provider")
	}
}

func TestBuilderRequiresRedisForDenylist(t *testing.T) {
	_, err := New().
		WithConfig(validTestConfig()).
		WithCredentialStore(credential.NewMemoryStore()).
		WithAccountProvider(newMemoryAccounts()).
		Build()
	if err == nil {
		t.Fatal("expected error: denylist enabled but no redis client")
	}
}

func TestBuilderBuildsWithoutRedisWhenDenylistOff(t *testing.T) {
	cfg := validTestConfig()
	cfg.Denylist.Enabled = false

	engine, err := New().
		WithConfig(cfg).
		WithCredentialStore(credential.NewMemoryStore()).
		WithAccountProvider(newMemoryAccounts()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	engine.Close()
}

func TestBuilderCustomDenylistRegistrySkipsRedisRequirement(t *testing.T) {
	engine, err := New().
		WithConfig(validTestConfig()).
		WithCredentialStore(credential.NewMemoryStore()).
		WithAccountProvider(newMemoryAccounts()).
		WithDenylistRegistry(denylist.NewMemoryRegistry()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	engine.Close()
}

func TestBuilderSingleUse(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b := New().
		WithConfig(validTestConfig()).
		WithRedis(client).
		WithCredentialStore(credential.NewMemoryStore()).
		WithAccountProvider(newMemoryAccounts())

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("first Build failed: %v", err)
	}
	engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected error on second Build")
	}
}

func TestEngineNotReady(t *testing.T) {
	var e Engine
	if _, err := e.Login(context.Background(), "alice", "x", DeviceContext{}); err != ErrEngineNotReady {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
}
