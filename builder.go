package mallornauth

import (
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yunhaishang/mallorn-auth/credential"
	"github.com/yunhaishang/mallorn-auth/denylist"
	"github.com/yunhaishang/mallorn-auth/internal/rate"
	"github.com/yunhaishang/mallorn-auth/internal/userlock"
	"github.com/yunhaishang/mallorn-auth/password"
	"github.com/yunhaishang/mallorn-auth/token"
)

// Builder assembles an [Engine]. Start from [New], chain the With* options,
// then call Build once. A Builder is not safe for concurrent use and cannot
// be reused after a successful Build.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store    credential.Store
	accounts AccountProvider
	verifier SecretVerifier
	registry denylist.Registry
	sink     AuditSink
	notifier LoginNotifier
	clock    func() time.Time

	built bool
}

// New returns a Builder loaded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client used for the denylist and the throttles.
// Required whenever either of those is enabled.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithCredentialStore sets the renewal-credential backend. Required; use
// [credential.NewPostgresStore] in production or [credential.NewMemoryStore]
// for tests and single-process deployments.
func (b *Builder) WithCredentialStore(store credential.Store) *Builder {
	b.store = store
	return b
}

// WithAccountProvider sets the caller-owned account backend. Required.
func (b *Builder) WithAccountProvider(accounts AccountProvider) *Builder {
	b.accounts = accounts
	return b
}

// WithSecretVerifier replaces the default argon2id verifier. Use this when
// stored hashes are in a format the default cannot read.
func (b *Builder) WithSecretVerifier(v SecretVerifier) *Builder {
	b.verifier = v
	return b
}

// WithDenylistRegistry replaces the default Redis-backed denylist.
func (b *Builder) WithDenylistRegistry(r denylist.Registry) *Builder {
	b.registry = r
	return b
}

// WithAuditSink sets the destination for audit events. Only consulted when
// auditing is enabled in the config.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.sink = sink
	return b
}

// WithLoginNotifier sets the optional successful-login callback.
func (b *Builder) WithLoginNotifier(n LoginNotifier) *Builder {
	b.notifier = n
	return b
}

// WithClock overrides the engine clock. Test hook; nil means time.Now.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithMetricsEnabled toggles the engine counter table.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the verify latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration, wires the components, and returns a
// ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.store == nil {
		return nil, errors.New("credential store required")
	}
	if b.accounts == nil {
		return nil, errors.New("account provider required")
	}

	needsRedis := cfg.Throttle.EnableLoginThrottle || cfg.Throttle.EnableRenewThrottle
	if (needsRedis || (cfg.Denylist.Enabled && b.registry == nil)) && b.redis == nil {
		return nil, errors.New("redis client required for denylist or throttles")
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	verifier := b.verifier
	if verifier == nil {
		a2, err := password.NewArgon2(password.Config{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
		})
		if err != nil {
			return nil, err
		}
		verifier = a2
	}

	codec, err := token.NewCodec(token.Config{
		Secret: cloneBytes(cfg.Token.Secret),
		Issuer: cfg.Token.Issuer,
		Leeway: cfg.Token.Leeway,
		Now:    clock,
	})
	if err != nil {
		return nil, err
	}

	registry := b.registry
	if registry == nil && cfg.Denylist.Enabled {
		registry = denylist.NewRedisRegistry(b.redis, cfg.Denylist.KeyPrefix).WithClock(clock)
	}

	engine := &Engine{
		config:   cfg,
		store:    b.store,
		accounts: b.accounts,
		verifier: verifier,
		codec:    codec,
		denylist: registry,
		locks:    userlock.NewSet(),
		notifier: b.notifier,
		now:      clock,
		ready:    true,
	}
	engine.guard = &accountGuard{
		cfg:      cfg.Lockout,
		accounts: b.accounts,
		now:      clock,
	}
	engine.limiter = rate.New(b.redis, rate.Config{
		EnableLoginThrottle:   cfg.Throttle.EnableLoginThrottle,
		EnableIPThrottle:      cfg.Throttle.EnableIPThrottle,
		EnableRenewThrottle:   cfg.Throttle.EnableRenewThrottle,
		MaxLoginAttempts:      cfg.Throttle.MaxLoginAttempts,
		LoginCooldownDuration: cfg.Throttle.LoginCooldownDuration,
		MaxRenewAttempts:      cfg.Throttle.MaxRenewAttempts,
		RenewCooldownDuration: cfg.Throttle.RenewCooldownDuration,
	})
	engine.audit = newAuditDispatcher(cfg.Audit, b.sink)
	engine.metrics = NewMetrics(cfg.Metrics)

	b.built = true

	return engine, nil
}
