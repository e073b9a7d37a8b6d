package mallornauth

import (
	"errors"
	"time"
)

// Config holds all engine tuning. Zero value is not usable; start from
// DefaultConfig and override.
type Config struct {
	Token      TokenConfig
	Credential CredentialConfig
	Lockout    LockoutConfig
	Denylist   DenylistConfig
	Password   PasswordConfig
	Throttle   ThrottleConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls access-token minting and verification.
type TokenConfig struct {
	// AccessTTL bounds the revocation lag for tokens that never hit the
	// denylist. Keep it short.
	AccessTTL time.Duration
	// Secret is the HS256 signing key. Required, at least 32 bytes.
	Secret []byte
	Issuer string
	Leeway time.Duration
}

/*
====================================
CREDENTIAL CONFIG
====================================
*/

// CredentialConfig controls renewal-credential issuance and rotation.
type CredentialConfig struct {
	TTL time.Duration
	// DeviceCeiling caps active credentials per user. Issuing past the cap
	// evicts the least recently used credential first. 0 disables the cap.
	DeviceCeiling int
	// RotationEnabled makes every renewal consume the presented credential
	// and issue a replacement (single-use credentials).
	RotationEnabled bool
	// RevokeDescendants extends a credential's revocation to the whole
	// replacement chain descending from it.
	RevokeDescendants bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls the consecutive-failure lockout.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	// Duration of the lock once the threshold is reached. 0 means locks
	// never expire on their own and require an operator clear.
	Duration time.Duration
}

// DenylistConfig controls early access-token revocation.
type DenylistConfig struct {
	Enabled   bool
	KeyPrefix string
}

// PasswordConfig holds the argon2id parameters of the default secret
// verifier. Ignored when a custom verifier is supplied.
type PasswordConfig struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// ThrottleConfig controls the optional Redis request throttles. These guard
// against online guessing across many accounts; the per-account lockout
// handles the single-account case.
type ThrottleConfig struct {
	EnableLoginThrottle   bool
	EnableIPThrottle      bool
	EnableRenewThrottle   bool
	MaxLoginAttempts      int
	LoginCooldownDuration time.Duration
	MaxRenewAttempts      int
	RenewCooldownDuration time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the engine counter table.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration: 15m access tokens, 7d
// single-use renewal credentials, 3-device ceiling, 5-failure lockout for
// 1h, denylist on, throttles off, audit and metrics off.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL: 15 * time.Minute,
		},
		Credential: CredentialConfig{
			TTL:               7 * 24 * time.Hour,
			DeviceCeiling:     3,
			RotationEnabled:   true,
			RevokeDescendants: false,
		},
		Lockout: LockoutConfig{
			Enabled:   true,
			Threshold: 5,
			Duration:  time.Hour,
		},
		Denylist: DenylistConfig{
			Enabled:   true,
			KeyPrefix: "adl",
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Throttle: ThrottleConfig{
			EnableLoginThrottle:   false,
			EnableIPThrottle:      false,
			EnableRenewThrottle:   false,
			MaxLoginAttempts:      10,
			LoginCooldownDuration: 15 * time.Minute,
			MaxRenewAttempts:      20,
			RenewCooldownDuration: time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Secret = cloneBytes(cfg.Token.Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks internal consistency. Called by the Builder before wiring.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if len(c.Token.Secret) < 32 {
		return errors.New("Token Secret must be at least 32 bytes")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be between 0 and 2m")
	}

	// Credential
	if c.Credential.TTL <= 0 {
		return errors.New("Credential TTL must be > 0")
	}
	if c.Credential.TTL <= c.Token.AccessTTL {
		return errors.New("Credential TTL must exceed Token AccessTTL")
	}
	if c.Credential.DeviceCeiling < 0 {
		return errors.New("Credential DeviceCeiling must be >= 0")
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.Threshold <= 0 {
			return errors.New("Lockout Threshold must be > 0 when lockout is enabled")
		}
		if c.Lockout.Duration < 0 {
			return errors.New("Lockout Duration must be >= 0")
		}
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Throttle
	if c.Throttle.EnableLoginThrottle {
		if c.Throttle.MaxLoginAttempts <= 0 {
			return errors.New("MaxLoginAttempts must be > 0 when login throttle is enabled")
		}
		if c.Throttle.LoginCooldownDuration <= 0 {
			return errors.New("LoginCooldownDuration must be > 0 when login throttle is enabled")
		}
	}
	if c.Throttle.EnableIPThrottle && !c.Throttle.EnableLoginThrottle {
		return errors.New("EnableIPThrottle requires EnableLoginThrottle")
	}
	if c.Throttle.EnableRenewThrottle {
		if c.Throttle.MaxRenewAttempts <= 0 {
			return errors.New("MaxRenewAttempts must be > 0 when renew throttle is enabled")
		}
		if c.Throttle.RenewCooldownDuration <= 0 {
			return errors.New("RenewCooldownDuration must be > 0 when renew throttle is enabled")
		}
	}

	// Audit
	if c.Audit.Enabled {
		if c.Audit.BufferSize <= 0 {
			return errors.New("Audit BufferSize must be > 0 when audit is enabled")
		}
	}

	return nil
}
