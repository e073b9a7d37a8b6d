// Package token mints and verifies the short-lived signed access tokens
// issued by the engine. Tokens are self-contained: verification is a pure
// signature and expiry check and never consults external state. Revocation
// is layered on top by the caller through the denylist.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrMalformed is returned when the input is not a parseable token.
	ErrMalformed = errors.New("token malformed")
	// ErrBadSignature is returned when the signature does not verify.
	ErrBadSignature = errors.New("token signature invalid")
	// ErrExpired is returned when the token is structurally valid but past its expiry.
	ErrExpired = errors.New("token expired")
)

// Claims is the payload carried by an access token. Subject is the user id;
// ID is a per-token unique identifier (jti) used by the denylist.
type Claims struct {
	DisplayName string `json:"name,omitempty"`
	LoginName   string `json:"login,omitempty"`
	Email       string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// Config holds the codec's signing parameters.
type Config struct {
	// Secret is the HS256 signing key. At least 32 bytes.
	Secret []byte
	Issuer string
	Leeway time.Duration

	// Now overrides the clock used for iat/exp and verification.
	// Nil means time.Now.
	Now func() time.Time
}

// Codec signs and verifies access tokens with a single symmetric key.
type Codec struct {
	config Config
}

// NewCodec validates cfg and returns a ready Codec.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Codec{config: cfg}, nil
}

// Mint signs a fresh token for the given identity claims. A new jti is
// generated on every call; iat/exp are derived from the codec clock.
func (c *Codec) Mint(claims Claims, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, errors.New("invalid token ttl")
	}

	now := c.config.Now()
	exp := now.Add(ttl)

	claims.ID = uuid.NewString()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(exp)
	if c.config.Issuer != "" {
		claims.Issuer = c.config.Issuer
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.config.Secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return signed, exp, nil
}

// Verify checks signature and expiry and returns the embedded claims.
// It distinguishes three failure classes: [ErrMalformed], [ErrBadSignature],
// and [ErrExpired]. The denylist is never consulted here.
func (c *Codec) Verify(tokenStr string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(c.config.Now),
	}
	if c.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(c.config.Leeway))
	}
	if c.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(c.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return c.config.Secret, nil
	})
	if err != nil {
		return nil, classifyParseError(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrMalformed
	}

	return claims, nil
}

// Peek extracts the token id and expiry without verifying the signature.
// Used on logout, where the caller surrenders a token it already holds and
// the denylist entry must outlive the token regardless of signature state.
// Returns an empty id when the input is not parseable.
func (c *Codec) Peek(tokenStr string) (string, time.Time) {
	parser := jwt.NewParser()
	var claims Claims
	if _, _, err := parser.ParseUnverified(tokenStr, &claims); err != nil {
		return "", time.Time{}
	}

	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return claims.ID, exp
}

func classifyParseError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	default:
		return ErrMalformed
	}
}
