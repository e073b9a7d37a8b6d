package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

// DefaultMaxPasswordBytes caps password length when Config.MaxPasswordBytes
// is zero. Argon2 cost scales with input size, so unbounded input is a DoS
// vector.
const DefaultMaxPasswordBytes = 1024

const (
	phcAlgorithm = "argon2id"

	minPasswordBytes = 10

	floorMemoryKB    uint32 = 8 * 1024
	floorTime        uint32 = 1
	floorParallelism uint8  = 1
	floorSaltBytes   uint32 = 16
	floorKeyBytes    uint32 = 16
)

var (
	// ErrPasswordTooShort is returned by Hash for inputs under 10 bytes.
	ErrPasswordTooShort = errors.New("password too short")
	// ErrPasswordTooLong is returned when the input exceeds MaxPasswordBytes.
	ErrPasswordTooLong = errors.New("password too long")
	// ErrHashMalformed is returned when a stored hash cannot be parsed.
	ErrHashMalformed = errors.New("malformed password hash")
)

// Config holds the argon2id cost parameters. Memory is in KB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	// MaxPasswordBytes rejects longer inputs before any key derivation.
	// Zero means DefaultMaxPasswordBytes.
	MaxPasswordBytes int
}

func (c Config) check() error {
	switch {
	case c.Memory < floorMemoryKB:
		return fmt.Errorf("password memory must be >= %d KB", floorMemoryKB)
	case c.Time < floorTime:
		return fmt.Errorf("password time must be >= %d", floorTime)
	case c.Parallelism < floorParallelism:
		return fmt.Errorf("password parallelism must be >= %d", floorParallelism)
	case c.SaltLength < floorSaltBytes:
		return fmt.Errorf("password salt length must be >= %d", floorSaltBytes)
	case c.KeyLength < floorKeyBytes:
		return fmt.Errorf("password key length must be >= %d", floorKeyBytes)
	case c.MaxPasswordBytes < 0:
		return errors.New("password max length must be >= 0")
	}
	return nil
}

// Argon2 hashes and verifies secrets with a fixed cost parameter set. It is
// the default SecretVerifier installed by the builder.
type Argon2 struct {
	cfg Config
}

// NewArgon2 validates cfg against the package floors and returns a hasher.
func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}
	if cfg.MaxPasswordBytes == 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	return &Argon2{cfg: cfg}, nil
}

// Hash derives an argon2id key from the secret under a fresh random salt and
// returns it as a PHC string: $argon2id$v=19$m=...,t=...,p=...$salt$key with
// unpadded standard base64, as the PHC format prescribes.
func (a *Argon2) Hash(password string) (string, error) {
	// Raw string bytes as provided; no Unicode normalization.
	if len(password) < minPasswordBytes {
		return "", ErrPasswordTooShort
	}
	if len(password) > a.cfg.MaxPasswordBytes {
		return "", ErrPasswordTooLong
	}

	salt := make([]byte, a.cfg.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey([]byte(password), salt, a.cfg.Time, a.cfg.Memory, a.cfg.Parallelism, a.cfg.KeyLength)

	var b strings.Builder
	fmt.Fprintf(&b, "$%s$v=%d$m=%d,t=%d,p=%d$", phcAlgorithm, argon2.Version, a.cfg.Memory, a.cfg.Time, a.cfg.Parallelism)
	b.WriteString(base64.RawStdEncoding.EncodeToString(salt))
	b.WriteByte('$')
	b.WriteString(base64.RawStdEncoding.EncodeToString(key))

	return b.String(), nil
}

// Verify recomputes the key under the cost parameters embedded in
// encodedHash and compares in constant time. A clean mismatch is
// (false, nil); errors are reserved for malformed or oversized input.
func (a *Argon2) Verify(password string, encodedHash string) (bool, error) {
	if len(password) > a.cfg.MaxPasswordBytes {
		return false, ErrPasswordTooLong
	}

	h, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), h.salt, h.time, h.memory, h.parallelism, uint32(len(h.key)))

	return subtle.ConstantTimeCompare(computed, h.key) == 1, nil
}

// NeedsUpgrade reports whether encodedHash was produced with weaker cost
// parameters than the current configuration. Callers re-hash on the next
// successful verification.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	h, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}

	weaker := h.memory < a.cfg.Memory ||
		h.time < a.cfg.Time ||
		h.parallelism < a.cfg.Parallelism ||
		uint32(len(h.key)) != a.cfg.KeyLength

	return weaker, nil
}

type phcHash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func decodePHC(s string) (*phcHash, error) {
	// $argon2id$v=19$m=...,t=...,p=...$<salt>$<key>
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, ErrHashMalformed
	}
	if parts[1] != phcAlgorithm {
		return nil, fmt.Errorf("%w: unsupported algorithm %q", ErrHashMalformed, parts[1])
	}

	var version int
	if n, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || n != 1 {
		return nil, fmt.Errorf("%w: bad version field", ErrHashMalformed)
	}
	if version != argon2.Version {
		return nil, fmt.Errorf("%w: unsupported argon2 version %d", ErrHashMalformed, version)
	}

	var h phcHash
	if n, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &h.memory, &h.time, &h.parallelism); err != nil || n != 3 {
		return nil, fmt.Errorf("%w: bad parameter field", ErrHashMalformed)
	}
	if h.memory < floorMemoryKB || h.time < floorTime || h.parallelism < floorParallelism {
		return nil, fmt.Errorf("%w: parameters below floor", ErrHashMalformed)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || uint32(len(salt)) < floorSaltBytes {
		return nil, fmt.Errorf("%w: bad salt", ErrHashMalformed)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return nil, fmt.Errorf("%w: bad key", ErrHashMalformed)
	}

	h.salt = salt
	h.key = key
	return &h, nil
}
