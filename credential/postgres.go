package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable Store backed by a pgx connection pool.
//
// The Consume single-winner guarantee is a single conditional UPDATE: the
// row is revoked only when it is still active at that instant, so exactly
// one of any set of concurrent consumers — across instances — observes a
// matched row.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps the given pool. The schema is managed separately;
// see Migrate.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const credentialColumns = `id, token, user_id, issued_at, expires_at, revoked, revoked_at,
	revoke_reason, revoked_by, replaced_by, ip, user_agent, device_id, last_used_at, created_by`

func (s *PostgresStore) Create(ctx context.Context, p CreateParams) (*Credential, error) {
	token, err := newTokenValue()
	if err != nil {
		return nil, err
	}

	cred := &Credential{
		ID:        newID(),
		Token:     token,
		UserID:    p.UserID,
		IssuedAt:  p.IssuedAt,
		ExpiresAt: p.ExpiresAt,
		IP:        p.IP,
		UserAgent: p.UserAgent,
		DeviceID:  p.DeviceID,
		CreatedBy: p.CreatedBy,
	}

	const q = `
INSERT INTO renewal_credentials
	(id, token, user_id, issued_at, expires_at, ip, user_agent, device_id, created_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	if _, err := s.pool.Exec(ctx, q,
		cred.ID, cred.Token, cred.UserID, cred.IssuedAt, cred.ExpiresAt,
		nullIfEmpty(cred.IP), nullIfEmpty(cred.UserAgent), nullIfEmpty(cred.DeviceID), nullIfEmpty(cred.CreatedBy),
	); err != nil {
		return nil, fmt.Errorf("insert credential: %w", err)
	}

	return cred, nil
}

func (s *PostgresStore) FindByToken(ctx context.Context, token string) (*Credential, error) {
	q := `SELECT ` + credentialColumns + ` FROM renewal_credentials WHERE token = $1`
	return s.scanOne(s.pool.QueryRow(ctx, q, token))
}

func (s *PostgresStore) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]*Credential, error) {
	q := `
SELECT ` + credentialColumns + `
FROM renewal_credentials
WHERE user_id = $1 AND NOT revoked AND expires_at > $2
ORDER BY COALESCE(last_used_at, issued_at) DESC, id DESC`

	rows, err := s.pool.Query(ctx, q, userID, now)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []*Credential
	for rows.Next() {
		cred, err := s.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cred)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Revoke(ctx context.Context, token, reason, revokedBy string, at time.Time) (bool, error) {
	// COALESCE keeps the first revocation's timestamp and reason intact on
	// repeated calls.
	const q = `
UPDATE renewal_credentials
SET revoked = TRUE,
    revoked_at = COALESCE(revoked_at, $2),
    revoke_reason = COALESCE(revoke_reason, $3),
    revoked_by = COALESCE(revoked_by, $4)
WHERE token = $1`

	tag, err := s.pool.Exec(ctx, q, token, at, nullIfEmpty(reason), nullIfEmpty(revokedBy))
	if err != nil {
		return false, fmt.Errorf("revoke credential: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Consume(ctx context.Context, token, reason, revokedBy string, at time.Time) (*Credential, error) {
	q := `
UPDATE renewal_credentials
SET revoked = TRUE,
    revoked_at = $2,
    revoke_reason = $3,
    revoked_by = $4
WHERE token = $1 AND NOT revoked AND expires_at > $2
RETURNING ` + credentialColumns

	cred, err := s.scanOne(s.pool.QueryRow(ctx, q, token, at, nullIfEmpty(reason), nullIfEmpty(revokedBy)))
	if err == nil {
		// RETURNING reflects the post-update row; report the prior state.
		cred.Revoked = false
		cred.RevokedAt = nil
		cred.RevokeReason = ""
		cred.RevokedBy = ""
		return cred, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	// No active row matched. Distinguish unknown from already-consumed.
	if _, ferr := s.FindByToken(ctx, token); ferr != nil {
		return nil, ferr
	}
	return nil, ErrNotActive
}

func (s *PostgresStore) LinkReplacement(ctx context.Context, oldToken, newToken string) error {
	const q = `UPDATE renewal_credentials SET replaced_by = $2 WHERE token = $1`
	tag, err := s.pool.Exec(ctx, q, oldToken, newToken)
	if err != nil {
		return fmt.Errorf("link replacement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Touch(ctx context.Context, token string, at time.Time) error {
	const q = `UPDATE renewal_credentials SET last_used_at = $2 WHERE token = $1`
	tag, err := s.pool.Exec(ctx, q, token, at)
	if err != nil {
		return fmt.Errorf("touch credential: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) RevokeAllForUser(ctx context.Context, userID, reason, revokedBy string, at time.Time) (int, error) {
	const q = `
UPDATE renewal_credentials
SET revoked = TRUE,
    revoked_at = $2,
    revoke_reason = $3,
    revoked_by = $4
WHERE user_id = $1 AND NOT revoked AND expires_at > $2`

	tag, err := s.pool.Exec(ctx, q, userID, at, nullIfEmpty(reason), nullIfEmpty(revokedBy))
	if err != nil {
		return 0, fmt.Errorf("revoke all credentials: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	const q = `DELETE FROM renewal_credentials WHERE expires_at <= $1`
	tag, err := s.pool.Exec(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired credentials: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) scanOne(row pgx.Row) (*Credential, error) {
	var (
		cred         Credential
		revokeReason *string
		revokedBy    *string
		replacedBy   *string
		ip           *string
		userAgent    *string
		deviceID     *string
		createdBy    *string
	)

	err := row.Scan(
		&cred.ID, &cred.Token, &cred.UserID, &cred.IssuedAt, &cred.ExpiresAt,
		&cred.Revoked, &cred.RevokedAt, &revokeReason, &revokedBy, &replacedBy,
		&ip, &userAgent, &deviceID, &cred.LastUsedAt, &createdBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan credential: %w", err)
	}

	cred.RevokeReason = deref(revokeReason)
	cred.RevokedBy = deref(revokedBy)
	cred.ReplacedBy = deref(replacedBy)
	cred.IP = deref(ip)
	cred.UserAgent = deref(userAgent)
	cred.DeviceID = deref(deviceID)
	cred.CreatedBy = deref(createdBy)

	return &cred, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
