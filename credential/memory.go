package credential

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-instance
// embedding. All mutations run under one mutex, which also provides the
// Consume single-winner guarantee.
type MemoryStore struct {
	mu   sync.Mutex
	rows map[string]*Credential // keyed by token
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows: make(map[string]*Credential),
	}
}

func (s *MemoryStore) Create(ctx context.Context, p CreateParams) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

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

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[token] = cred

	out := *cred
	return &out, nil
}

func (s *MemoryStore) FindByToken(ctx context.Context, token string) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.rows[token]
	if !ok {
		return nil, ErrNotFound
	}
	out := *cred
	return &out, nil
}

func (s *MemoryStore) ListActiveForUser(ctx context.Context, userID string, now time.Time) ([]*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Credential
	for _, cred := range s.rows {
		if cred.UserID != userID || !cred.Active(now) {
			continue
		}
		c := *cred
		out = append(out, &c)
	}

	sort.Slice(out, func(i, j int) bool {
		return lastActivity(out[i]).After(lastActivity(out[j]))
	})

	return out, nil
}

func lastActivity(c *Credential) time.Time {
	if c.LastUsedAt != nil {
		return *c.LastUsedAt
	}
	return c.IssuedAt
}

func (s *MemoryStore) Revoke(ctx context.Context, token, reason, revokedBy string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.rows[token]
	if !ok {
		return false, nil
	}
	revoke(cred, reason, revokedBy, at)
	return true, nil
}

// revoke transitions the row, preserving the first revocation's metadata.
func revoke(cred *Credential, reason, revokedBy string, at time.Time) {
	if cred.Revoked {
		return
	}
	cred.Revoked = true
	cred.RevokedAt = &at
	cred.RevokeReason = reason
	cred.RevokedBy = revokedBy
}

func (s *MemoryStore) Consume(ctx context.Context, token, reason, revokedBy string, at time.Time) (*Credential, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.rows[token]
	if !ok {
		return nil, ErrNotFound
	}
	if !cred.Active(at) {
		return nil, ErrNotActive
	}

	prior := *cred
	revoke(cred, reason, revokedBy, at)
	return &prior, nil
}

func (s *MemoryStore) LinkReplacement(ctx context.Context, oldToken, newToken string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.rows[oldToken]
	if !ok {
		return ErrNotFound
	}
	cred.ReplacedBy = newToken
	return nil
}

func (s *MemoryStore) Touch(ctx context.Context, token string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cred, ok := s.rows[token]
	if !ok {
		return ErrNotFound
	}
	cred.LastUsedAt = &at
	return nil
}

func (s *MemoryStore) RevokeAllForUser(ctx context.Context, userID, reason, revokedBy string, at time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, cred := range s.rows {
		if cred.UserID != userID || !cred.Active(at) {
			continue
		}
		revoke(cred, reason, revokedBy, at)
		count++
	}
	return count, nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for token, cred := range s.rows {
		if cred.ExpiresAt.After(now) {
			continue
		}
		delete(s.rows, token)
		count++
	}
	return count, nil
}
