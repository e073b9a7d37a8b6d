package mallornauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/yunhaishang/mallorn-auth/credential"
)

// testClock is a movable clock shared by the engine and the tests.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memoryAccounts is an in-memory AccountProvider for tests.
type memoryAccounts struct {
	mu        sync.Mutex
	users     map[string]*UserAccount
	lastLogin map[string]lastLoginRecord
}

type lastLoginRecord struct {
	at time.Time
	ip string
}

func newMemoryAccounts() *memoryAccounts {
	return &memoryAccounts{
		users:     make(map[string]*UserAccount),
		lastLogin: make(map[string]lastLoginRecord),
	}
}

func (m *memoryAccounts) add(u UserAccount) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

func (m *memoryAccounts) get(userID string) UserAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[userID]
}

func (m *memoryAccounts) GetUserByLogin(_ context.Context, identifier string) (*UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.LoginName == identifier || u.Email == identifier {
			copied := *u
			return &copied, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *memoryAccounts) GetUserByID(_ context.Context, userID string) (*UserAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (m *memoryAccounts) IncrementFailedAttempts(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return 0, ErrUserNotFound
	}
	u.FailedAttempts++
	return u.FailedAttempts, nil
}

func (m *memoryAccounts) ResetFailedAttempts(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.FailedAttempts = 0
	return nil
}

func (m *memoryAccounts) SetLock(_ context.Context, userID string, until *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Locked = true
	u.LockExpiresAt = until
	return nil
}

func (m *memoryAccounts) ClearLock(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Locked = false
	u.LockExpiresAt = nil
	return nil
}

func (m *memoryAccounts) UpdateLastLogin(_ context.Context, userID string, at time.Time, ip string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastLogin[userID] = lastLoginRecord{at: at, ip: ip}
	return nil
}

func (m *memoryAccounts) getLastLogin(userID string) lastLoginRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLogin[userID]
}

// plainVerifier compares secrets verbatim so tests skip argon2 cost.
type plainVerifier struct{}

func (plainVerifier) Verify(secret, storedHash string) (bool, error) {
	return secret == storedHash, nil
}

const (
	alicePassword = "correct-password-123"
	bobPassword   = "bob-password-456"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.Secret = []byte("0123456789abcdef0123456789abcdef")
	cfg.Lockout.Threshold = 3
	return cfg
}

type testEnv struct {
	engine   *Engine
	accounts *memoryAccounts
	store    *credential.MemoryStore
	redis    *miniredis.Miniredis
	clock    *testClock
	sink     *ChannelSink
}

type testOption func(*Builder, *testEnv)

func withAudit(buffer int) testOption {
	return func(b *Builder, env *testEnv) {
		env.sink = NewChannelSink(buffer)
		b.WithAuditSink(env.sink)
	}
}

func withNotifier(n LoginNotifier) testOption {
	return func(b *Builder, _ *testEnv) {
		b.WithLoginNotifier(n)
	}
}

func newTestEngine(t *testing.T, cfg Config, opts ...testOption) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	accounts := newMemoryAccounts()
	accounts.add(UserAccount{
		ID:          "u1",
		DisplayName: "Alice",
		LoginName:   "alice",
		Email:       "alice@example.com",
		SecretHash:  alicePassword,
	})
	accounts.add(UserAccount{
		ID:          "u2",
		DisplayName: "Bob",
		LoginName:   "bob",
		Email:       "bob@example.com",
		SecretHash:  bobPassword,
	})

	env := &testEnv{
		accounts: accounts,
		store:    credential.NewMemoryStore(),
		redis:    mr,
		clock:    newTestClock(),
	}

	b := New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(env.store).
		WithAccountProvider(accounts).
		WithSecretVerifier(plainVerifier{}).
		WithClock(env.clock.Now)

	for _, opt := range opts {
		opt(b, env)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	env.engine = engine
	return env
}

func mustLogin(t *testing.T, env *testEnv, identifier, secret string) *Session {
	t.Helper()
	sess, err := env.engine.Login(context.Background(), identifier, secret, DeviceContext{})
	if err != nil {
		t.Fatalf("login %q failed: %v", identifier, err)
	}
	if sess.AccessToken == "" || sess.RenewalToken == "" {
		t.Fatal("expected non-empty tokens")
	}
	return sess
}
