// Command mallorn-loadtest drives the engine's hot paths under concurrency
// and reports latency percentiles for the verify and renew phases.
//
// By default it runs against an embedded miniredis so it can be used as a
// quick regression check; point it at a real Redis with -redis-addr to
// measure actual round-trip costs.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	mallornauth "github.com/yunhaishang/mallorn-auth"
	"github.com/yunhaishang/mallorn-auth/credential"
)

type sessionState struct {
	mu      sync.Mutex
	access  string
	renewal string
}

// plainVerifier skips argon2 so seeding 100k accounts stays cheap. The load
// test measures the engine, not the hash function.
type plainVerifier struct{}

func (plainVerifier) Verify(secret, storedHash string) (bool, error) {
	return secret == storedHash, nil
}

func main() {
	var (
		sessions    = flag.Int("sessions", 10000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase (verify + renew)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	cfg := mallornauth.DefaultConfig()
	cfg.Token.Secret = []byte("loadtest-secret-0123456789abcdef")
	cfg.Token.AccessTTL = time.Hour
	cfg.Credential.TTL = 24 * time.Hour

	accounts := newLoadAccounts(*sessions)

	engine, err := mallornauth.New().
		WithConfig(cfg).
		WithRedis(client).
		WithCredentialStore(credential.NewMemoryStore()).
		WithAccountProvider(accounts).
		WithSecretVerifier(plainVerifier{}).
		Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "engine build failed: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	states := make([]sessionState, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := 0; i < *sessions; i++ {
		sess, err := engine.Login(ctx, loginName(i), loadPassword, mallornauth.DeviceContext{
			DeviceID: fmt.Sprintf("bench-%d", i),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed login failed: %v\n", err)
			os.Exit(1)
		}
		states[i].access = sess.AccessToken
		states[i].renewal = sess.RenewalToken
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	verifyStats := runVerifyPhase(ctx, engine, states, *ops, *concurrency)
	renewStats := runRenewPhase(ctx, engine, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("verify", verifyStats)
	printStats("renew", renewStats)
}

func runVerifyPhase(ctx context.Context, engine *mallornauth.Engine, states []sessionState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(states))
				state := &states[idx]

				state.mu.Lock()
				access := state.access
				state.mu.Unlock()

				t0 := time.Now()
				_, err := engine.VerifyAccess(ctx, access)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runRenewPhase(ctx context.Context, engine *mallornauth.Engine, states []sessionState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(states))
				state := &states[idx]

				// Hold the state lock across the call: with rotation on,
				// reusing a consumed credential would count as a replay.
				state.mu.Lock()
				t0 := time.Now()
				sess, err := engine.Renew(ctx, state.renewal, mallornauth.DeviceContext{})
				d := time.Since(t0)
				if err == nil {
					state.access = sess.AccessToken
					state.renewal = sess.RenewalToken
				} else {
					atomic.AddInt64(&failures, 1)
				}
				state.mu.Unlock()

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

const loadPassword = "loadtest-password"

func loginName(i int) string {
	return fmt.Sprintf("user-%d", i)
}

// loadAccounts is a read-mostly in-memory provider pre-seeded with one
// account per session. Lockout counter writes never happen in this harness
// because every login uses the correct password.
type loadAccounts struct {
	mu      sync.RWMutex
	byID    map[string]*mallornauth.UserAccount
	byLogin map[string]*mallornauth.UserAccount
}

func newLoadAccounts(n int) *loadAccounts {
	p := &loadAccounts{
		byID:    make(map[string]*mallornauth.UserAccount, n),
		byLogin: make(map[string]*mallornauth.UserAccount, n),
	}
	for i := 0; i < n; i++ {
		u := &mallornauth.UserAccount{
			ID:          fmt.Sprintf("u%d", i),
			DisplayName: fmt.Sprintf("User %d", i),
			LoginName:   loginName(i),
			Email:       fmt.Sprintf("user-%d@example.com", i),
			SecretHash:  loadPassword,
		}
		p.byID[u.ID] = u
		p.byLogin[u.LoginName] = u
	}
	return p
}

func (p *loadAccounts) GetUserByLogin(_ context.Context, identifier string) (*mallornauth.UserAccount, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.byLogin[identifier]
	if !ok {
		return nil, mallornauth.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (p *loadAccounts) GetUserByID(_ context.Context, userID string) (*mallornauth.UserAccount, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	u, ok := p.byID[userID]
	if !ok {
		return nil, mallornauth.ErrUserNotFound
	}
	copied := *u
	return &copied, nil
}

func (p *loadAccounts) IncrementFailedAttempts(_ context.Context, userID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return 0, mallornauth.ErrUserNotFound
	}
	u.FailedAttempts++
	return u.FailedAttempts, nil
}

func (p *loadAccounts) ResetFailedAttempts(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return mallornauth.ErrUserNotFound
	}
	u.FailedAttempts = 0
	return nil
}

func (p *loadAccounts) SetLock(_ context.Context, userID string, until *time.Time) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return mallornauth.ErrUserNotFound
	}
	u.Locked = true
	u.LockExpiresAt = until
	return nil
}

func (p *loadAccounts) ClearLock(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	u, ok := p.byID[userID]
	if !ok {
		return mallornauth.ErrUserNotFound
	}
	u.Locked = false
	u.LockExpiresAt = nil
	return nil
}

func (p *loadAccounts) UpdateLastLogin(context.Context, string, time.Time, string) error {
	return nil
}
