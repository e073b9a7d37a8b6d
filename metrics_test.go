package mallornauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMetricsDisabledNoIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}

func TestMetricsEnabledIncrement(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)
	m.Inc(MetricLoginSuccess)

	if got := m.Value(MetricLoginSuccess); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
}

func TestMetricsConcurrentIncrementSafe(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true})

	const goroutines = 32
	const perG = 4000

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < perG; j++ {
				m.Inc(MetricRenewSuccess)
			}
		}()
	}
	wg.Wait()

	want := uint64(goroutines * perG)
	if got := m.Value(MetricRenewSuccess); got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestMetricsHistogramBucketCorrectness(t *testing.T) {
	m := NewMetrics(MetricsConfig{
		Enabled:                 true,
		EnableLatencyHistograms: true,
	})

	observations := []time.Duration{
		2 * time.Millisecond,   // bucket 0 (<=5ms)
		8 * time.Millisecond,   // bucket 1 (<=10ms)
		20 * time.Millisecond,  // bucket 2 (<=25ms)
		40 * time.Millisecond,  // bucket 3 (<=50ms)
		80 * time.Millisecond,  // bucket 4 (<=100ms)
		200 * time.Millisecond, // bucket 5 (<=250ms)
		400 * time.Millisecond, // bucket 6 (<=500ms)
		900 * time.Millisecond, // bucket 7 (+Inf)
	}
	for _, d := range observations {
		m.Observe(MetricVerifyLatency, d)
	}

	snap := m.Snapshot()
	buckets := snap.Histograms[MetricVerifyLatency]
	if len(buckets) != histBucketCount {
		t.Fatalf("expected %d buckets, got %d", histBucketCount, len(buckets))
	}
	for i, count := range buckets {
		if count != 1 {
			t.Fatalf("bucket %d: expected 1, got %d", i, count)
		}
	}
}

func TestMetricsSnapshotDisabledEmpty(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: false})
	snap := m.Snapshot()

	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestEngineCountsLoginOutcomes(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	env := newTestEngine(t, cfg)
	ctx := context.Background()

	mustLogin(t, env, "alice", alicePassword)
	env.engine.Login(ctx, "alice", "wrong-password", DeviceContext{})
	env.engine.Login(ctx, "nobody", "whatever", DeviceContext{})

	snap := env.engine.MetricsSnapshot()
	if got := snap.Counters[MetricLoginSuccess]; got != 1 {
		t.Fatalf("login success: expected 1, got %d", got)
	}
	if got := snap.Counters[MetricLoginFailure]; got != 2 {
		t.Fatalf("login failure: expected 2, got %d", got)
	}
	if got := snap.Counters[MetricCredentialIssued]; got != 1 {
		t.Fatalf("credential issued: expected 1, got %d", got)
	}
}

func TestEngineCountsRenewalAndReplay(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	env := newTestEngine(t, cfg)
	ctx := context.Background()

	sess := mustLogin(t, env, "alice", alicePassword)

	if _, err := env.engine.Renew(ctx, sess.RenewalToken, DeviceContext{}); err != nil {
		t.Fatalf("renew failed: %v", err)
	}
	if _, err := env.engine.Renew(ctx, sess.RenewalToken, DeviceContext{}); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected replay failure, got %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if got := snap.Counters[MetricRenewSuccess]; got != 1 {
		t.Fatalf("renew success: expected 1, got %d", got)
	}
	if got := snap.Counters[MetricRenewReplayDetected]; got != 1 {
		t.Fatalf("replay detected: expected 1, got %d", got)
	}
}

func TestEngineCountsVerifyRevoked(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = true
	env := newTestEngine(t, cfg)
	ctx := context.Background()

	sess := mustLogin(t, env, "alice", alicePassword)
	if err := env.engine.Logout(ctx, sess.RenewalToken, sess.AccessToken); err != nil {
		t.Fatalf("logout failed: %v", err)
	}

	if _, err := env.engine.VerifyAccess(ctx, sess.AccessToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked, got %v", err)
	}

	snap := env.engine.MetricsSnapshot()
	if got := snap.Counters[MetricVerifyRevoked]; got != 1 {
		t.Fatalf("verify revoked: expected 1, got %d", got)
	}
	if got := snap.Counters[MetricLogout]; got != 1 {
		t.Fatalf("logout: expected 1, got %d", got)
	}
}
