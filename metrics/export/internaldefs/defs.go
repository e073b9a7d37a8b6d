package internaldefs

import (
	mallornauth "github.com/yunhaishang/mallorn-auth"
)

// CounterDef binds one engine counter to its exported metric name.
type CounterDef struct {
	ID   mallornauth.MetricID
	Name string
	Help string
}

// HistogramDef binds one engine histogram to its exported metric name.
type HistogramDef struct {
	ID   mallornauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported engine counter.
var CounterDefs = []CounterDef{
	{ID: mallornauth.MetricLoginSuccess, Name: "mallornauth_login_success_total", Help: "Successful login attempts."},
	{ID: mallornauth.MetricLoginFailure, Name: "mallornauth_login_failure_total", Help: "Failed login attempts."},
	{ID: mallornauth.MetricLoginLocked, Name: "mallornauth_login_locked_total", Help: "Login attempts rejected by account lockout."},
	{ID: mallornauth.MetricLoginRateLimited, Name: "mallornauth_login_rate_limited_total", Help: "Rate-limited login attempts."},
	{ID: mallornauth.MetricRenewSuccess, Name: "mallornauth_renew_success_total", Help: "Successful renewal operations."},
	{ID: mallornauth.MetricRenewFailure, Name: "mallornauth_renew_failure_total", Help: "Failed renewal operations."},
	{ID: mallornauth.MetricRenewRateLimited, Name: "mallornauth_renew_rate_limited_total", Help: "Rate-limited renewal attempts."},
	{ID: mallornauth.MetricRenewReplayDetected, Name: "mallornauth_renew_replay_detected_total", Help: "Renewals presenting an already-consumed credential."},
	{ID: mallornauth.MetricVerifySuccess, Name: "mallornauth_verify_success_total", Help: "Successful access-token verifications."},
	{ID: mallornauth.MetricVerifyFailure, Name: "mallornauth_verify_failure_total", Help: "Failed access-token verifications."},
	{ID: mallornauth.MetricVerifyRevoked, Name: "mallornauth_verify_revoked_total", Help: "Verifications rejected by the denylist."},
	{ID: mallornauth.MetricCredentialIssued, Name: "mallornauth_credential_issued_total", Help: "Renewal credentials issued."},
	{ID: mallornauth.MetricCredentialEvicted, Name: "mallornauth_credential_evicted_total", Help: "Credentials evicted by the device ceiling."},
	{ID: mallornauth.MetricLogout, Name: "mallornauth_logout_total", Help: "Single-session logout operations."},
	{ID: mallornauth.MetricLogoutAll, Name: "mallornauth_logout_all_total", Help: "Logout-all operations."},
	{ID: mallornauth.MetricCredentialsPurged, Name: "mallornauth_credentials_purged_total", Help: "Expired credential rows removed by the sweep."},
}

// HistogramDefs lists every exported engine histogram.
var HistogramDefs = []HistogramDef{
	{ID: mallornauth.MetricVerifyLatency, Name: "mallornauth_verify_latency_seconds", Help: "Access-token verification latency histogram."},
}

// HistogramBounds holds the upper bucket bounds in seconds, rendered the way
// Prometheus expects them in the le label.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// HistogramBoundSuffix holds the bound spellings safe for OTel attribute values.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates a raw bucket slice to the fixed width.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into the cumulative form
// Prometheus histograms use.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
