package mallornauth

import (
	"context"
	"errors"
	"log"
	"strconv"
	"time"

	"github.com/yunhaishang/mallorn-auth/credential"
	"github.com/yunhaishang/mallorn-auth/denylist"
	"github.com/yunhaishang/mallorn-auth/internal/rate"
	"github.com/yunhaishang/mallorn-auth/internal/userlock"
	"github.com/yunhaishang/mallorn-auth/token"
)

// Engine is the session lifecycle core: login, renewal, revocation, and
// access-token verification. Construct it through the [Builder]; the zero
// value is not usable.
//
// All methods are safe for concurrent use. Per-user write paths (issuance,
// rotation, logout-all) are serialized through an internal keyed lock so the
// device ceiling and rotation invariants hold under races.
type Engine struct {
	config   Config
	store    credential.Store
	accounts AccountProvider
	verifier SecretVerifier
	codec    *token.Codec
	denylist denylist.Registry
	limiter  *rate.Limiter
	locks    *userlock.Set
	guard    *accountGuard
	audit    *auditDispatcher
	metrics  *Metrics
	notifier LoginNotifier
	now      func() time.Time
	ready    bool
}

func (e *Engine) checkReady() error {
	if e == nil || !e.ready {
		return ErrEngineNotReady
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

// fillDevice backfills IP and user agent from context values when the caller
// left them empty on the DeviceContext.
func (e *Engine) fillDevice(ctx context.Context, dev DeviceContext) DeviceContext {
	if dev.IP == "" {
		dev.IP = clientIPFromContext(ctx)
	}
	if dev.UserAgent == "" {
		dev.UserAgent = userAgentFromContext(ctx)
	}
	return dev
}

/*
====================================
LOGIN
====================================
*/

// Login verifies the identifier/secret pair and issues a session. The
// identifier matches either the login name or the email, whichever the
// account provider resolves.
//
// Unknown identifier and wrong secret both return [ErrInvalidCredentials],
// including the failure that engages the lockout; the lock surfaces as a
// [LockedError] matching [ErrAccountLocked] from the next attempt on.
// Wrong-secret attempts count toward the lockout threshold even while the
// account is already locked, but a correct secret never does.
func (e *Engine) Login(ctx context.Context, identifier, secret string, dev DeviceContext) (*Session, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	dev = e.fillDevice(ctx, dev)

	if err := e.limiter.CheckLogin(ctx, identifier, dev.IP); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", "", ErrLoginThrottled, nil)
			return nil, ErrLoginThrottled
		}
		return nil, internalError("login throttle", err)
	}

	user, err := e.accounts.GetUserByLogin(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Unknown identifiers spend the throttle budget too; otherwise
			// the throttle itself leaks which identifiers exist.
			e.throttleLoginFailure(ctx, identifier, dev.IP)
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, nil)
			return nil, ErrInvalidCredentials
		}
		return nil, internalError("lookup account", err)
	}

	locked, until, err := e.guard.checkLock(ctx, user)
	if err != nil {
		return nil, err
	}
	if locked {
		e.metricInc(MetricLoginLocked)
		lerr := &LockedError{Until: until}
		e.emitAudit(ctx, auditEventLoginLocked, false, user.ID, "", lerr, nil)
		return nil, lerr
	}

	ok, err := e.verifier.Verify(secret, user.SecretHash)
	if err != nil {
		return nil, internalError("verify secret", err)
	}
	if !ok {
		e.throttleLoginFailure(ctx, identifier, dev.IP)

		lockedNow, lockUntil, gerr := e.guard.recordFailure(ctx, user)
		if gerr != nil {
			return nil, gerr
		}
		if lockedNow {
			// The engaged lock is observable, but this response stays
			// indistinguishable from any other bad secret; the lock
			// surfaces on the next attempt.
			e.metricInc(MetricLoginLocked)
			e.emitAudit(ctx, auditEventLoginLocked, false, user.ID, "", &LockedError{Until: lockUntil}, nil)
			return nil, ErrInvalidCredentials
		}

		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, "", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if err := e.guard.recordSuccess(ctx, user); err != nil {
		return nil, err
	}
	if err := e.limiter.ResetLogin(ctx, identifier, dev.IP); err != nil {
		log.Printf("mallornauth: reset login throttle: %v", err)
	}

	unlock := e.locks.Lock(user.ID)
	sess, err := e.issueLocked(ctx, user, dev)
	unlock()
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	credID := e.lookupCredentialID(ctx, sess.RenewalToken)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, credID, nil, func() map[string]string {
		if dev.DeviceID == "" {
			return nil
		}
		return map[string]string{"device_id": dev.DeviceID}
	})

	if e.notifier != nil {
		e.notifier.Notify(ctx, LoginEvent{
			UserID:       user.ID,
			CredentialID: credID,
			At:           e.now(),
			IP:           dev.IP,
			UserAgent:    dev.UserAgent,
			DeviceID:     dev.DeviceID,
		})
	}

	return sess, nil
}

// throttleLoginFailure spends one unit of the login throttle budget. The
// throttle is advisory next to the lockout, so a Redis fault only logs.
func (e *Engine) throttleLoginFailure(ctx context.Context, identifier, ip string) {
	if err := e.limiter.IncrementLogin(ctx, identifier, ip); err != nil && !errors.Is(err, rate.ErrRateLimited) {
		log.Printf("mallornauth: increment login throttle: %v", err)
	}
}

func (e *Engine) lookupCredentialID(ctx context.Context, renewalToken string) string {
	cred, err := e.store.FindByToken(ctx, renewalToken)
	if err != nil {
		return ""
	}
	return cred.ID
}

/*
====================================
RENEWAL
====================================
*/

// Renew exchanges a renewal credential for a fresh access token. With
// rotation enabled the presented credential is consumed and a replacement is
// returned; presenting it again afterwards is treated as replay.
//
// Unknown, revoked, and expired credentials all return
// [ErrInvalidCredential]. A locked account cannot renew.
func (e *Engine) Renew(ctx context.Context, renewalToken string, dev DeviceContext) (*Session, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}
	if renewalToken == "" {
		return nil, ErrInvalidCredential
	}
	dev = e.fillDevice(ctx, dev)

	if err := e.limiter.CheckRenew(ctx, credentialThrottleKey(renewalToken)); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metricInc(MetricRenewRateLimited)
			e.emitAudit(ctx, auditEventRenewRateLimited, false, "", "", ErrRenewThrottled, nil)
			return nil, ErrRenewThrottled
		}
		return nil, internalError("renew throttle", err)
	}

	now := e.now()

	cred, err := e.store.FindByToken(ctx, renewalToken)
	if err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			e.metricInc(MetricRenewFailure)
			e.emitAudit(ctx, auditEventRenewInvalid, false, "", "", ErrInvalidCredential, nil)
			return nil, ErrInvalidCredential
		}
		return nil, internalError("lookup credential", err)
	}

	if cred.Revoked {
		return nil, e.renewReplay(ctx, cred)
	}
	if !cred.ExpiresAt.After(now) {
		e.metricInc(MetricRenewFailure)
		e.emitAudit(ctx, auditEventRenewInvalid, false, cred.UserID, cred.ID, ErrInvalidCredential, nil)
		return nil, ErrInvalidCredential
	}

	user, err := e.accounts.GetUserByID(ctx, cred.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricRenewFailure)
			e.emitAudit(ctx, auditEventRenewInvalid, false, cred.UserID, cred.ID, ErrInvalidCredential, nil)
			return nil, ErrInvalidCredential
		}
		return nil, internalError("lookup account", err)
	}

	locked, until, err := e.guard.checkLock(ctx, user)
	if err != nil {
		return nil, err
	}
	if locked {
		e.metricInc(MetricRenewFailure)
		lerr := &LockedError{Until: until}
		e.emitAudit(ctx, auditEventRenewInvalid, false, user.ID, cred.ID, lerr, nil)
		return nil, lerr
	}

	if !e.config.Credential.RotationEnabled {
		sess, err := e.mintForCredential(ctx, user, cred)
		if err != nil {
			return nil, err
		}
		e.metricInc(MetricRenewSuccess)
		e.emitAudit(ctx, auditEventRenewSuccess, true, user.ID, cred.ID, nil, nil)
		return sess, nil
	}

	unlock := e.locks.Lock(user.ID)
	defer unlock()

	// Consume is the single-winner point: a conditional transition only one
	// concurrent renewal of the same credential can win.
	prior, err := e.store.Consume(ctx, renewalToken, "rotated", "engine", now)
	if err != nil {
		switch {
		case errors.Is(err, credential.ErrNotActive):
			// Lost the race, or revoked between lookup and consume.
			if fresh, ferr := e.store.FindByToken(ctx, renewalToken); ferr == nil && fresh.Revoked {
				return nil, e.renewReplay(ctx, fresh)
			}
			e.metricInc(MetricRenewFailure)
			e.emitAudit(ctx, auditEventRenewInvalid, false, cred.UserID, cred.ID, ErrInvalidCredential, nil)
			return nil, ErrInvalidCredential
		case errors.Is(err, credential.ErrNotFound):
			e.metricInc(MetricRenewFailure)
			e.emitAudit(ctx, auditEventRenewInvalid, false, cred.UserID, cred.ID, ErrInvalidCredential, nil)
			return nil, ErrInvalidCredential
		default:
			return nil, internalError("consume credential", err)
		}
	}

	sess, err := e.issueLocked(ctx, user, dev)
	if err != nil {
		// The old credential is already consumed; the caller has to log in
		// again. Rolling the consume back would reopen the replay window.
		return nil, err
	}

	if err := e.store.LinkReplacement(ctx, prior.Token, sess.RenewalToken); err != nil {
		// Only descendant revocation reads the link; the session stands.
		log.Printf("mallornauth: link replacement: %v", err)
	}

	e.metricInc(MetricRenewSuccess)
	e.emitAudit(ctx, auditEventRenewSuccess, true, user.ID, cred.ID, nil, nil)
	return sess, nil
}

// renewReplay handles presentation of an already-revoked credential. With
// RevokeDescendants on, the whole replacement chain descending from it is
// revoked as well: a replayed ancestor means the chain may be in hostile
// hands.
func (e *Engine) renewReplay(ctx context.Context, cred *credential.Credential) error {
	revoked := 0
	if e.config.Credential.RevokeDescendants {
		revoked = e.revokeChain(ctx, cred, "replay detected")
	}

	e.metricInc(MetricRenewReplayDetected)
	e.metricInc(MetricRenewFailure)
	e.emitAudit(ctx, auditEventRenewReplay, false, cred.UserID, cred.ID, ErrInvalidCredential, func() map[string]string {
		if revoked == 0 {
			return nil
		}
		return map[string]string{"descendants_revoked": strconv.Itoa(revoked)}
	})

	return ErrInvalidCredential
}

/*
====================================
LOGOUT
====================================
*/

// Logout revokes the renewal credential and denylists the paired access
// token until its natural expiry. Both halves are attempted regardless of
// the other's outcome, and an already-dead credential is not an error:
// logout is idempotent.
//
// accessToken may be empty when the caller only holds the renewal credential.
func (e *Engine) Logout(ctx context.Context, renewalToken, accessToken string) error {
	if err := e.checkReady(); err != nil {
		return err
	}

	now := e.now()
	var firstErr error
	userID, credID := "", ""

	if renewalToken != "" {
		if cred, err := e.store.FindByToken(ctx, renewalToken); err == nil {
			userID, credID = cred.UserID, cred.ID
		}
		if _, err := e.store.Revoke(ctx, renewalToken, "logout", "user", now); err != nil && !errors.Is(err, credential.ErrNotFound) {
			firstErr = internalError("revoke credential", err)
		}
	}

	if accessToken != "" && e.config.Denylist.Enabled {
		// Peek, not Verify: an access token the server can no longer verify
		// still gets its ID denylisted for as long as it claims to live.
		jti, exp := e.codec.Peek(accessToken)
		if jti != "" && exp.After(now) {
			if err := e.denylist.Blacklist(ctx, jti, exp); err != nil && firstErr == nil {
				firstErr = internalError("denylist token", err)
			}
		}
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, firstErr == nil, userID, credID, firstErr, nil)

	return firstErr
}

// LogoutAll revokes every active renewal credential of the user and reports
// how many were revoked. Access tokens already in flight live out their
// remaining TTL unless individually denylisted.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if err := e.checkReady(); err != nil {
		return 0, err
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	count, err := e.store.RevokeAllForUser(ctx, userID, "logout all", "user", e.now())
	if err != nil {
		return 0, internalError("revoke all credentials", err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(count)}
	})

	return count, nil
}

/*
====================================
VERIFICATION
====================================
*/

// VerifyAccess validates an access token and returns its claims. Signature,
// structure, and expiry are checked offline; the denylist adds one Redis
// read so revoked-early tokens die before their natural expiry.
//
// The denylist check fails closed: if Redis is unreachable the token is not
// accepted.
func (e *Engine) VerifyAccess(ctx context.Context, accessToken string) (*token.Claims, error) {
	if err := e.checkReady(); err != nil {
		return nil, err
	}

	start := time.Now()

	claims, err := e.codec.Verify(accessToken)
	if err != nil {
		e.metricInc(MetricVerifyFailure)
		return nil, err
	}

	if e.config.Denylist.Enabled && claims.ID != "" {
		blocked, err := e.denylist.IsBlacklisted(ctx, claims.ID)
		if err != nil {
			e.metricInc(MetricVerifyFailure)
			return nil, internalError("denylist lookup", err)
		}
		if blocked {
			e.metricInc(MetricVerifyRevoked)
			e.emitAudit(ctx, auditEventVerifyRevoked, false, claims.Subject, "", ErrTokenRevoked, nil)
			return nil, ErrTokenRevoked
		}
	}

	e.metricInc(MetricVerifySuccess)
	e.metrics.Observe(MetricVerifyLatency, time.Since(start))

	return claims, nil
}

/*
====================================
MAINTENANCE
====================================
*/

// PurgeExpiredCredentials removes credential rows whose expiry has passed,
// revoked or not. Run it periodically; nothing depends on it for
// correctness, expired rows are dead weight only.
func (e *Engine) PurgeExpiredCredentials(ctx context.Context) (int, error) {
	if err := e.checkReady(); err != nil {
		return 0, err
	}

	count, err := e.store.DeleteExpired(ctx, e.now())
	if err != nil {
		return 0, internalError("purge credentials", err)
	}

	e.metrics.Add(MetricCredentialsPurged, uint64(count))
	return count, nil
}

// Close flushes and stops the audit dispatcher. The engine must not be used
// after Close.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// MetricsSnapshot returns a point-in-time copy of all engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// AuditDropped reports audit events discarded under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}
