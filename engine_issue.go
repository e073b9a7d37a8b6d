package mallornauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yunhaishang/mallorn-auth/credential"
	"github.com/yunhaishang/mallorn-auth/token"
)

// maxChainHops bounds descendant revocation walks. Chains grow one link per
// rotation, so anything past this is either corrupt data or a cycle.
const maxChainHops = 512

const evictionReason = "device limit exceeded"

// issueLocked creates a renewal credential and mints the access token for
// it. The caller must hold the user's lock.
//
// Ordering is deliberate: the ceiling is enforced by evicting before
// creating, so the active count never transiently exceeds it; the credential
// is persisted before the access token is minted, so a failure can only
// leave an unused credential row behind for the expiry sweep, never a live
// token without a backing credential.
func (e *Engine) issueLocked(ctx context.Context, user *UserAccount, dev DeviceContext) (*Session, error) {
	now := e.now()

	if ceiling := e.config.Credential.DeviceCeiling; ceiling > 0 {
		active, err := e.store.ListActiveForUser(ctx, user.ID, now)
		if err != nil {
			return nil, internalError("list credentials", err)
		}

		// Evict from the tail: ListActiveForUser orders most recently used
		// first. An eviction failure aborts the issuance; proceeding would
		// break the ceiling invariant.
		for excess := len(active) - ceiling + 1; excess > 0; excess-- {
			victim := active[len(active)-excess]
			if _, err := e.store.Revoke(ctx, victim.Token, evictionReason, "system", now); err != nil {
				return nil, internalError("evict credential", err)
			}
			e.metricInc(MetricCredentialEvicted)
			e.emitAudit(ctx, auditEventDeviceEvicted, true, user.ID, victim.ID, nil, func() map[string]string {
				return map[string]string{"device_id": victim.DeviceID}
			})
		}
	}

	cred, err := e.store.Create(ctx, credential.CreateParams{
		UserID:    user.ID,
		IssuedAt:  now,
		ExpiresAt: now.Add(e.config.Credential.TTL),
		IP:        dev.IP,
		UserAgent: dev.UserAgent,
		DeviceID:  dev.DeviceID,
		CreatedBy: "engine",
	})
	if err != nil {
		return nil, internalError("create credential", err)
	}

	access, accessExp, err := e.codec.Mint(identityClaims(user), e.config.Token.AccessTTL)
	if err != nil {
		// The orphan row is unusable by anyone and the sweep removes it.
		if _, rerr := e.store.Revoke(ctx, cred.Token, "mint failed", "system", now); rerr != nil {
			log.Printf("mallornauth: revoke after mint failure: %v", rerr)
		}
		return nil, internalError("mint access token", err)
	}

	if err := e.accounts.UpdateLastLogin(ctx, user.ID, now, dev.IP); err != nil {
		// Metadata only; the session is already issued.
		log.Printf("mallornauth: update last login: %v", err)
	}

	e.metricInc(MetricCredentialIssued)

	return &Session{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RenewalToken:     cred.Token,
		RenewalExpiresAt: cred.ExpiresAt,
		User: UserSummary{
			ID:          user.ID,
			DisplayName: user.DisplayName,
			LoginName:   user.LoginName,
			Email:       user.Email,
		},
	}, nil
}

// mintForCredential is the non-rotating renewal path: refresh LastUsedAt and
// mint a new access token against the existing credential.
func (e *Engine) mintForCredential(ctx context.Context, user *UserAccount, cred *credential.Credential) (*Session, error) {
	if err := e.store.Touch(ctx, cred.Token, e.now()); err != nil {
		return nil, internalError("touch credential", err)
	}

	access, accessExp, err := e.codec.Mint(identityClaims(user), e.config.Token.AccessTTL)
	if err != nil {
		return nil, internalError("mint access token", err)
	}

	return &Session{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RenewalToken:     cred.Token,
		RenewalExpiresAt: cred.ExpiresAt,
		User: UserSummary{
			ID:          user.ID,
			DisplayName: user.DisplayName,
			LoginName:   user.LoginName,
			Email:       user.Email,
		},
	}, nil
}

// revokeChain revokes every credential reachable from start through
// ReplacedBy links. Bounded and cycle-safe; returns how many rows were
// transitioned. Only called when RevokeDescendants is enabled.
func (e *Engine) revokeChain(ctx context.Context, start *credential.Credential, reason string) int {
	seen := map[string]struct{}{start.Token: {}}
	next := start.ReplacedBy
	count := 0

	for hops := 0; next != "" && hops < maxChainHops; hops++ {
		if _, dup := seen[next]; dup {
			break
		}
		seen[next] = struct{}{}

		cred, err := e.store.FindByToken(ctx, next)
		if err != nil {
			break
		}
		if !cred.Revoked {
			if _, err := e.store.Revoke(ctx, cred.Token, reason, "system", e.now()); err != nil {
				break
			}
			count++
		}
		next = cred.ReplacedBy
	}

	return count
}

func identityClaims(user *UserAccount) token.Claims {
	return token.Claims{
		DisplayName: user.DisplayName,
		LoginName:   user.LoginName,
		Email:       user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject: user.ID,
		},
	}
}

// credentialThrottleKey derives the renewal-throttle key from the token
// value. Hashed so the secret token never appears in Redis keyspace.
func credentialThrottleKey(tok string) string {
	sum := sha256.Sum256([]byte(tok))
	return hex.EncodeToString(sum[:16])
}
