package mallornauth

import (
	"context"
	"errors"

	"github.com/yunhaishang/mallorn-auth/token"
)

const (
	auditEventLoginSuccess     = "login_success"
	auditEventLoginFailure     = "login_failure"
	auditEventLoginLocked      = "login_locked"
	auditEventLoginRateLimited = "login_rate_limited"
	auditEventRenewSuccess     = "renew_success"
	auditEventRenewInvalid     = "renew_invalid"
	auditEventRenewRateLimited = "renew_rate_limited"
	auditEventRenewReplay      = "renew_replay_detected"
	auditEventDeviceEvicted    = "device_limit_evicted"
	auditEventLogoutSession    = "logout_session"
	auditEventLogoutAll        = "logout_all"
	auditEventVerifyRevoked    = "verify_token_revoked"
)

// AuditErrorCode is the stable error vocabulary carried on audit events,
// decoupled from Go error strings.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrInvalidCredential  AuditErrorCode = "invalid_credential"
	auditErrTokenMalformed     AuditErrorCode = "token_malformed"
	auditErrTokenExpired       AuditErrorCode = "token_expired"
	auditErrTokenRevoked       AuditErrorCode = "token_revoked"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	credentialID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp:    e.now().UTC(),
		EventType:    eventType,
		UserID:       userID,
		CredentialID: credentialID,
		IP:           clientIPFromContext(ctx),
		Success:      success,
		Metadata:     metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrLoginThrottled),
		errors.Is(err, ErrRenewThrottled):
		return auditErrRateLimited
	case errors.Is(err, ErrInvalidCredential):
		return auditErrInvalidCredential
	case errors.Is(err, token.ErrMalformed),
		errors.Is(err, token.ErrBadSignature):
		return auditErrTokenMalformed
	case errors.Is(err, token.ErrExpired):
		return auditErrTokenExpired
	case errors.Is(err, ErrTokenRevoked):
		return auditErrTokenRevoked
	default:
		return auditErrInternal
	}
}
