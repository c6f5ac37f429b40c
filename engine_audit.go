package goMFA

import (
	"context"
)

const (
	auditEventChallengeIssued        = "challenge_issued"
	auditEventChallengeResent        = "challenge_resent"
	auditEventChallengeFailed        = "challenge_failed"
	auditEventChallengeExhausted     = "challenge_exhausted"
	auditEventMethodConfigured       = "mfa_method_configured"
	auditEventMethodEnabled          = "mfa_method_enabled"
	auditEventMethodDisabled         = "mfa_method_disabled"
	auditEventDisableAll             = "mfa_disabled_all"
	auditEventPreferredChanged       = "mfa_preferred_changed"
	auditEventLoginWebAuthnChanged   = "mfa_login_with_webauthn_changed"
	auditEventStepUpStarted          = "mfa_step_up_started"
	auditEventLoginSuccess           = "mfa_login_success"
	auditEventLoginFailure           = "mfa_login_failure"
	auditEventPasswordlessLogin      = "mfa_passwordless_login"
	auditEventTOTPReplay             = "totp_replay_rejected"
	auditEventWebAuthnRegistered     = "webauthn_registered"
	auditEventWebAuthnFailed         = "webauthn_failed"
	auditEventWebAuthnCloneDetected  = "webauthn_clone_detected"
	auditEventCredentialTransferred  = "webauthn_credential_transferred"
	auditEventCredentialDeleted      = "webauthn_credential_deleted"
	auditEventCredentialRenamed      = "webauthn_credential_renamed"
	auditEventBackupCodesGenerated   = "backup_codes_generated"
	auditEventBackupCodeUsed         = "backup_code_used"
	auditEventBackupCodeFailed       = "backup_code_failed"
	auditEventSecurityAnswersSet     = "security_answers_set"
	auditEventSecurityAnswersFailed  = "security_answers_failed"
	auditEventSecurityAnswersMatched = "security_answers_verified"
	auditEventRateLimitTriggered     = "rate_limit_triggered"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	method Method,
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
		Timestamp: e.now().UTC(),
		EventType: eventType,
		UserID:    userID,
		Method:    string(method),
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Error:     ErrorCode(err),
		Metadata:  metadata,
	}

	e.audit.Emit(ctx, event)
}

func (e *Engine) emitRateLimit(ctx context.Context, scope, userID string, metadataBuilder func() map[string]string) {
	e.metricInc(MetricRateLimitHit)
	e.emitAudit(ctx, auditEventRateLimitTriggered, false, userID, "", ErrRateLimited, func() map[string]string {
		base := map[string]string{
			"scope": scope,
		}
		if metadataBuilder == nil {
			return base
		}
		for k, v := range metadataBuilder() {
			base[k] = v
		}
		return base
	})
}
