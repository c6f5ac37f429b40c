package goMFA

import (
	"context"
	"errors"

	"github.com/MrEthical07/goMFA/internal/rate"
	"go.uber.org/zap"
)

// EnableResult is returned when a method becomes enabled. BackupCodes is
// set only when a fresh set was generated in the same commit and is never
// retrievable again.
type EnableResult struct {
	Method          Method   `json:"method"`
	PreferredMethod Method   `json:"preferredMethod"`
	BackupCodes     []string `json:"backupCodes,omitempty"`
}

// enableMethod adds m to the profile. extra may attach factor changes to
// the same commit.
func (e *Engine) enableMethod(ctx context.Context, userID string, m Method, extra func(c *ProfileCommit)) (*EnableResult, error) {
	var codes []string
	saved, err := e.mutateProfile(ctx, userID, func(p *Profile) (*ProfileCommit, error) {
		if p.HasMethod(m) {
			return nil, ErrMethodAlreadyEnabled
		}
		commit := &ProfileCommit{}
		var err error
		if codes, err = e.seedBackupCodes(ctx, userID, p, commit); err != nil {
			return nil, err
		}
		p.addMethod(m)
		if extra != nil {
			extra(commit)
		}
		return commit, nil
	})
	if err != nil {
		return nil, err
	}

	e.methodEnabled(ctx, userID, m, codes)
	return &EnableResult{
		Method:          m,
		PreferredMethod: saved.PreferredMethod,
		BackupCodes:     codes,
	}, nil
}

// seedBackupCodes attaches a fresh backup-code set to commit when p is about
// to gain its first method, unless the policy keeps an existing set that
// still has unused codes.
func (e *Engine) seedBackupCodes(ctx context.Context, userID string, p *Profile, commit *ProfileCommit) ([]string, error) {
	if len(p.EnabledMethods) > 0 {
		return nil, nil
	}
	if !e.config.BackupCodes.RegenerateOnReenable {
		remaining, err := e.unusedBackupCodes(ctx, userID)
		if err != nil {
			return nil, err
		}
		if remaining > 0 {
			return nil, nil
		}
	}
	plain, hashed, err := e.generateBackupCodes(userID)
	if err != nil {
		return nil, err
	}
	commit.ReplaceBackupCodes = hashed
	return plain, nil
}

func (e *Engine) methodEnabled(ctx context.Context, userID string, m Method, codes []string) {
	e.metricInc(MetricMethodEnabled)
	e.emitAudit(ctx, auditEventMethodEnabled, true, userID, m, nil, nil)
	if codes != nil {
		e.metricInc(MetricBackupCodesGenerated)
		e.emitAudit(ctx, auditEventBackupCodesGenerated, true, userID, MethodBackupCode, nil, nil)
	}
}

// DisableMethod describes the disablemethod operation and its observable behavior.
//
// DisableMethod removes m after one successful proof of any kind. Removing
// the last method clears the preferred method and keeps backup codes;
// removing the preferred one reassigns it by priority app > webauthn >
// email. Disabling app deletes the TOTP secret and disabling webauthn
// deletes secondary credentials.
func (e *Engine) DisableMethod(ctx context.Context, userID string, m Method, proof Proof) (*Status, error) {
	if !m.Enrollable() {
		return nil, ErrInvalidMethod
	}
	p, err := e.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !p.HasMethod(m) {
		return nil, ErrMethodNotEnabled
	}
	if err := e.verifyProof(ctx, userID, p, proof); err != nil {
		e.emitAudit(ctx, auditEventMethodDisabled, false, userID, m, err, nil)
		return nil, err
	}

	_, err = e.mutateProfile(ctx, userID, func(p *Profile) (*ProfileCommit, error) {
		if !p.HasMethod(m) {
			return nil, ErrMethodNotEnabled
		}
		commit := &ProfileCommit{}
		p.removeMethod(m)
		switch m {
		case MethodApp:
			commit.DeleteAppSecret = true
		case MethodWebAuthn:
			commit.DeleteCredentialsByRole = RoleSecondary
		}
		return commit, nil
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricMethodDisabled)
	e.emitAudit(ctx, auditEventMethodDisabled, true, userID, m, nil, func() map[string]string {
		return map[string]string{"proof": string(proof.Kind)}
	})
	return e.Status(ctx, userID)
}

// DisableAll describes the disableall operation and its observable behavior.
//
// DisableAll clears every method after one successful proof. It deletes the
// app secret, secondary credentials and backup codes. Primary credentials
// and the passwordless setting are untouched.
func (e *Engine) DisableAll(ctx context.Context, userID string, proof Proof) (*Status, error) {
	p, err := e.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(p.EnabledMethods) == 0 {
		return nil, ErrMethodNotEnabled
	}
	if err := e.verifyProof(ctx, userID, p, proof); err != nil {
		e.emitAudit(ctx, auditEventDisableAll, false, userID, "", err, nil)
		return nil, err
	}

	_, err = e.mutateProfile(ctx, userID, func(p *Profile) (*ProfileCommit, error) {
		p.EnabledMethods = nil
		p.PreferredMethod = MethodNone
		return &ProfileCommit{
			DeleteAppSecret:         true,
			DeleteBackupCodes:       true,
			DeleteCredentialsByRole: RoleSecondary,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricDisableAll)
	e.emitAudit(ctx, auditEventDisableAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"proof": string(proof.Kind)}
	})
	return e.Status(ctx, userID)
}

// SetPreferredMethod makes an enabled method the preferred one.
func (e *Engine) SetPreferredMethod(ctx context.Context, userID string, m Method) (*Status, error) {
	if !m.Enrollable() {
		return nil, ErrMethodNotEnabled
	}
	_, err := e.mutateProfile(ctx, userID, func(p *Profile) (*ProfileCommit, error) {
		if !p.HasMethod(m) {
			return nil, ErrMethodNotEnabled
		}
		if p.PreferredMethod == m {
			return nil, nil
		}
		p.PreferredMethod = m
		return &ProfileCommit{}, nil
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricPreferredChanged)
	e.emitAudit(ctx, auditEventPreferredChanged, true, userID, m, nil, nil)
	return e.Status(ctx, userID)
}

// SetLoginWithWebAuthn toggles passwordless sign-in. Enabling requires at
// least one primary credential.
func (e *Engine) SetLoginWithWebAuthn(ctx context.Context, userID string, enabled bool) (*Status, error) {
	_, err := e.mutateProfile(ctx, userID, func(p *Profile) (*ProfileCommit, error) {
		if p.LoginWithWebAuthn == enabled {
			return nil, nil
		}
		if enabled {
			creds, err := e.store.ListCredentials(ctx, userID, RolePrimary)
			if err != nil {
				return nil, e.storeErr("list credentials", err)
			}
			if len(creds) == 0 {
				return nil, ErrNoPrimaryCredential
			}
		}
		p.LoginWithWebAuthn = enabled
		return &ProfileCommit{}, nil
	})
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventLoginWebAuthnChanged, true, userID, MethodWebAuthn, nil, func() map[string]string {
		if enabled {
			return map[string]string{"enabled": "true"}
		}
		return map[string]string{"enabled": "false"}
	})
	return e.Status(ctx, userID)
}

// verifyProof accepts any one proof for a sensitive mutation. Every attempt
// counts against the per-user verify budget.
func (e *Engine) verifyProof(ctx context.Context, userID string, p *Profile, proof Proof) error {
	if proof.Kind == "" {
		return ErrVerificationRequired
	}
	if err := e.allow(ctx, "verify", rate.EndpointKey("verify", userID), userID, e.config.RateLimit.Verify); err != nil {
		return err
	}

	start := e.now()
	defer e.observeVerify(start)

	switch proof.Kind {
	case ProofPassword:
		return e.verifyPassword(ctx, userID, proof.Value)
	case ProofOTP:
		return e.verifyProofOTP(ctx, userID, p, proof)
	case ProofBackupCode:
		return e.methods[MethodBackupCode].Verify(ctx, userID, ContextDisable, proof)
	case ProofWebAuthn:
		if !p.HasMethod(MethodWebAuthn) {
			return ErrMethodNotEnabled
		}
		return e.methods[MethodWebAuthn].Verify(ctx, userID, ContextDisable, proof)
	case ProofSecurityQuestions:
		return e.methods[MethodSecurityQuestion].Verify(ctx, userID, ContextDisable, proof)
	default:
		return ErrInvalidInput
	}
}

// verifyProofOTP accepts a live code from any enabled OTP method. While an
// email disable code is outstanding, a TOTP is checked first without
// touching that challenge; the email code only spends an attempt when the
// value is not a valid TOTP.
func (e *Engine) verifyProofOTP(ctx context.Context, userID string, p *Profile, proof Proof) error {
	rec, err := e.challenges.Lookup(ctx, userID, string(ContextDisable))
	emailPending := err == nil && ChallengeKind(rec.Kind) == ChallengeEmailOTP

	if p.HasMethod(MethodApp) {
		if !emailPending {
			return e.methods[MethodApp].Verify(ctx, userID, ContextDisable, proof)
		}
		err := e.checkTOTP(ctx, userID, ContextDisable, proof.Value)
		if err == nil {
			e.metricInc(MetricChallengeVerified)
			return nil
		}
		if !errors.Is(err, ErrInvalidCode) {
			return err
		}
	}
	if emailPending || p.HasMethod(MethodEmail) {
		return e.methods[MethodEmail].Verify(ctx, userID, ContextDisable, proof)
	}
	return ErrMethodNotEnabled
}

func (e *Engine) verifyPassword(ctx context.Context, userID, password string) error {
	if password == "" {
		return ErrProofRejected
	}
	user, err := e.user(ctx, userID)
	if err != nil {
		return err
	}
	if user.PasswordHash == "" {
		return ErrProofRejected
	}
	ok, err := e.hasher.Verify(password, user.PasswordHash)
	if err != nil {
		e.logger.Warn("password hash verification failed", zap.String("user_id", userID), zap.Error(err))
		return ErrProofRejected
	}
	if !ok {
		return ErrProofRejected
	}
	return nil
}

func (e *Engine) unusedBackupCodes(ctx context.Context, userID string) (int, error) {
	codes, err := e.store.ListBackupCodes(ctx, userID)
	if err != nil {
		return 0, e.storeErr("list backup codes", err)
	}
	n := 0
	for _, c := range codes {
		if !c.Used {
			n++
		}
	}
	return n, nil
}
