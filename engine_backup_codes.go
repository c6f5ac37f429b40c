package goMFA

import (
	"context"
	"strconv"
	"time"

	"github.com/MrEthical07/goMFA/internal/backupcode"
	"github.com/MrEthical07/goMFA/internal/rate"
	"go.uber.org/zap"
)

// backupCodeMethod verifies recovery codes. It has no enrollment of its own:
// the set is created when the first method is enabled. Attempts are bounded
// by the per-user failure window rather than by a challenge record.
type backupCodeMethod struct {
	e *Engine
}

func (m *backupCodeMethod) Method() Method { return MethodBackupCode }

// IssueChallenge returns an informational ticket. Backup codes are
// self-contained, so nothing is persisted.
func (m *backupCodeMethod) IssueChallenge(ctx context.Context, userID string, cctx ChallengeContext) (*ChallengeTicket, error) {
	remaining, err := m.e.unusedBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	if remaining == 0 {
		return nil, ErrBackupCodesExhausted
	}
	return &ChallengeTicket{
		Method:  MethodBackupCode,
		Kind:    ChallengeBackupCode.String(),
		Context: cctx,
	}, nil
}

func (m *backupCodeMethod) Verify(ctx context.Context, userID string, cctx ChallengeContext, proof Proof) error {
	return m.e.consumeBackupCode(ctx, userID, cctx, proof.Value)
}

func (m *backupCodeMethod) Describe(ctx context.Context, userID string, p *Profile) (MethodDescription, error) {
	d := MethodDescription{Method: MethodBackupCode, State: StateUnconfigured}
	remaining, err := m.e.unusedBackupCodes(ctx, userID)
	if err != nil {
		return d, err
	}
	if remaining > 0 {
		d.State = StateEnabled
		d.Enabled = true
	}
	return d, nil
}

// generateBackupCodes returns display-formatted codes and their hashes.
func (e *Engine) generateBackupCodes(userID string) ([]string, []BackupCode, error) {
	cfg := e.config.BackupCodes
	canonical, err := backupcode.Generate(cfg.Count, cfg.Length, backupcode.CryptoRandomIndex)
	if err != nil {
		return nil, nil, err
	}

	now := e.now().UTC()
	plain := make([]string, len(canonical))
	hashed := make([]BackupCode, len(canonical))
	for i, code := range canonical {
		plain[i] = backupcode.Format(code)
		hashed[i] = BackupCode{
			Hash:      backupcode.Hash(userID, code),
			CreatedAt: now,
		}
	}
	return plain, hashed, nil
}

// consumeBackupCode marks code used. Failures count against the backup
// failure window, which is checked before any lookup and cleared on success.
func (e *Engine) consumeBackupCode(ctx context.Context, userID string, cctx ChallengeContext, code string) error {
	rule := e.config.RateLimit.BackupCodeFailures
	key := rate.FailureKey("backup", userID)
	if err := e.checkFailures(ctx, "backup_code", key, userID, rule); err != nil {
		return err
	}

	remaining, err := e.unusedBackupCodes(ctx, userID)
	if err != nil {
		return err
	}
	if remaining == 0 {
		return ErrBackupCodesExhausted
	}

	fail := func(err error) error {
		e.recordFailure(ctx, key, rule)
		e.metricInc(MetricBackupCodeFailed)
		e.emitAudit(ctx, auditEventBackupCodeFailed, false, userID, MethodBackupCode, err, func() map[string]string {
			return map[string]string{"context": string(cctx)}
		})
		return err
	}

	canonical := backupcode.Canonicalize(code)
	if !backupcode.Valid(canonical, e.config.BackupCodes.Length) {
		return fail(ErrInvalidCode)
	}

	result, err := e.store.ConsumeBackupCode(ctx, userID, backupcode.Hash(userID, canonical), e.now().UTC())
	if err != nil {
		return e.storeErr("consume backup code", err)
	}
	switch result {
	case ConsumeOK:
	case ConsumeAlreadyUsed:
		return fail(ErrBackupCodeAlreadyUsed)
	default:
		return fail(ErrInvalidCode)
	}

	if err := e.limiter.Reset(ctx, key); err != nil {
		e.logger.Warn("failed to reset backup code failures", zap.String("user_id", userID), zap.Error(err))
	}
	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditEventBackupCodeUsed, true, userID, MethodBackupCode, nil, func() map[string]string {
		return map[string]string{"context": string(cctx), "remaining": strconv.Itoa(remaining - 1)}
	})
	return nil
}

// BackupCodesResult carries a freshly generated set. The plaintext codes are
// never retrievable again.
type BackupCodesResult struct {
	Codes       []string  `json:"backupCodes"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// RegenerateBackupCodes describes the regeneratebackupcodes operation and its observable behavior.
//
// RegenerateBackupCodes replaces the whole set after one successful proof.
// It requires at least one enabled method; the old codes stop working in the
// same commit.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID string, proof Proof) (*BackupCodesResult, error) {
	p, err := e.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(p.EnabledMethods) == 0 {
		return nil, ErrMethodNotEnabled
	}
	if err := e.verifyProof(ctx, userID, p, proof); err != nil {
		return nil, err
	}

	var plain []string
	saved, err := e.mutateProfile(ctx, userID, func(p *Profile) (*ProfileCommit, error) {
		if len(p.EnabledMethods) == 0 {
			return nil, ErrMethodNotEnabled
		}
		codes, hashed, err := e.generateBackupCodes(userID)
		if err != nil {
			return nil, err
		}
		plain = codes
		return &ProfileCommit{ReplaceBackupCodes: hashed}, nil
	})
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricBackupCodesGenerated)
	e.emitAudit(ctx, auditEventBackupCodesGenerated, true, userID, MethodBackupCode, nil, func() map[string]string {
		return map[string]string{"proof": string(proof.Kind)}
	})
	return &BackupCodesResult{Codes: plain, GeneratedAt: saved.UpdatedAt}, nil
}
