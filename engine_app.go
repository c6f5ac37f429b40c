package goMFA

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// AppSetup is returned once by [Engine.ConfigureApp]. The secret is never
// retrievable again.
type AppSetup struct {
	Secret    string    `json:"secret"`
	URI       string    `json:"uri"`
	QRCode    string    `json:"qrCode"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type appMethod struct {
	e *Engine
}

func (m *appMethod) Method() Method { return MethodApp }

// IssueChallenge opens an attempt budget for TOTP verification. The code
// itself comes from the user's authenticator.
func (m *appMethod) IssueChallenge(ctx context.Context, userID string, cctx ChallengeContext) (*ChallengeTicket, error) {
	rec, err := m.e.putChallenge(ctx, challengeSpec{subject: userID, kind: ChallengeAppTOTP, context: cctx})
	if err != nil {
		return nil, err
	}
	return ticketFor(rec, MethodApp), nil
}

// Verify checks a TOTP code. Outside the config context the outstanding
// challenge is created on demand; during configuration it must come from
// ConfigureApp.
func (m *appMethod) Verify(ctx context.Context, userID string, cctx ChallengeContext, proof Proof) error {
	create := cctx != ContextConfig
	return m.e.settleAttempt(ctx, userID, cctx, ChallengeAppTOTP, MethodApp, create, func() error {
		return m.e.checkTOTP(ctx, userID, cctx, proof.Value)
	})
}

// Describe derives Configuring from a pending secret with an untouched
// challenge and Verifying once a code has been tried.
func (m *appMethod) Describe(ctx context.Context, userID string, p *Profile) (MethodDescription, error) {
	if p.HasMethod(MethodApp) {
		return describeEnabled(MethodApp, p), nil
	}
	d := MethodDescription{Method: MethodApp, State: StateUnconfigured}

	secret, err := m.e.store.GetAppSecret(ctx, userID)
	if err != nil {
		return d, m.e.storeErr("get app secret", err)
	}
	if secret == nil || secret.Enabled {
		return d, nil
	}

	rec, err := m.e.outstanding(ctx, userID, ContextConfig, ChallengeAppTOTP)
	switch {
	case err == nil:
		if int(rec.Attempts) < m.e.config.Challenge.MaxAttempts {
			d.State = StateVerifying
		} else {
			d.State = StateConfiguring
		}
	case errors.Is(err, ErrChallengeNotFound), errors.Is(err, ErrChallengeExpired):
	default:
		return d, err
	}
	return d, nil
}

func (e *Engine) checkTOTP(ctx context.Context, userID string, cctx ChallengeContext, code string) error {
	secret, err := e.store.GetAppSecret(ctx, userID)
	if err != nil {
		return e.storeErr("get app secret", err)
	}
	if secret == nil {
		return ErrMethodNotEnabled
	}
	if !secret.Enabled && cctx != ContextConfig {
		return ErrMethodNotEnabled
	}

	raw, err := e.box.Open(secret.Sealed, []byte(userID))
	if err != nil {
		e.logger.Error("app secret cannot be opened", zap.String("user_id", userID), zap.Error(err))
		return ErrStoreUnavailable
	}

	ok, counter, err := e.totp.VerifyCode(raw, code, e.now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}

	if e.config.App.EnforceReplayProtection {
		advanced, err := e.store.AdvanceAppCounter(ctx, userID, counter)
		if err != nil {
			return e.storeErr("advance app counter", err)
		}
		if !advanced {
			e.metricInc(MetricTOTPReplay)
			e.emitAudit(ctx, auditEventTOTPReplay, false, userID, MethodApp, ErrInvalidCode, nil)
			return ErrInvalidCode
		}
	}
	return nil
}

// ConfigureApp describes the configureapp operation and its observable behavior.
//
// ConfigureApp generates a TOTP key, stores it sealed as pending and opens a
// config challenge. The returned secret, URI and QR code are shown once; a
// second call replaces the pending key.
func (e *Engine) ConfigureApp(ctx context.Context, userID string) (*AppSetup, error) {
	p, err := e.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.HasMethod(MethodApp) {
		return nil, ErrMethodAlreadyEnabled
	}
	user, err := e.user(ctx, userID)
	if err != nil {
		return nil, err
	}
	account := user.Email
	if account == "" {
		account = userID
	}

	enrollment, err := e.totp.Generate(account)
	if err != nil {
		return nil, err
	}
	sealed, err := e.box.Seal(enrollment.raw, []byte(userID))
	if err != nil {
		return nil, err
	}
	if err := e.store.SavePendingAppSecret(ctx, userID, sealed, e.now().UTC()); err != nil {
		return nil, e.storeErr("save pending app secret", err)
	}

	rec, err := e.putChallenge(ctx, challengeSpec{subject: userID, kind: ChallengeAppTOTP, context: ContextConfig})
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventMethodConfigured, true, userID, MethodApp, nil, nil)
	return &AppSetup{
		Secret:    enrollment.secret,
		URI:       enrollment.uri,
		QRCode:    enrollment.qr,
		ExpiresAt: time.UnixMilli(rec.ExpiresAt).UTC(),
	}, nil
}

// EnableApp verifies the first code from the authenticator and enables app.
func (e *Engine) EnableApp(ctx context.Context, userID, code string) (*EnableResult, error) {
	p, err := e.profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	if p.HasMethod(MethodApp) {
		return nil, ErrMethodAlreadyEnabled
	}

	start := e.now()
	err = e.methods[MethodApp].Verify(ctx, userID, ContextConfig, Proof{Kind: ProofOTP, Value: code})
	e.observeVerify(start)
	if err != nil {
		return nil, e.enrollmentErr(ctx, userID, ChallengeAppTOTP, err)
	}

	return e.enableMethod(ctx, userID, MethodApp, func(c *ProfileCommit) {
		c.EnableAppSecret = true
	})
}
