package goMFA

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goMFA/hashing"
)

// Config is the full engine configuration. Start from [DefaultConfig] and
// override what you need; [Builder.Build] validates a private copy.
type Config struct {
	Challenge         ChallengeConfig
	Email             EmailConfig
	App               AppConfig
	WebAuthn          WebAuthnConfig
	BackupCodes       BackupCodeConfig
	SecurityQuestions SecurityQuestionConfig
	RateLimit         RateLimitConfig
	StepUp            StepUpConfig
	Token             TokenConfig
	Notify            NotifyConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
	Hashing           HashingConfig
}

/*
====================================
CHALLENGE CONFIG
====================================
*/

// ChallengeConfig controls one-time challenge lifetime and attempt budget.
type ChallengeConfig struct {
	TTL         time.Duration
	MaxAttempts int
	CodeDigits  int
	RedisPrefix string
}

/*
====================================
METHOD CONFIG
====================================
*/

type EmailConfig struct {
	// RequireVerifiedEmail rejects email configuration for accounts whose
	// address is not verified.
	RequireVerifiedEmail bool
}

// AppConfig controls authenticator-app TOTP.
type AppConfig struct {
	Issuer                  string
	Digits                  int
	Period                  int
	Algorithm               string
	Skew                    int
	EnforceReplayProtection bool
	// SecretKey is the 32-byte XChaCha20-Poly1305 key that seals TOTP
	// secrets at rest.
	SecretKey  []byte
	QRCodeSize int
}

type WebAuthnConfig struct {
	CeremonyTTL                    time.Duration
	AllowCounterlessAuthenticators bool
}

type BackupCodeConfig struct {
	Count  int
	Length int
	// RegenerateOnReenable regenerates the set whenever the first method is
	// enabled. When false, an existing set with unused codes is kept.
	RegenerateOnReenable bool
}

type SecurityQuestionConfig struct {
	RequiredAnswers int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitRule is a fixed-window budget.
type RateLimitRule struct {
	Limit  int
	Window time.Duration
}

// RateLimitConfig defines every throttled operation.
type RateLimitConfig struct {
	RedisPrefix     string
	DecisionTimeout time.Duration

	Login                  RateLimitRule
	ChallengeIssue         RateLimitRule
	ResendCooldown         time.Duration
	Verify                 RateLimitRule
	BackupCodeFailures     RateLimitRule
	SecurityAnswerFailures RateLimitRule
	// WebAuthnBegin throttles ceremony creation per user, or per client IP
	// for discoverable logins.
	WebAuthnBegin        RateLimitRule
	PasswordlessFailures RateLimitRule
}

/*
====================================
STEP-UP CONFIG
====================================
*/

// StepUpConfig controls the login-time MFA step-up.
type StepUpConfig struct {
	// RequirePrimaryAuth makes /login require a prior BeginLogin.
	RequirePrimaryAuth bool
	PendingTTL         time.Duration
	TokenTTL           time.Duration
	RedisPrefix        string
}

// TokenConfig configures the step-up token signer.
type TokenConfig struct {
	SigningMethod string // "ed25519" (default), "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
}

/*
====================================
AMBIENT CONFIG
====================================
*/

type NotifyConfig struct {
	QueueSize   int
	Workers     int
	SendTimeout time.Duration
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// HashingConfig holds argon2id parameters for security answers.
type HashingConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultConfig returns production defaults. Keys (App.SecretKey and the
// token keys) must still be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	h := hashing.DefaultConfig()
	return Config{
		Challenge: ChallengeConfig{
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
			CodeDigits:  6,
			RedisPrefix: "mfc",
		},
		Email: EmailConfig{
			RequireVerifiedEmail: true,
		},
		App: AppConfig{
			Issuer:                  "goMFA",
			Digits:                  6,
			Period:                  30,
			Algorithm:               "SHA1",
			Skew:                    1,
			EnforceReplayProtection: true,
			QRCodeSize:              256,
		},
		WebAuthn: WebAuthnConfig{
			CeremonyTTL: 5 * time.Minute,
		},
		BackupCodes: BackupCodeConfig{
			Count:                8,
			Length:               10,
			RegenerateOnReenable: true,
		},
		SecurityQuestions: SecurityQuestionConfig{
			RequiredAnswers: 2,
		},
		RateLimit: RateLimitConfig{
			RedisPrefix:            "mrl",
			DecisionTimeout:        250 * time.Millisecond,
			Login:                  RateLimitRule{Limit: 5, Window: 2 * time.Minute},
			ChallengeIssue:         RateLimitRule{Limit: 5, Window: 2 * time.Minute},
			ResendCooldown:         30 * time.Second,
			Verify:                 RateLimitRule{Limit: 10, Window: 5 * time.Minute},
			BackupCodeFailures:     RateLimitRule{Limit: 5, Window: 10 * time.Minute},
			SecurityAnswerFailures: RateLimitRule{Limit: 5, Window: 10 * time.Minute},
			WebAuthnBegin:          RateLimitRule{Limit: 10, Window: time.Minute},
			PasswordlessFailures:   RateLimitRule{Limit: 5, Window: 10 * time.Minute},
		},
		StepUp: StepUpConfig{
			RequirePrimaryAuth: true,
			PendingTTL:         10 * time.Minute,
			TokenTTL:           5 * time.Minute,
			RedisPrefix:        "mfs",
		},
		Token: TokenConfig{
			SigningMethod: "ed25519",
			Issuer:        "gomfa",
		},
		Notify: NotifyConfig{
			QueueSize:   256,
			Workers:     2,
			SendTimeout: 5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Hashing: HashingConfig{
			Memory:      h.Memory,
			Time:        h.Time,
			Parallelism: h.Parallelism,
			SaltLength:  h.SaltLength,
			KeyLength:   h.KeyLength,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.App.SecretKey = cloneBytes(cfg.App.SecretKey)
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate describes the validate operation and its observable behavior.
//
// Validate returns an error describing the first invalid field. It does not
// mutate c.
func (c *Config) Validate() error {
	// Challenge
	if c.Challenge.TTL <= 0 {
		return errors.New("Challenge TTL must be > 0")
	}
	if c.Challenge.MaxAttempts <= 0 || c.Challenge.MaxAttempts > 65535 {
		return errors.New("Challenge MaxAttempts must be in [1, 65535]")
	}
	if c.Challenge.CodeDigits < 6 || c.Challenge.CodeDigits > 10 {
		return errors.New("Challenge CodeDigits must be in [6, 10]")
	}
	if strings.TrimSpace(c.Challenge.RedisPrefix) == "" {
		return errors.New("Challenge RedisPrefix must not be empty")
	}

	// App
	if c.App.Issuer == "" {
		return errors.New("App Issuer must not be empty")
	}
	if c.App.Digits != 6 && c.App.Digits != 8 {
		return errors.New("App Digits must be 6 or 8")
	}
	if c.App.Period <= 0 {
		return errors.New("App Period must be > 0")
	}
	switch strings.ToUpper(c.App.Algorithm) {
	case "SHA1", "SHA256", "SHA512":
	default:
		return errors.New("App Algorithm must be SHA1, SHA256 or SHA512")
	}
	if c.App.Skew < 0 || c.App.Skew > 3 {
		return errors.New("App Skew must be in [0, 3]")
	}
	if len(c.App.SecretKey) != 32 {
		return errors.New("App SecretKey must be 32 bytes")
	}
	if c.App.QRCodeSize < 64 {
		return errors.New("App QRCodeSize must be >= 64")
	}

	// WebAuthn
	if c.WebAuthn.CeremonyTTL <= 0 {
		return errors.New("WebAuthn CeremonyTTL must be > 0")
	}

	// Backup codes
	if c.BackupCodes.Count <= 0 {
		return errors.New("BackupCodes Count must be > 0")
	}
	if c.BackupCodes.Length < 8 || c.BackupCodes.Length%2 != 0 {
		return errors.New("BackupCodes Length must be an even number >= 8")
	}

	if c.SecurityQuestions.RequiredAnswers <= 0 {
		return errors.New("SecurityQuestions RequiredAnswers must be > 0")
	}

	// Rate limits
	if c.RateLimit.DecisionTimeout <= 0 {
		return errors.New("RateLimit DecisionTimeout must be > 0")
	}
	for name, r := range map[string]RateLimitRule{
		"Login":                  c.RateLimit.Login,
		"ChallengeIssue":         c.RateLimit.ChallengeIssue,
		"Verify":                 c.RateLimit.Verify,
		"BackupCodeFailures":     c.RateLimit.BackupCodeFailures,
		"SecurityAnswerFailures": c.RateLimit.SecurityAnswerFailures,
		"WebAuthnBegin":          c.RateLimit.WebAuthnBegin,
		"PasswordlessFailures":   c.RateLimit.PasswordlessFailures,
	} {
		if r.Limit <= 0 || r.Window <= 0 {
			return errors.New("RateLimit " + name + " requires Limit > 0 and Window > 0")
		}
	}
	if c.RateLimit.ResendCooldown < 0 {
		return errors.New("RateLimit ResendCooldown must be >= 0")
	}

	// Step-up
	if c.StepUp.PendingTTL <= 0 {
		return errors.New("StepUp PendingTTL must be > 0")
	}
	if c.StepUp.TokenTTL <= 0 {
		return errors.New("StepUp TokenTTL must be > 0")
	}
	if c.StepUp.RedisPrefix == "" || c.StepUp.RedisPrefix == c.Challenge.RedisPrefix || c.StepUp.RedisPrefix == c.RateLimit.RedisPrefix {
		return errors.New("StepUp RedisPrefix must be non-empty and distinct from other prefixes")
	}

	// Token
	switch c.Token.SigningMethod {
	case "ed25519":
		if len(c.Token.PrivateKey) == 0 || len(c.Token.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	case "hs256":
		if len(c.Token.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported Token signing method")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	if _, err := hashing.New(c.hashingConfig()); err != nil {
		return err
	}

	return nil
}

func (c *Config) hashingConfig() hashing.Config {
	h := hashing.DefaultConfig()
	h.Memory = c.Hashing.Memory
	h.Time = c.Hashing.Time
	h.Parallelism = c.Hashing.Parallelism
	h.SaltLength = c.Hashing.SaltLength
	h.KeyLength = c.Hashing.KeyLength
	return h
}
