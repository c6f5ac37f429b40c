package goMFA

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

func validTestConfig(t *testing.T) Config {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	cfg := DefaultConfig()
	cfg.App.SecretKey = make([]byte, 32)
	cfg.Token.PrivateKey = priv
	cfg.Token.PublicKey = pub
	cfg.Hashing.Memory = 8 * 1024
	cfg.Hashing.Time = 1
	cfg.Hashing.Parallelism = 1
	return cfg
}

func TestDefaultConfigNeedsKeys(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected default config without keys to be invalid")
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Challenge.TTL != 10*time.Minute || cfg.Challenge.MaxAttempts != 5 || cfg.Challenge.CodeDigits != 6 {
		t.Fatalf("unexpected challenge defaults: %+v", cfg.Challenge)
	}
	if cfg.BackupCodes.Count != 8 {
		t.Fatalf("expected 8 backup codes, got %d", cfg.BackupCodes.Count)
	}
	if cfg.RateLimit.Login.Limit != 5 || cfg.RateLimit.Login.Window != 2*time.Minute {
		t.Fatalf("unexpected login limit: %+v", cfg.RateLimit.Login)
	}
	if cfg.RateLimit.ResendCooldown != 30*time.Second {
		t.Fatalf("unexpected resend cooldown: %v", cfg.RateLimit.ResendCooldown)
	}
	if cfg.RateLimit.WebAuthnBegin.Limit != 10 || cfg.RateLimit.PasswordlessFailures.Limit != 5 {
		t.Fatalf("unexpected webauthn limits: %+v %+v", cfg.RateLimit.WebAuthnBegin, cfg.RateLimit.PasswordlessFailures)
	}
	if cfg.WebAuthn.AllowCounterlessAuthenticators {
		t.Fatal("counterless authenticators must be off by default")
	}
	if cfg.SecurityQuestions.RequiredAnswers != 2 {
		t.Fatalf("expected 2 required answers, got %d", cfg.SecurityQuestions.RequiredAnswers)
	}
}

func TestConfigValidateEnums(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "baseline",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name: "app digits 8 valid",
			mutate: func(c *Config) {
				c.App.Digits = 8
			},
			wantValid: true,
		},
		{
			name: "app digits 7 invalid",
			mutate: func(c *Config) {
				c.App.Digits = 7
			},
			wantValid: false,
		},
		{
			name: "app algorithm sha512 valid",
			mutate: func(c *Config) {
				c.App.Algorithm = "SHA512"
			},
			wantValid: true,
		},
		{
			name: "app algorithm md5 invalid",
			mutate: func(c *Config) {
				c.App.Algorithm = "MD5"
			},
			wantValid: false,
		},
		{
			name: "app secret key short invalid",
			mutate: func(c *Config) {
				c.App.SecretKey = make([]byte, 16)
			},
			wantValid: false,
		},
		{
			name: "backup code length odd invalid",
			mutate: func(c *Config) {
				c.BackupCodes.Length = 9
			},
			wantValid: false,
		},
		{
			name: "challenge attempts zero invalid",
			mutate: func(c *Config) {
				c.Challenge.MaxAttempts = 0
			},
			wantValid: false,
		},
		{
			name: "step-up prefix collides with challenge prefix",
			mutate: func(c *Config) {
				c.StepUp.RedisPrefix = c.Challenge.RedisPrefix
			},
			wantValid: false,
		},
		{
			name: "hs256 with long key valid",
			mutate: func(c *Config) {
				c.Token.SigningMethod = "hs256"
				c.Token.PrivateKey = make([]byte, 32)
			},
			wantValid: true,
		},
		{
			name: "hs256 with short key invalid",
			mutate: func(c *Config) {
				c.Token.SigningMethod = "hs256"
				c.Token.PrivateKey = make([]byte, 8)
			},
			wantValid: false,
		},
		{
			name: "rs256 invalid",
			mutate: func(c *Config) {
				c.Token.SigningMethod = "rs256"
			},
			wantValid: false,
		},
		{
			name: "latency without metrics invalid",
			mutate: func(c *Config) {
				c.Metrics.Enabled = false
				c.Metrics.EnableLatencyHistograms = true
			},
			wantValid: false,
		},
		{
			name: "weak hashing invalid",
			mutate: func(c *Config) {
				c.Hashing.Memory = 1024
			},
			wantValid: false,
		},
		{
			name: "audit enabled without buffer invalid",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name: "zero webauthn begin limit invalid",
			mutate: func(c *Config) {
				c.RateLimit.WebAuthnBegin.Limit = 0
			},
			wantValid: false,
		},
		{
			name: "negative resend cooldown invalid",
			mutate: func(c *Config) {
				c.RateLimit.ResendCooldown = -time.Second
			},
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validTestConfig(t)
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected invalid config, got nil")
			}
		})
	}
}

func TestCloneConfigDetachesKeys(t *testing.T) {
	cfg := validTestConfig(t)
	clone := cloneConfig(cfg)
	clone.App.SecretKey[0] = 0xFF
	if cfg.App.SecretKey[0] == 0xFF {
		t.Fatal("clone must not share key material")
	}
}
