package goMFA

import (
	"errors"
	"time"

	"github.com/MrEthical07/goMFA/hashing"
	"github.com/MrEthical07/goMFA/internal"
	"github.com/MrEthical07/goMFA/internal/audit"
	"github.com/MrEthical07/goMFA/internal/challenge"
	"github.com/MrEthical07/goMFA/internal/notify"
	"github.com/MrEthical07/goMFA/internal/rate"
	"github.com/MrEthical07/goMFA/internal/secretbox"
	"github.com/MrEthical07/goMFA/jwt"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. Configure it once during initialization;
// Build can only be called once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	store     Store
	directory UserDirectory
	notifier  Notifier
	ceremony  WebAuthnCeremony
	auditSink AuditSink
	logger    *zap.Logger
	now       func() time.Time
	newCode   func(digits int) (string, error)

	built bool
}

// New describes the new operation and its observable behavior.
//
// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration. The builder keeps a copy.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the client backing challenges, rate limits and step-up
// markers. Required.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithStore sets the persistence backend. Required.
func (b *Builder) WithStore(store Store) *Builder {
	b.store = store
	return b
}

// WithUserDirectory sets the primary account lookup. Required.
func (b *Builder) WithUserDirectory(dir UserDirectory) *Builder {
	b.directory = dir
	return b
}

// WithNotifier sets the out-of-band code sink. Without one, codes are only
// logged as undeliverable.
func (b *Builder) WithNotifier(n Notifier) *Builder {
	b.notifier = n
	return b
}

// WithWebAuthn enables WebAuthn operations. Without a ceremony they return
// ErrFeatureDisabled.
func (b *Builder) WithWebAuthn(ceremony WebAuthnCeremony) *Builder {
	b.ceremony = ceremony
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every component that reads the clock.
// Redis key expiry still follows the server clock.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithCodeGenerator overrides numeric one-time code generation.
func (b *Builder) WithCodeGenerator(gen func(digits int) (string, error)) *Builder {
	b.newCode = gen
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build describes the build operation and its observable behavior.
//
// Build validates the configuration and required dependencies, then starts
// the audit and notification workers. Call [Engine.Close] to stop them.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}
	if b.directory == nil {
		return nil, errors.New("user directory required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("mfa")

	now := b.now
	if now == nil {
		now = time.Now
	}
	newCode := b.newCode
	if newCode == nil {
		newCode = internal.NewOTP
	}

	hasher, err := hashing.New(cfg.hashingConfig())
	if err != nil {
		return nil, err
	}

	box, err := secretbox.New(cfg.App.SecretKey)
	if err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.StepUp.TokenTTL,
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Audience:      cfg.Token.Audience,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:    cloneConfig(cfg),
		redis:     b.redis,
		store:     b.store,
		directory: b.directory,
		ceremony:  b.ceremony,
		logger:    logger,
		now:       now,
		newCode:   newCode,
		hasher:    hasher,
		box:       box,
		tokens:    tokens,
	}

	engine.notifier = b.notifier
	if engine.notifier == nil {
		engine.notifier = undeliverableNotifier{logger: logger}
	}

	engine.challenges = challenge.NewStore(b.redis, cfg.Challenge.RedisPrefix, now)
	engine.limiter = rate.New(b.redis, rate.Config{
		Prefix:          cfg.RateLimit.RedisPrefix,
		DecisionTimeout: cfg.RateLimit.DecisionTimeout,
	})
	engine.metrics = NewMetrics(cfg.Metrics)
	engine.totp = newTOTPManager(cfg.App)
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.notifications = notify.NewDispatcher(notify.Config{
		QueueSize:   cfg.Notify.QueueSize,
		Workers:     cfg.Notify.Workers,
		SendTimeout: cfg.Notify.SendTimeout,
	}, func(job notify.Job, err error) {
		logger.Warn("code delivery failed", zap.String("user_id", job.UserID), zap.Error(err))
	})

	engine.methods = map[Method]MfaMethod{
		MethodEmail:            &emailMethod{e: engine},
		MethodApp:              &appMethod{e: engine},
		MethodWebAuthn:         &webauthnMethod{e: engine},
		MethodBackupCode:       &backupCodeMethod{e: engine},
		MethodSecurityQuestion: &securityQuestionMethod{e: engine},
	}

	b.built = true

	return engine, nil
}
