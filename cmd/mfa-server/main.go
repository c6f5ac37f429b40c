// Command mfa-server runs the goMFA HTTP API.
//
// Configuration comes from the environment (see internal/config). Postgres
// is used when MFA_DATABASE_URL is set; otherwise profiles live in memory
// and are lost on restart. Codes go to Kafka when MFA_KAFKA_BROKERS is set
// and to the log otherwise.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/MrEthical07/goMFA/internal/config"
	"github.com/MrEthical07/goMFA/jwt"
	"github.com/MrEthical07/goMFA/metrics/export/prometheus"
	"github.com/MrEthical07/goMFA/middleware"
	"github.com/MrEthical07/goMFA/notify"
	"github.com/MrEthical07/goMFA/passkey"
	"github.com/MrEthical07/goMFA/store/memory"
	"github.com/MrEthical07/goMFA/store/postgres"
	"github.com/MrEthical07/goMFA/transport/httpapi"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	sessionTTL      = 12 * time.Hour
	shutdownTimeout = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return err
	}

	var (
		store     goMFA.Store
		directory goMFA.UserDirectory
	)
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolConfig{})
		if err != nil {
			return err
		}
		defer pool.Close()
		pg := postgres.New(pool)
		store, directory = pg, pg
		logger.Info("using postgres store")
	} else {
		mem := memory.New()
		store, directory = mem, mem
		logger.Warn("MFA_DATABASE_URL not set, profiles are kept in memory")
	}

	var notifier goMFA.Notifier = notify.NewLogNotifier(logger)
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kn, err := notify.NewKafkaNotifier(brokers, cfg.KafkaTopic, logger)
		if err != nil {
			return err
		}
		defer kn.Close()
		notifier = kn
	}

	ceremony, err := passkey.New(passkey.Config{
		RPID:          cfg.WebAuthnRPID,
		RPDisplayName: cfg.WebAuthnRPName,
		RPOrigins:     cfg.WebAuthnOriginsList(),
	})
	if err != nil {
		return err
	}

	secretKey, err := cfg.SecretKeyBytes()
	if err != nil {
		return err
	}

	mfaCfg := goMFA.DefaultConfig()
	mfaCfg.App.Issuer = cfg.TOTPIssuer
	mfaCfg.App.SecretKey = secretKey
	mfaCfg.Token.SigningMethod = string(jwt.MethodHS256)
	mfaCfg.Token.PrivateKey = []byte(cfg.StepUpSigningKey)
	mfaCfg.Token.Issuer = cfg.TokenIssuer
	mfaCfg.Audit.Enabled = true

	engine, err := goMFA.New().
		WithConfig(mfaCfg).
		WithRedis(rdb).
		WithStore(store).
		WithUserDirectory(directory).
		WithNotifier(notifier).
		WithWebAuthn(ceremony).
		WithAuditSink(goMFA.NewZapSink(logger)).
		WithLogger(logger).
		WithMetricsEnabled(cfg.MetricsEnabled).
		WithLatencyHistograms(cfg.MetricsEnabled).
		Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	sessions, err := jwt.NewManager(jwt.Config{
		TTL:           sessionTTL,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte(cfg.SessionSigningKey),
		Issuer:        cfg.TokenIssuer,
	})
	if err != nil {
		return err
	}

	opts := httpapi.Options{
		Engine:         engine,
		Sessions:       middleware.JWTSessionResolver{Tokens: sessions},
		Logger:         logger,
		AllowedOrigins: cfg.AllowedOriginsList(),
		TrustProxy:     cfg.IsProduction(),
	}
	if cfg.MetricsEnabled {
		opts.Metrics = prometheus.New(engine)
		if cfg.MetricsLogInterval > 0 {
			shutdownOTel, err := startOTel(engine, cfg.MetricsLogInterval, logger)
			if err != nil {
				return err
			}
			defer func() { _ = shutdownOTel(context.Background()) }()
		}
	}
	handler, err := httpapi.NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewDevelopmentConfig()
	if cfg.IsProduction() {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
