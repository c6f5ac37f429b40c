package httpapi

import (
	"errors"
	"net/http"
	"time"

	goMFA "github.com/MrEthical07/goMFA"
	"github.com/MrEthical07/goMFA/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Options wires the router.
type Options struct {
	Engine   *goMFA.Engine
	Sessions middleware.SessionResolver
	Logger   *zap.Logger

	// AllowedOrigins enables CORS for browser clients. Empty disables the
	// CORS middleware.
	AllowedOrigins []string
	// TrustProxy takes the client IP from X-Forwarded-For.
	TrustProxy bool
	// Metrics, when set, is mounted at GET /metrics.
	Metrics http.Handler
}

type server struct {
	engine   *goMFA.Engine
	sessions middleware.SessionResolver
	logger   *zap.Logger
}

// NewRouter builds the HTTP surface for engine.
func NewRouter(opts Options) (http.Handler, error) {
	if opts.Engine == nil {
		return nil, errors.New("httpapi: engine is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("httpapi: session resolver is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &server{engine: opts.Engine, sessions: opts.Sessions, logger: logger.Named("http")}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.logger))
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			ExposedHeaders:   []string{"Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	r.Use(middleware.ClientMetadata(opts.TrustProxy))

	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/2fa", func(r chi.Router) {
		r.Group(func(pub chi.Router) {
			pub.Post("/login/begin", s.handleBeginLogin)
			pub.Post("/login", s.handleLogin)
			pub.Post("/email/resend/{context}", s.handleResend)
			pub.Post("/webauthn/authenticate", s.handleAuthenticate)
		})

		r.Group(func(g chi.Router) {
			g.Use(middleware.RequireSession(s.sessions, s.unauthorized))

			g.Get("/status", s.handleStatus)
			g.Post("/set-preferred-method", s.handleSetPreferred)
			g.Post("/login-with-webauthn", s.handleLoginWithWebAuthn)
			g.Post("/disable", s.handleDisableAll)

			g.Post("/email/config", s.handleEmailConfig)
			g.Post("/email/enable", s.handleEmailEnable)
			g.Post("/email/disable", s.handleDisable(goMFA.MethodEmail))

			g.Post("/app/config", s.handleAppConfig)
			g.Post("/app/enable", s.handleAppEnable)
			g.Post("/app/disable", s.handleDisable(goMFA.MethodApp))

			g.Post("/webauthn/register/{role}", s.handleRegister)
			g.Patch("/webauthn/credentials/{id}", s.handleRenameCredential)
			g.Delete("/webauthn/credentials/{id}", s.handleDeleteCredential)
			g.Post("/webauthn/transfer", s.handleTransfer)

			g.Post("/backup-codes/regenerate", s.handleRegenerateBackupCodes)

			g.Get("/security-questions/available", s.handleQuestions)
			g.Post("/security-questions/set", s.handleSetAnswers)
			g.Post("/security-questions/verify", s.handleVerifyAnswers)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, false, "route not found", "not_found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, false, "method not allowed", "method_not_allowed", nil)
	})
	return r, nil
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", chimw.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// userID returns the session user injected by RequireSession.
func userID(r *http.Request) string {
	id, _ := middleware.UserIDFromContext(r.Context())
	return id
}
