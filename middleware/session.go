package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/goMFA/jwt"
)

// ErrNoSession is returned by resolvers when the request carries no usable
// credentials.
var ErrNoSession = errors.New("no session")

// SessionResolver maps a request to the authenticated user id.
type SessionResolver interface {
	ResolveSession(r *http.Request) (string, error)
}

// SessionResolverFunc adapts a function to [SessionResolver].
type SessionResolverFunc func(r *http.Request) (string, error)

func (f SessionResolverFunc) ResolveSession(r *http.Request) (string, error) {
	return f(r)
}

type userIDContextKey struct{}

// WithUserID stores userID in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey{}, userID)
}

// UserIDFromContext returns the user id injected by [RequireSession].
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDContextKey{}).(string)
	return id, ok && id != ""
}

// RequireSession rejects requests the resolver cannot map to a user.
// unauthorized writes the rejection; nil falls back to a plain 401.
func RequireSession(resolver SessionResolver, unauthorized http.HandlerFunc) func(http.Handler) http.Handler {
	if unauthorized == nil {
		unauthorized = func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if resolver == nil {
				unauthorized(w, r)
				return
			}
			userID, err := resolver.ResolveSession(r)
			if err != nil || userID == "" {
				unauthorized(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// JWTSessionResolver validates `Authorization: Bearer` session tokens.
type JWTSessionResolver struct {
	Tokens *jwt.Manager
}

func (j JWTSessionResolver) ResolveSession(r *http.Request) (string, error) {
	if j.Tokens == nil {
		return "", ErrNoSession
	}
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return "", ErrNoSession
	}
	claims, err := j.Tokens.Parse(token, jwt.PurposeSession)
	if err != nil {
		return "", err
	}
	return claims.UID, nil
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
