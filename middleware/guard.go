package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/gatekeeper"
)

// Authorizer is satisfied by *gatekeeper.Engine.
type Authorizer interface {
	Authorize(ctx context.Context, sessionToken string, fp gatekeeper.Fingerprint) (*gatekeeper.SessionClaims, error)
}

type sessionContextKey struct{}

// SessionFromContext returns the claims RequireSession stored for the request.
func SessionFromContext(ctx context.Context) (*gatekeeper.SessionClaims, bool) {
	claims, ok := ctx.Value(sessionContextKey{}).(*gatekeeper.SessionClaims)
	return claims, ok
}

// WithSession stores claims in ctx. Exposed for handler tests.
func WithSession(ctx context.Context, claims *gatekeeper.SessionClaims) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, claims)
}

// Option configures RequireSession.
type Option func(*guardConfig)

type guardConfig struct {
	fingerprint FingerprintFunc
}

// WithFingerprint replaces DefaultFingerprint.
func WithFingerprint(fn FingerprintFunc) Option {
	return func(c *guardConfig) {
		if fn != nil {
			c.fingerprint = fn
		}
	}
}

// RequireSession rejects requests without a valid session token for an
// unblocked device.
func RequireSession(engine Authorizer, opts ...Option) func(http.Handler) http.Handler {
	cfg := guardConfig{fingerprint: DefaultFingerprint}
	for _, opt := range opts {
		opt(&cfg)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				WriteError(w, gatekeeper.ErrEngineNotReady)
				return
			}
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				WriteError(w, gatekeeper.ErrInvalidOrExpiredToken)
				return
			}

			claims, err := engine.Authorize(r.Context(), token, cfg.fingerprint(r))
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), claims)))
		})
	}
}

// RequireRole must run after RequireSession.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := SessionFromContext(r.Context())
			if !ok {
				WriteError(w, gatekeeper.ErrInvalidOrExpiredToken)
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				WriteError(w, gatekeeper.ErrRoleNotGranted)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}
	return token, true
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes err as a JSON {code, message} body with a matching status.
func WriteError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(err))
	_ = json.NewEncoder(w).Encode(errorBody{Code: gatekeeper.ErrorCode(err), Message: gatekeeper.PublicMessage(err)})
}

// StatusFor maps an engine error to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, gatekeeper.ErrDeviceBlocked), errors.Is(err, gatekeeper.ErrRoleNotGranted):
		return http.StatusForbidden
	case errors.Is(err, gatekeeper.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case errors.Is(err, gatekeeper.ErrValidation), errors.Is(err, gatekeeper.ErrFactorNotConfigured):
		return http.StatusBadRequest
	case errors.Is(err, gatekeeper.ErrDeviceSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, gatekeeper.ErrCannotActOnCurrentDevice):
		return http.StatusConflict
	case errors.Is(err, gatekeeper.ErrUnavailable), errors.Is(err, gatekeeper.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, gatekeeper.ErrInvalidCredentials),
		errors.Is(err, gatekeeper.ErrInvalidOrExpiredToken),
		errors.Is(err, gatekeeper.ErrInvalidVerification):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
