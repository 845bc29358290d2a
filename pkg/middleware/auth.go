// Package middleware provides the authentication and throttling layers that
// sit in front of the HTTP handlers: cookie session auth for the browser
// API, bearer key auth for the OpenAI-compatible API, role gating, and the
// failed-login limiter.
package middleware

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/hearthhq/hearth/pkg/auth"
	"github.com/hearthhq/hearth/pkg/contextkeys"
	"github.com/hearthhq/hearth/pkg/httputil"
	"github.com/hearthhq/hearth/pkg/observability"
	"github.com/hearthhq/hearth/pkg/storage"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "hearth_session"

// Authenticator validates credentials against the store and attaches the
// resulting principal to the request context.
type Authenticator struct {
	store   *storage.Store
	tokens  *auth.TokenGenerator
	metrics *observability.Metrics
	logger  *logrus.Logger
}

// NewAuthenticator creates an Authenticator. metrics may be nil in tests.
func NewAuthenticator(store *storage.Store, tokens *auth.TokenGenerator, metrics *observability.Metrics, logger *logrus.Logger) *Authenticator {
	return &Authenticator{
		store:   store,
		tokens:  tokens,
		metrics: metrics,
		logger:  logger,
	}
}

func (a *Authenticator) countValidation(kind auth.CredentialKind, outcome string) {
	if a.metrics != nil {
		a.metrics.CredentialValidations.WithLabelValues(string(kind), outcome).Inc()
	}
}

// SessionAuth requires a valid session cookie. Unknown, expired, and revoked
// tokens all produce the same 401 so a caller cannot distinguish them.
func (a *Authenticator) SessionAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(SessionCookieName)
		if err != nil || cookie.Value == "" {
			a.countValidation(auth.CredentialSession, "missing")
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		user, err := a.store.GetSessionUser(cookie.Value)
		if err != nil {
			if !auth.IsAuthentication(err) {
				a.logger.WithError(err).Error("session lookup failed")
				httputil.WriteInternalError(w)
				return
			}
			a.countValidation(auth.CredentialSession, "rejected")
			httputil.WriteUnauthorized(w, "invalid or expired session")
			return
		}

		a.countValidation(auth.CredentialSession, "ok")
		principal := &auth.Principal{
			User:         user,
			Credential:   auth.CredentialSession,
			SessionToken: cookie.Value,
		}
		next.ServeHTTP(w, r.WithContext(contextkeys.WithPrincipal(r.Context(), principal)))
	})
}

// APIKeyAuth requires a bearer API key. Errors use the error shape the
// OpenAI-compatible endpoints expect.
func (a *Authenticator) APIKeyAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			a.countValidation(auth.CredentialAPIKey, "missing")
			writeBearerError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			a.countValidation(auth.CredentialAPIKey, "malformed")
			writeBearerError(w, http.StatusUnauthorized, "invalid Authorization header format, expected 'Bearer <key>'")
			return
		}
		rawKey := strings.TrimSpace(parts[1])

		if err := a.tokens.ValidateKeyFormat(rawKey); err != nil {
			a.countValidation(auth.CredentialAPIKey, "malformed")
			writeBearerError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		user, err := a.store.GetUserByKeyHash(a.tokens.HashKey(rawKey))
		if err != nil {
			if !auth.IsAuthentication(err) {
				a.logger.WithError(err).Error("api key lookup failed")
				writeBearerError(w, http.StatusInternalServerError, "internal server error")
				return
			}
			a.countValidation(auth.CredentialAPIKey, "rejected")
			writeBearerError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		a.countValidation(auth.CredentialAPIKey, "ok")
		principal := &auth.Principal{
			User:       user,
			Credential: auth.CredentialAPIKey,
		}
		next.ServeHTTP(w, r.WithContext(contextkeys.WithPrincipal(r.Context(), principal)))
	})
}

// RequireAdmin gates a handler behind the admin role. It must run after
// SessionAuth or APIKeyAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := contextkeys.GetPrincipal(r.Context())
		if principal == nil {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !principal.IsAdmin() {
			httputil.WriteForbidden(w, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeBearerError mirrors the error envelope used by the OpenAI-style API:
// {"error": {"message": ..., "type": ..., "code": ...}}.
func writeBearerError(w http.ResponseWriter, status int, message string) {
	errType := "invalid_request_error"
	code := "invalid_api_key"
	if status >= 500 {
		errType = "server_error"
		code = "internal_error"
	}
	httputil.WriteJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    errType,
			"code":    code,
		},
	})
}
