package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/hearthhq/hearth/pkg/auth"
	"github.com/hearthhq/hearth/pkg/contextkeys"
	"github.com/hearthhq/hearth/pkg/httputil"
	"github.com/hearthhq/hearth/pkg/middleware"
	"github.com/hearthhq/hearth/pkg/observability"
	"github.com/hearthhq/hearth/pkg/storage"
)

// AuthHandlers serves setup, login, registration, and password management.
type AuthHandlers struct {
	store         *storage.Store
	tokens        *auth.TokenGenerator
	limiter       *middleware.LoginLimiter
	authn         *middleware.Authenticator
	metrics       *observability.Metrics
	logger        *logrus.Logger
	sessionTTL    time.Duration
	secureCookies bool

	setupMu sync.Mutex
}

// NewAuthHandlers creates the auth handler group. metrics may be nil.
func NewAuthHandlers(store *storage.Store, tokens *auth.TokenGenerator, limiter *middleware.LoginLimiter, authn *middleware.Authenticator, metrics *observability.Metrics, logger *logrus.Logger, sessionTTL time.Duration, secureCookies bool) *AuthHandlers {
	return &AuthHandlers{
		store:         store,
		tokens:        tokens,
		limiter:       limiter,
		authn:         authn,
		metrics:       metrics,
		logger:        logger,
		sessionTTL:    sessionTTL,
		secureCookies: secureCookies,
	}
}

// RegisterRoutes registers authentication routes
func (h *AuthHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/api/setup/status", h.setupStatus).Methods("GET")
	router.HandleFunc("/api/setup", h.setup).Methods("POST")
	router.HandleFunc("/api/auth/login", h.login).Methods("POST")
	router.HandleFunc("/api/auth/logout", h.logout).Methods("POST")
	router.HandleFunc("/api/auth/register", h.register).Methods("POST")
	router.HandleFunc("/api/invite/{token}", h.validateInvite).Methods("GET")

	router.Handle("/api/auth/me", h.authn.SessionAuth(http.HandlerFunc(h.me))).Methods("GET")
	router.Handle("/api/auth/password", h.authn.SessionAuth(http.HandlerFunc(h.changePassword))).Methods("PUT")
}

func (h *AuthHandlers) countLogin(outcome string) {
	if h.metrics != nil {
		h.metrics.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
	}
}

func (h *AuthHandlers) setSessionCookie(w http.ResponseWriter, token string, ttl time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *AuthHandlers) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})
}

// startSession creates a session row and sets the cookie.
func (h *AuthHandlers) startSession(w http.ResponseWriter, userID int64) error {
	token, err := h.tokens.NewSessionToken()
	if err != nil {
		return err
	}
	if err := h.store.CreateSession(token, userID, time.Now().Add(h.sessionTTL)); err != nil {
		return err
	}
	h.setSessionCookie(w, token, h.sessionTTL)
	return nil
}

// setupStatus handles GET /api/setup/status
func (h *AuthHandlers) setupStatus(w http.ResponseWriter, r *http.Request) {
	done, err := h.store.IsSetupComplete()
	if err != nil {
		h.logger.WithError(err).Error("reading setup status")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"setup_complete": done})
}

// setup handles POST /api/setup. It creates the initial admin account and
// only works once. The mutex serializes concurrent first-run requests so
// the completeness check and the admin creation act as one step.
func (h *AuthHandlers) setup(w http.ResponseWriter, r *http.Request) {
	h.setupMu.Lock()
	defer h.setupMu.Unlock()

	done, err := h.store.IsSetupComplete()
	if err != nil {
		h.logger.WithError(err).Error("reading setup status")
		httputil.WriteInternalError(w)
		return
	}
	if done {
		httputil.WriteConflict(w, "setup already complete")
		return
	}

	var req setupRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Username, "username") ||
		!httputil.RequireNonEmpty(w, req.Password, "password") ||
		!httputil.RequireNonEmpty(w, req.ServerName, "server_name") {
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		httputil.WriteValidationError(w, "password must be at least 6 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.WithError(err).Error("hashing password")
		httputil.WriteInternalError(w)
		return
	}

	user, err := h.store.CreateUser(req.Username, hash, auth.RoleAdmin)
	if err != nil {
		if auth.IsConflict(err) {
			httputil.WriteConflict(w, "username already taken")
			return
		}
		h.logger.WithError(err).Error("creating admin user")
		httputil.WriteInternalError(w)
		return
	}

	if err := h.store.SetSetting(storage.SettingServerName, req.ServerName); err != nil {
		h.logger.WithError(err).Error("storing server name")
		httputil.WriteInternalError(w)
		return
	}
	// Provision the at-rest message key now so everything written after
	// setup is encrypted.
	if _, err := h.store.EncryptionKey(); err != nil {
		h.logger.WithError(err).Error("provisioning encryption key")
		httputil.WriteInternalError(w)
		return
	}
	if err := h.store.MarkSetupComplete(); err != nil {
		h.logger.WithError(err).Error("marking setup complete")
		httputil.WriteInternalError(w)
		return
	}

	if err := h.startSession(w, user.ID); err != nil {
		h.logger.WithError(err).Error("creating session after setup")
		httputil.WriteInternalError(w)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"admin":  user.Username,
		"server": req.ServerName,
	}).Info("setup complete")
	httputil.WriteCreated(w, map[string]interface{}{
		"user":        user,
		"server_name": req.ServerName,
	})
}

// login handles POST /api/auth/login. Failed attempts are throttled per
// client address; the throttle answers before any password verification.
func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	addr := httputil.ClientIP(r)
	if !h.limiter.Allow(addr) {
		h.countLogin("throttled")
		if h.metrics != nil {
			h.metrics.RateLimitedTotal.Inc()
		}
		h.logger.WithField("addr", addr).Warn("login throttled")
		httputil.WriteTooManyRequests(w, "too many failed login attempts, try again later")
		return
	}

	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := h.store.GetUserByUsername(req.Username)
	if err != nil && !auth.IsNotFound(err) {
		h.logger.WithError(err).Error("querying user for login")
		httputil.WriteInternalError(w)
		return
	}
	// Verify against a dummy hash when the user is unknown so both paths
	// take bcrypt time and the failure is indistinguishable.
	ok := false
	if user != nil {
		ok = auth.VerifyPassword(req.Password, user.PasswordHash)
	} else {
		auth.VerifyPassword(req.Password, auth.DummyHash)
	}
	if !ok {
		h.countLogin("failure")
		httputil.WriteUnauthorized(w, "invalid username or password")
		return
	}

	h.limiter.Reset(addr)
	h.countLogin("success")

	if err := h.startSession(w, user.ID); err != nil {
		h.logger.WithError(err).Error("creating session")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"user": user})
}

// logout handles POST /api/auth/logout. Always succeeds.
func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.SessionCookieName); err == nil {
		if err := h.store.DeleteSession(cookie.Value); err != nil {
			h.logger.WithError(err).Warn("deleting session on logout")
		}
	}
	h.clearSessionCookie(w)
	httputil.WriteSuccess(w, map[string]string{"status": "logged out"})
}

// register handles POST /api/auth/register. The invite is consumed and the
// account created atomically, so a raced token admits exactly one user.
func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Token, "token") ||
		!httputil.RequireNonEmpty(w, req.Username, "username") ||
		!httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}
	if len(req.Password) < auth.MinPasswordLength {
		httputil.WriteValidationError(w, "password must be at least 6 characters")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.logger.WithError(err).Error("hashing password")
		httputil.WriteInternalError(w)
		return
	}

	user, err := h.store.ConsumeInvite(req.Token, req.Username, hash, auth.RoleMember)
	if err != nil {
		switch {
		case auth.IsAuthentication(err):
			httputil.WriteUnauthorized(w, "invalid invite token")
		case auth.IsConflict(err):
			httputil.WriteConflict(w, "invite already used or expired, or username taken")
		default:
			h.logger.WithError(err).Error("consuming invite")
			httputil.WriteInternalError(w)
		}
		return
	}

	if err := h.startSession(w, user.ID); err != nil {
		h.logger.WithError(err).Error("creating session after registration")
		httputil.WriteInternalError(w)
		return
	}

	h.logger.WithField("user", user.Username).Info("user registered via invite")
	httputil.WriteCreated(w, map[string]interface{}{"user": user})
}

// validateInvite handles GET /api/invite/{token}. Public, used by the
// registration page. Always 200; validity is in the body so the endpoint
// leaks nothing through status codes.
func (h *AuthHandlers) validateInvite(w http.ResponseWriter, r *http.Request) {
	token, err := httputil.ParsePathString(r, "token")
	if err != nil {
		httputil.WriteSuccess(w, map[string]interface{}{"valid": false})
		return
	}

	inv, err := h.store.GetInviteByToken(token)
	if err != nil || inv.Status != auth.InviteStatusPending ||
		(inv.ExpiresAt != nil && inv.ExpiresAt.Before(time.Now())) {
		httputil.WriteSuccess(w, map[string]interface{}{"valid": false})
		return
	}

	serverName, _ := h.store.GetSetting(storage.SettingServerName)
	httputil.WriteSuccess(w, map[string]interface{}{
		"valid":       true,
		"server_name": serverName,
	})
}

// me handles GET /api/auth/me
func (h *AuthHandlers) me(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	httputil.WriteSuccess(w, map[string]interface{}{"user": principal.User})
}

// changePassword handles PUT /api/auth/password. On success every other
// session of the user is revoked; the current one survives.
func (h *AuthHandlers) changePassword(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())

	var req changePasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if !auth.VerifyPassword(req.CurrentPassword, principal.User.PasswordHash) {
		httputil.WriteUnauthorized(w, "current password is incorrect")
		return
	}
	if len(req.NewPassword) < auth.MinPasswordLength {
		httputil.WriteValidationError(w, "password must be at least 6 characters")
		return
	}

	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		h.logger.WithError(err).Error("hashing password")
		httputil.WriteInternalError(w)
		return
	}
	if err := h.store.UpdatePasswordHash(principal.User.ID, hash); err != nil {
		h.logger.WithError(err).Error("updating password")
		httputil.WriteInternalError(w)
		return
	}

	// Stolen sessions die here.
	if err := h.store.DeleteUserSessions(principal.User.ID, principal.SessionToken); err != nil {
		h.logger.WithError(err).Warn("revoking other sessions")
	}

	httputil.WriteSuccess(w, map[string]string{"status": "password updated"})
}
