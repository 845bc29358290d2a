package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/hearthhq/hearth/pkg/auth"
	"github.com/hearthhq/hearth/pkg/contextkeys"
	"github.com/hearthhq/hearth/pkg/httputil"
	"github.com/hearthhq/hearth/pkg/middleware"
	"github.com/hearthhq/hearth/pkg/ollama"
	"github.com/hearthhq/hearth/pkg/storage"
)

// AdminHandlers serves the role-gated management API: invites, users,
// API keys, settings, model management, stats, and server reset.
type AdminHandlers struct {
	store   *storage.Store
	tokens  *auth.TokenGenerator
	limiter *middleware.LoginLimiter
	authn   *middleware.Authenticator
	ollama  *ollama.Client
	logger  *logrus.Logger
}

// NewAdminHandlers creates the admin handler group.
func NewAdminHandlers(store *storage.Store, tokens *auth.TokenGenerator, limiter *middleware.LoginLimiter, authn *middleware.Authenticator, ollamaClient *ollama.Client, logger *logrus.Logger) *AdminHandlers {
	return &AdminHandlers{
		store:   store,
		tokens:  tokens,
		limiter: limiter,
		authn:   authn,
		ollama:  ollamaClient,
		logger:  logger,
	}
}

// RegisterRoutes registers admin routes
func (h *AdminHandlers) RegisterRoutes(router *mux.Router) {
	admin := func(fn http.HandlerFunc) http.Handler {
		return h.authn.SessionAuth(middleware.RequireAdmin(fn))
	}

	router.Handle("/api/admin/invites", admin(h.createInvite)).Methods("POST")
	router.Handle("/api/admin/invites", admin(h.listInvites)).Methods("GET")
	router.Handle("/api/admin/invites/{id}", admin(h.deleteInvite)).Methods("DELETE")

	router.Handle("/api/admin/users", admin(h.listUsers)).Methods("GET")
	router.Handle("/api/admin/users/{id}", admin(h.deleteUser)).Methods("DELETE")
	router.Handle("/api/admin/users/{id}/password", admin(h.resetPassword)).Methods("PUT")

	router.Handle("/api/admin/api-keys", admin(h.createAPIKey)).Methods("POST")
	router.Handle("/api/admin/api-keys", admin(h.listAPIKeys)).Methods("GET")
	router.Handle("/api/admin/api-keys/{id}", admin(h.revokeAPIKey)).Methods("DELETE")

	router.Handle("/api/admin/settings", admin(h.getSettings)).Methods("GET")
	router.Handle("/api/admin/settings", admin(h.updateSettings)).Methods("PUT")
	router.Handle("/api/admin/stats", admin(h.stats)).Methods("GET")

	router.Handle("/api/admin/models/pull", admin(h.pullModel)).Methods("POST")
	router.Handle("/api/admin/models", admin(h.deleteModel)).Methods("DELETE")

	router.Handle("/api/admin/reset", admin(h.resetServer)).Methods("POST")
}

// createInvite handles POST /api/admin/invites. The invite is single-use;
// the response carries the registration URL to hand to the new user.
func (h *AdminHandlers) createInvite(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())

	var req createInviteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	var expiresAt *time.Time
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 {
			httputil.WriteValidationError(w, "invalid expires_in format (use '24h', '30m', etc.)")
			return
		}
		t := time.Now().Add(d)
		expiresAt = &t
	}

	token, err := h.tokens.NewInviteToken()
	if err != nil {
		h.logger.WithError(err).Error("generating invite token")
		httputil.WriteInternalError(w)
		return
	}

	invite, err := h.store.CreateInvite(token, principal.User.ID, expiresAt)
	if err != nil {
		h.logger.WithError(err).Error("creating invite")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteCreated(w, map[string]interface{}{
		"invite": invite,
		"url":    "/invite/" + invite.Token,
	})
}

// listInvites handles GET /api/admin/invites
func (h *AdminHandlers) listInvites(w http.ResponseWriter, r *http.Request) {
	invites, err := h.store.ListInvites()
	if err != nil {
		h.logger.WithError(err).Error("listing invites")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"invites": invites})
}

// deleteInvite handles DELETE /api/admin/invites/{id}
func (h *AdminHandlers) deleteInvite(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if err := h.store.DeleteInvite(id); err != nil {
		if auth.IsNotFound(err) {
			httputil.WriteNotFoundError(w, "invite not found")
			return
		}
		h.logger.WithError(err).Error("deleting invite")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "deleted"})
}

// listUsers handles GET /api/admin/users
func (h *AdminHandlers) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers()
	if err != nil {
		h.logger.WithError(err).Error("listing users")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"users": users})
}

// deleteUser handles DELETE /api/admin/users/{id}. Deleting a user cascades
// to their sessions, API keys, and conversations. Admins cannot delete
// themselves, which also protects the last admin account.
func (h *AdminHandlers) deleteUser(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if id == principal.User.ID {
		httputil.WriteValidationError(w, "cannot delete your own account")
		return
	}

	if err := h.store.DeleteUser(id); err != nil {
		if auth.IsNotFound(err) {
			httputil.WriteNotFoundError(w, "user not found")
			return
		}
		h.logger.WithError(err).Error("deleting user")
		httputil.WriteInternalError(w)
		return
	}

	h.logger.WithField("user_id", id).Info("user deleted")
	httputil.WriteSuccess(w, map[string]string{"status": "deleted"})
}

// resetPassword handles PUT /api/admin/users/{id}/password. Unlike the
// self-service change it does not need the current password, and it revokes
// every session of the target so they must log in again.
func (h *AdminHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req resetPasswordRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
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
	if err := h.store.UpdatePasswordHash(id, hash); err != nil {
		if auth.IsNotFound(err) {
			httputil.WriteNotFoundError(w, "user not found")
			return
		}
		h.logger.WithError(err).Error("updating password")
		httputil.WriteInternalError(w)
		return
	}

	if err := h.store.DeleteUserSessions(id, ""); err != nil {
		h.logger.WithError(err).Warn("revoking sessions after reset")
	}

	httputil.WriteSuccess(w, map[string]string{"status": "password reset"})
}

// createAPIKey handles POST /api/admin/api-keys. The raw key appears only
// in this response; the database keeps its hash and a display prefix.
func (h *AdminHandlers) createAPIKey(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())

	var req createAPIKeyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name == "" {
		req.Name = "default"
	}

	rawKey, keyHash, keyPrefix, err := h.tokens.NewAPIKey()
	if err != nil {
		h.logger.WithError(err).Error("generating api key")
		httputil.WriteInternalError(w)
		return
	}

	key, err := h.store.CreateAPIKey(principal.User.ID, keyHash, keyPrefix, req.Name)
	if err != nil {
		h.logger.WithError(err).Error("storing api key")
		httputil.WriteInternalError(w)
		return
	}

	httputil.WriteCreated(w, map[string]interface{}{
		"key":     key,
		"api_key": rawKey,
		"warning": "Save this key now. It won't be shown again.",
	})
}

// listAPIKeys handles GET /api/admin/api-keys
func (h *AdminHandlers) listAPIKeys(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	keys, err := h.store.ListAPIKeys(principal.User.ID)
	if err != nil {
		h.logger.WithError(err).Error("listing api keys")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"keys": keys})
}

// revokeAPIKey handles DELETE /api/admin/api-keys/{id}. Revocation takes
// effect on the very next validation.
func (h *AdminHandlers) revokeAPIKey(w http.ResponseWriter, r *http.Request) {
	principal := contextkeys.GetPrincipal(r.Context())
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.store.RevokeAPIKey(id, principal.User.ID); err != nil {
		if auth.IsNotFound(err) {
			httputil.WriteNotFoundError(w, "api key not found")
			return
		}
		h.logger.WithError(err).Error("revoking api key")
		httputil.WriteInternalError(w)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "revoked"})
}

// getSettings handles GET /api/admin/settings
func (h *AdminHandlers) getSettings(w http.ResponseWriter, r *http.Request) {
	serverName, _ := h.store.GetSetting(storage.SettingServerName)
	defaultModel, _ := h.store.GetSetting(storage.SettingDefaultModel)
	httputil.WriteSuccess(w, map[string]interface{}{
		"server_name":   serverName,
		"default_model": defaultModel,
	})
}

// updateSettings handles PUT /api/admin/settings. Only the fields present
// in the request change.
func (h *AdminHandlers) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req updateSettingsRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.ServerName != nil {
		if err := h.store.SetSetting(storage.SettingServerName, *req.ServerName); err != nil {
			h.logger.WithError(err).Error("updating server name")
			httputil.WriteInternalError(w)
			return
		}
	}
	if req.DefaultModel != nil {
		if err := h.store.SetSetting(storage.SettingDefaultModel, *req.DefaultModel); err != nil {
			h.logger.WithError(err).Error("updating default model")
			httputil.WriteInternalError(w)
			return
		}
	}
	httputil.WriteSuccess(w, map[string]string{"status": "updated"})
}

// stats handles GET /api/admin/stats
func (h *AdminHandlers) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.store.GetStats()
	if err != nil {
		h.logger.WithError(err).Error("collecting stats")
		httputil.WriteInternalError(w)
		return
	}

	var modelCount int
	if h.ollama != nil {
		if models, err := h.ollama.ListModels(r.Context()); err == nil {
			modelCount = len(models)
		}
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"users":           st.Users,
		"active_sessions": st.ActiveSessions,
		"active_api_keys": st.ActiveAPIKeys,
		"pending_invites": st.PendingInvites,
		"conversations":   st.Conversations,
		"messages":        st.Messages,
		"models":          modelCount,
	})
}

// pullModel handles POST /api/admin/models/pull, streaming download
// progress as SSE.
func (h *AdminHandlers) pullModel(w http.ResponseWriter, r *http.Request) {
	var req modelNameRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteInternalError(w)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	err := h.ollama.PullModel(r.Context(), req.Name, func(p ollama.PullProgress) error {
		return writeSSEJSON(w, flusher, p)
	})
	if err != nil {
		h.logger.WithError(err).Error("pulling model")
		writeSSEJSON(w, flusher, map[string]string{"error": err.Error()})
		return
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// deleteModel handles DELETE /api/admin/models
func (h *AdminHandlers) deleteModel(w http.ResponseWriter, r *http.Request) {
	var req modelNameRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	if err := h.ollama.DeleteModel(r.Context(), req.Name); err != nil {
		h.logger.WithError(err).Error("deleting model")
		httputil.WriteBadGateway(w, "failed to delete model")
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "deleted"})
}

// resetServer handles POST /api/admin/reset. It wipes the database back to
// the pre-setup state and is only accepted from the host machine itself.
func (h *AdminHandlers) resetServer(w http.ResponseWriter, r *http.Request) {
	if !httputil.IsLocalRequest(r) {
		httputil.WriteForbidden(w, "server reset can only be performed locally from the host machine")
		return
	}

	if err := h.store.Reset(); err != nil {
		h.logger.WithError(err).Error("resetting server")
		httputil.WriteInternalError(w)
		return
	}
	h.limiter.ResetAll()

	h.logger.Warn("server reset to pre-setup state")
	httputil.WriteSuccess(w, map[string]string{"status": "reset"})
}
