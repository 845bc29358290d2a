package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hearthhq/hearth/pkg/auth"
	"github.com/hearthhq/hearth/pkg/contextkeys"
	"github.com/hearthhq/hearth/pkg/observability"
	"github.com/hearthhq/hearth/pkg/storage"
)

func newTestAuthenticator(t *testing.T) (*Authenticator, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	logger := observability.NewLogger("error", io.Discard)
	return NewAuthenticator(store, auth.NewTokenGenerator(), nil, logger), store
}

func seedUser(t *testing.T, store *storage.Store, username string, role auth.Role) *auth.User {
	t.Helper()
	hash, err := auth.HashPassword("correct-horse")
	if err != nil {
		t.Fatalf("hashing password: %v", err)
	}
	user, err := store.CreateUser(username, hash, role)
	if err != nil {
		t.Fatalf("creating user: %v", err)
	}
	return user
}

func principalEcho(t *testing.T, want int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := contextkeys.GetPrincipal(r.Context())
		if p == nil {
			t.Error("expected principal in context")
		} else if p.User.ID != want {
			t.Errorf("principal user = %d, want %d", p.User.ID, want)
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestSessionAuth(t *testing.T) {
	a, store := newTestAuthenticator(t)
	user := seedUser(t, store, "alice", auth.RoleMember)

	if err := store.CreateSession("valid-token", user.ID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("creating session: %v", err)
	}
	if err := store.CreateSession("stale-token", user.ID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("creating session: %v", err)
	}

	tests := []struct {
		name       string
		cookie     string
		wantStatus int
	}{
		{"no cookie", "", http.StatusUnauthorized},
		{"unknown token", "bogus", http.StatusUnauthorized},
		{"expired token", "stale-token", http.StatusUnauthorized},
		{"valid token", "valid-token", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := a.SessionAuth(principalEcho(t, user.ID))
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	a, store := newTestAuthenticator(t)
	user := seedUser(t, store, "alice", auth.RoleMember)

	tokens := auth.NewTokenGenerator()
	rawKey, keyHash, keyPrefix, err := tokens.NewAPIKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	key, err := store.CreateAPIKey(user.ID, keyHash, keyPrefix, "test")
	if err != nil {
		t.Fatalf("storing key: %v", err)
	}

	tests := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc123", http.StatusUnauthorized},
		{"wrong prefix", "Bearer sk-0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", http.StatusUnauthorized},
		{"unknown key", "Bearer hk-0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef", http.StatusUnauthorized},
		{"valid key", "Bearer " + rawKey, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := a.APIKeyAuth(principalEcho(t, user.ID))
			req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}

	// Revocation is immediate: the very next request with the old key fails.
	if err := store.RevokeAPIKey(key.ID, user.ID); err != nil {
		t.Fatalf("revoking key: %v", err)
	}
	handler := a.APIKeyAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("revoked key must not reach the handler")
	}))
	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status after revocation = %d, want 401", rec.Code)
	}
}

func TestRequireAdmin(t *testing.T) {
	member := &auth.Principal{User: &auth.User{ID: 1, Role: auth.RoleMember}, Credential: auth.CredentialSession}
	admin := &auth.Principal{User: &auth.User{ID: 2, Role: auth.RoleAdmin}, Credential: auth.CredentialSession}

	tests := []struct {
		name       string
		principal  *auth.Principal
		wantStatus int
	}{
		{"no principal", nil, http.StatusUnauthorized},
		{"member", member, http.StatusForbidden},
		{"admin", admin, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))
			req := httptest.NewRequest(http.MethodGet, "/api/admin/users", nil)
			if tt.principal != nil {
				req = req.WithContext(contextkeys.WithPrincipal(req.Context(), tt.principal))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}
