// Package api assembles the HTTP surface of the gateway: session-backed
// browser routes under /api, the OpenAI-compatible key-authenticated
// surface under /v1, and operational endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/hearthhq/hearth/pkg/auth"
	"github.com/hearthhq/hearth/pkg/cryptobox"
	"github.com/hearthhq/hearth/pkg/httputil"
	"github.com/hearthhq/hearth/pkg/middleware"
	"github.com/hearthhq/hearth/pkg/observability"
	"github.com/hearthhq/hearth/pkg/ollama"
	"github.com/hearthhq/hearth/pkg/storage"
)

// Options configures a Server.
type Options struct {
	Store         *storage.Store
	Ollama        *ollama.Client
	Codec         *cryptobox.Codec
	Metrics       *observability.Metrics // optional
	Logger        *logrus.Logger
	SessionTTL    time.Duration
	LoginLimiter  *middleware.LoginLimiter
	MaxBodyBytes  int64
	SecureCookies bool
}

// Server is the top-level HTTP handler.
type Server struct {
	router  *mux.Router
	store   *storage.Store
	logger  *logrus.Logger
	ollama  *ollama.Client
	limiter *middleware.LoginLimiter

	authHandlers   *AuthHandlers
	adminHandlers  *AdminHandlers
	chatHandlers   *ChatHandlers
	openAIHandlers *OpenAIHandlers
}

// NewServer wires handler groups and middleware into a router.
func NewServer(opts Options) *Server {
	tokens := auth.NewTokenGenerator()
	authn := middleware.NewAuthenticator(opts.Store, tokens, opts.Metrics, opts.Logger)
	limiter := opts.LoginLimiter
	if limiter == nil {
		limiter = middleware.NewLoginLimiter(0, 0)
	}

	s := &Server{
		router:  mux.NewRouter(),
		store:   opts.Store,
		logger:  opts.Logger,
		ollama:  opts.Ollama,
		limiter: limiter,
	}

	s.authHandlers = NewAuthHandlers(opts.Store, tokens, limiter, authn, opts.Metrics, opts.Logger, opts.SessionTTL, opts.SecureCookies)
	s.adminHandlers = NewAdminHandlers(opts.Store, tokens, limiter, authn, opts.Ollama, opts.Logger)
	s.chatHandlers = NewChatHandlers(opts.Store, opts.Ollama, opts.Codec, authn, opts.Logger)
	s.openAIHandlers = NewOpenAIHandlers(opts.Ollama, authn, opts.Logger)

	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(httputil.SecurityHeadersMiddleware)
	s.router.Use(mux.MiddlewareFunc(httputil.RecoveryMiddleware(opts.Logger)))
	if opts.MaxBodyBytes > 0 {
		s.router.Use(mux.MiddlewareFunc(httputil.MaxBytesMiddleware(opts.MaxBodyBytes)))
	}
	if opts.Metrics != nil {
		s.router.Use(mux.MiddlewareFunc(opts.Metrics.Middleware))
		s.router.Handle("/metrics", opts.Metrics.Handler()).Methods("GET")
	}

	s.router.HandleFunc("/healthz", s.healthz).Methods("GET")

	s.authHandlers.RegisterRoutes(s.router)
	s.adminHandlers.RegisterRoutes(s.router)
	s.chatHandlers.RegisterRoutes(s.router)
	s.openAIHandlers.RegisterRoutes(s.router)

	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// healthz reports process liveness and whether the inference backend and
// database answer. The gateway is still "ok" when the backend is down so
// auth and history keep working.
func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	dbOK := s.store.DB().PingContext(r.Context()) == nil
	backendOK := s.ollama != nil && s.ollama.Healthy(r.Context())

	status := "ok"
	code := http.StatusOK
	if !dbOK {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	httputil.WriteJSON(w, code, map[string]interface{}{
		"status":  status,
		"db":      dbOK,
		"backend": backendOK,
	})
}
