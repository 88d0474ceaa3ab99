// Package server is the sowing wiki: page views, the edit host page, the
// preview and upload endpoints the editing core talks to, revision history
// and diffs.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/conneroisu/sowing/internal/auth"
	"github.com/conneroisu/sowing/internal/config"
	sowerrors "github.com/conneroisu/sowing/internal/errors"
	"github.com/conneroisu/sowing/internal/logging"
	"github.com/conneroisu/sowing/internal/render"
	"github.com/conneroisu/sowing/internal/store"
	"github.com/conneroisu/sowing/internal/version"
)

// Server serves the wiki.
type Server struct {
	config   *config.Config
	store    *store.Store
	renderer render.Renderer
	accounts *auth.Service
	logger   logging.Logger
	now      func() time.Time

	handler     http.Handler
	httpServer  *http.Server
	serverMutex sync.RWMutex

	quota        *previewQuota
	cancel       context.CancelFunc
	sweeperDone  chan struct{}
	shutdownOnce sync.Once
}

// New creates a server over st. The uploads directory is created if
// missing.
func New(cfg *config.Config, st *store.Store, logger logging.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	r, err := render.New(cfg.Server.Renderer)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Server.UploadsDir, 0o755); err != nil {
		return nil, sowerrors.NewIOError(sowerrors.ErrCodeStorageFailed, "cannot create uploads directory", err)
	}

	logger = logger.WithComponent("server")

	key := []byte(cfg.Server.SessionKey)
	if len(key) == 0 {
		key = securecookie.GenerateRandomKey(auth.MinKeyLength)
		logger.Warn(context.Background(), nil, "no server.session_key set; logins end when the server restarts")
	}
	accounts, err := auth.NewService(st, key, auth.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   cfg,
		store:    st,
		renderer: r,
		accounts: accounts,
		logger:   logger,
		now:      time.Now,
		quota:    newPreviewQuota(cfg.Server.PreviewRPS, cfg.Server.PreviewBurst, 0),
		cancel:   cancel,

		sweeperDone: make(chan struct{}),
	}
	s.handler = s.addMiddleware(s.routes())
	go s.sweepQuota(ctx, quotaSweepInterval)

	return s, nil
}

// routes registers every endpoint. Account pages and the health check are
// always open; the rest sits behind login when server.require_login is
// set.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	open := func(pattern string, h http.HandlerFunc) { mux.Handle(pattern, h) }
	member := func(pattern string, h http.Handler) {
		if s.config.Server.RequireLogin {
			h = auth.RequireLogin(h)
		}
		mux.Handle(pattern, h)
	}

	open("GET /health", s.handleHealth)
	open("GET /login", s.handleLoginForm)
	open("POST /login", s.handleLogin)
	open("GET /logout", s.handleLogout)
	open("GET /register", s.handleRegisterForm)
	open("POST /register", s.handleRegister)

	member("GET /{$}", http.HandlerFunc(s.handleIndex))
	member("POST /{$}", http.HandlerFunc(s.handleCreateSilo))
	member("POST /_preview", s.limitPreviews(http.HandlerFunc(s.handlePreview)))
	member("POST /upload", http.HandlerFunc(s.handleUpload))
	member("GET /uploads/{name}", http.HandlerFunc(s.handleUploadedFile))

	member("GET /{silo}/{$}", http.HandlerFunc(s.handleSilo))
	member("GET /{silo}/new/{path...}", http.HandlerFunc(s.handleNewPage))
	member("POST /{silo}/new/{path...}", http.HandlerFunc(s.handleCreatePage))
	member("GET /{silo}/wiki/{path...}", http.HandlerFunc(s.handleView))
	member("GET /{silo}/edit/{path...}", http.HandlerFunc(s.handleEdit))
	member("POST /{silo}/edit/{path...}", http.HandlerFunc(s.handleSave))
	member("GET /{silo}/history/{path...}", http.HandlerFunc(s.handleHistory))
	member("GET /{silo}/diff/{path...}", http.HandlerFunc(s.handleDiff))
	member("POST /{silo}/delete/{path...}", http.HandlerFunc(s.handleDelete))

	return mux
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the configured address until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.Server.Addr()

	s.serverMutex.Lock()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	server := s.httpServer
	s.serverMutex.Unlock()

	s.logger.Info(ctx, "wiki listening", "addr", "http://"+addr, "renderer", s.renderer.Name())

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server and cleans up resources
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.logger.Info(ctx, "shutting down server")

		s.cancel()

		s.serverMutex.RLock()
		server := s.httpServer
		s.serverMutex.RUnlock()

		if server != nil {
			shutdownErr = server.Shutdown(ctx)
		}

		select {
		case <-s.sweeperDone:
		case <-ctx.Done():
		}
	})

	return shutdownErr
}

func (s *Server) addMiddleware(handler http.Handler) http.Handler {
	return s.secure(s.logRequests(s.accounts.WithUser(handler)))
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug(r.Context(), "request",
			"method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	dbCheck := map[string]interface{}{"status": "healthy"}
	if err := s.store.Ping(r.Context()); err != nil {
		status, code = "unhealthy", http.StatusServiceUnavailable
		dbCheck = map[string]interface{}{"status": "unhealthy", "message": err.Error()}
	}

	health := map[string]interface{}{
		"status":    status,
		"timestamp": s.now().UTC(),
		"version":   version.GetShortVersion(),
		"renderer":  s.renderer.Name(),
		"checks": map[string]interface{}{
			"database": dbCheck,
		},
	}

	writeJSON(w, code, health)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
