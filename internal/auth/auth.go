// Package auth is wiki login: local accounts with bcrypt password hashes
// and a signed session cookie naming the logged-in user.
package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"

	sowerrors "github.com/conneroisu/sowing/internal/errors"
	"github.com/conneroisu/sowing/internal/logging"
	"github.com/conneroisu/sowing/internal/store"
)

const (
	// SessionName is the session cookie's name.
	SessionName = "sowing-session"
	// MinKeyLength is the shortest accepted session signing key.
	MinKeyLength = 32

	userIDKey = "user_id"
)

// dummyHash is compared against when the username is unknown so both
// failure paths cost one bcrypt round.
var dummyHash, _ = bcrypt.GenerateFromPassword([]byte("sowing"), bcrypt.MinCost)

// Users is the account storage the service needs.
type Users interface {
	CreateUser(ctx context.Context, username, displayName, passwordHash string) (*store.User, error)
	FindUser(ctx context.Context, id int64) (*store.User, error)
	FindUserByUsername(ctx context.Context, username string) (*store.User, error)
	PasswordHash(ctx context.Context, username string) (string, error)
}

// Service registers users, logs them in and out and resolves the user
// behind a request.
type Service struct {
	users   Users
	cookies *sessions.CookieStore
	cost    int
	logger  logging.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCost sets the bcrypt cost of new password hashes.
func WithCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// NewService signs session cookies with key, which must be at least
// MinKeyLength bytes.
func NewService(users Users, key []byte, opts ...Option) (*Service, error) {
	if len(key) < MinKeyLength {
		return nil, sowerrors.NewConfigError(sowerrors.ErrCodeConfigInvalid, "session key must be at least 32 characters long").
			WithContext("hint", "set server.session_key or SOWING_SERVER_SESSION_KEY")
	}

	cookies := sessions.NewCookieStore(key)
	cookies.Options.Path = "/"
	cookies.Options.HttpOnly = true
	cookies.Options.SameSite = http.SameSiteLaxMode

	s := &Service{users: users, cookies: cookies, cost: bcrypt.DefaultCost, logger: logging.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("auth")
	return s, nil
}

// Register creates an account with a local password.
func (s *Service) Register(ctx context.Context, username, displayName, password string) (*store.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, sowerrors.NewValidationError(sowerrors.ErrCodeValidationFailed, "username and password are required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, sowerrors.NewValidationError(sowerrors.ErrCodeValidationFailed, "password cannot be used: "+err.Error())
	}
	user, err := s.users.CreateUser(ctx, username, displayName, string(hash))
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "user registered", "username", user.Username)
	return user, nil
}

// Authenticate checks username and password without touching cookies.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*store.User, error) {
	hash, err := s.users.PasswordHash(ctx, username)
	if err != nil && !sowerrors.IsNotFound(err) {
		return nil, err
	}
	if err != nil {
		_ = bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, sowerrors.NewAuthError(sowerrors.ErrCodeAuthFailed, "invalid credentials", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return nil, sowerrors.NewAuthError(sowerrors.ErrCodeAuthFailed, "invalid credentials", err)
	}
	return s.users.FindUserByUsername(ctx, username)
}

// Login authenticates and stores the user in the session cookie.
func (s *Service) Login(w http.ResponseWriter, r *http.Request, username, password string) (*store.User, error) {
	user, err := s.Authenticate(r.Context(), username, password)
	if err != nil {
		return nil, err
	}

	session, _ := s.cookies.Get(r, SessionName)
	session.Values[userIDKey] = user.ID
	session.Options.Secure = secureRequest(r)
	if err := session.Save(r, w); err != nil {
		return nil, sowerrors.NewInternalError(sowerrors.ErrCodeInternalError, "cannot save session", err)
	}
	s.logger.Info(r.Context(), "user logged in", "username", user.Username)
	return user, nil
}

// Logout clears the session cookie.
func (s *Service) Logout(w http.ResponseWriter, r *http.Request) error {
	session, _ := s.cookies.Get(r, SessionName)
	delete(session.Values, userIDKey)
	session.Options.Secure = secureRequest(r)
	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// CurrentUser resolves the session cookie. A missing, tampered or stale
// cookie yields nil.
func (s *Service) CurrentUser(r *http.Request) *store.User {
	session, err := s.cookies.Get(r, SessionName)
	if err != nil {
		return nil
	}
	id, ok := session.Values[userIDKey].(int64)
	if !ok {
		return nil
	}
	user, err := s.users.FindUser(r.Context(), id)
	if err != nil {
		if !sowerrors.IsNotFound(err) {
			s.logger.Warn(r.Context(), err, "session user lookup failed", "user_id", id)
		}
		return nil
	}
	return user
}

type userContextKey struct{}

// WithUser puts the session's user, if any, in the request context.
func (s *Service) WithUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := s.CurrentUser(r); user != nil {
			r = r.WithContext(ContextWithUser(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireLogin rejects anonymous requests. Page loads are sent to the
// login form; other methods get 401. It expects WithUser to run first.
func RequireLogin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFrom(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)
			return
		}
		http.Error(w, "login required", http.StatusUnauthorized)
	})
}

// ContextWithUser returns ctx carrying user.
func ContextWithUser(ctx context.Context, user *store.User) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFrom returns the user WithUser stored in ctx, or nil.
func UserFrom(ctx context.Context) *store.User {
	user, _ := ctx.Value(userContextKey{}).(*store.User)
	return user
}

// SafeNext returns next if it is a local path, "/" otherwise.
func SafeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/"
	}
	return next
}

func secureRequest(r *http.Request) bool {
	return r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https"
}
