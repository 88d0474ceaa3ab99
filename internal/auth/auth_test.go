package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	sowerrors "github.com/conneroisu/sowing/internal/errors"
	"github.com/conneroisu/sowing/internal/store"
)

var testKey = []byte(strings.Repeat("k", MinKeyLength))

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	svc, err := NewService(st, testKey, WithCost(bcrypt.MinCost))
	require.NoError(t, err)
	return svc, st
}

func TestNewServiceRejectsShortKey(t *testing.T) {
	_, err := NewService(nil, []byte("short"))
	require.Error(t, err)
	assert.Contains(t, sowerrors.FormatError(err), "session_key")
}

func TestRegisterHashesPassword(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, " ana ", "Ana", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "ana", user.Username)

	hash, err := st.PasswordHash(ctx, "ana")
	require.NoError(t, err)
	assert.NotEqual(t, "s3cret", hash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")))

	_, err = svc.Register(ctx, "ana", "", "other")
	assert.True(t, sowerrors.IsConflict(err))

	_, err = svc.Register(ctx, "bob", "", "")
	assert.Error(t, err)
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, err := svc.Register(ctx, "ana", "", "s3cret")
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, "ana", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "ana", user.Username)

	_, err = svc.Authenticate(ctx, "ana", "wrong")
	assert.True(t, sowerrors.IsAuthError(err))
	_, err = svc.Authenticate(ctx, "nobody", "s3cret")
	assert.True(t, sowerrors.IsAuthError(err), "unknown users fail like bad passwords")
}

func TestLoginSessionRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Register(context.Background(), "ana", "Ana", "s3cret")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	_, err = svc.Login(rec, httptest.NewRequest(http.MethodPost, "/login", nil), "ana", "s3cret")
	require.NoError(t, err)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, SessionName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	var seen *store.User
	handler := svc.WithUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	handler.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)
	assert.Equal(t, "Ana", seen.Name())

	seen = nil
	tampered := *cookies[0]
	tampered.Value = "x" + tampered.Value
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&tampered)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Nil(t, seen)
}

func TestLogoutExpiresCookie(t *testing.T) {
	svc, _ := newTestService(t)
	rec := httptest.NewRecorder()
	require.NoError(t, svc.Logout(rec, httptest.NewRequest(http.MethodGet, "/logout", nil)))

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, SessionName, cookies[0].Name)
	assert.Negative(t, cookies[0].MaxAge)
}

func TestRequireLogin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	guarded := RequireLogin(ok)

	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/main/edit/home", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?next=%2Fmain%2Fedit%2Fhome", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/_preview", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/_preview", nil)
	req = req.WithContext(ContextWithUser(req.Context(), &store.User{ID: 1, Username: "ana"}))
	guarded.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestSafeNext(t *testing.T) {
	tests := map[string]string{
		"/main/wiki/home":    "/main/wiki/home",
		"":                   "/",
		"https://evil.test/": "/",
		"//evil.test/":       "/",
		"/\\evil.test":       "/",
		"main/wiki/home":     "/",
	}
	for in, want := range tests {
		assert.Equal(t, want, SafeNext(in), in)
	}
}
