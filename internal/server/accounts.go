package server

import (
	"net/http"
	"strings"

	"github.com/conneroisu/sowing/internal/auth"
	sowerrors "github.com/conneroisu/sowing/internal/errors"
)

// author is recorded on revisions: the logged-in user, or editor.author
// for anonymous edits.
func (s *Server) author(r *http.Request) string {
	if user := auth.UserFrom(r.Context()); user != nil {
		return user.Name()
	}
	return s.config.Editor.Author
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, loginPage(auth.SafeNext(r.URL.Query().Get("next")), ""))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	next := auth.SafeNext(r.PostFormValue("next"))

	_, err := s.accounts.Login(w, r, r.PostFormValue("username"), r.PostFormValue("password"))
	if sowerrors.IsAuthError(err) {
		s.logger.Info(r.Context(), "login rejected", "username", r.PostFormValue("username"))
		s.render(w, r, http.StatusUnauthorized, loginPage(next, "Invalid credentials"))
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.accounts.Logout(w, r); err != nil {
		s.fail(w, r, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, registerPage(""))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	_, err := s.accounts.Register(r.Context(),
		strings.TrimSpace(r.PostFormValue("username")),
		r.PostFormValue("display_name"),
		r.PostFormValue("password"))
	switch {
	case err == nil:
		http.Redirect(w, r, "/login", http.StatusSeeOther)
	case sowerrors.IsConflict(err):
		s.render(w, r, http.StatusConflict, registerPage("That username is taken"))
	case isValidation(err):
		s.render(w, r, http.StatusBadRequest, registerPage("Username and password are required"))
	default:
		s.fail(w, r, err)
	}
}
