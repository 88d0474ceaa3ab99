package server

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/a-h/templ"

	"github.com/conneroisu/sowing/internal/config"
	sowerrors "github.com/conneroisu/sowing/internal/errors"
	"github.com/conneroisu/sowing/internal/store"
)

const defaultPage = "home"

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	templ.Handler(c, templ.WithStatus(status)).ServeHTTP(w, r)
}

// fail maps store errors onto responses: not found is 404, an existing
// resource 409, bad input 400. Everything else is logged and reported as
// 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case sowerrors.IsNotFound(err):
		s.render(w, r, http.StatusNotFound, errorPage("Not found", err.Error()))
		return
	case sowerrors.IsConflict(err):
		s.render(w, r, http.StatusConflict, errorPage("Already exists", err.Error()))
		return
	case isValidation(err):
		s.render(w, r, http.StatusBadRequest, errorPage("Bad request", err.Error()))
		return
	}
	s.logger.Error(r.Context(), err, "request failed", "path", r.URL.Path)
	s.render(w, r, http.StatusInternalServerError, errorPage("Internal Server Error", "Something went wrong."))
}

func isValidation(err error) bool {
	var se *sowerrors.SowingError
	return errors.As(err, &se) && se.Type == sowerrors.ErrorTypeValidation
}

func pagePath(r *http.Request) string {
	return strings.Trim(r.PathValue("path"), "/")
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	silos, err := s.store.ListSilos(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, indexPage(silos))
}

// handleCreateSilo creates a silo with a welcome home page.
func (s *Server) handleCreateSilo(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	slug := strings.TrimSpace(r.PostFormValue("slug"))
	name := strings.TrimSpace(r.PostFormValue("name"))
	if slug == "" || name == "" {
		http.Error(w, "Name and slug are required", http.StatusBadRequest)
		return
	}

	silo, err := s.store.CreateSilo(r.Context(), slug, name, store.Revision{
		Content: s.welcome(name),
		Author:  s.author(r),
		Comment: "Initial creation",
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info(r.Context(), "silo created", "silo", silo.Slug)
	http.Redirect(w, r, "/"+url.PathEscape(silo.Slug)+"/", http.StatusSeeOther)
}

// welcome is the first revision of a new silo's home page, written in the
// configured markup.
func (s *Server) welcome(name string) string {
	if s.renderer.Name() == config.RendererMarkdown {
		return fmt.Sprintf("# Welcome to the %s silo!", name)
	}
	return fmt.Sprintf("* Welcome to the %s silo!", name)
}

func (s *Server) handleNewPage(w http.ResponseWriter, r *http.Request) {
	silo := r.PathValue("silo")
	if _, err := s.store.FindSilo(r.Context(), silo); err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, newPageForm(silo, pagePath(r)))
}

// handleCreatePage adds a page that must not exist yet; saving over an
// existing page goes through the edit form instead. The form's path wins
// over the one in the URL.
func (s *Server) handleCreatePage(w http.ResponseWriter, r *http.Request) {
	silo := r.PathValue("silo")
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}
	path := strings.Trim(strings.TrimSpace(r.PostFormValue("path")), "/")
	if path == "" {
		path = pagePath(r)
	}
	title := strings.TrimSpace(r.PostFormValue("title"))
	if path == "" {
		http.Error(w, "Path is required", http.StatusBadRequest)
		return
	}
	if title == "" {
		title = titleFromPath(path)
	}

	page, rev, err := s.store.CreatePage(r.Context(), silo, path, title, store.Revision{
		Content: strings.ReplaceAll(r.PostFormValue("content"), "\r\n", "\n"),
		Comment: r.PostFormValue("comment"),
		Author:  s.author(r),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info(r.Context(), "page created", "silo", silo, "path", page.Path, "revision", rev.ID)
	http.Redirect(w, r, pageURL("wiki", silo, page.Path), http.StatusSeeOther)
}

func (s *Server) handleSilo(w http.ResponseWriter, r *http.Request) {
	silo := r.PathValue("silo")
	if _, err := s.store.FindSilo(r.Context(), silo); err != nil {
		s.fail(w, r, err)
		return
	}
	pages, err := s.store.ListPages(r.Context(), silo)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, siloPage(silo, pages))
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	silo, path := r.PathValue("silo"), pagePath(r)
	if path == "" {
		http.Redirect(w, r, pageURL("wiki", silo, defaultPage), http.StatusFound)
		return
	}

	page, err := s.store.FindPage(r.Context(), silo, path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rev, err := s.store.Revision(r.Context(), page.CurrentRevisionID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	rendered, err := s.renderer.Render(rev.Content)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, viewPage(page, rendered))
}

// handleEdit serves the host page. A page that does not exist yet opens
// an empty editor titled after its slug.
func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	silo, path := r.PathValue("silo"), pagePath(r)
	if path == "" {
		http.Redirect(w, r, pageURL("edit", silo, defaultPage), http.StatusFound)
		return
	}

	view := editView{Silo: silo, Path: path, Title: titleFromPath(path), Debounce: s.config.Editor.Debounce}

	page, err := s.store.FindPage(r.Context(), silo, path)
	switch {
	case err == nil:
		rev, err := s.store.Revision(r.Context(), page.CurrentRevisionID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		view.Title = page.Title
		view.Content = rev.Content
	case !sowerrors.IsNotFound(err):
		s.fail(w, r, err)
		return
	}

	if view.Content != "" {
		if view.Rendered, err = s.renderer.Render(view.Content); err != nil {
			s.logger.Warn(r.Context(), err, "initial preview failed", "silo", silo, "path", path)
		}
	}
	s.render(w, r, http.StatusOK, editPage(view))
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	silo, path := r.PathValue("silo"), pagePath(r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	title := strings.TrimSpace(r.PostFormValue("title"))
	if title == "" {
		title = titleFromPath(path)
	}

	_, rev, err := s.store.SaveRevision(r.Context(), silo, path, title, store.Revision{
		Content: strings.ReplaceAll(r.PostFormValue("content"), "\r\n", "\n"),
		Comment: r.PostFormValue("comment"),
		Author:  s.author(r),
	})
	if err != nil {
		var se *sowerrors.SowingError
		if errors.As(err, &se) && se.Type == sowerrors.ErrorTypeValidation {
			http.Error(w, se.Message, http.StatusBadRequest)
			return
		}
		s.fail(w, r, err)
		return
	}

	s.logger.Info(r.Context(), "revision saved", "silo", silo, "path", path, "revision", rev.ID)
	http.Redirect(w, r, pageURL("wiki", silo, path), http.StatusSeeOther)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	silo, path := r.PathValue("silo"), pagePath(r)
	page, err := s.store.FindPage(r.Context(), silo, path)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.store.ArchivePage(r.Context(), page.ID); err != nil {
		s.fail(w, r, err)
		return
	}
	s.logger.Info(r.Context(), "page archived", "silo", silo, "path", path)
	http.Redirect(w, r, pageURL("wiki", silo, defaultPage), http.StatusSeeOther)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	page, err := s.store.FindPage(r.Context(), r.PathValue("silo"), pagePath(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	revisions, err := s.store.ListRevisions(r.Context(), page.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, historyPage(page, revisions))
}

func (s *Server) handleDiff(w http.ResponseWriter, r *http.Request) {
	fromID, err := strconv.ParseInt(r.URL.Query().Get("from"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid 'from' revision", http.StatusBadRequest)
		return
	}
	toID, err := strconv.ParseInt(r.URL.Query().Get("to"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid 'to' revision", http.StatusBadRequest)
		return
	}

	page, err := s.store.FindPage(r.Context(), r.PathValue("silo"), pagePath(r))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	var contents [2]string
	for i, id := range []int64{fromID, toID} {
		rev, err := s.store.Revision(r.Context(), id)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if rev.PageID != page.ID {
			http.Error(w, fmt.Sprintf("revision %d does not belong to this page", id), http.StatusBadRequest)
			return
		}
		contents[i] = rev.Content
	}

	s.render(w, r, http.StatusOK, diffPage(page, fromID, toID, diffHTML(contents[0], contents[1])))
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.Server.MaxUploadBytes))
	if err != nil {
		http.Error(w, "Error reading request body", http.StatusBadRequest)
		return
	}

	out, err := s.renderer.Render(string(body))
	if err != nil {
		s.logger.Error(r.Context(), err, "preview failed")
		http.Error(w, "Error converting content to HTML", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = io.WriteString(w, out)
}

// uniqueFilename names stored uploads after the first 16 bytes of their
// SHA-256 digest and the upload time, keeping the original extension.
func uniqueFilename(sum [sha256.Size]byte, unix int64, original string) string {
	return fmt.Sprintf("%s-%d%s", hex.EncodeToString(sum[:16]), unix, strings.ToLower(filepath.Ext(original)))
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	limit := s.config.Server.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		writeJSONError(w, http.StatusBadRequest, "The uploaded file is too big.")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Error reading file")
		return
	}

	name := uniqueFilename(sha256.Sum256(data), s.now().Unix(), header.Filename)
	if err := os.WriteFile(filepath.Join(s.config.Server.UploadsDir, name), data, 0o644); err != nil {
		s.logger.Error(r.Context(), err, "cannot store upload", "name", name)
		writeJSONError(w, http.StatusInternalServerError, "Error saving file")
		return
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(name))
	}
	if _, err := s.store.AddAttachment(r.Context(), store.Attachment{
		Filename:       header.Filename,
		UniqueFilename: name,
		MimeType:       mimeType,
		Size:           int64(len(data)),
	}); err != nil {
		s.logger.Error(r.Context(), err, "cannot record attachment", "name", name)
		writeJSONError(w, http.StatusInternalServerError, "Error saving attachment")
		return
	}

	s.logger.Info(r.Context(), "attachment stored", "name", name, "size", len(data))
	writeJSON(w, http.StatusOK, map[string]string{"url": "/uploads/" + name})
}

func (s *Server) handleUploadedFile(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(r.PathValue("name"))
	if name == "." || name == string(filepath.Separator) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(s.config.Server.UploadsDir, name))
}
