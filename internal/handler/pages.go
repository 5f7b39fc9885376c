// Package handler contains the HTTP request handlers.
//
// Handlers parse the request, call the service layer and write the
// response. They hold no business rules; authentication and role checks
// happen in the access gate before a handler runs.
package handler

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// PageHandler serves the front-end's static pages from one directory.
// Pages are plain files; nothing is rendered server-side.
type PageHandler struct {
	dir    string
	files  http.Handler
	logger *slog.Logger
}

// NewPageHandler serves files from dir.
func NewPageHandler(dir string, logger *slog.Logger) *PageHandler {
	return &PageHandler{
		dir:    dir,
		files:  http.FileServer(http.Dir(dir)),
		logger: logger,
	}
}

// Page serves one named file regardless of the request path, e.g.
// GET /login → index.html.
//
// http.ServeFile and http.FileServer both redirect any path ending in
// /index.html to "./", so the file is served with http.ServeContent.
func (h *PageHandler) Page(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := os.Open(filepath.Join(h.dir, name))
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				h.logger.Error("opening page", slog.String("page", name), slog.String("error", err.Error()))
			}
			http.NotFound(w, r)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}

// Static serves any file under the directory by its path.
func (h *PageHandler) Static() http.Handler {
	return h.files
}
