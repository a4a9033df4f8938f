package static

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"

	helpers "github.com/keptn/bridge/pkg/shared"
)

const indexFile = "index.html"

// spaHandler serves static files if they exist, otherwise falls back to index.html
type spaHandler struct {
	root        string
	files       http.Handler
	placeholder http.Handler
	logger      *slog.Logger
}

// SPA serves the single page application under root. Paths that do not name
// an existing file get the entry document with status 200 so the client side
// router can handle them. When the entry document itself is missing,
// placeholder answers instead.
func SPA(root string, maxAge time.Duration, placeholder http.Handler) http.Handler {
	h := spaHandler{
		root:        root,
		files:       CacheControl(maxAge)(http.FileServer(http.Dir(root))),
		placeholder: placeholder,
		logger:      slog.With("component", "spa"),
	}
	return gziphandler.GzipHandler(h)
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Path
	if hasDotSegment(p) {
		http.NotFound(w, r)
		return
	}

	if p != "/" && !strings.HasSuffix(p, "/") && !strings.HasSuffix(p, "/"+indexFile) {
		fullPath := filepath.Join(h.root, filepath.FromSlash(path.Clean("/"+p)))
		if info, err := os.Stat(fullPath); err == nil && !info.IsDir() {
			h.files.ServeHTTP(w, r)
			return
		}
	}

	h.serveIndex(w, r)
}

func (h spaHandler) serveIndex(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(filepath.Join(h.root, indexFile))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			h.logger.Error("Cannot open entry document", "root", h.root, "error", err)
		}
		h.placeholder.ServeHTTP(w, r)
		return
	}
	defer helpers.CloseOrLog(f)

	info, err := f.Stat()
	if err != nil {
		h.logger.Error("Cannot stat entry document", "root", h.root, "error", err)
		h.placeholder.ServeHTTP(w, r)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	http.ServeContent(w, r, indexFile, info.ModTime(), f)
}
