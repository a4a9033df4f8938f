// Package static serves the web UI, the server's own static files and the
// branding directory with the bridge's caching rules.
package static

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/NYTimes/gziphandler"
)

const DefaultMaxAge = 7 * 24 * time.Hour

// CacheControl marks responses cacheable for maxAge, except HTML documents
// which must always be revalidated.
func CacheControl(maxAge time.Duration) func(http.Handler) http.Handler {
	cacheable := fmt.Sprintf("public, max-age=%d", int64(maxAge.Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isHTML(r.URL.Path) {
				w.Header().Set("Cache-Control", "no-cache")
			} else {
				w.Header().Set("Cache-Control", cacheable)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isHTML(p string) bool {
	return strings.HasSuffix(strings.ToLower(p), ".html")
}

// Dir serves the files under root. Directory listings and any path with a
// dot-prefixed segment are answered with 404.
func Dir(root string, maxAge time.Duration) http.Handler {
	files := http.FileServer(http.Dir(root))
	return gziphandler.GzipHandler(CacheControl(maxAge)(hidden(files)))
}

func hidden(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") || hasDotSegment(r.URL.Path) {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// hasDotSegment keeps staging directories and dotfiles such as .env private.
func hasDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") {
			return true
		}
	}
	return false
}
