package static

import (
	"bytes"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
)

//go:embed templates/*.html
var templates embed.FS

var unavailableTmpl = template.Must(template.ParseFS(templates, "templates/unavailable.html"))

type pageData struct {
	Title   string
	Heading string
	Message string
	Version string
}

// Unavailable answers 503 with a small page explaining that the web UI has
// not been deployed next to the server.
func Unavailable(version string) http.Handler {
	data := pageData{
		Title:   "Keptn Bridge",
		Heading: "Keptn Bridge is starting",
		Message: "The web interface is not available yet. Please try again in a moment.",
		Version: version,
	}

	var buf bytes.Buffer
	if err := unavailableTmpl.Execute(&buf, data); err != nil {
		slog.Error("Failed to render placeholder page", "error", err)
	}
	page := buf.Bytes()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write(page)
	})
}
