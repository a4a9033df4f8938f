package router

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keptn/bridge/pkg/metrics"
	"github.com/keptn/bridge/services/bridge/internal/auth"
)

type dirs struct {
	frontend, static, branding string
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func layout(t *testing.T) dirs {
	t.Helper()
	root := t.TempDir()
	d := dirs{
		frontend: filepath.Join(root, "dist"),
		static:   filepath.Join(root, "views", "static"),
		branding: filepath.Join(root, "dist", "assets", "branding"),
	}
	writeFile(t, d.frontend, "index.html", "<html>bridge</html>")
	writeFile(t, d.frontend, "main.js", "bundle")
	writeFile(t, d.static, "css/login.css", "css")
	writeFile(t, d.branding, "logo.svg", "<svg/>")
	return d
}

// apiStub answers 200 "api:<path>" and panics on /api/panic*.
func apiStub() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/panic":
			panic(errors.New("boom"))
		case "/api/panic-teapot":
			panic(&HTTPError{Status: http.StatusTeapot, Err: errors.New("short and stout")})
		}
		_, _ = io.WriteString(w, "api:"+r.URL.Path)
	})
}

func newRouter(t *testing.T, d dirs, mutate func(*Options)) http.Handler {
	t.Helper()
	opts := Options{
		FrontendDir: d.frontend,
		StaticDir:   d.static,
		BrandingDir: d.branding,
		Version:     "test",
		Auth:        auth.None{},
		API:         apiStub(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	h, err := New(opts)
	require.NoError(t, err)
	return h
}

func do(h http.Handler, method, target, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func basic(credentials string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(credentials))
}

func TestNew_RequiresAuthAndAPI(t *testing.T) {
	_, err := New(Options{API: apiStub()})
	assert.Error(t, err)
	_, err = New(Options{Auth: auth.None{}})
	assert.Error(t, err)
}

func TestUnknownRouteServesIndex(t *testing.T) {
	h := newRouter(t, layout(t), nil)

	for _, target := range []string{"/", "/project/sockshop", "/does/not/exist.png"} {
		rec := do(h, http.MethodGet, target, "")
		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, "<html>bridge</html>", rec.Body.String(), target)
		assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"), target)
	}
}

func TestMounts(t *testing.T) {
	h := newRouter(t, layout(t), nil)

	rec := do(h, http.MethodGet, "/main.js", "")
	assert.Equal(t, "bundle", rec.Body.String())
	assert.Equal(t, "public, max-age=604800", rec.Header().Get("Cache-Control"))

	rec = do(h, http.MethodGet, "/static/css/login.css", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "css", rec.Body.String())
	assert.Equal(t, "public, max-age=604800", rec.Header().Get("Cache-Control"))

	rec = do(h, http.MethodGet, "/assets/branding/logo.svg", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<svg/>", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/static/missing.css", "").Code)
}

func TestAPIDelegation(t *testing.T) {
	h := newRouter(t, layout(t), nil)

	rec := do(h, http.MethodGet, "/api/controlPlane/v1/project", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "api:/api/controlPlane/v1/project", rec.Body.String())

	rec = do(h, http.MethodPost, "/api", "")
	assert.Equal(t, "api:/api", rec.Body.String())
}

func TestBasicGateCoversOnlyAPI(t *testing.T) {
	gate, err := auth.NewBasic("admin", "secret")
	require.NoError(t, err)
	h := newRouter(t, layout(t), func(o *Options) { o.Auth = gate })

	rec := do(h, http.MethodGet, "/api/project", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Basic realm="Keptn"`, rec.Header().Get("WWW-Authenticate"))

	rec = do(h, http.MethodGet, "/api/project", basic("admin:secret"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "api:/api/project", rec.Body.String())

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/static/css/login.css", "").Code)
	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/assets/branding/logo.svg", "").Code)
}

func TestPanicBecomesEmptyErrorResponse(t *testing.T) {
	h := newRouter(t, layout(t), nil)

	rec := do(h, http.MethodGet, "/api/panic", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(h, http.MethodGet, "/api/panic-teapot", "")
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestPanicShowsMessageInDevelopment(t *testing.T) {
	h := newRouter(t, layout(t), func(o *Options) { o.Development = true })

	rec := do(h, http.MethodGet, "/api/panic", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom", strings.TrimSpace(rec.Body.String()))
}

func TestDirEndpoint(t *testing.T) {
	d := layout(t)

	h := newRouter(t, d, nil)
	rec := do(h, http.MethodGet, "/dir", "")
	assert.Equal(t, "<html>bridge</html>", rec.Body.String(), "disabled by default")

	gate, err := auth.NewBasic("admin", "secret")
	require.NoError(t, err)
	h = newRouter(t, d, func(o *Options) {
		o.DebugEndpoints = true
		o.Auth = gate
	})

	assert.Equal(t, http.StatusUnauthorized, do(h, http.MethodGet, "/dir", "").Code)

	rec = do(h, http.MethodGet, "/dir", basic("admin:secret"))
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, d.frontend, body["bridgeDir"])
	assert.Equal(t, d.branding, body["destDir"])
	assert.ElementsMatch(t, []any{"assets", "index.html", "main.js"}, body["bridgeFiles"])
	assert.ElementsMatch(t, []any{"logo.svg"}, body["brandingFiles"])
	assert.ElementsMatch(t, []any{"css"}, body["staticFiles"])
}

type fakeOAuth struct{}

func (fakeOAuth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "https://idp.example.com/authorize", http.StatusFound)
}
func (fakeOAuth) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/", http.StatusFound)
}
func (fakeOAuth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "https://idp.example.com/logout", http.StatusFound)
}

type noSession struct{}

func (noSession) IsAuthenticated(*http.Request) bool { return false }

func TestOAuthRoutes(t *testing.T) {
	h := newRouter(t, layout(t), func(o *Options) {
		o.OAuth = fakeOAuth{}
		o.Auth = auth.NewOAuth(noSession{})
	})

	rec := do(h, http.MethodGet, LoginPath, "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://idp.example.com/authorize", rec.Header().Get("Location"))

	rec = do(h, http.MethodGet, LogoutPath, "")
	assert.Equal(t, "https://idp.example.com/logout", rec.Header().Get("Location"))

	rec = do(h, http.MethodGet, "/api/project", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthorized", strings.TrimSpace(rec.Body.String()))
	assert.Empty(t, rec.Header().Get("Location"))
}

func TestMetricsEndpoint(t *testing.T) {
	metrics.Register()
	h := newRouter(t, layout(t), func(o *Options) { o.Metrics = true })

	do(h, http.MethodGet, "/", "")
	rec := do(h, http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "bridge_http_requests_total")
}

func TestRouteClass(t *testing.T) {
	assert.Equal(t, "api", routeClass("/api"))
	assert.Equal(t, "api", routeClass("/api/project"))
	assert.Equal(t, "frontend", routeClass("/apiary"))
	assert.Equal(t, "static", routeClass("/static/x.css"))
	assert.Equal(t, "branding", routeClass("/assets/branding/logo.svg"))
	assert.Equal(t, "auth", routeClass("/oauth/login"))
	assert.Equal(t, "auth", routeClass("/logout"))
	assert.Equal(t, "frontend", routeClass("/project/x"))
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("x")))
	assert.Equal(t, http.StatusNotFound, StatusOf(Errorf(http.StatusNotFound, "no %s", "thing")))
	assert.Equal(t, http.StatusInternalServerError, StatusOf(&HTTPError{Status: 200}))
}
