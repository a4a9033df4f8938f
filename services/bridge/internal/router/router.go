// Package router assembles the bridge's HTTP surface: static mounts, the auth
// gate in front of /api, the OAuth routes and the SPA fallback.
package router

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/keptn/bridge/pkg/metrics"
	"github.com/keptn/bridge/pkg/shared/defs"
	"github.com/keptn/bridge/services/bridge/internal/auth"
	"github.com/keptn/bridge/services/bridge/internal/branding"
	"github.com/keptn/bridge/services/bridge/internal/httpHelpers"
	"github.com/keptn/bridge/services/bridge/internal/static"
)

const (
	APIPrefix      = "/api"
	StaticPrefix   = "/static"
	BrandingPrefix = "/assets/branding"

	LoginPath    = "/oauth/login"
	RedirectPath = "/oauth/redirect"
	LogoutPath   = "/logout"
)

// OAuthRoutes is the browser side of the OAuth flow.
type OAuthRoutes interface {
	LoginHandler(w http.ResponseWriter, r *http.Request)
	CallbackHandler(w http.ResponseWriter, r *http.Request)
	LogoutHandler(w http.ResponseWriter, r *http.Request)
}

type Options struct {
	FrontendDir string
	StaticDir   string
	BrandingDir string
	CacheMaxAge time.Duration
	Version     string

	Auth  auth.Authenticator
	API   http.Handler
	OAuth OAuthRoutes
	// Branding is reported by /dir; may be nil.
	Branding *branding.Fetcher

	DebugEndpoints bool
	Metrics        bool
	Development    bool
}

// New builds the handler tree. Auth and API are required.
func New(opts Options) (http.Handler, error) {
	if opts.Auth == nil || opts.API == nil {
		return nil, errors.New("router needs an authenticator and an api handler")
	}
	if opts.CacheMaxAge <= 0 {
		opts.CacheMaxAge = static.DefaultMaxAge
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(recoverer(opts.Development))

	if opts.Metrics {
		r.Handle("/metrics", metrics.Handler())
	}

	if opts.OAuth != nil {
		r.Get(LoginPath, opts.OAuth.LoginHandler)
		r.Get(RedirectPath, opts.OAuth.CallbackHandler)
		r.Get(LogoutPath, opts.OAuth.LogoutHandler)
	}

	gate := auth.Middleware(opts.Auth)
	r.With(gate).Mount(APIPrefix, opts.API)

	if opts.DebugEndpoints {
		r.With(gate).Method(http.MethodGet, "/dir", errorHandler{h: dirHandler(opts), development: opts.Development})
	}

	r.Handle(StaticPrefix+"/*", http.StripPrefix(StaticPrefix, static.Dir(opts.StaticDir, opts.CacheMaxAge)))
	r.Handle(BrandingPrefix+"/*", http.StripPrefix(BrandingPrefix, static.Dir(opts.BrandingDir, opts.CacheMaxAge)))
	r.Handle("/*", static.SPA(opts.FrontendDir, opts.CacheMaxAge, static.Unavailable(opts.Version)))

	return r, nil
}

// dirHandler lists the served directories for troubleshooting deployments.
func dirHandler(opts Options) HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		listing := defs.DirListing{
			FrontendDir: opts.FrontendDir,
			BrandingDir: opts.BrandingDir,
		}
		if opts.Branding != nil {
			listing.StagingFile = opts.Branding.StagingFile()
			listing.BrandingState = opts.Branding.State().String()
		}

		var err error
		if listing.FrontendFiles, err = listDir(opts.FrontendDir); err != nil {
			return &HTTPError{Status: http.StatusInternalServerError, Err: err}
		}
		if listing.BrandingFiles, err = listDir(opts.BrandingDir); err != nil {
			return &HTTPError{Status: http.StatusInternalServerError, Err: err}
		}
		if listing.StaticFiles, err = listDir(opts.StaticDir); err != nil {
			return &HTTPError{Status: http.StatusInternalServerError, Err: err}
		}

		httpHelpers.WriteOutput(w, listing)
		return nil
	}
}

// listDir returns the sorted entry names of dir; a missing dir is empty.
func listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}
