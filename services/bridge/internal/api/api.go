// Package api serves the bridge's own /api endpoints and forwards everything
// else under /api to the Keptn API with the resolved token attached.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keptn/bridge/pkg/config"
	"github.com/keptn/bridge/pkg/shared/defs"
	"github.com/keptn/bridge/services/bridge/internal/auth"
	"github.com/keptn/bridge/services/bridge/internal/httpHelpers"
)

const (
	DefaultPrefix = "/api"
	TokenHeader   = "x-token"
)

var ErrNoUpstream = errors.New("api url not configured")

type Options struct {
	APIURL               string
	APIToken             string
	CLIDownloadLink      string
	IntegrationsPageLink string
	AuthType             config.AuthMode
	Version              string
	EnableVersionCheck   bool
	// LogoutURL is advertised to the UI in OAuth mode only.
	LogoutURL string
	// Prefix is the path the router is mounted under, stripped before forwarding.
	Prefix    string
	Transport http.RoundTripper
}

type startKey struct{}

type handler struct {
	opts Options
}

// NewRouter returns the handler to mount at opts.Prefix.
func NewRouter(opts Options) (http.Handler, error) {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	h := &handler{opts: opts}

	r := chi.NewRouter()
	r.Get("/bridgeInfo", h.bridgeInfo)

	if opts.APIURL == "" {
		slog.Warn("No API URL configured, API requests will fail")
		r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			httpHelpers.WriteError(w, http.StatusBadGateway, ErrNoUpstream.Error())
		}))
		return r, nil
	}

	proxy, err := h.newProxy()
	if err != nil {
		return nil, err
	}
	r.Handle("/*", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), startKey{}, time.Now())
		proxy.ServeHTTP(w, r.WithContext(ctx))
	}))
	return r, nil
}

func (h *handler) bridgeInfo(w http.ResponseWriter, r *http.Request) {
	info := defs.BridgeInfo{
		BridgeVersion:        h.opts.Version,
		CLIDownloadLink:      h.opts.CLIDownloadLink,
		IntegrationsPageLink: h.opts.IntegrationsPageLink,
		AuthType:             string(h.opts.AuthType),
		EnableVersionCheck:   h.opts.EnableVersionCheck,
	}
	if h.opts.AuthType == config.AuthOAuth {
		info.LogoutURL = h.opts.LogoutURL
		if u, ok := auth.UserFromContext(r.Context()); ok {
			info.User = u.Username
		}
	}
	httpHelpers.WriteOutput(w, info)
}

func (h *handler) newProxy() (*httputil.ReverseProxy, error) {
	target, err := url.Parse(h.opts.APIURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid api url %q", h.opts.APIURL)
	}

	logger := slog.Default().With("component", "api-proxy", "upstream", target.Host)
	prefix := strings.TrimRight(h.opts.Prefix, "/")

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, prefix)
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			pr.SetXForwarded()
			// the gate's credentials are for the bridge, not the API
			pr.Out.Header.Del("Authorization")
			pr.Out.Header.Del("Cookie")
			pr.Out.Header.Set(TokenHeader, h.opts.APIToken)
		},
		Transport: h.opts.Transport,
		ModifyResponse: func(resp *http.Response) error {
			if start, ok := resp.Request.Context().Value(startKey{}).(time.Time); ok {
				httpHelpers.WriteTimings(resp.Header, httpHelpers.Timings{"upstream": time.Since(start)})
			}
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("API request failed", "path", r.URL.Path, "error", err)
			httpHelpers.WriteError(w, http.StatusBadGateway, "API unavailable")
		},
	}, nil
}
