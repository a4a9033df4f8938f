package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/keptn/bridge/pkg/config"
	"github.com/keptn/bridge/services/bridge/internal/api"
	"github.com/keptn/bridge/services/bridge/internal/auth"
	"github.com/keptn/bridge/services/bridge/internal/auth/oidc"
	"github.com/keptn/bridge/services/bridge/internal/auth/session"
	"github.com/keptn/bridge/services/bridge/internal/branding"
	"github.com/keptn/bridge/services/bridge/internal/credentials"
	"github.com/keptn/bridge/services/bridge/internal/router"
)

type app struct {
	handler  http.Handler
	branding *branding.Fetcher
}

// newApp resolves the API token and assembles every component from cfg.
// Any error here is fatal for the process.
func newApp(ctx context.Context, cfg *config.Config, resolver *credentials.Resolver) (*app, error) {
	b := cfg.Bridge

	token, err := resolver.Resolve(ctx, b.APIToken)
	if err != nil {
		return nil, fmt.Errorf("resolve api token: %w", err)
	}

	var (
		sessions    *session.Manager
		oauthRoutes router.OAuthRoutes
		checker     auth.SessionChecker
		logoutURL   string
	)
	if cfg.AuthMode() == config.AuthOAuth {
		sessions = session.NewManager(b.Session)
		client, err := oidc.New(ctx, b.OAuth, sessions)
		if err != nil {
			return nil, err
		}
		oauthRoutes = client
		checker = sessions
		logoutURL = client.LogoutURL()
	}

	gate, err := auth.New(cfg, checker)
	if err != nil {
		return nil, err
	}

	apiHandler, err := api.NewRouter(api.Options{
		APIURL:               b.APIURL,
		APIToken:             token,
		CLIDownloadLink:      b.CLIDownloadLink,
		IntegrationsPageLink: b.IntegrationsPageLink,
		AuthType:             gate.Mode(),
		Version:              b.Version,
		EnableVersionCheck:   b.EnableVersionCheck,
		LogoutURL:            logoutURL,
		Prefix:               router.APIPrefix,
	})
	if err != nil {
		return nil, err
	}

	fetcher := branding.New(branding.Options{
		URL:        b.Branding.URL,
		TargetDir:  b.BrandingDir,
		StagingDir: b.Branding.StagingDir,
		Delay:      b.Branding.Delay,
		Timeout:    b.Branding.Timeout,
		Logger:     slog.Default(),
	})

	handler, err := router.New(router.Options{
		FrontendDir:    b.FrontendDir,
		StaticDir:      b.StaticDir,
		BrandingDir:    b.BrandingDir,
		CacheMaxAge:    b.CacheMaxAge,
		Version:        b.Version,
		Auth:           gate,
		API:            apiHandler,
		OAuth:          oauthRoutes,
		Branding:       fetcher,
		DebugEndpoints: b.DebugEndpoints,
		Metrics:        b.MetricsEnabled,
		Development:    cfg.IsDevelopment(),
	})
	if err != nil {
		return nil, err
	}

	return &app{handler: handler, branding: fetcher}, nil
}
