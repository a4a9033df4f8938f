// Package oidc drives the OAuth authorization code flow against an OpenID
// Connect provider and records the result in the bridge session.
package oidc

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/gorilla/securecookie"
	"golang.org/x/oauth2"

	"github.com/keptn/bridge/pkg/config"
	"github.com/keptn/bridge/services/bridge/internal/auth/session"
)

const (
	LoginPath    = "/oauth/login"
	RedirectPath = "/oauth/redirect"
	LogoutPath   = "/logout"

	discoverySuffix = "/.well-known/openid-configuration"
)

type Client struct {
	verifier   *gooidc.IDTokenVerifier
	oauth2     *oauth2.Config
	sessions   *session.Manager
	baseURL    string
	endSession string
	logger     *slog.Logger
}

// New fetches the provider metadata from cfg.Discovery. The discovery URL may
// be given with or without the well-known suffix.
func New(ctx context.Context, cfg config.OAuthConfig, sessions *session.Manager) (*Client, error) {
	issuer := strings.TrimSuffix(strings.TrimRight(cfg.Discovery, "/"), discoverySuffix)

	provider, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider %q: %w", issuer, err)
	}

	var extra struct {
		EndSession string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&extra); err != nil {
		return nil, fmt.Errorf("decode provider metadata: %w", err)
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		verifier: provider.Verifier(&gooidc.Config{ClientID: cfg.ClientID}),
		oauth2: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  baseURL + RedirectPath,
			Scopes:       scopes(cfg.Scope),
		},
		sessions:   sessions,
		baseURL:    baseURL,
		endSession: extra.EndSession,
		logger:     slog.Default().With("component", "oidc"),
	}
	c.logger.Info("OIDC provider configured", "issuer", issuer, "redirect_url", c.oauth2.RedirectURL)
	return c, nil
}

// scopes always requests openid and adds the configured space separated scopes.
func scopes(configured string) []string {
	out := []string{gooidc.ScopeOpenID}
	for _, s := range strings.Fields(configured) {
		if s != gooidc.ScopeOpenID {
			out = append(out, s)
		}
	}
	return out
}

// LogoutURL is the path the web UI links to for signing out.
func (c *Client) LogoutURL() string { return LogoutPath }

func randomToken() string {
	return base64.RawURLEncoding.EncodeToString(securecookie.GenerateRandomKey(32))
}

// LoginHandler redirects the browser to the provider's authorization endpoint.
// The request carries a state, an ID token nonce and a PKCE challenge; their
// secrets stay in the state cookie until the callback.
func (c *Client) LoginHandler(w http.ResponseWriter, r *http.Request) {
	login := session.LoginState{
		State:    randomToken(),
		Nonce:    randomToken(),
		Verifier: oauth2.GenerateVerifier(),
	}
	if err := c.sessions.SetState(w, login); err != nil {
		c.logger.Error("Failed to store oauth state", "error", err)
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}

	target := c.oauth2.AuthCodeURL(login.State,
		gooidc.Nonce(login.Nonce),
		oauth2.S256ChallengeOption(login.Verifier),
	)
	http.Redirect(w, r, target, http.StatusFound)
}

// CallbackHandler exchanges the authorization code, verifies the ID token and
// starts a session before sending the browser back to the UI.
func (c *Client) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		c.logger.Warn("Provider returned an error", "error", errParam, "description", q.Get("error_description"))
		http.Error(w, fmt.Sprintf("OAuth error: %s", errParam), http.StatusUnauthorized)
		return
	}

	login, err := c.sessions.ConsumeState(w, r, q.Get("state"))
	if err != nil {
		c.logger.Warn("Rejected oauth callback", "error", err)
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing code", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	token, err := c.oauth2.Exchange(ctx, code, oauth2.VerifierOption(login.Verifier))
	if err != nil {
		c.logger.Error("Code exchange failed", "error", err)
		http.Error(w, "Code exchange failed", http.StatusUnauthorized)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		c.logger.Error("No id_token in token response")
		http.Error(w, "No id_token in token response", http.StatusUnauthorized)
		return
	}

	principal, err := c.principal(ctx, rawIDToken, login.Nonce)
	if err != nil {
		c.logger.Error("id_token verification failed", "error", err)
		http.Error(w, "Invalid id_token", http.StatusUnauthorized)
		return
	}

	if err := c.sessions.Save(w, principal); err != nil {
		c.logger.Error("Failed to store session", "error", err)
		http.Error(w, "Login failed", http.StatusInternalServerError)
		return
	}

	c.logger.Info("Login successful", "user", principal)
	http.Redirect(w, r, c.baseURL+"/", http.StatusFound)
}

// LogoutHandler ends the local session and, when the provider supports it,
// the provider session too.
func (c *Client) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	c.sessions.Clear(w)

	target := c.baseURL + "/"
	if c.endSession != "" {
		u, err := url.Parse(c.endSession)
		if err == nil {
			v := u.Query()
			v.Set("client_id", c.oauth2.ClientID)
			v.Set("post_logout_redirect_uri", target)
			u.RawQuery = v.Encode()
			target = u.String()
		}
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (c *Client) principal(ctx context.Context, raw, nonce string) (string, error) {
	idToken, err := c.verifier.Verify(ctx, raw)
	if err != nil {
		return "", err
	}
	if subtle.ConstantTimeCompare([]byte(idToken.Nonce), []byte(nonce)) != 1 {
		return "", errors.New("id_token nonce does not match the login request")
	}

	var claims struct {
		Email         string `json:"email"`
		PreferredName string `json:"preferred_username"`
		Name          string `json:"name"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("decode claims: %w", err)
	}

	for _, name := range []string{claims.PreferredName, claims.Email, claims.Name, idToken.Subject} {
		if name != "" {
			return name, nil
		}
	}
	return "", errors.New("id_token carries no usable name")
}
