// Package auth holds the authentication gate in front of the /api prefix.
//
// Exactly one Authenticator is chosen at startup from configuration and used for
// the lifetime of the process. The set of implementations is closed: None,
// *Basic and *OAuth.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/keptn/bridge/pkg/config"
	"github.com/keptn/bridge/pkg/metrics"
)

type Source string

const (
	SourceBasic Source = "basic"
	SourceOAuth Source = "oauth"
)

type User struct {
	Username string
	Source   Source
	Claims   map[string]any
}

// Authenticator decides whether a request may reach the API. On rejection it
// has already written the response and returns a non-nil error.
type Authenticator interface {
	AuthenticateHTTP(w http.ResponseWriter, r *http.Request) (*User, error)
	// Mode is the label handed to the API router.
	Mode() config.AuthMode
	sealed()
}

var ErrUnauthorized = errors.New("unauthorized")

type userContextKey struct{}

func WithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userContextKey{}, u)
}

func UserFromContext(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userContextKey{}).(*User)
	return u, ok && u != nil
}

// Middleware enforces a on every request passing through it and attaches the
// authenticated user to the request context.
func Middleware(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := a.AuthenticateHTTP(w, r)
			if err != nil {
				metrics.IncAuthRejected(string(a.Mode()))
				slog.Warn("Access denied",
					"mode", a.Mode(),
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// New selects the authenticator for cfg. sessions is required for OAuth mode
// and ignored otherwise.
func New(cfg *config.Config, sessions SessionChecker) (Authenticator, error) {
	switch mode := cfg.AuthMode(); mode {
	case config.AuthOAuth:
		if sessions == nil {
			return nil, errors.New("oauth mode requires a session checker")
		}
		slog.Info("Installing OAuth authentication")
		return NewOAuth(sessions), nil
	case config.AuthBasic:
		slog.Warn("Installing Basic authentication - please check environment variables!")
		return NewBasic(cfg.Bridge.Basic.Username, cfg.Bridge.Basic.Password)
	case config.AuthNone:
		slog.Warn("Not installing authentication middleware: the API is reachable without credentials")
		return None{}, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", mode)
	}
}

// None lets every request through.
type None struct{}

func (None) AuthenticateHTTP(w http.ResponseWriter, r *http.Request) (*User, error) {
	// anonymous user
	return &User{
		Username: "anonymous",
		Claims:   map[string]any{},
	}, nil
}

func (None) Mode() config.AuthMode { return config.AuthNone }
func (None) sealed()               {}
