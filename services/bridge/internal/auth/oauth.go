package auth

import (
	"net/http"

	"github.com/keptn/bridge/pkg/config"
)

// SessionChecker is the session collaborator used in OAuth mode.
type SessionChecker interface {
	IsAuthenticated(r *http.Request) bool
}

// principalSource is optionally implemented by a SessionChecker that knows who
// is logged in.
type principalSource interface {
	Principal(r *http.Request) (string, bool)
}

// OAuth admits requests whose session is authenticated. Unauthenticated
// requests get a plain 401; sending the browser to the login page is left to
// the web UI.
type OAuth struct {
	sessions SessionChecker
}

func NewOAuth(sessions SessionChecker) *OAuth {
	return &OAuth{sessions: sessions}
}

func (o *OAuth) AuthenticateHTTP(w http.ResponseWriter, r *http.Request) (*User, error) {
	if !o.sessions.IsAuthenticated(r) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return nil, ErrUnauthorized
	}

	user := &User{Source: SourceOAuth, Claims: map[string]any{}}
	if p, ok := o.sessions.(principalSource); ok {
		if name, ok := p.Principal(r); ok {
			user.Username = name
		}
	}
	return user, nil
}

func (*OAuth) Mode() config.AuthMode { return config.AuthOAuth }
func (*OAuth) sealed()               {}
