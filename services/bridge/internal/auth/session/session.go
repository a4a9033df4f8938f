// Package session keeps the OAuth login state in signed and encrypted cookies.
package session

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"

	"github.com/keptn/bridge/pkg/config"
)

const (
	CookieName      = "keptn_bridge_session"
	StateCookieName = "keptn_bridge_oauth_state"

	stateTTL = 10 * time.Minute
)

var (
	ErrNoSession = errors.New("no session")
	ErrExpired   = errors.New("session expired")
	ErrBadState  = errors.New("oauth state mismatch")
)

// Session is what the browser carries between requests.
type Session struct {
	Principal string `json:"p"`
	Expires   int64  `json:"e"`
}

type Manager struct {
	codec   *securecookie.SecureCookie
	timeout time.Duration
	secure  bool
	now     func() time.Time
}

// NewManager derives the cookie keys from cfg.Secret. Without a secret the keys
// are random, so sessions do not survive a restart.
func NewManager(cfg config.SessionConfig) *Manager {
	var hashKey, blockKey []byte
	if cfg.Secret == "" {
		slog.Warn("No session secret configured, generating a random one; sessions will not survive restarts")
		hashKey = securecookie.GenerateRandomKey(64)
		blockKey = securecookie.GenerateRandomKey(32)
	} else {
		hashKey = []byte(cfg.Secret)
		sum := sha256.Sum256([]byte("block:" + cfg.Secret))
		blockKey = sum[:]
	}

	codec := securecookie.New(hashKey, blockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.Timeout.Seconds()))

	return &Manager{
		codec:   codec,
		timeout: cfg.Timeout,
		secure:  cfg.Secure,
		now:     time.Now,
	}
}

func (m *Manager) Save(w http.ResponseWriter, principal string) error {
	expires := m.now().Add(m.timeout)
	s := Session{Principal: principal, Expires: expires.Unix()}
	if m.timeout <= 0 {
		s.Expires = 0
	}

	encoded, err := m.codec.Encode(CookieName, s)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	cookie := m.cookie(CookieName, encoded)
	if m.timeout > 0 {
		cookie.Expires = expires
		cookie.MaxAge = int(m.timeout.Seconds())
	}
	http.SetCookie(w, cookie)
	return nil
}

func (m *Manager) Load(r *http.Request) (Session, error) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return Session{}, ErrNoSession
	}

	var s Session
	if err := m.codec.Decode(CookieName, c.Value, &s); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if s.Expires != 0 && m.now().Unix() > s.Expires {
		return Session{}, ErrExpired
	}
	return s, nil
}

func (m *Manager) Clear(w http.ResponseWriter) {
	c := m.cookie(CookieName, "")
	c.MaxAge = -1
	c.Expires = time.Unix(0, 0)
	http.SetCookie(w, c)
}

func (m *Manager) IsAuthenticated(r *http.Request) bool {
	s, err := m.Load(r)
	return err == nil && s.Principal != ""
}

func (m *Manager) Principal(r *http.Request) (string, bool) {
	s, err := m.Load(r)
	if err != nil || s.Principal == "" {
		return "", false
	}
	return s.Principal, true
}

// LoginState is what the login redirect needs to remember for its callback.
type LoginState struct {
	State    string `json:"s"`
	Nonce    string `json:"n"`
	Verifier string `json:"v"`
}

// SetState stores the pending login for the callback to check.
func (m *Manager) SetState(w http.ResponseWriter, login LoginState) error {
	encoded, err := m.codec.Encode(StateCookieName, login)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	c := m.cookie(StateCookieName, encoded)
	c.MaxAge = int(stateTTL.Seconds())
	http.SetCookie(w, c)
	return nil
}

// ConsumeState checks got against the stored state and deletes the cookie
// whatever the outcome. A pending login can be completed once.
func (m *Manager) ConsumeState(w http.ResponseWriter, r *http.Request, got string) (LoginState, error) {
	c, err := r.Cookie(StateCookieName)
	if err != nil {
		return LoginState{}, ErrBadState
	}

	gone := m.cookie(StateCookieName, "")
	gone.MaxAge = -1
	http.SetCookie(w, gone)

	var login LoginState
	if err := m.codec.Decode(StateCookieName, c.Value, &login); err != nil {
		return LoginState{}, fmt.Errorf("%w: %v", ErrBadState, err)
	}
	if login.State == "" || subtle.ConstantTimeCompare([]byte(login.State), []byte(got)) != 1 {
		return LoginState{}, ErrBadState
	}
	return login, nil
}

func (m *Manager) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
