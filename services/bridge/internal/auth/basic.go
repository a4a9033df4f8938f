package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/keptn/bridge/pkg/config"
)

const (
	BasicChallenge       = `Basic realm="Keptn"`
	basicRejectedMessage = "Authentication required."
)

var (
	ErrMissingCredentials = errors.New("missing basic credentials")
	ErrMalformedHeader    = errors.New("malformed basic authorization header")
)

// Basic checks HTTP Basic credentials against one configured user.
type Basic struct {
	username string
	password string
}

func NewBasic(username, password string) (*Basic, error) {
	if username == "" || password == "" {
		return nil, errors.New("basic auth requires both username and password")
	}
	return &Basic{username: username, password: password}, nil
}

func (b *Basic) AuthenticateHTTP(w http.ResponseWriter, r *http.Request) (*User, error) {
	login, password, err := ParseBasic(r.Header.Get("Authorization"))
	if err == nil && !b.matches(login, password) {
		err = ErrUnauthorized
	}
	if err != nil {
		// the same answer for every failure, so callers cannot tell which half was wrong
		w.Header().Set("WWW-Authenticate", BasicChallenge)
		http.Error(w, basicRejectedMessage, http.StatusUnauthorized)
		return nil, err
	}

	return &User{
		Username: login,
		Source:   SourceBasic,
		Claims:   map[string]any{},
	}, nil
}

func (b *Basic) matches(login, password string) bool {
	userMatch := subtle.ConstantTimeCompare([]byte(login), []byte(b.username)) == 1
	passMatch := subtle.ConstantTimeCompare([]byte(password), []byte(b.password)) == 1
	return userMatch && passMatch
}

func (*Basic) Mode() config.AuthMode { return config.AuthBasic }
func (*Basic) sealed()               {}

// ParseBasic extracts login and password from an Authorization header value.
// The decoded credential is split on its first colon, so passwords may
// contain colons. Empty logins or passwords are rejected.
func ParseBasic(header string) (login, password string, err error) {
	if header == "" {
		return "", "", ErrMissingCredentials
	}

	scheme, encoded, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Basic") {
		return "", "", fmt.Errorf("%w: expected Basic scheme", ErrMalformedHeader)
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	login, password, ok = strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", fmt.Errorf("%w: no colon in credentials", ErrMalformedHeader)
	}
	if login == "" || password == "" {
		return "", "", ErrMissingCredentials
	}
	return login, password, nil
}
