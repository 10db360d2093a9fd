package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/benmeehan/xsense-agent/internal/identity"
)

// Session is the authenticated token set used to authorize REST calls. A Session value is
// never modified; refreshing produces a new one.
type Session struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	SubjectID    string
	ExpiresAt    time.Time
}

// Valid reports whether the session's tokens have not yet expired.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.AccessToken != "" && now.Before(s.ExpiresAt)
}

// newSession builds a Session from provider tokens. Subject and expiry come from the id
// token claims when they can be read, otherwise expiry falls back to ExpiresIn.
func newSession(tokens *identity.Tokens, refreshToken string, now time.Time) *Session {
	s := &Session{
		IDToken:      tokens.IDToken,
		AccessToken:  tokens.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    now.Add(tokens.ExpiresIn),
	}

	if tokens.IDToken == "" {
		return s
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokens.IDToken, claims); err != nil {
		return s
	}
	if sub, err := claims.GetSubject(); err == nil {
		s.SubjectID = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		s.ExpiresAt = exp.Time
	}
	return s
}

func (s *Session) clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
