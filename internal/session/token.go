package session

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/benmeehan/xsense-agent/internal/identity"
)

// TokenIssuer is the login/refresh pair of the token protocol, where the REST service itself
// issues tokens.
type TokenIssuer interface {
	IssueToken(ctx context.Context, username, password string) (*identity.Tokens, error)
	RenewToken(ctx context.Context, refreshToken string) (*identity.Tokens, error)
}

// TokenManager is the credential lifecycle of the token protocol. There is no bootstrap and
// no signing secret.
type TokenManager struct {
	*lifecycle

	username string
	password string
	issuer   TokenIssuer
}

// NewTokenManager creates a TokenManager for one user.
func NewTokenManager(username, password string, issuer TokenIssuer, dedupeRefresh bool, logger zerolog.Logger) *TokenManager {
	return &TokenManager{
		lifecycle: newLifecycle(logger, dedupeRefresh),
		username:  username,
		password:  password,
		issuer:    issuer,
	}
}

func (t *TokenManager) Login(ctx context.Context) (*Session, error) {
	return t.authenticate(ctx, func(ctx context.Context) (*identity.Tokens, error) {
		return t.issuer.IssueToken(ctx, t.username, t.password)
	})
}

func (t *TokenManager) Refresh(ctx context.Context) (*Session, error) {
	return t.refresh(ctx, func(ctx context.Context, current *Session) (*identity.Tokens, error) {
		return t.issuer.RenewToken(ctx, current.RefreshToken)
	})
}

func (t *TokenManager) ReauthenticateIfSessionRevoked(ctx context.Context, code int) (*Session, error) {
	t.logger.Warn().Int("code", code).Msg("Session revoked by server, logging in again")
	return t.Login(ctx)
}

// SigningSecret is always nil for the token protocol; requests are not MAC-signed.
func (t *TokenManager) SigningSecret() []byte { return nil }

// Username returns the account the manager authenticates.
func (t *TokenManager) Username() string { return t.username }
