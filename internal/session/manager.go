// Package session manages the X-Sense user session: client registration bootstrap, the
// password handshake, token refresh and re-login after a revoked session.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/benmeehan/xsense-agent/internal/identity"
	"github.com/benmeehan/xsense-agent/internal/models"
	"github.com/benmeehan/xsense-agent/internal/signing"
)

// ClientInfoSource fetches the identity-provider registration from the unauthenticated
// bootstrap endpoint.
type ClientInfoSource interface {
	FetchClientInfo(ctx context.Context) (*models.ClientInfo, error)
}

// IdentityFactory builds the identity-provider client once the registration is known.
// The interceptor must see every outgoing handshake operation.
type IdentityFactory func(info models.ClientInfo, interceptor identity.Interceptor) identity.Client

// Manager is the credential lifecycle of the cloud protocol: a Cognito user pool whose
// app client requires a secret-bound proof on every handshake step.
type Manager struct {
	*lifecycle

	username    string
	password    string
	source      ClientInfoSource
	newIdentity IdentityFactory

	bootstrapMu sync.Mutex
	clientInfo  *models.ClientInfo
	secret      []byte
	idp         identity.Client
}

// NewManager creates a Manager for one user. Nothing is fetched until Bootstrap or Login.
func NewManager(
	username string,
	password string,
	source ClientInfoSource,
	newIdentity IdentityFactory,
	dedupeRefresh bool,
	logger zerolog.Logger,
) *Manager {
	return &Manager{
		lifecycle:   newLifecycle(logger, dedupeRefresh),
		username:    username,
		password:    password,
		source:      source,
		newIdentity: newIdentity,
	}
}

// Bootstrap fetches the client registration once per process, decodes the shared secret and
// prepares the identity client with the signing interceptor installed.
func (m *Manager) Bootstrap(ctx context.Context) error {
	m.bootstrapMu.Lock()
	defer m.bootstrapMu.Unlock()

	if m.clientInfo != nil {
		return nil
	}

	m.logger.Debug().Msg("Fetching client info")
	info, err := m.source.FetchClientInfo(ctx)
	if err != nil {
		return &BootstrapError{Err: err}
	}
	secret, err := signing.DecodeSharedSecret(info.ClientSecret)
	if err != nil {
		return &BootstrapError{Err: err}
	}

	m.mu.Lock()
	m.clientInfo = info
	m.secret = secret
	m.state = StateClientInfoFetched
	m.mu.Unlock()

	m.idp = m.newIdentity(*info, m)
	m.logger.Info().Str("region", info.Region).Str("user_pool", info.UserPoolID).Msg("Client info fetched")
	return nil
}

// BeforeSend adds the client-secret proof to handshake operations that carry a username.
func (m *Manager) BeforeSend(operation string, params map[string]string) {
	if operation != identity.OperationInitiateAuth && operation != identity.OperationRespondToAuthChallenge {
		return
	}
	username := params[identity.ParamUsername]
	if username == "" || params[identity.ParamSecretHash] != "" {
		return
	}

	m.mu.RLock()
	info, secret := m.clientInfo, m.secret
	m.mu.RUnlock()
	if info == nil || len(secret) == 0 {
		return
	}
	params[identity.ParamSecretHash] = signing.ChallengeSignature(username, info.ClientID, secret)
}

// Login runs the password handshake and installs the resulting session. Calling it again
// simply redoes the handshake.
func (m *Manager) Login(ctx context.Context) (*Session, error) {
	if err := m.Bootstrap(ctx); err != nil {
		return nil, err
	}
	return m.authenticate(ctx, func(ctx context.Context) (*identity.Tokens, error) {
		return m.idp.AuthenticateUser(ctx, m.username, m.password)
	})
}

// Refresh exchanges the refresh token for new id/access tokens. On failure the session is
// discarded and a RefreshFailed is returned.
func (m *Manager) Refresh(ctx context.Context) (*Session, error) {
	return m.refresh(ctx, func(ctx context.Context, current *Session) (*identity.Tokens, error) {
		if m.idp == nil {
			return nil, ErrNoSession
		}
		user := current.SubjectID
		if user == "" {
			user = m.username
		}
		return m.idp.RefreshSession(ctx, current.RefreshToken, user)
	})
}

// ReauthenticateIfSessionRevoked logs in again with the stored credentials. A revoked
// session has no usable refresh token server-side, so refreshing is pointless.
func (m *Manager) ReauthenticateIfSessionRevoked(ctx context.Context, code int) (*Session, error) {
	m.logger.Warn().Int("code", code).Msg("Session revoked by server, logging in again")
	return m.Login(ctx)
}

// SigningSecret returns the decoded client secret, or nil before bootstrap.
func (m *Manager) SigningSecret() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.secret == nil {
		return nil
	}
	return append([]byte(nil), m.secret...)
}

// ClientInfo returns the bootstrap registration once fetched.
func (m *Manager) ClientInfo() (models.ClientInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.clientInfo == nil {
		return models.ClientInfo{}, false
	}
	return *m.clientInfo, true
}

// Username returns the account the manager authenticates.
func (m *Manager) Username() string { return m.username }
