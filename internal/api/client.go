// Package api is the vendor REST client: protocol strategies, the HTTP transport and the
// session-aware call path that recovers once from expired or revoked sessions.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/benmeehan/xsense-agent/internal/session"
	"github.com/benmeehan/xsense-agent/internal/utils"
)

// Authenticator is the credential lifecycle as seen by the REST client.
type Authenticator interface {
	Current() *session.Session
	Refresh(ctx context.Context) (*session.Session, error)
	ReauthenticateIfSessionRevoked(ctx context.Context, code int) (*session.Session, error)
	SigningSecret() []byte
}

// Client issues vendor API calls with the current session attached.
type Client struct {
	transport    *Transport
	auth         Authenticator
	revokedCodes map[int]struct{}
	logger       zerolog.Logger
}

// NewClient creates a Client. revokedCodes are the application result codes that mean the
// server revoked the session outright.
func NewClient(transport *Transport, auth Authenticator, revokedCodes []int, logger zerolog.Logger) *Client {
	return &Client{
		transport:    transport,
		auth:         auth,
		revokedCodes: utils.SliceToSet(revokedCodes),
		logger:       logger,
	}
}

type callOptions struct {
	unauthenticated bool
}

// CallOption tunes a single Call.
type CallOption func(*callOptions)

// Unauthenticated sends the call without session or signature.
func Unauthenticated() CallOption {
	return func(o *callOptions) { o.unauthenticated = true }
}

// Supports reports whether the configured protocol implements op.
func (c *Client) Supports(op Operation) bool {
	return c.transport.Protocol().Supports(op)
}

// Call sends op and returns the unwrapped result data. An HTTP 401 triggers one refresh
// and one resend; a session-revoked result code triggers one fresh login and one resend.
// Application errors are returned untouched.
func (c *Client) Call(ctx context.Context, op Operation, payload *Payload, opts ...CallOption) (json.RawMessage, error) {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	send := func() (json.RawMessage, error) {
		var auth *Auth
		if !o.unauthenticated {
			auth = &Auth{Session: c.auth.Current(), Secret: c.auth.SigningSecret()}
		}
		return c.transport.Do(ctx, op, payload, auth)
	}

	data, err := send()
	if err == nil || o.unauthenticated {
		return data, err
	}

	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized {
		c.logger.Info().Str("operation", string(op)).Msg("Token expired, attempting to refresh")
		if _, rerr := c.auth.Refresh(ctx); rerr != nil {
			c.logger.Error().Err(rerr).Msg("Failed to refresh token, a new login is required")
			return nil, rerr
		}
		c.logger.Info().Msg("Token refreshed successfully")
		return send()
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if _, revoked := c.revokedCodes[apiErr.Code]; revoked {
			if _, rerr := c.auth.ReauthenticateIfSessionRevoked(ctx, apiErr.Code); rerr != nil {
				return nil, rerr
			}
			return send()
		}
	}
	return nil, err
}
