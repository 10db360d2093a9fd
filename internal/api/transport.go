package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/benmeehan/xsense-agent/internal/identity"
	"github.com/benmeehan/xsense-agent/internal/models"
)

// Transport sends single protocol requests. It knows nothing about sessions or retries.
type Transport struct {
	client   *resty.Client
	protocol Protocol
	logger   zerolog.Logger
}

// NewTransport creates a Transport for baseURL. Every request is bounded by timeout.
func NewTransport(baseURL string, timeout time.Duration, protocol Protocol, logger zerolog.Logger) *Transport {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Transport{client: client, protocol: protocol, logger: logger}
}

// Protocol returns the wire protocol in use.
func (t *Transport) Protocol() Protocol { return t.protocol }

// Do sends one request and unwraps the protocol response. A nil auth sends the request
// unauthenticated.
func (t *Transport) Do(ctx context.Context, op Operation, payload *Payload, auth *Auth) (json.RawMessage, error) {
	req, err := t.protocol.Build(op, payload, auth)
	if err != nil {
		return nil, err
	}

	t.logger.Debug().
		Str("operation", string(op)).
		Str("path", req.Path).
		Bool("authenticated", auth != nil).
		Msg("Sending API request")

	resp, err := t.client.R().
		SetContext(ctx).
		SetHeaders(req.Headers).
		SetBody(req.Body).
		Post(req.Path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return nil, &HTTPStatusError{Operation: op, StatusCode: resp.StatusCode(), Body: string(resp.Body())}
	}
	return t.protocol.Decode(op, resp.Body())
}

// FetchClientInfo calls the unauthenticated registration endpoint.
func (t *Transport) FetchClientInfo(ctx context.Context) (*models.ClientInfo, error) {
	data, err := t.Do(ctx, OpClientInfo, NewPayload(), nil)
	if err != nil {
		return nil, err
	}
	var info models.ClientInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decoding client info: %w", err)
	}
	if info.ClientID == "" || info.ClientSecret == "" || info.UserPoolID == "" {
		return nil, fmt.Errorf("client info is incomplete")
	}
	return &info, nil
}

type tokenGrant struct {
	Token        string          `json:"token"`
	IDToken      string          `json:"idToken"`
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	ExpiresIn    json.RawMessage `json:"expiresIn"`
}

func (g tokenGrant) tokens() *identity.Tokens {
	id := g.IDToken
	if id == "" {
		id = g.Token
	}
	access := g.AccessToken
	if access == "" {
		access = id
	}
	tokens := &identity.Tokens{IDToken: id, AccessToken: access, RefreshToken: g.RefreshToken}
	if secs, err := strconv.ParseInt(trimQuotes(string(g.ExpiresIn)), 10, 64); err == nil {
		tokens.ExpiresIn = time.Duration(secs) * time.Second
	}
	return tokens
}

// IssueToken logs in against the token protocol's own login endpoint.
func (t *Transport) IssueToken(ctx context.Context, username, password string) (*identity.Tokens, error) {
	data, err := t.Do(ctx, OpLogin, NewPayload("userName", username, "password", password), nil)
	if err != nil {
		return nil, err
	}
	return decodeGrant(data)
}

// RenewToken exchanges a refresh token on the token protocol.
func (t *Transport) RenewToken(ctx context.Context, refreshToken string) (*identity.Tokens, error) {
	data, err := t.Do(ctx, OpRefreshToken, NewPayload("refreshToken", refreshToken), nil)
	if err != nil {
		return nil, err
	}
	return decodeGrant(data)
}

func decodeGrant(data json.RawMessage) (*identity.Tokens, error) {
	var grant tokenGrant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, fmt.Errorf("decoding token grant: %w", err)
	}
	tokens := grant.tokens()
	if tokens.IDToken == "" {
		return nil, fmt.Errorf("token grant carries no token")
	}
	return tokens, nil
}

func trimQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
