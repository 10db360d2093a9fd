// Package identity wraps the identity provider that issues X-Sense user sessions.
package identity

import (
	"context"
	"fmt"
	"time"
)

// Operation names seen by interceptors.
const (
	OperationInitiateAuth           = "InitiateAuth"
	OperationRespondToAuthChallenge = "RespondToAuthChallenge"
)

// Parameter keys shared by the handshake operations.
const (
	ParamUsername     = "USERNAME"
	ParamSecretHash   = "SECRET_HASH"
	ParamRefreshToken = "REFRESH_TOKEN"
)

// Tokens is the token set returned by a successful authentication or refresh.
// RefreshToken is empty after a refresh.
type Tokens struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Client performs the provider's password handshake and refresh exchange.
type Client interface {
	AuthenticateUser(ctx context.Context, username, password string) (*Tokens, error)
	RefreshSession(ctx context.Context, refreshToken, username string) (*Tokens, error)
}

// Interceptor sees the parameters of every outgoing handshake operation before it is sent
// and may add to them.
type Interceptor interface {
	BeforeSend(operation string, params map[string]string)
}

// InterceptorFunc adapts a function to the Interceptor interface.
type InterceptorFunc func(operation string, params map[string]string)

// BeforeSend implements Interceptor.
func (f InterceptorFunc) BeforeSend(operation string, params map[string]string) {
	f(operation, params)
}

// ChallengeError is returned when the provider asks for a challenge this client cannot answer.
type ChallengeError struct {
	Challenge string
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("unsupported authentication challenge %q", e.Challenge)
}
