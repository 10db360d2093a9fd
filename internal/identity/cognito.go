package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	cognitosrp "github.com/alexrudd/cognito-srp/v4"
	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/aws/smithy-go/middleware"
	"github.com/rs/zerolog"
)

// maxChallengeRounds bounds the challenge/response loop of a single login.
const maxChallengeRounds = 3

// CognitoConfig describes the user pool a CognitoClient talks to.
type CognitoConfig struct {
	Region     string
	UserPoolID string
	ClientID   string
	Timeout    time.Duration
	// Endpoint overrides the regional Cognito endpoint.
	Endpoint string
}

// CognitoClient authenticates against an AWS Cognito user pool using the SRP flow.
type CognitoClient struct {
	api        *cip.Client
	userPoolID string
	clientID   string
	logger     zerolog.Logger
	now        func() time.Time
}

// NewCognitoClient creates a client whose outgoing InitiateAuth and RespondToAuthChallenge
// parameters pass through the given interceptors.
func NewCognitoClient(cfg CognitoConfig, logger zerolog.Logger, interceptors ...Interceptor) *CognitoClient {
	opts := cip.Options{
		Region:      cfg.Region,
		Credentials: aws.AnonymousCredentials{},
		HTTPClient:  &http.Client{Timeout: cfg.Timeout},
		APIOptions:  []func(*middleware.Stack) error{interceptorMiddleware(interceptors)},
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}

	return &CognitoClient{
		api:        cip.New(opts),
		userPoolID: cfg.UserPoolID,
		clientID:   cfg.ClientID,
		logger:     logger,
		now:        time.Now,
	}
}

// interceptorMiddleware runs the interceptors in the Initialize step, where the operation
// input is still the typed parameter struct.
func interceptorMiddleware(interceptors []Interceptor) func(*middleware.Stack) error {
	return func(stack *middleware.Stack) error {
		if len(interceptors) == 0 {
			return nil
		}
		mw := middleware.InitializeMiddlewareFunc("XSenseHandshakeInterceptors",
			func(ctx context.Context, in middleware.InitializeInput, next middleware.InitializeHandler) (
				middleware.InitializeOutput, middleware.Metadata, error,
			) {
				switch params := in.Parameters.(type) {
				case *cip.InitiateAuthInput:
					params.AuthParameters = intercept(OperationInitiateAuth, params.AuthParameters, interceptors)
				case *cip.RespondToAuthChallengeInput:
					params.ChallengeResponses = intercept(OperationRespondToAuthChallenge, params.ChallengeResponses, interceptors)
				}
				return next.HandleInitialize(ctx, in)
			})
		return stack.Initialize.Add(mw, middleware.After)
	}
}

func intercept(operation string, params map[string]string, interceptors []Interceptor) map[string]string {
	if params == nil {
		params = map[string]string{}
	}
	for _, i := range interceptors {
		i.BeforeSend(operation, params)
	}
	return params
}

// AuthenticateUser runs USER_SRP_AUTH and answers PASSWORD_VERIFIER challenges until the
// provider returns tokens.
func (c *CognitoClient) AuthenticateUser(ctx context.Context, username, password string) (*Tokens, error) {
	srp, err := cognitosrp.NewCognitoSRP(username, password, c.userPoolID, c.clientID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare SRP parameters: %w", err)
	}

	initOut, err := c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeUserSrpAuth,
		ClientId:       aws.String(c.clientID),
		AuthParameters: srp.GetAuthParams(),
	})
	if err != nil {
		return nil, err
	}

	result := initOut.AuthenticationResult
	challenge := initOut.ChallengeName
	challengeParams := initOut.ChallengeParameters
	session := initOut.Session

	for round := 0; result == nil; round++ {
		if round >= maxChallengeRounds {
			return nil, errors.New("authentication did not complete after repeated challenges")
		}
		if challenge != types.ChallengeNameTypePasswordVerifier {
			return nil, &ChallengeError{Challenge: string(challenge)}
		}

		c.logger.Debug().Str("challenge", string(challenge)).Msg("Answering authentication challenge")
		responses, err := srp.PasswordVerifierChallenge(challengeParams, c.now())
		if err != nil {
			return nil, fmt.Errorf("failed to compute password verifier: %w", err)
		}

		out, err := c.api.RespondToAuthChallenge(ctx, &cip.RespondToAuthChallengeInput{
			ChallengeName:      challenge,
			ChallengeResponses: responses,
			ClientId:           aws.String(c.clientID),
			Session:            session,
		})
		if err != nil {
			return nil, err
		}
		result = out.AuthenticationResult
		challenge = out.ChallengeName
		challengeParams = out.ChallengeParameters
		session = out.Session
	}

	return tokensFrom(result), nil
}

// RefreshSession exchanges a refresh token for a new id/access token pair. username is only
// used to bind the client-secret proof.
func (c *CognitoClient) RefreshSession(ctx context.Context, refreshToken, username string) (*Tokens, error) {
	params := map[string]string{ParamRefreshToken: refreshToken}
	if username != "" {
		params[ParamUsername] = username
	}

	out, err := c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow:       types.AuthFlowTypeRefreshTokenAuth,
		ClientId:       aws.String(c.clientID),
		AuthParameters: params,
	})
	if err != nil {
		return nil, err
	}
	if out.AuthenticationResult == nil {
		return nil, &ChallengeError{Challenge: string(out.ChallengeName)}
	}
	return tokensFrom(out.AuthenticationResult), nil
}

func tokensFrom(result *types.AuthenticationResultType) *Tokens {
	return &Tokens{
		IDToken:      aws.ToString(result.IdToken),
		AccessToken:  aws.ToString(result.AccessToken),
		RefreshToken: aws.ToString(result.RefreshToken),
		ExpiresIn:    time.Duration(result.ExpiresIn) * time.Second,
	}
}
