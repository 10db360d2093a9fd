package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/benmeehan/xsense-agent/internal/identity"
	"github.com/benmeehan/xsense-agent/internal/models"
)

// MockIdentityClient is a mock implementation of identity.Client
type MockIdentityClient struct {
	mock.Mock
}

func (m *MockIdentityClient) AuthenticateUser(ctx context.Context, username, password string) (*identity.Tokens, error) {
	args := m.Called(ctx, username, password)
	tokens, _ := args.Get(0).(*identity.Tokens)
	return tokens, args.Error(1)
}

func (m *MockIdentityClient) RefreshSession(ctx context.Context, refreshToken, username string) (*identity.Tokens, error) {
	args := m.Called(ctx, refreshToken, username)
	tokens, _ := args.Get(0).(*identity.Tokens)
	return tokens, args.Error(1)
}

// MockClientInfoSource is a mock bootstrap endpoint
type MockClientInfoSource struct {
	mock.Mock
}

func (m *MockClientInfoSource) FetchClientInfo(ctx context.Context) (*models.ClientInfo, error) {
	args := m.Called(ctx)
	info, _ := args.Get(0).(*models.ClientInfo)
	return info, args.Error(1)
}

// MockTokenIssuer is a mock token-protocol login/refresh endpoint
type MockTokenIssuer struct {
	mock.Mock
}

func (m *MockTokenIssuer) IssueToken(ctx context.Context, username, password string) (*identity.Tokens, error) {
	args := m.Called(ctx, username, password)
	tokens, _ := args.Get(0).(*identity.Tokens)
	return tokens, args.Error(1)
}

func (m *MockTokenIssuer) RenewToken(ctx context.Context, refreshToken string) (*identity.Tokens, error) {
	args := m.Called(ctx, refreshToken)
	tokens, _ := args.Get(0).(*identity.Tokens)
	return tokens, args.Error(1)
}
