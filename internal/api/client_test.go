package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/xsense-agent/internal/constants"
	"github.com/benmeehan/xsense-agent/internal/identity"
	"github.com/benmeehan/xsense-agent/internal/mocks"
	"github.com/benmeehan/xsense-agent/internal/session"
	"github.com/benmeehan/xsense-agent/internal/signing"
)

var testSecret = []byte("mac-secret")

// fakeAuth is an Authenticator whose refresh and re-login swap in preset sessions.
type fakeAuth struct {
	mu         sync.Mutex
	current    *session.Session
	next       *session.Session
	refreshErr error
	refreshes  int
	relogins   int
}

func (f *fakeAuth) Current() *session.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeAuth) Refresh(context.Context) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		f.current = nil
		return nil, f.refreshErr
	}
	f.current = f.next
	return f.current, nil
}

func (f *fakeAuth) ReauthenticateIfSessionRevoked(context.Context, int) (*session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relogins++
	f.current = f.next
	return f.current, nil
}

func (f *fakeAuth) SigningSecret() []byte { return testSecret }

type recordedRequest struct {
	Header http.Header
	Body   string
	Path   string
}

// apiServer records every request and answers with the next scripted response.
type apiServer struct {
	*httptest.Server
	mu        sync.Mutex
	requests  []recordedRequest
	responder func(r recordedRequest) (int, string)
}

func newAPIServer(t *testing.T, responder func(r recordedRequest) (int, string)) *apiServer {
	s := &apiServer{responder: responder}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		rec := recordedRequest{Header: r.Header.Clone(), Body: string(body), Path: r.URL.Path}
		s.mu.Lock()
		s.requests = append(s.requests, rec)
		s.mu.Unlock()
		status, resp := s.responder(rec)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, resp)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *apiServer) recorded() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest(nil), s.requests...)
}

func newCloudClient(server *apiServer, auth Authenticator, revoked ...int) *Client {
	transport := NewTransport(server.URL, 5*time.Second, NewCloudProtocol("", ""), zerolog.Nop())
	return NewClient(transport, auth, revoked, zerolog.Nop())
}

func TestClient_CallAfterLoginDoesNotRefresh(t *testing.T) {
	server := newAPIServer(t, func(recordedRequest) (int, string) {
		return 200, `{"reCode":200,"reMsg":"success","reData":[{"houseId":"h1","houseName":"Home","mqtt_server":"alt.example.com","mqttRegion":"eu-west-1"}]}`
	})
	auth := &fakeAuth{current: &session.Session{AccessToken: "access-1"}}
	client := newCloudClient(server, auth)

	houses, err := client.Houses(context.Background())
	require.NoError(t, err)
	require.Len(t, houses, 1)
	assert.Equal(t, "h1", houses[0].ID)
	assert.Equal(t, "alt.example.com", houses[0].BrokerHost)
	assert.Equal(t, "eu-west-1", houses[0].BrokerRegion)
	assert.Zero(t, auth.refreshes)

	reqs := server.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/app", reqs[0].Path)
	assert.Equal(t, "access-1", reqs[0].Header.Get("Authorization"))

	expectedMAC, err := signing.RequestMAC(NewPayload("utctimestamp", "0"), testSecret)
	require.NoError(t, err)
	var envelope map[string]any
	require.NoError(t, json.Unmarshal([]byte(reqs[0].Body), &envelope))
	assert.Equal(t, expectedMAC, envelope["mac"])
	assert.Equal(t, constants.BizCodeHouses, envelope["bizCode"])
	assert.Equal(t, constants.ClientType, envelope["clientType"])
	assert.Equal(t, constants.AppCode, envelope["appCode"])
	assert.Equal(t, constants.AppVersion, envelope["appVersion"])

	// Payload fields come first, in insertion order, then the envelope fields.
	body := reqs[0].Body
	assert.Less(t, strings.Index(body, `"utctimestamp"`), strings.Index(body, `"clientType"`))
	assert.Less(t, strings.Index(body, `"mac"`), strings.Index(body, `"bizCode"`))
}

func TestClient_RefreshesOnceAndRetriesWithNewToken(t *testing.T) {
	server := newAPIServer(t, func(r recordedRequest) (int, string) {
		if r.Header.Get("Authorization") != "fresh" {
			return 401, `{"message":"Unauthorized"}`
		}
		return 200, `{"reCode":200,"reData":{"stations":[]}}`
	})
	auth := &fakeAuth{
		current: &session.Session{AccessToken: "stale"},
		next:    &session.Session{AccessToken: "fresh"},
	}
	client := newCloudClient(server, auth)

	_, err := client.Stations(context.Background(), "h1")
	require.NoError(t, err)
	assert.Equal(t, 1, auth.refreshes)

	reqs := server.recorded()
	require.Len(t, reqs, 2)
	assert.Equal(t, "stale", reqs[0].Header.Get("Authorization"))
	assert.Equal(t, "fresh", reqs[1].Header.Get("Authorization"))
}

func TestClient_SecondUnauthorizedIsNotRetried(t *testing.T) {
	server := newAPIServer(t, func(recordedRequest) (int, string) {
		return 401, `{}`
	})
	auth := &fakeAuth{
		current: &session.Session{AccessToken: "stale"},
		next:    &session.Session{AccessToken: "still-stale"},
	}
	client := newCloudClient(server, auth)

	_, err := client.Houses(context.Background())
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Equal(t, 1, auth.refreshes)
	assert.Len(t, server.recorded(), 2)
}

func TestClient_APIErrorIsNotRetried(t *testing.T) {
	server := newAPIServer(t, func(recordedRequest) (int, string) {
		return 200, `{"reCode":500,"reMsg":"server busy"}`
	})
	auth := &fakeAuth{current: &session.Session{AccessToken: "a"}}
	client := newCloudClient(server, auth)

	_, err := client.Houses(context.Background())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 500, apiErr.Code)
	assert.Equal(t, "server busy", apiErr.Message)
	assert.Equal(t, OpHouses, apiErr.Operation)
	assert.Len(t, server.recorded(), 1)
	assert.Zero(t, auth.refreshes)
	assert.Zero(t, auth.relogins)
}

func TestClient_RevokedSessionLogsInAgainOnce(t *testing.T) {
	server := newAPIServer(t, func(r recordedRequest) (int, string) {
		if r.Header.Get("Authorization") == "revoked" {
			return 200, `{"reCode":10001,"reMsg":"session revoked"}`
		}
		return 200, `{"reCode":200,"reData":[]}`
	})
	auth := &fakeAuth{
		current: &session.Session{AccessToken: "revoked"},
		next:    &session.Session{AccessToken: "relogged"},
	}
	client := newCloudClient(server, auth, 10001)

	_, err := client.Houses(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, auth.relogins)
	assert.Zero(t, auth.refreshes)
	assert.Len(t, server.recorded(), 2)
}

func TestTransport_FetchClientInfoIsUnauthenticated(t *testing.T) {
	server := newAPIServer(t, func(recordedRequest) (int, string) {
		return 200, `{"reCode":200,"reData":{"clientId":"cid","clientSecret":"c2VjcmV0","cgtRegion":"us-east-1","userPoolId":"us-east-1_x"}}`
	})
	transport := NewTransport(server.URL, 5*time.Second, NewCloudProtocol("", ""), zerolog.Nop())

	info, err := transport.FetchClientInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cid", info.ClientID)
	assert.Equal(t, "us-east-1_x", info.UserPoolID)

	reqs := server.recorded()
	require.Len(t, reqs, 1)
	assert.Empty(t, reqs[0].Header.Get("Authorization"))
	var envelope map[string]any
	require.NoError(t, json.Unmarshal([]byte(reqs[0].Body), &envelope))
	assert.Equal(t, constants.UnauthenticatedMAC, envelope["mac"])
	assert.Equal(t, constants.BizCodeClientInfo, envelope["bizCode"])
}

func TestClient_StationsFallsBackToDeviceType(t *testing.T) {
	server := newAPIServer(t, func(recordedRequest) (int, string) {
		return 200, `{"reCode":200,"reData":{"stations":[{"stationSn":"H1_S1","stationName":"Base","devices":[
			{"deviceId":"d1","deviceName":"Hall","deviceType":"XS01-M","status":{"battery":3}},
			{"deviceId":"d2","deviceName":"Kitchen","deviceType":12,"deviceModel":"XC01-M"}]}]}}`
	})
	client := newCloudClient(server, &fakeAuth{current: &session.Session{AccessToken: "a"}})

	stations, err := client.Stations(context.Background(), "H1")
	require.NoError(t, err)
	require.Len(t, stations, 1)
	require.Len(t, stations[0].Devices, 2)
	assert.Equal(t, "XS01-M", stations[0].Devices[0].Model)
	assert.Equal(t, "12", stations[0].Devices[1].Type)
	assert.Equal(t, "XC01-M", stations[0].Devices[1].Model)
	assert.NotNil(t, stations[0].Devices[1].Status)
}

func TestClient_UnsupportedOperation(t *testing.T) {
	server := newAPIServer(t, func(recordedRequest) (int, string) { return 200, `{}` })
	client := newCloudClient(server, &fakeAuth{})

	assert.False(t, client.Supports(OpDeviceList))
	_, err := client.DeviceList(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
	assert.Empty(t, server.recorded())
}

func newTokenClient(server *apiServer, auth Authenticator) *Client {
	transport := NewTransport(server.URL, 5*time.Second, NewTokenProtocol(), zerolog.Nop())
	return NewClient(transport, auth, nil, zerolog.Nop())
}

func TestTokenProtocol_DeviceList(t *testing.T) {
	server := newAPIServer(t, func(r recordedRequest) (int, string) {
		return 200, `{"code":0,"msg":"Success","data":[{"device_id":"d1","station_sn":"s1_a","device_name":"Smoke 1","type_id":1,"status":{"battery":100}}]}`
	})
	client := newTokenClient(server, &fakeAuth{current: &session.Session{IDToken: "id-token", AccessToken: "access"}})

	records, err := client.DeviceList(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "d1", records[0].DeviceID)
	assert.Equal(t, "1", records[0].Model)

	reqs := server.recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/v1/user/getDeviceList", reqs[0].Path)
	assert.Equal(t, "id-token", reqs[0].Header.Get("token"))
}

func TestTokenProtocol_NonZeroCode(t *testing.T) {
	server := newAPIServer(t, func(recordedRequest) (int, string) {
		return 200, `{"code":-1,"msg":"API Error"}`
	})
	client := newTokenClient(server, &fakeAuth{current: &session.Session{IDToken: "t"}})

	_, err := client.DeviceList(context.Background())
	assert.EqualError(t, err, "device-list: API Error (code: -1)")
}

func TestTokenProtocol_RefreshFailureClearsSession(t *testing.T) {
	server := newAPIServer(t, func(recordedRequest) (int, string) {
		return 401, `{"msg":"Unauthorized"}`
	})
	issuer := new(mocks.MockTokenIssuer)
	issuer.On("IssueToken", mock.Anything, "user", "pw").
		Return(&identity.Tokens{IDToken: "expired-token", RefreshToken: "refresh-token", ExpiresIn: time.Hour}, nil)
	issuer.On("RenewToken", mock.Anything, "refresh-token").Return(nil, errors.New("Invalid refresh token")).Once()

	manager := session.NewTokenManager("user", "pw", issuer, false, zerolog.Nop())
	_, err := manager.Login(context.Background())
	require.NoError(t, err)

	client := newTokenClient(server, manager)
	_, err = client.DeviceList(context.Background())
	var refreshErr *session.RefreshFailed
	require.ErrorAs(t, err, &refreshErr)
	assert.ErrorContains(t, err, "Invalid refresh token")
	assert.Nil(t, manager.Current())
	assert.Len(t, server.recorded(), 1)

	// The cleared session cannot be refreshed again; only a login recovers.
	_, err = manager.Refresh(context.Background())
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestIotCredential_TolerantDecoding(t *testing.T) {
	expiration := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	server := newAPIServer(t, func(r recordedRequest) (int, string) {
		if r.Path == "/v1/user/getIotCredential" {
			return 200, `{"code":0,"data":{"iotEndpoint":"test.iot.endpoint","accessKey":"key","secretKey":"secret","sessionToken":"token","expiration":"` + expiration.Format(time.RFC3339) + `"}}`
		}
		return 404, ``
	})
	client := newTokenClient(server, &fakeAuth{current: &session.Session{IDToken: "t"}})

	creds, err := client.IotCredential(context.Background(), "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, "key", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
	assert.Equal(t, "token", creds.SessionToken)
	assert.Equal(t, "test.iot.endpoint", creds.BrokerHost)
	assert.True(t, creds.Expiration.Equal(expiration))

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(server.recorded()[0].Body), &body))
	assert.Equal(t, "user@example.com", body["userName"])
}

func TestDecodeIotCredentials_EpochMillis(t *testing.T) {
	creds, err := decodeIotCredentials(json.RawMessage(`{"accessKeyId":"a","secretAccessKey":"s","sessionToken":"t","expiration":1767322800000,"mqtt_server":"m.example.com"}`))
	require.NoError(t, err)
	assert.Equal(t, int64(1767322800000), creds.Expiration.UnixMilli())
	assert.Equal(t, "m.example.com", creds.BrokerHost)

	_, err = decodeIotCredentials(json.RawMessage(`{"accessKeyId":"a","secretAccessKey":"s"}`))
	assert.ErrorContains(t, err, "missing expiration")
}

func TestNewProtocol(t *testing.T) {
	p, err := NewProtocol("", "", "")
	require.NoError(t, err)
	assert.Equal(t, constants.ProtocolCloud, p.Name())

	p, err = NewProtocol(constants.ProtocolToken, "", "")
	require.NoError(t, err)
	assert.Equal(t, constants.ProtocolToken, p.Name())

	_, err = NewProtocol("soap", "", "")
	assert.Error(t, err)
}
