package api

import (
	"encoding/json"
	"fmt"

	"github.com/benmeehan/xsense-agent/internal/constants"
	"github.com/benmeehan/xsense-agent/internal/session"
	"github.com/benmeehan/xsense-agent/internal/signing"
)

// Operation names a logical vendor API call independently of the wire protocol.
type Operation string

const (
	OpClientInfo    Operation = "client-info"
	OpHouses        Operation = "houses"
	OpStations      Operation = "stations"
	OpDeviceList    Operation = "device-list"
	OpIotCredential Operation = "iot-credential"
	OpLogin         Operation = "login"
	OpRefreshToken  Operation = "refresh-token"
)

// Auth is what an authenticated request carries. A nil *Auth means the call is unauthenticated.
type Auth struct {
	Session *session.Session
	Secret  []byte
}

// Request is a protocol-built HTTP request, ready for the transport.
type Request struct {
	Path    string
	Headers map[string]string
	Body    any
}

// Protocol is one backend wire protocol: how operations map to requests and how responses
// are unwrapped.
type Protocol interface {
	Name() string
	Supports(op Operation) bool
	Build(op Operation, payload *Payload, auth *Auth) (*Request, error)
	Decode(op Operation, body []byte) (json.RawMessage, error)
}

// NewProtocol returns the protocol registered under name.
func NewProtocol(name, appVersion, appCode string) (Protocol, error) {
	switch name {
	case "", constants.ProtocolCloud:
		return NewCloudProtocol(appVersion, appCode), nil
	case constants.ProtocolToken:
		return NewTokenProtocol(), nil
	}
	return nil, fmt.Errorf("unknown protocol %q", name)
}

// CloudProtocol posts every operation to /app inside an envelope selected by bizCode and
// answers with {reCode, reMsg, reData}. Authenticated payloads are MAC-signed.
type CloudProtocol struct {
	appVersion string
	appCode    string
}

var cloudBizCodes = map[Operation]string{
	OpClientInfo:    constants.BizCodeClientInfo,
	OpHouses:        constants.BizCodeHouses,
	OpStations:      constants.BizCodeStations,
	OpIotCredential: constants.BizCodeIotCredential,
}

func NewCloudProtocol(appVersion, appCode string) *CloudProtocol {
	if appVersion == "" {
		appVersion = constants.AppVersion
	}
	if appCode == "" {
		appCode = constants.AppCode
	}
	return &CloudProtocol{appVersion: appVersion, appCode: appCode}
}

func (p *CloudProtocol) Name() string { return constants.ProtocolCloud }

func (p *CloudProtocol) Supports(op Operation) bool {
	_, ok := cloudBizCodes[op]
	return ok
}

func (p *CloudProtocol) Build(op Operation, payload *Payload, auth *Auth) (*Request, error) {
	bizCode, ok := cloudBizCodes[op]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrUnsupportedOperation)
	}

	mac := constants.UnauthenticatedMAC
	headers := map[string]string{}
	if auth != nil {
		var err error
		if mac, err = signing.RequestMAC(payload, auth.Secret); err != nil {
			return nil, fmt.Errorf("%s: signing payload: %w", op, err)
		}
		if auth.Session != nil && auth.Session.AccessToken != "" {
			headers["Authorization"] = auth.Session.AccessToken
		}
	}

	envelope := clonePayload(payload)
	envelope.Set("clientType", constants.ClientType)
	envelope.Set("mac", mac)
	envelope.Set("appVersion", p.appVersion)
	envelope.Set("bizCode", bizCode)
	envelope.Set("appCode", p.appCode)

	return &Request{Path: "/app", Headers: headers, Body: envelope}, nil
}

type cloudResponse struct {
	Code    int             `json:"reCode"`
	Message string          `json:"reMsg"`
	Data    json.RawMessage `json:"reData"`
}

func (p *CloudProtocol) Decode(op Operation, body []byte) (json.RawMessage, error) {
	var resp cloudResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", op, err)
	}
	if resp.Code != constants.CloudResultOK {
		return nil, &APIError{Operation: op, Code: resp.Code, Message: resp.Message}
	}
	return resp.Data, nil
}

// TokenProtocol posts to /v1/user/<operation> with the id token in a token header and
// answers with {code, msg, data}. Nothing is signed.
type TokenProtocol struct{}

var tokenPaths = map[Operation]string{
	OpDeviceList:    "/v1/user/getDeviceList",
	OpIotCredential: "/v1/user/getIotCredential",
	OpLogin:         "/v1/user/login",
	OpRefreshToken:  "/v1/user/refreshToken",
}

func NewTokenProtocol() *TokenProtocol { return &TokenProtocol{} }

func (p *TokenProtocol) Name() string { return constants.ProtocolToken }

func (p *TokenProtocol) Supports(op Operation) bool {
	_, ok := tokenPaths[op]
	return ok
}

func (p *TokenProtocol) Build(op Operation, payload *Payload, auth *Auth) (*Request, error) {
	path, ok := tokenPaths[op]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrUnsupportedOperation)
	}
	headers := map[string]string{}
	if auth != nil && auth.Session != nil {
		token := auth.Session.IDToken
		if token == "" {
			token = auth.Session.AccessToken
		}
		if token != "" {
			headers["token"] = token
		}
	}
	return &Request{Path: path, Headers: headers, Body: clonePayload(payload)}, nil
}

type tokenResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

func (p *TokenProtocol) Decode(op Operation, body []byte) (json.RawMessage, error) {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", op, err)
	}
	if resp.Code != constants.TokenResultOK {
		return nil, &APIError{Operation: op, Code: resp.Code, Message: resp.Message}
	}
	return resp.Data, nil
}
