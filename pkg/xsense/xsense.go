// Package xsense is the entry point for bridges: log in, list devices, and receive realtime
// sensor events.
package xsense

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/benmeehan/xsense-agent/internal/api"
	"github.com/benmeehan/xsense-agent/internal/constants"
	"github.com/benmeehan/xsense-agent/internal/directory"
	"github.com/benmeehan/xsense-agent/internal/events"
	"github.com/benmeehan/xsense-agent/internal/identity"
	"github.com/benmeehan/xsense-agent/internal/models"
	"github.com/benmeehan/xsense-agent/internal/realtime"
	"github.com/benmeehan/xsense-agent/internal/session"
	"github.com/benmeehan/xsense-agent/internal/utils"
)

// Re-exported so bridges need not import internal packages.
type (
	DeviceRecord = models.DeviceRecord
	Message      = events.Message
	Handler      = events.Handler
)

// credentialLifecycle is what both session strategies provide.
type credentialLifecycle interface {
	api.Authenticator
	Login(ctx context.Context) (*session.Session, error)
	State() session.State
}

// Client is one account's connection to the vendor cloud.
type Client struct {
	cfg       *utils.Config
	auth      credentialLifecycle
	api       *api.Client
	directory *directory.Fetcher
	realtime  *realtime.Manager
	hub       *events.Hub
	logger    zerolog.Logger
}

type options struct {
	cognitoEndpoint string
	realtimeOpts    []realtime.Option
}

// Option customizes New.
type Option func(*options)

// WithCognitoEndpoint points the identity provider client at another endpoint.
func WithCognitoEndpoint(endpoint string) Option {
	return func(o *options) { o.cognitoEndpoint = endpoint }
}

// WithRealtimeOptions passes options to the realtime manager.
func WithRealtimeOptions(opts ...realtime.Option) Option {
	return func(o *options) { o.realtimeOpts = append(o.realtimeOpts, opts...) }
}

// New wires a Client for the configured protocol. Nothing is sent until Login.
func New(cfg *utils.Config, logger zerolog.Logger, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	appCode, err := utils.AppCode(cfg.XSense.AppVersion)
	if err != nil {
		return nil, err
	}
	protocol, err := api.NewProtocol(cfg.XSense.Protocol, cfg.XSense.AppVersion, appCode)
	if err != nil {
		return nil, err
	}

	transport := api.NewTransport(cfg.XSense.APIHost, cfg.XSense.RequestTimeout, protocol,
		logger.With().Str("component", "api").Logger())
	sessionLogger := logger.With().Str("component", "session").Logger()

	var auth credentialLifecycle
	switch protocol.Name() {
	case constants.ProtocolToken:
		auth = session.NewTokenManager(cfg.XSense.Username, cfg.XSense.Password, transport,
			cfg.XSense.DedupeRefresh, sessionLogger)
	default:
		newIdentity := func(info models.ClientInfo, interceptor identity.Interceptor) identity.Client {
			return identity.NewCognitoClient(identity.CognitoConfig{
				Region:     info.Region,
				UserPoolID: info.UserPoolID,
				ClientID:   info.ClientID,
				Timeout:    cfg.XSense.RequestTimeout,
				Endpoint:   o.cognitoEndpoint,
			}, logger.With().Str("component", "identity").Logger(), interceptor)
		}
		auth = session.NewManager(cfg.XSense.Username, cfg.XSense.Password, transport, newIdentity,
			cfg.XSense.DedupeRefresh, sessionLogger)
	}

	apiClient := api.NewClient(transport, auth, cfg.XSense.SessionRevokedCodes, logger.With().Str("component", "api").Logger())

	directoryLogger := logger.With().Str("component", "directory").Logger()
	var fetcher *directory.Fetcher
	if apiClient.Supports(api.OpHouses) {
		fetcher = directory.NewFetcher(apiClient, directoryLogger, directory.WithConcurrency(cfg.Directory.Concurrency))
	} else {
		fetcher = directory.NewFetcher(nil, directoryLogger, directory.WithFlatListing(apiClient))
	}

	hub := events.NewHub(logger.With().Str("component", "events").Logger())
	username := cfg.XSense.Username
	credentials := realtime.CredentialSourceFunc(func(ctx context.Context) (*models.IotCredentials, error) {
		return apiClient.IotCredential(ctx, username)
	})
	rt := realtime.NewManager(realtime.Config{
		Endpoint:          cfg.MQTT.Endpoint,
		Region:            cfg.MQTT.Region,
		UseIssuedEndpoint: cfg.UseIssuedEndpoint(),
		ClientIDPrefix:    cfg.MQTT.ClientIDPrefix,
		QOS:               byte(cfg.MQTT.QOS),
		ReconnectInterval: cfg.MQTT.ReconnectInterval,
		ConnectTimeout:    cfg.MQTT.ConnectTimeout,
		RotationMargin:    cfg.MQTT.RotationMargin,
	}, credentials, fetcher, hub, logger.With().Str("component", "realtime").Logger(), o.realtimeOpts...)

	return &Client{
		cfg:       cfg,
		auth:      auth,
		api:       apiClient,
		directory: fetcher,
		realtime:  rt,
		hub:       hub,
		logger:    logger,
	}, nil
}

// Login authenticates with the configured credentials, replacing any existing session.
func (c *Client) Login(ctx context.Context) error {
	if _, err := c.auth.Login(ctx); err != nil {
		return err
	}
	c.logger.Info().Str("protocol", c.cfg.XSense.Protocol).Msg("Logged in to X-Sense")
	return nil
}

// GetDeviceList fetches the flattened device list. A cleared session is re-established with
// a full login first.
func (c *Client) GetDeviceList(ctx context.Context) ([]DeviceRecord, error) {
	if c.auth.Current() == nil {
		c.logger.Info().Msg("No session, logging in before listing devices")
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}
	records, err := c.directory.FetchAll(ctx)
	var refreshErr *session.RefreshFailed
	if errors.As(err, &refreshErr) {
		c.logger.Warn().Err(err).Msg("Session could not be refreshed, a new login is required")
	}
	return records, err
}

// LastKnownDevices returns the last successfully fetched device list.
func (c *Client) LastKnownDevices() []DeviceRecord {
	return c.directory.LastKnown()
}

// ConnectMqtt opens the realtime connection for the last known devices.
func (c *Client) ConnectMqtt(ctx context.Context) error {
	return c.realtime.Connect(ctx)
}

// RotateMqtt reconnects with fresh broker credentials right away. It does nothing after
// DisconnectMqtt(true) until the next ConnectMqtt.
func (c *Client) RotateMqtt(ctx context.Context) error {
	return c.realtime.Rotate(ctx)
}

// DisconnectMqtt closes the realtime connection; clearTimers also cancels the pending
// credential rotation.
func (c *Client) DisconnectMqtt(clearTimers bool) {
	c.realtime.Disconnect(clearTimers)
}

// OnMessage registers a handler for every parsed realtime message and returns its
// unsubscribe function.
func (c *Client) OnMessage(h Handler) func() {
	return c.hub.Subscribe(h)
}

// SessionState reports the credential lifecycle state.
func (c *Client) SessionState() string {
	return c.auth.State().String()
}

// MqttState reports the realtime connection state.
func (c *Client) MqttState() string {
	return c.realtime.State().String()
}
