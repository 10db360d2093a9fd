// Package realtime keeps a signed MQTT-over-websocket connection to the vendor broker,
// subscribes to every known station and rotates the short-lived broker credentials before
// they expire.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/benmeehan/xsense-agent/internal/constants"
	"github.com/benmeehan/xsense-agent/internal/events"
	"github.com/benmeehan/xsense-agent/internal/models"
	"github.com/benmeehan/xsense-agent/internal/utils"
	"github.com/benmeehan/xsense-agent/pkg/mqtt"
)

// CredentialSource issues fresh broker credentials.
type CredentialSource interface {
	IotCredentials(ctx context.Context) (*models.IotCredentials, error)
}

// CredentialSourceFunc adapts a function to CredentialSource.
type CredentialSourceFunc func(ctx context.Context) (*models.IotCredentials, error)

func (f CredentialSourceFunc) IotCredentials(ctx context.Context) (*models.IotCredentials, error) {
	return f(ctx)
}

// DeviceSource provides the cached device list that subscriptions are derived from.
type DeviceSource interface {
	LastKnown() []models.DeviceRecord
}

// ClientFactory creates the MQTT client for one connection.
type ClientFactory func(opts mqtt.Options) mqtt.MQTTClient

// Config tunes the connection.
type Config struct {
	Endpoint          string
	Region            string
	UseIssuedEndpoint bool
	ClientIDPrefix    string
	QOS               byte
	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration
	RotationMargin    time.Duration
}

// Manager owns at most one streaming connection and one pending rotation timer.
type Manager struct {
	cfg       Config
	creds     CredentialSource
	devices   DeviceSource
	hub       *events.Hub
	newClient ClientFactory
	scheduler Scheduler
	now       func() time.Time
	logger    zerolog.Logger

	mu    sync.Mutex
	state State
	// client is non-nil from the start of a connection attempt until Disconnect.
	client mqtt.MQTTClient
	timer  Timer
	// timerGen invalidates callbacks of timers that were replaced or cancelled.
	timerGen uint64
	topics   []string
	// stopped is set by Disconnect(true) and cleared by Connect. Rotations do not reconnect
	// while it is set.
	stopped bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithClientFactory replaces the paho websocket client.
func WithClientFactory(factory ClientFactory) Option {
	return func(m *Manager) { m.newClient = factory }
}

// WithScheduler replaces the wall-clock timer.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) { m.scheduler = s }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a disconnected Manager.
func NewManager(cfg Config, creds CredentialSource, devices DeviceSource, hub *events.Hub, logger zerolog.Logger, opts ...Option) *Manager {
	if cfg.Endpoint == "" {
		cfg.Endpoint = constants.BrokerEndpoint
	}
	if cfg.Region == "" {
		cfg.Region = constants.BrokerRegion
	}
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = constants.ClientIDPrefix
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = constants.DefaultReconnectInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = constants.DefaultConnectTimeout
	}
	if cfg.RotationMargin <= 0 {
		cfg.RotationMargin = constants.DefaultRotationMargin
	}

	m := &Manager{
		cfg:       cfg,
		creds:     creds,
		devices:   devices,
		hub:       hub,
		newClient: mqtt.NewWebsocketClient,
		scheduler: wallScheduler{},
		now:       time.Now,
		logger:    logger,
		state:     StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens the streaming connection. It does nothing when the cached device list is
// empty or a connection already exists.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = false
	return m.connect(ctx)
}

// connect does the work of Connect. Callers hold m.mu.
func (m *Manager) connect(ctx context.Context) error {
	devices := m.devices.LastKnown()
	if len(devices) == 0 {
		m.logger.Warn().Msg("No devices available to connect to MQTT, fetch the device list first")
		return nil
	}
	if m.client != nil {
		m.logger.Debug().Str("state", m.state.String()).Msg("MQTT client is already connected")
		return nil
	}

	m.state = StateConnecting
	creds, err := m.creds.IotCredentials(ctx)
	if err != nil {
		m.state = StateDisconnected
		return fmt.Errorf("fetching IoT credentials: %w", err)
	}

	host, region := m.endpoint(creds, devices)
	now := m.now()

	delay := max(0, creds.Expiration.Sub(now)-m.cfg.RotationMargin)
	m.armRotation(delay)

	headers, err := SignHandshake(ctx, creds, host, region, now)
	if err != nil {
		m.state = StateDisconnected
		return err
	}

	stations := utils.Unique(stationSerials(devices))
	m.topics = m.topics[:0]
	for _, sn := range stations {
		m.topics = append(m.topics, Topics(sn)...)
	}

	url := "wss://" + host + constants.BrokerPath
	m.logger.Info().Str("url", url).Int("stations", len(stations)).Msg("Connecting to MQTT broker")

	var client mqtt.MQTTClient
	client = m.newClient(mqtt.Options{
		URL:               url,
		Headers:           headers,
		ClientID:          m.cfg.ClientIDPrefix + "_" + uuid.NewString()[:8],
		ReconnectInterval: m.cfg.ReconnectInterval,
		ConnectTimeout:    m.cfg.ConnectTimeout,
		OnConnect:         func() { m.subscribe(client, stations) },
		OnConnectionLost: func(err error) {
			m.logger.Error().Err(&TransportError{Op: "connection", Err: err}).Msg("MQTT connection lost")
		},
		OnReconnecting: func() { m.logger.Info().Msg("MQTT client reconnecting") },
	})
	m.client = client

	token := client.Connect()
	if !token.WaitTimeout(m.cfg.ConnectTimeout) {
		m.logger.Warn().Dur("timeout", m.cfg.ConnectTimeout).Msg("MQTT connect still pending, retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		client.Disconnect(constants.DisconnectQuiesce)
		m.client = nil
		m.state = StateDisconnected
		return &TransportError{Op: "connect", Err: err}
	}
	m.state = StateConnected
	return nil
}

func (m *Manager) endpoint(creds *models.IotCredentials, devices []models.DeviceRecord) (string, string) {
	host, region := m.cfg.Endpoint, m.cfg.Region
	if m.cfg.UseIssuedEndpoint {
		issuedHost, issuedRegion := creds.BrokerHost, creds.BrokerRegion
		if issuedHost == "" {
			for _, d := range devices {
				if d.BrokerHost != "" {
					issuedHost, issuedRegion = d.BrokerHost, d.BrokerRegion
					break
				}
			}
		}
		if issuedHost != "" {
			host = issuedHost
			region = issuedRegion
			if region == "" {
				region = regionFromHost(SanitizeEndpoint(issuedHost))
			}
			if region == "" {
				region = m.cfg.Region
			}
		}
	}
	return SanitizeEndpoint(host), region
}

func stationSerials(devices []models.DeviceRecord) []string {
	serials := make([]string, 0, len(devices))
	for _, d := range devices {
		serials = append(serials, d.StationSerial)
	}
	return serials
}

// subscribe runs on every (re)connect. A failing station is logged and skipped.
func (m *Manager) subscribe(client mqtt.MQTTClient, stations []string) {
	m.logger.Info().Msg("MQTT client connected")
	for _, sn := range stations {
		filters := make(map[string]byte, 2)
		for _, topic := range Topics(sn) {
			filters[topic] = m.cfg.QOS
		}

		token := client.SubscribeMultiple(filters, m.handleMessage)
		if !token.WaitTimeout(m.cfg.ConnectTimeout) {
			m.logger.Error().Str("station", sn).Msg("Timed out subscribing to station topics")
			continue
		}
		if err := token.Error(); err != nil {
			m.logger.Error().Err(err).Str("station", sn).Msg("Failed to subscribe to station topics")
			continue
		}
		m.logger.Debug().Str("station", sn).Msg("Subscribed to station topics")
	}
}

func (m *Manager) handleMessage(_ paho.Client, msg paho.Message) {
	var payload any
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		m.logger.Error().Err(err).Str("topic", msg.Topic()).Msg("Dropping malformed MQTT message")
		return
	}
	m.logger.Debug().Str("topic", msg.Topic()).Msg("MQTT message received")
	m.hub.Emit(events.Message{Topic: msg.Topic(), Payload: payload, ReceivedAt: m.now()})
}

// armRotation replaces any pending rotation timer. Callers hold m.mu.
func (m *Manager) armRotation(delay time.Duration) {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timerGen++
	gen := m.timerGen
	m.timer = m.scheduler.AfterFunc(delay, func() { m.onRotationTimer(gen) })
	m.logger.Info().Dur("in", delay).Msg("Scheduled MQTT credential rotation")
}

func (m *Manager) onRotationTimer(gen uint64) {
	m.mu.Lock()
	if gen != m.timerGen {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.state = StateRotationPending
	m.mu.Unlock()

	if err := m.Rotate(context.Background()); err != nil {
		m.logger.Error().Err(err).Msg("MQTT credential rotation failed")
	}
}

// Rotate reconnects with fresh credentials, re-subscribing from the cached device list.
// The device directory is not fetched again. After Disconnect(true) it does nothing until
// the next Connect.
func (m *Manager) Rotate(ctx context.Context) error {
	m.logger.Info().Msg("Refreshing MQTT connection credentials and reconnecting")
	m.Disconnect(false)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		m.logger.Info().Msg("MQTT client was shut down, skipping reconnect")
		return nil
	}
	m.state = StateReconnecting
	return m.connect(ctx)
}

// Disconnect closes the connection if any. With clearTimers the pending rotation is
// cancelled too.
func (m *Manager) Disconnect(clearTimers bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client != nil {
		m.logger.Info().Msg("Disconnecting MQTT client")
		m.client.Disconnect(constants.DisconnectQuiesce)
		m.client = nil
	}
	if clearTimers {
		m.stopped = true
		if m.timer != nil {
			m.timer.Stop()
			m.timer = nil
		}
		m.timerGen++
	}
	m.state = StateDisconnected
}

// State returns the connection state. A connection that completed in the background
// after Connect returned reports as connected.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateConnecting && m.client != nil && m.client.IsConnected() {
		return StateConnected
	}
	return m.state
}

// Subscriptions returns the topics of the current or last connection.
func (m *Manager) Subscriptions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.topics...)
}

// RotationPending reports whether a rotation timer is armed.
func (m *Manager) RotationPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timer != nil
}
