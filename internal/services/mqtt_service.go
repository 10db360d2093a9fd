package services

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/benmeehan/xsense-agent/internal/models"
	"github.com/benmeehan/xsense-agent/internal/utils"
)

// Realtime is the streaming side of the X-Sense client.
type Realtime interface {
	ConnectMqtt(ctx context.Context) error
	RotateMqtt(ctx context.Context) error
	DisconnectMqtt(clearTimers bool)
}

// MqttListenerService keeps the realtime connection open for the lifetime of the agent.
type MqttListenerService struct {
	Client  Realtime
	Timeout time.Duration
	Logger  zerolog.Logger

	mu      sync.Mutex
	running bool
}

// NewMqttListenerService initializes a new MqttListenerService.
func NewMqttListenerService(client Realtime, timeout time.Duration, logger zerolog.Logger) *MqttListenerService {
	return &MqttListenerService{Client: client, Timeout: timeout, Logger: logger}
}

// Start connects to the broker.
func (s *MqttListenerService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("mqtt listener service is already running")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	if err := s.Client.ConnectMqtt(ctx); err != nil {
		return err
	}
	s.running = true
	s.Logger.Info().Msg("MqttListenerService started successfully")
	return nil
}

// Stop disconnects and cancels the pending credential rotation.
func (s *MqttListenerService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return errors.New("mqtt listener service is not running")
	}
	s.Client.DisconnectMqtt(true)
	s.running = false
	s.Logger.Info().Msg("MqttListenerService stopped successfully")
	return nil
}

// StationsChanged re-subscribes when a device list refresh adds or removes stations.
// Subscriptions are derived from the cached list, so a reconnect picks up the new set.
func (s *MqttListenerService) StationsChanged(previous, current []models.DeviceRecord) {
	before, after := stationSet(previous), stationSet(current)
	if slices.Equal(before, after) {
		return
	}

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return
	}

	s.Logger.Info().Strs("stations", after).Msg("Station set changed, reconnecting to update subscriptions")
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()
	if err := s.Client.RotateMqtt(ctx); err != nil {
		s.Logger.Error().Err(err).Msg("Failed to reconnect after station change")
	}
}

func stationSet(records []models.DeviceRecord) []string {
	serials := make([]string, 0, len(records))
	for _, r := range records {
		serials = append(serials, r.StationSerial)
	}
	serials = utils.Unique(serials)
	slices.Sort(serials)
	return serials
}
