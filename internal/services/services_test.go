package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/xsense-agent/internal/models"
)

type recordingService struct {
	name     string
	log      *[]string
	startErr error
}

func (s *recordingService) Start() error {
	*s.log = append(*s.log, "start "+s.name)
	return s.startErr
}

func (s *recordingService) Stop() error {
	*s.log = append(*s.log, "stop "+s.name)
	return nil
}

func TestServiceRegistry_StartAndStopOrder(t *testing.T) {
	var log []string
	registry := NewServiceRegistry(zerolog.Nop())
	registry.RegisterService("a", &recordingService{name: "a", log: &log})
	registry.RegisterService("b", &recordingService{name: "b", log: &log})
	registry.RegisterService("a", &recordingService{name: "duplicate", log: &log})

	require.NoError(t, registry.StartServices())
	registry.StopServices()
	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
}

func TestServiceRegistry_FailedStartStopsStartedServices(t *testing.T) {
	var log []string
	registry := NewServiceRegistry(zerolog.Nop())
	registry.RegisterService("a", &recordingService{name: "a", log: &log})
	registry.RegisterService("b", &recordingService{name: "b", log: &log, startErr: errors.New("boom")})
	registry.RegisterService("c", &recordingService{name: "c", log: &log})

	err := registry.StartServices()
	assert.ErrorContains(t, err, "starting service b")
	assert.Equal(t, []string{"start a", "start b", "stop a"}, log)
}

type mockLister struct {
	mock.Mock
}

func (m *mockLister) GetDeviceList(ctx context.Context) ([]models.DeviceRecord, error) {
	args := m.Called(ctx)
	records, _ := args.Get(0).([]models.DeviceRecord)
	return records, args.Error(1)
}

func TestPollingService_PollUpdatesAndKeepsLastOnError(t *testing.T) {
	initial := []models.DeviceRecord{{DeviceID: "d1", StationSerial: "s1"}}
	updated := []models.DeviceRecord{{DeviceID: "d1", StationSerial: "s1"}, {DeviceID: "d2", StationSerial: "s2"}}

	lister := new(mockLister)
	lister.On("GetDeviceList", mock.Anything).Return(updated, nil).Once()
	lister.On("GetDeviceList", mock.Anything).Return(nil, errors.New("timeout")).Once()

	var updates [][2][]models.DeviceRecord
	p := NewPollingService(time.Minute, time.Second, lister, initial, func(prev, cur []models.DeviceRecord) {
		updates = append(updates, [2][]models.DeviceRecord{prev, cur})
	}, zerolog.Nop())

	p.Poll()
	p.Poll()

	require.Len(t, updates, 1)
	assert.Equal(t, initial, updates[0][0])
	assert.Equal(t, updated, updates[0][1])
	lister.AssertNumberOfCalls(t, "GetDeviceList", 2)
}

func TestPollingService_StartStop(t *testing.T) {
	p := NewPollingService(time.Hour, time.Second, new(mockLister), nil, nil, zerolog.Nop())

	require.NoError(t, p.Start())
	err := p.Start()
	assert.EqualError(t, err, "polling service is already running")

	require.NoError(t, p.Stop())
	err = p.Stop()
	assert.EqualError(t, err, "polling service is not running")
}

type mockRealtime struct {
	mock.Mock
}

func (m *mockRealtime) ConnectMqtt(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockRealtime) RotateMqtt(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockRealtime) DisconnectMqtt(clearTimers bool) {
	m.Called(clearTimers)
}

func TestMqttListenerService_Lifecycle(t *testing.T) {
	rt := new(mockRealtime)
	rt.On("ConnectMqtt", mock.Anything).Return(nil)
	rt.On("DisconnectMqtt", true).Return()

	s := NewMqttListenerService(rt, time.Second, zerolog.Nop())
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())
	require.NoError(t, s.Stop())
	assert.Error(t, s.Stop())
	rt.AssertCalled(t, "DisconnectMqtt", true)
}

func TestMqttListenerService_StationsChanged(t *testing.T) {
	rt := new(mockRealtime)
	rt.On("ConnectMqtt", mock.Anything).Return(nil)
	rt.On("RotateMqtt", mock.Anything).Return(nil)

	s := NewMqttListenerService(rt, time.Second, zerolog.Nop())
	require.NoError(t, s.Start())

	a := []models.DeviceRecord{{StationSerial: "s1", DeviceID: "d1"}, {StationSerial: "s1", DeviceID: "d2"}}
	sameStations := []models.DeviceRecord{{StationSerial: "s1", DeviceID: "d3"}}
	more := []models.DeviceRecord{{StationSerial: "s1"}, {StationSerial: "s2"}}

	s.StationsChanged(a, sameStations)
	rt.AssertNotCalled(t, "RotateMqtt", mock.Anything)

	s.StationsChanged(sameStations, more)
	rt.AssertNumberOfCalls(t, "RotateMqtt", 1)
}
