package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"

	"github.com/benmeehan/xsense-agent/internal/models"
)

// DeviceLister fetches the current device list.
type DeviceLister interface {
	GetDeviceList(ctx context.Context) ([]models.DeviceRecord, error)
}

// PollingService refreshes the device list on a fixed interval. Failed polls are logged and
// the last known list stays in use.
type PollingService struct {
	Interval time.Duration
	Timeout  time.Duration
	Lister   DeviceLister
	// OnUpdate receives every successfully fetched list.
	OnUpdate func(previous, current []models.DeviceRecord)
	Logger   zerolog.Logger

	mu        sync.Mutex
	scheduler *gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
	previous  []models.DeviceRecord
}

// NewPollingService initializes a new PollingService. initial is the list already fetched
// at startup.
func NewPollingService(interval, timeout time.Duration, lister DeviceLister, initial []models.DeviceRecord,
	onUpdate func(previous, current []models.DeviceRecord), logger zerolog.Logger) *PollingService {

	return &PollingService{
		Interval: interval,
		Timeout:  timeout,
		Lister:   lister,
		OnUpdate: onUpdate,
		Logger:   logger,
		previous: initial,
	}
}

// Start schedules the polling job. The first poll runs one interval from now.
func (p *PollingService) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.scheduler != nil {
		p.Logger.Warn().Msg("PollingService is already running")
		return errors.New("polling service is already running")
	}

	p.ctx, p.cancel = context.WithCancel(context.Background())
	scheduler := gocron.NewScheduler(time.UTC)
	if _, err := scheduler.Every(p.Interval).WaitForSchedule().SingletonMode().Do(p.Poll); err != nil {
		p.cancel()
		return err
	}
	scheduler.StartAsync()
	p.scheduler = scheduler

	p.Logger.Info().Dur("interval", p.Interval).Msg("PollingService started successfully")
	return nil
}

// Stop cancels any in-flight poll and stops the schedule.
func (p *PollingService) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.scheduler == nil {
		p.Logger.Warn().Msg("PollingService is not running")
		return errors.New("polling service is not running")
	}

	p.cancel()
	p.scheduler.Stop()
	p.scheduler = nil

	p.Logger.Info().Msg("PollingService stopped successfully")
	return nil
}

// Poll fetches the device list once.
func (p *PollingService) Poll() {
	p.mu.Lock()
	parent := p.ctx
	p.mu.Unlock()
	if parent == nil {
		parent = context.Background()
	}

	ctx, cancel := context.WithTimeout(parent, p.Timeout)
	defer cancel()

	devices, err := p.Lister.GetDeviceList(ctx)
	if err != nil {
		p.Logger.Error().Err(err).Msg("Failed to refresh device list, keeping the last known list")
		return
	}
	p.Logger.Debug().Int("devices", len(devices)).Msg("Device list refreshed")

	p.mu.Lock()
	previous := p.previous
	p.previous = devices
	p.mu.Unlock()

	if p.OnUpdate != nil {
		p.OnUpdate(previous, devices)
	}
}
