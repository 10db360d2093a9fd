// Package directory walks the house/station/device hierarchy and keeps the last
// successfully fetched flat device list.
package directory

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/benmeehan/xsense-agent/internal/models"
	"github.com/benmeehan/xsense-agent/internal/utils"
)

// HierarchyLister is the two-level listing of the cloud protocol.
type HierarchyLister interface {
	Houses(ctx context.Context) ([]models.House, error)
	Stations(ctx context.Context, houseID string) ([]models.Station, error)
}

// FlatLister returns the device list in one call.
type FlatLister interface {
	DeviceList(ctx context.Context) ([]models.DeviceRecord, error)
}

// Fetcher produces flattened device lists and caches the last good one.
type Fetcher struct {
	hierarchy   HierarchyLister
	flat        FlatLister
	concurrency int
	logger      zerolog.Logger

	mu        sync.RWMutex
	lastKnown []models.DeviceRecord
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithFlatListing makes the Fetcher use a single flat listing call instead of walking houses.
func WithFlatListing(flat FlatLister) Option {
	return func(f *Fetcher) { f.flat = flat }
}

// WithConcurrency fetches up to n houses' stations in parallel. Output order is unaffected.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// NewFetcher creates a Fetcher walking the hierarchy exposed by lister.
func NewFetcher(lister HierarchyLister, logger zerolog.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{hierarchy: lister, concurrency: 1, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchAll fetches and flattens the whole directory. On success the result replaces the
// cached list; on any failure the cache is left as it was.
func (f *Fetcher) FetchAll(ctx context.Context) ([]models.DeviceRecord, error) {
	var (
		records []models.DeviceRecord
		err     error
	)
	if f.flat != nil {
		records, err = f.flat.DeviceList(ctx)
	} else {
		records, err = f.walk(ctx)
	}
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []models.DeviceRecord{}
	}

	f.mu.Lock()
	f.lastKnown = records
	f.mu.Unlock()

	f.logger.Info().Int("devices", len(records)).Msg("Device list updated")
	return models.CloneRecords(records), nil
}

func (f *Fetcher) walk(ctx context.Context) ([]models.DeviceRecord, error) {
	houses, err := f.hierarchy.Houses(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing houses: %w", err)
	}

	perHouse := make([][]models.Station, len(houses))
	err = utils.RunIndexed(f.concurrency, len(houses), func(i int) error {
		stations, err := f.hierarchy.Stations(ctx, houses[i].ID)
		if err != nil {
			return fmt.Errorf("listing stations of house %s: %w", houses[i].ID, err)
		}
		perHouse[i] = stations
		return nil
	})
	if err != nil {
		return nil, err
	}

	var records []models.DeviceRecord
	for i, house := range houses {
		for _, station := range perHouse[i] {
			for _, device := range station.Devices {
				records = append(records, models.DeviceRecord{
					StationSerial: station.Serial,
					StationName:   station.Name,
					DeviceID:      device.ID,
					DeviceName:    device.Name,
					TypeID:        models.FlexString(device.Type),
					Model:         device.Model,
					Status:        device.Status,
					BrokerHost:    house.BrokerHost,
					BrokerRegion:  house.BrokerRegion,
				})
			}
		}
	}
	return records, nil
}

// LastKnown returns a copy of the last successfully fetched list, empty before the first fetch.
func (f *Fetcher) LastKnown() []models.DeviceRecord {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return models.CloneRecords(f.lastKnown)
}
