package directory

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/benmeehan/xsense-agent/internal/models"
)

type mockLister struct {
	mock.Mock
}

func (m *mockLister) Houses(ctx context.Context) ([]models.House, error) {
	args := m.Called(ctx)
	houses, _ := args.Get(0).([]models.House)
	return houses, args.Error(1)
}

func (m *mockLister) Stations(ctx context.Context, houseID string) ([]models.Station, error) {
	args := m.Called(ctx, houseID)
	stations, _ := args.Get(0).([]models.Station)
	return stations, args.Error(1)
}

func (m *mockLister) DeviceList(ctx context.Context) ([]models.DeviceRecord, error) {
	args := m.Called(ctx)
	records, _ := args.Get(0).([]models.DeviceRecord)
	return records, args.Error(1)
}

func TestFetchAll_OneHouseOneStationTwoDevices(t *testing.T) {
	lister := new(mockLister)
	lister.On("Houses", mock.Anything).Return([]models.House{{ID: "H1", Name: "Home", BrokerHost: "alt.example.com"}}, nil)
	lister.On("Stations", mock.Anything, "H1").Return([]models.Station{{
		Serial: "H1_S1",
		Name:   "Hallway base",
		Devices: []models.Device{
			{ID: "d1", Name: "Kitchen", Type: "XS01-M", Model: "XS01-M"},
			{ID: "d2", Name: "Garage", Type: "XC01-M", Model: "XC01-M"},
		},
	}}, nil)

	f := NewFetcher(lister, zerolog.Nop())
	records, err := f.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)

	for _, r := range records {
		assert.Equal(t, "H1_S1", r.StationSerial)
		assert.Equal(t, "Hallway base", r.StationName)
		assert.Equal(t, "alt.example.com", r.BrokerHost)
	}
	assert.Equal(t, "d1", records[0].DeviceID)
	assert.Equal(t, "d2", records[1].DeviceID)
	assert.Equal(t, records, f.LastKnown())
}

func TestFetchAll_StationListedAsDevice(t *testing.T) {
	lister := new(mockLister)
	lister.On("Houses", mock.Anything).Return([]models.House{{ID: "H1"}}, nil)
	lister.On("Stations", mock.Anything, "H1").Return([]models.Station{{
		Serial:  "H1_S1",
		Devices: []models.Device{{ID: "H1_S1"}, {ID: "d1"}},
	}}, nil)

	records, err := NewFetcher(lister, zerolog.Nop()).FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.True(t, records[0].IsStation())
	assert.Len(t, models.Sensors(records), 1)
}

func TestFetchAll_FailureKeepsCache(t *testing.T) {
	lister := new(mockLister)
	lister.On("Houses", mock.Anything).Return([]models.House{{ID: "H1"}, {ID: "H2"}}, nil)
	lister.On("Stations", mock.Anything, "H1").Return([]models.Station{{Serial: "H1_S1", Devices: []models.Device{{ID: "d1"}}}}, nil)
	lister.On("Stations", mock.Anything, "H2").Return([]models.Station{}, nil).Once()
	lister.On("Stations", mock.Anything, "H2").Return(nil, errors.New("timeout")).Once()

	f := NewFetcher(lister, zerolog.Nop())
	first, err := f.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = f.FetchAll(context.Background())
	assert.ErrorContains(t, err, "house H2")
	assert.Equal(t, first, f.LastKnown())
}

func TestFetchAll_ConcurrentKeepsServerOrder(t *testing.T) {
	lister := new(mockLister)
	houses := []models.House{{ID: "A"}, {ID: "B"}, {ID: "C"}}
	lister.On("Houses", mock.Anything).Return(houses, nil)
	for _, h := range houses {
		lister.On("Stations", mock.Anything, h.ID).Return([]models.Station{{
			Serial:  h.ID + "_S",
			Devices: []models.Device{{ID: h.ID + "1"}, {ID: h.ID + "2"}},
		}}, nil)
	}

	records, err := NewFetcher(lister, zerolog.Nop(), WithConcurrency(3)).FetchAll(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.DeviceID)
	}
	assert.Equal(t, []string{"A1", "A2", "B1", "B2", "C1", "C2"}, ids)
}

func TestFetchAll_FlatListing(t *testing.T) {
	lister := new(mockLister)
	lister.On("DeviceList", mock.Anything).Return([]models.DeviceRecord{{DeviceID: "d1", StationSerial: "s1_a"}}, nil)

	f := NewFetcher(nil, zerolog.Nop(), WithFlatListing(lister))
	records, err := f.FetchAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	lister.AssertNotCalled(t, "Houses", mock.Anything)
}

func TestLastKnown_ReturnsCopy(t *testing.T) {
	lister := new(mockLister)
	lister.On("DeviceList", mock.Anything).Return([]models.DeviceRecord{{DeviceID: "d1"}}, nil)

	f := NewFetcher(nil, zerolog.Nop(), WithFlatListing(lister))
	assert.Empty(t, f.LastKnown())
	_, err := f.FetchAll(context.Background())
	require.NoError(t, err)

	copied := f.LastKnown()
	copied[0].DeviceID = "changed"
	assert.Equal(t, "d1", f.LastKnown()[0].DeviceID)
}
