package models

import (
	"encoding/json"
	"slices"
	"strings"

	"github.com/benmeehan/xsense-agent/internal/constants"
)

// FlexString accepts either a JSON string or a JSON number.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// House is a top-level container of stations, optionally pinned to its own broker.
type House struct {
	ID           string
	Name         string
	BrokerHost   string
	BrokerRegion string
}

// Station is a hub aggregating sensor devices.
type Station struct {
	Serial  string
	Name    string
	Devices []Device
}

// Device is a single entry under a station.
type Device struct {
	ID     string
	Name   string
	Type   string
	Model  string
	Status map[string]any
}

// DeviceRecord is one flattened (house, station, device) entry of the directory.
// A record whose DeviceID equals its StationSerial describes the station itself.
type DeviceRecord struct {
	StationSerial string         `json:"station_sn"`
	StationName   string         `json:"station_name"`
	DeviceID      string         `json:"device_id"`
	DeviceName    string         `json:"device_name"`
	TypeID        FlexString     `json:"type_id"`
	Model         string         `json:"device_model"`
	Status        map[string]any `json:"status"`
	BrokerHost    string         `json:"mqttServer,omitempty"`
	BrokerRegion  string         `json:"mqttRegion,omitempty"`
}

// IsStation reports whether the record describes a base station rather than a sensor.
func (d DeviceRecord) IsStation() bool {
	return d.DeviceID == d.StationSerial
}

// Capabilities returns what the device can sense, based on its model. Unknown models are
// assumed to sense smoke and carbon monoxide.
func (d DeviceRecord) Capabilities() []constants.Capability {
	for _, entry := range constants.ModelCapabilities {
		if strings.HasPrefix(d.Model, entry.Prefix) {
			return slices.Clone(entry.Capabilities)
		}
	}
	return []constants.Capability{constants.CapabilitySmoke, constants.CapabilityCarbonMonoxide}
}

// HasCapability reports whether the device senses c.
func (d DeviceRecord) HasCapability(c constants.Capability) bool {
	return slices.Contains(d.Capabilities(), c)
}

// HousePrefix returns the part of a station serial before the first underscore.
func HousePrefix(stationSerial string) string {
	prefix, _, _ := strings.Cut(stationSerial, "_")
	return prefix
}

// Sensors filters out station records.
func Sensors(records []DeviceRecord) []DeviceRecord {
	sensors := make([]DeviceRecord, 0, len(records))
	for _, r := range records {
		if !r.IsStation() {
			sensors = append(sensors, r)
		}
	}
	return sensors
}

// CloneRecords returns a copy of records that shares no slice backing array with the input.
func CloneRecords(records []DeviceRecord) []DeviceRecord {
	if records == nil {
		return nil
	}
	out := make([]DeviceRecord, len(records))
	copy(out, records)
	return out
}
