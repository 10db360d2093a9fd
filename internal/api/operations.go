package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/benmeehan/xsense-agent/internal/models"
)

type houseWire struct {
	ID              models.FlexString `json:"houseId"`
	Name            string            `json:"houseName"`
	MQTTServer      string            `json:"mqttServer"`
	MQTTServerSnake string            `json:"mqtt_server"`
	MQTTRegion      string            `json:"mqttRegion"`
	MQTTRegionSnake string            `json:"mqtt_region"`
}

// Houses lists the account's houses in server order.
func (c *Client) Houses(ctx context.Context) ([]models.House, error) {
	data, err := c.Call(ctx, OpHouses, NewPayload("utctimestamp", "0"))
	if err != nil {
		return nil, err
	}
	var wire []houseWire
	if err := decodeData(data, &wire); err != nil {
		return nil, fmt.Errorf("decoding houses: %w", err)
	}
	houses := make([]models.House, 0, len(wire))
	for _, h := range wire {
		houses = append(houses, models.House{
			ID:           string(h.ID),
			Name:         h.Name,
			BrokerHost:   firstNonEmpty(h.MQTTServer, h.MQTTServerSnake),
			BrokerRegion: firstNonEmpty(h.MQTTRegion, h.MQTTRegionSnake),
		})
	}
	return houses, nil
}

type stationsWire struct {
	Stations []struct {
		Serial  string `json:"stationSn"`
		Name    string `json:"stationName"`
		Devices []struct {
			ID     string            `json:"deviceId"`
			Name   string            `json:"deviceName"`
			Type   models.FlexString `json:"deviceType"`
			Model  string            `json:"deviceModel"`
			Status map[string]any    `json:"status"`
		} `json:"devices"`
	} `json:"stations"`
}

// Stations lists the stations of one house with their devices, in server order.
func (c *Client) Stations(ctx context.Context, houseID string) ([]models.Station, error) {
	data, err := c.Call(ctx, OpStations, NewPayload("houseId", houseID, "utctimestamp", "0"))
	if err != nil {
		return nil, err
	}
	var wire stationsWire
	if err := decodeData(data, &wire); err != nil {
		return nil, fmt.Errorf("decoding stations of house %s: %w", houseID, err)
	}
	stations := make([]models.Station, 0, len(wire.Stations))
	for _, s := range wire.Stations {
		station := models.Station{Serial: s.Serial, Name: s.Name}
		for _, d := range s.Devices {
			status := d.Status
			if status == nil {
				status = map[string]any{}
			}
			station.Devices = append(station.Devices, models.Device{
				ID:     d.ID,
				Name:   d.Name,
				Type:   string(d.Type),
				Model:  firstNonEmpty(d.Model, string(d.Type)),
				Status: status,
			})
		}
		stations = append(stations, station)
	}
	return stations, nil
}

// DeviceList fetches the already flattened device list of protocols that offer one.
func (c *Client) DeviceList(ctx context.Context) ([]models.DeviceRecord, error) {
	data, err := c.Call(ctx, OpDeviceList, NewPayload())
	if err != nil {
		return nil, err
	}
	var records []models.DeviceRecord
	if err := decodeData(data, &records); err != nil {
		return nil, fmt.Errorf("decoding device list: %w", err)
	}
	for i := range records {
		if records[i].Model == "" {
			records[i].Model = string(records[i].TypeID)
		}
		if records[i].Status == nil {
			records[i].Status = map[string]any{}
		}
	}
	return records, nil
}

type iotCredentialWire struct {
	AccessKeyID     string          `json:"accessKeyId"`
	AccessKey       string          `json:"accessKey"`
	SecretAccessKey string          `json:"secretAccessKey"`
	SecretKey       string          `json:"secretKey"`
	SessionToken    string          `json:"sessionToken"`
	Expiration      json.RawMessage `json:"expiration"`
	Policy          string          `json:"iotPolicy"`
	IotEndpoint     string          `json:"iotEndpoint"`
	IotEndpointSnk  string          `json:"iot_endpoint"`
	MQTTServer      string          `json:"mqttServer"`
	MQTTServerSnake string          `json:"mqtt_server"`
	Host            string          `json:"host"`
	Endpoint        string          `json:"endpoint"`
	Region          string          `json:"region"`
	MQTTRegion      string          `json:"mqttRegion"`
}

// IotCredential requests short-lived broker credentials for username.
func (c *Client) IotCredential(ctx context.Context, username string) (*models.IotCredentials, error) {
	c.logger.Debug().Msg("Fetching IoT credentials")
	data, err := c.Call(ctx, OpIotCredential, NewPayload("userName", username))
	if err != nil {
		return nil, err
	}
	creds, err := decodeIotCredentials(data)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Time("expiration", creds.Expiration).Msg("Fetched IoT credentials")
	return creds, nil
}

func decodeIotCredentials(data json.RawMessage) (*models.IotCredentials, error) {
	var wire iotCredentialWire
	if err := decodeData(data, &wire); err != nil {
		return nil, fmt.Errorf("decoding IoT credentials: %w", err)
	}
	expiration, err := parseExpiration(wire.Expiration)
	if err != nil {
		return nil, fmt.Errorf("decoding IoT credentials: %w", err)
	}
	creds := &models.IotCredentials{
		AccessKeyID:     firstNonEmpty(wire.AccessKeyID, wire.AccessKey),
		SecretAccessKey: firstNonEmpty(wire.SecretAccessKey, wire.SecretKey),
		SessionToken:    wire.SessionToken,
		Expiration:      expiration,
		Policy:          wire.Policy,
		BrokerHost: firstNonEmpty(wire.IotEndpoint, wire.IotEndpointSnk, wire.MQTTServer,
			wire.MQTTServerSnake, wire.Host, wire.Endpoint),
		BrokerRegion: firstNonEmpty(wire.Region, wire.MQTTRegion),
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("IoT credentials carry no access key")
	}
	return creds, nil
}

// parseExpiration accepts an RFC 3339 string or epoch milliseconds as number or string.
func parseExpiration(raw json.RawMessage) (time.Time, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" || text == "null" {
		return time.Time{}, fmt.Errorf("missing expiration")
	}
	text = trimQuotes(text)
	if ms, err := strconv.ParseInt(text, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	t, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid expiration %q", text)
	}
	return t, nil
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
