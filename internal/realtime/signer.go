package realtime

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"

	"github.com/benmeehan/xsense-agent/internal/constants"
	"github.com/benmeehan/xsense-agent/internal/models"
)

// emptyPayloadHash is the SHA-256 of an empty body, the payload of a websocket upgrade.
const emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// SignHandshake signs the GET /mqtt upgrade request for host with SigV4 and returns the
// headers to send with it.
func SignHandshake(ctx context.Context, creds *models.IotCredentials, host, region string, now time.Time) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+host+constants.BrokerPath, nil)
	if err != nil {
		return nil, fmt.Errorf("building handshake request: %w", err)
	}

	awsCreds := aws.Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretAccessKey,
		SessionToken:    creds.SessionToken,
		Source:          "XSenseIotCredentials",
	}
	signer := v4.NewSigner()
	if err := signer.SignHTTP(ctx, awsCreds, req, emptyPayloadHash, constants.BrokerService, region, now); err != nil {
		return nil, fmt.Errorf("signing handshake: %w", err)
	}
	return req.Header, nil
}

// SanitizeEndpoint reduces a broker address to its bare host.
func SanitizeEndpoint(endpoint string) string {
	host := strings.TrimSpace(endpoint)
	host = strings.TrimPrefix(host, "wss://")
	host = strings.TrimPrefix(host, "ws://")
	host = strings.TrimSuffix(host, "/")
	host = strings.TrimSuffix(host, "mqtt")
	return strings.TrimSuffix(host, "/")
}

// regionFromHost extracts the region of an AWS IoT data endpoint such as
// abc-ats.iot.eu-west-1.amazonaws.com.
func regionFromHost(host string) string {
	parts := strings.Split(host, ".")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "iot" && parts[i+2] == "amazonaws" {
			return parts[i+1]
		}
	}
	return ""
}

// Topics returns the subscriptions of one station: its event topic and its named-shadow
// update topic.
func Topics(stationSerial string) []string {
	return []string{
		fmt.Sprintf(constants.EventTopicFormat, models.HousePrefix(stationSerial), stationSerial),
		fmt.Sprintf(constants.ShadowTopicFormat, stationSerial),
	}
}
