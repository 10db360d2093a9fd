package constants

import "time"

// Vendor API identity, as reported by the X-Sense mobile app.
const (
	APIHost    = "https://api.x-sense-iot.com"
	ClientType = "1"
	AppVersion = "v1.22.0_20240914.1"
	AppCode    = "1220"

	// UnauthenticatedMAC is the placeholder sent in the mac field before a client secret exists.
	UnauthenticatedMAC = "abcdefg"
)

// Business codes selecting the operation behind the single cloud endpoint.
const (
	BizCodeClientInfo    = "101001"
	BizCodeIotCredential = "101003"
	BizCodeHouses        = "102007"
	BizCodeStations      = "103007"
)

// Result codes of the two backend protocols.
const (
	CloudResultOK = 200
	TokenResultOK = 0
)

const (
	// BrokerEndpoint is the AWS IoT data endpoint the cloud protocol connects to.
	BrokerEndpoint = "a3p56i1nw0xqwj-ats.iot.us-east-1.amazonaws.com"
	BrokerRegion   = "us-east-1"
	BrokerPath     = "/mqtt"
	BrokerService  = "iotdevicegateway"

	// EventTopicFormat takes the house prefix of a station serial and the serial itself.
	EventTopicFormat = "@xsense/events/1/%s/%s"
	// ShadowTopicFormat takes the station serial; the + segment matches any named shadow.
	ShadowTopicFormat = "$aws/things/%s/shadow/name/+/update"

	ClientIDPrefix = "xsense-agent"
)

const (
	DefaultRequestTimeout    = 20 * time.Second
	DefaultConnectTimeout    = 20 * time.Second
	DefaultReconnectInterval = 5 * time.Second
	DefaultRotationMargin    = 5 * time.Minute
	DefaultPollingInterval   = 15 * time.Minute
	DisconnectQuiesce        = 250

	// PollTimeoutRequests is the default poll budget in request timeouts.
	PollTimeoutRequests = 4
)

// Protocol names accepted in configuration.
const (
	ProtocolCloud = "cloud"
	ProtocolToken = "token"
)
