package models

import "time"

// IotCredentials authorize the streaming broker connection only. They are short-lived
// and fetched fresh for every (re)connect.
type IotCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
	Policy          string

	// Optional broker override issued with the credentials.
	BrokerHost   string
	BrokerRegion string
}
