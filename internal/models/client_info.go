package models

// ClientInfo is the identity-provider registration returned by the unauthenticated
// bootstrap call. ClientSecret is still transport-encoded.
type ClientInfo struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	Region       string `json:"cgtRegion"`
	UserPoolID   string `json:"userPoolId"`
}
