package mqtt

import (
	"crypto/tls"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTClient defines the subset of the paho client the agent uses.
type MQTTClient interface {
	Connect() mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	SubscribeMultiple(filters map[string]byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// Options describe one websocket broker connection.
type Options struct {
	// URL is the full wss:// broker URL.
	URL string
	// Headers are sent with the websocket upgrade request.
	Headers           http.Header
	ClientID          string
	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration

	OnConnect        func()
	OnConnectionLost func(err error)
	OnReconnecting   func()
}

// NewWebsocketClient creates a paho client for opts. The client retries both the first
// connection and lost connections on its own.
func NewWebsocketClient(opts Options) MQTTClient {
	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.URL)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetHTTPHeaders(opts.Headers)
	clientOpts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	clientOpts.SetCleanSession(true)
	clientOpts.SetOrderMatters(false)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(true)
	if opts.ReconnectInterval > 0 {
		clientOpts.SetMaxReconnectInterval(opts.ReconnectInterval)
		clientOpts.SetConnectRetryInterval(opts.ReconnectInterval)
	}
	if opts.ConnectTimeout > 0 {
		clientOpts.SetConnectTimeout(opts.ConnectTimeout)
	}

	clientOpts.SetOnConnectHandler(func(mqtt.Client) {
		if opts.OnConnect != nil {
			opts.OnConnect()
		}
	})
	clientOpts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if opts.OnConnectionLost != nil {
			opts.OnConnectionLost(err)
		}
	})
	clientOpts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		if opts.OnReconnecting != nil {
			opts.OnReconnecting()
		}
	})

	return mqtt.NewClient(clientOpts)
}
