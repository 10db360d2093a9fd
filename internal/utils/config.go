package utils

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/joeshaw/envdecode"

	"github.com/benmeehan/xsense-agent/internal/constants"
	"github.com/benmeehan/xsense-agent/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	XSense struct {
		Username            string        `yaml:"username"`              // Account e-mail
		Password            string        `yaml:"password"`              // Account password
		Protocol            string        `yaml:"protocol"`              // Backend protocol: cloud or token
		APIHost             string        `yaml:"api_host"`              // REST base URL
		AppVersion          string        `yaml:"app_version"`           // App version reported to the API
		RequestTimeout      time.Duration `yaml:"request_timeout"`       // Timeout for REST and identity calls
		SessionRevokedCodes []int         `yaml:"session_revoked_codes"` // Result codes meaning the session was revoked
		DedupeRefresh       bool          `yaml:"dedupe_refresh"`        // Share one refresh among concurrent 401s
	} `yaml:"xsense"`

	Directory struct {
		Concurrency int `yaml:"concurrency"` // Parallel station fetches; 1 keeps requests sequential
	} `yaml:"directory"`

	MQTT struct {
		Endpoint          string        `yaml:"endpoint"`            // Broker host
		Region            string        `yaml:"region"`              // Broker signing region
		UseIssuedEndpoint *bool         `yaml:"use_issued_endpoint"` // Prefer the broker host issued with credentials
		ClientIDPrefix    string        `yaml:"client_id_prefix"`    // Prefix of the random MQTT client id
		QOS               int           `yaml:"qos"`                 // Subscription QoS
		ReconnectInterval time.Duration `yaml:"reconnect_interval"`  // Max interval between socket reconnects
		RotationMargin    time.Duration `yaml:"rotation_margin"`     // Rotate this long before credentials expire
		ConnectTimeout    time.Duration `yaml:"connect_timeout"`     // Wait limit for connect and subscribe
	} `yaml:"mqtt"`

	Polling struct {
		Interval time.Duration `yaml:"interval"` // Device list polling interval of the CLI
		Timeout  time.Duration `yaml:"timeout"`  // Budget for one whole poll, login and retries included
	} `yaml:"polling"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// envOverrides are the settings that may come from the environment instead of the file.
type envOverrides struct {
	Username string `env:"XSENSE_USERNAME"`
	Password string `env:"XSENSE_PASSWORD"`
	Protocol string `env:"XSENSE_PROTOCOL"`
	LogLevel string `env:"XSENSE_LOG_LEVEL"`
}

// LoadConfig loads the YAML configuration from the specified file, applies environment
// overrides and fills defaults. An empty filename skips the file.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if filename != "" {
		if err := fileClient.ReadYamlFile(filename, &config); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", filename, err)
		}
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}
	config.ApplyDefaults()

	return &config, nil
}

// ApplyEnv overlays the XSENSE_* environment variables that are set.
func (c *Config) ApplyEnv() error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decoding environment: %w", err)
	}
	if env.Username != "" {
		c.XSense.Username = env.Username
	}
	if env.Password != "" {
		c.XSense.Password = env.Password
	}
	if env.Protocol != "" {
		c.XSense.Protocol = env.Protocol
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	return nil
}

// ApplyDefaults fills every unset value.
func (c *Config) ApplyDefaults() {
	if c.XSense.Protocol == "" {
		c.XSense.Protocol = constants.ProtocolCloud
	}
	if c.XSense.APIHost == "" {
		c.XSense.APIHost = constants.APIHost
	}
	if c.XSense.AppVersion == "" {
		c.XSense.AppVersion = constants.AppVersion
	}
	if c.XSense.RequestTimeout <= 0 {
		c.XSense.RequestTimeout = constants.DefaultRequestTimeout
	}
	if c.Directory.Concurrency <= 0 {
		c.Directory.Concurrency = 1
	}
	if c.MQTT.Endpoint == "" {
		c.MQTT.Endpoint = constants.BrokerEndpoint
	}
	if c.MQTT.Region == "" {
		c.MQTT.Region = constants.BrokerRegion
	}
	if c.MQTT.ClientIDPrefix == "" {
		c.MQTT.ClientIDPrefix = constants.ClientIDPrefix
	}
	if c.MQTT.ReconnectInterval <= 0 {
		c.MQTT.ReconnectInterval = constants.DefaultReconnectInterval
	}
	if c.MQTT.RotationMargin <= 0 {
		c.MQTT.RotationMargin = constants.DefaultRotationMargin
	}
	if c.MQTT.ConnectTimeout <= 0 {
		c.MQTT.ConnectTimeout = constants.DefaultConnectTimeout
	}
	if c.Polling.Interval <= 0 {
		c.Polling.Interval = constants.DefaultPollingInterval
	}
	if c.Polling.Timeout <= 0 {
		c.Polling.Timeout = constants.PollTimeoutRequests * c.XSense.RequestTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate rejects configurations the agent cannot run with.
func (c *Config) Validate() error {
	if c.XSense.Username == "" || c.XSense.Password == "" {
		return errors.New("xsense.username and xsense.password are required")
	}
	switch c.XSense.Protocol {
	case constants.ProtocolCloud, constants.ProtocolToken:
	default:
		return fmt.Errorf("unknown xsense.protocol %q", c.XSense.Protocol)
	}
	if c.MQTT.QOS < 0 || c.MQTT.QOS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QOS)
	}
	if _, err := AppCode(c.XSense.AppVersion); err != nil {
		return err
	}
	return nil
}

// UseIssuedEndpoint reports whether the broker host issued by the API overrides the
// configured one. It defaults to true for the token protocol only.
func (c *Config) UseIssuedEndpoint() bool {
	if c.MQTT.UseIssuedEndpoint != nil {
		return *c.MQTT.UseIssuedEndpoint
	}
	return c.XSense.Protocol == constants.ProtocolToken
}

// AppCode derives the numeric app code from an app version such as v1.22.0_20240914.1,
// as major*1000 + minor*10 + patch.
func AppCode(appVersion string) (string, error) {
	version, _, _ := strings.Cut(appVersion, "_")
	v, err := semver.NewVersion(version)
	if err != nil {
		return "", fmt.Errorf("invalid app version %q: %w", appVersion, err)
	}
	return strconv.FormatUint(v.Major()*1000+v.Minor()*10+v.Patch(), 10), nil
}
