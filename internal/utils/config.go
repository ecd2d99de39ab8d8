package utils

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/benmeehan/fleet-monitor/internal/constants"
	"github.com/benmeehan/fleet-monitor/pkg/file"
	"github.com/joho/godotenv"
)

// Config represents the structure of the configuration file.
type Config struct {
	MQTT struct {
		Broker             string        `yaml:"broker"`               // MQTT broker address, e.g. tls://host:8883
		ClientID           string        `yaml:"client_id"`            // Client ID prefix; a random suffix is added
		Username           string        `yaml:"username"`             // Broker username
		Password           string        `yaml:"password"`             // Broker password
		CACertificate      string        `yaml:"ca_certificate"`       // Path to the CA certificate, empty for system roots
		InsecureSkipVerify bool          `yaml:"insecure_skip_verify"` // Disable certificate validation (testing only)
		Namespace          string        `yaml:"namespace"`            // First topic level, "als" by default
		ReconnectInterval  time.Duration `yaml:"reconnect_interval"`   // Fixed delay between reconnect attempts
		ConnectTimeout     time.Duration `yaml:"connect_timeout"`      // Timeout for a single connect attempt
		KeepAlive          time.Duration `yaml:"keep_alive"`           // MQTT keep alive
	} `yaml:"mqtt"`

	Fleet struct {
		SweepInterval  time.Duration `yaml:"sweep_interval"`  // Interval of the liveness sweep
		StaleThreshold time.Duration `yaml:"stale_threshold"` // Silence after which a device goes offline
		HistoryLimit   int           `yaml:"history_limit"`   // Messages kept per device
		InboxSize      int           `yaml:"inbox_size"`      // Buffered messages between transport and engine
	} `yaml:"fleet"`

	Persistence struct {
		Enabled   bool   `yaml:"enabled"`    // Enable/disable the persistence sink
		Driver    string `yaml:"driver"`     // Only "clickhouse" is supported
		Addr      string `yaml:"addr"`       // Database address, host:port
		Database  string `yaml:"database"`   // Database name
		Username  string `yaml:"username"`   // Database user
		Password  string `yaml:"password"`   // Database password
		Workers   int    `yaml:"workers"`    // Concurrent sink writers
		QueueSize int    `yaml:"queue_size"` // Jobs buffered before overflow
	} `yaml:"persistence"`

	Assignments struct {
		File string `yaml:"file"` // Path to the assignment JSON document
	} `yaml:"assignments"`

	API struct {
		Listen       string        `yaml:"listen"`        // HTTP listen address, empty disables the API
		PushInterval time.Duration `yaml:"push_interval"` // WebSocket device list push interval
	} `yaml:"api"`

	Log struct {
		Level  string `yaml:"level"`  // zerolog level name
		Pretty bool   `yaml:"pretty"` // Human readable console output
	} `yaml:"log"`
}

// envOverrides maps environment variables onto config fields. Secrets and
// endpoints are usually supplied this way, optionally from a .env file.
var envOverrides = map[string]func(c *Config) *string{
	"FLEETD_MQTT_BROKER":      func(c *Config) *string { return &c.MQTT.Broker },
	"FLEETD_MQTT_CLIENT_ID":   func(c *Config) *string { return &c.MQTT.ClientID },
	"FLEETD_MQTT_USERNAME":    func(c *Config) *string { return &c.MQTT.Username },
	"FLEETD_MQTT_PASSWORD":    func(c *Config) *string { return &c.MQTT.Password },
	"FLEETD_MQTT_NAMESPACE":   func(c *Config) *string { return &c.MQTT.Namespace },
	"FLEETD_PERSISTENCE_ADDR": func(c *Config) *string { return &c.Persistence.Addr },
	"FLEETD_PERSISTENCE_DB":   func(c *Config) *string { return &c.Persistence.Database },
	"FLEETD_PERSISTENCE_USER": func(c *Config) *string { return &c.Persistence.Username },
	"FLEETD_PERSISTENCE_PASS": func(c *Config) *string { return &c.Persistence.Password },
	"FLEETD_ASSIGNMENTS_FILE": func(c *Config) *string { return &c.Assignments.File },
	"FLEETD_API_LISTEN":       func(c *Config) *string { return &c.API.Listen },
	"FLEETD_LOG_LEVEL":        func(c *Config) *string { return &c.Log.Level },
}

// LoadConfig loads the YAML configuration from the specified file, applies
// environment overrides and defaults, and validates the result.
// Variables from envFile (if it exists) never replace ones already set.
func LoadConfig(filename, envFile string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, fmt.Errorf("error reading config %s: %w", filename, err)
	}

	if envFile != "" {
		exists, err := fileClient.IsFileExists(envFile)
		if err != nil {
			return nil, fmt.Errorf("error checking env file %s: %w", envFile, err)
		}
		if exists {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("error loading env file %s: %w", envFile, err)
			}
		}
	}

	config.ApplyEnv(os.LookupEnv)
	config.ApplyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// ApplyEnv overrides fields from set, non-empty variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	for key, field := range envOverrides {
		if v, ok := lookup(key); ok && v != "" {
			*field(c) = v
		}
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "fleetd"
	}
	if c.MQTT.Namespace == "" {
		c.MQTT.Namespace = constants.DefaultNamespace
	}
	if c.MQTT.ReconnectInterval == 0 {
		c.MQTT.ReconnectInterval = constants.DefaultReconnectInterval
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = 30 * time.Second
	}
	if c.MQTT.KeepAlive == 0 {
		c.MQTT.KeepAlive = 60 * time.Second
	}

	if c.Fleet.SweepInterval == 0 {
		c.Fleet.SweepInterval = constants.DefaultSweepInterval
	}
	if c.Fleet.StaleThreshold == 0 {
		c.Fleet.StaleThreshold = constants.DefaultStaleThreshold
	}
	if c.Fleet.HistoryLimit == 0 {
		c.Fleet.HistoryLimit = constants.HistoryLimit
	}
	if c.Fleet.InboxSize == 0 {
		c.Fleet.InboxSize = constants.DefaultInboxSize
	}

	if c.Persistence.Driver == "" {
		c.Persistence.Driver = "clickhouse"
	}
	if c.Persistence.Workers == 0 {
		c.Persistence.Workers = 4
	}
	if c.Persistence.QueueSize == 0 {
		c.Persistence.QueueSize = 256
	}

	if c.Assignments.File == "" {
		c.Assignments.File = "data/db.json"
	}
	if c.API.PushInterval == 0 {
		c.API.PushInterval = 2 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required"))
	}
	if c.MQTT.Namespace == "" || strings.ContainsAny(c.MQTT.Namespace, "/+#") {
		errs = append(errs, fmt.Errorf("mqtt.namespace %q must be a single topic level", c.MQTT.Namespace))
	}
	if c.MQTT.ReconnectInterval <= 0 {
		errs = append(errs, errors.New("mqtt.reconnect_interval must be positive"))
	}
	if c.Fleet.SweepInterval <= 0 {
		errs = append(errs, errors.New("fleet.sweep_interval must be positive"))
	}
	if c.Fleet.StaleThreshold <= c.Fleet.SweepInterval {
		errs = append(errs, fmt.Errorf("fleet.stale_threshold (%s) must be greater than fleet.sweep_interval (%s)",
			c.Fleet.StaleThreshold, c.Fleet.SweepInterval))
	}
	if c.Fleet.HistoryLimit <= 0 {
		errs = append(errs, errors.New("fleet.history_limit must be positive"))
	}
	if c.Persistence.Enabled {
		if c.Persistence.Driver != "clickhouse" {
			errs = append(errs, fmt.Errorf("persistence.driver %q is not supported", c.Persistence.Driver))
		}
		if c.Persistence.Addr == "" {
			errs = append(errs, errors.New("persistence.addr is required when persistence is enabled"))
		}
	}

	return errors.Join(errs...)
}

// SubscriptionTopic is the wildcard filter covering every device and kind.
func (c *Config) SubscriptionTopic() string {
	return c.MQTT.Namespace + "/+/+"
}
