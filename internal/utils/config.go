package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"golang.org/x/time/rate"

	"github.com/benmeehan/router-agent/pkg/file"
	"github.com/benmeehan/router-agent/pkg/router"
	"github.com/benmeehan/router-agent/pkg/router/backends"
)

// RouterConfig names one video router the agent keeps a session to.
type RouterConfig struct {
	Name               string `yaml:"name"`                // Identifier used in MQTT topics
	Address            string `yaml:"address"`             // Host name or IP address
	Backend            string `yaml:"backend"`             // auto, kumo, videohub or lightware
	FirmwareConstraint string `yaml:"firmware_constraint"` // Optional semver constraint, e.g. ">= 5.0"
}

// Kind parses Backend; an empty value means auto-detect.
func (r RouterConfig) Kind() (router.Kind, error) {
	return router.ParseKind(r.Backend)
}

// Config represents the structure of the configuration file.
type Config struct {
	Log struct {
		Level  string `yaml:"level"`  // zerolog level name
		Format string `yaml:"format"` // json or console
	} `yaml:"log"`

	MQTT struct {
		Broker        string        `yaml:"broker"`         // MQTT broker address
		ClientID      string        `yaml:"client_id"`      // MQTT client ID prefix
		Username      string        `yaml:"username"`       // Optional broker username
		Password      string        `yaml:"password"`       // Optional broker password
		CACertificate string        `yaml:"ca_certificate"` // Optional path to the CA certificate
		ConnectWait   time.Duration `yaml:"connect_wait"`   // Max wait for the first broker connect
	} `yaml:"mqtt"`

	Metrics struct {
		Enabled bool   `yaml:"enabled"` // Serve Prometheus metrics
		Address string `yaml:"address"` // Listen address of the /metrics endpoint
	} `yaml:"metrics"`

	Timeouts        router.Timeouts `yaml:"timeouts"`
	Ports           backends.Ports  `yaml:"ports"`
	KumoRequestRate float64         `yaml:"kumo_request_rate"` // KUMO requests per second

	Routers []RouterConfig `yaml:"routers"`

	Services struct {
		Connection struct {
			Topic      string        `yaml:"topic"`       // MQTT topic for connection events
			Enabled    bool          `yaml:"enabled"`     // Enable/disable connection service
			QOS        int           `yaml:"qos"`         // MQTT QoS level for events
			MaxRetries int           `yaml:"max_retries"` // Attempts per connect round, 0 retries forever
			BaseDelay  time.Duration `yaml:"base_delay"`  // Initial delay between retries
			MaxBackoff time.Duration `yaml:"max_backoff"` // Maximum delay between retries
		} `yaml:"connection"`

		Heartbeat struct {
			Topic    string        `yaml:"topic"`    // MQTT topic for heartbeat service
			Enabled  bool          `yaml:"enabled"`  // Enable/disable heartbeat service
			Interval time.Duration `yaml:"interval"` // Interval between heartbeats
			QOS      int           `yaml:"qos"`      // MQTT QoS level for heartbeat messages
			Host     bool          `yaml:"host"`     // Include host and agent process gauges
		} `yaml:"heartbeat"`

		Command struct {
			Topic            string        `yaml:"topic"`              // MQTT topic prefix for router commands
			Enabled          bool          `yaml:"enabled"`            // Enable/disable command service
			QOS              int           `yaml:"qos"`                // MQTT QoS level for command messages
			Workers          int           `yaml:"workers"`            // Commands executed concurrently
			MaxExecutionTime time.Duration `yaml:"max_execution_time"` // Deadline of a single command
		} `yaml:"command"`
	} `yaml:"services"`
}

// Defaults for settings left empty in the file.
const (
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultClientID         = "router-agent"
	DefaultMetricsAddress   = ":9102"
	DefaultConnectWait      = 10 * time.Second
	DefaultBaseDelay        = time.Second
	DefaultMaxBackoff       = time.Minute
	DefaultHeartbeatPeriod  = 30 * time.Second
	DefaultCommandWorkers   = 4
	DefaultMaxExecutionTime = 2 * time.Minute
	DefaultConnectionTopic  = "routers/events"
	DefaultHeartbeatTopic   = "routers/heartbeat"
	DefaultCommandTopic     = "routers/command"
)

// LoadConfig loads the YAML configuration from the specified file, fills
// defaults and validates the result.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	if err := fileClient.ReadYamlFile(filename, &config); err != nil {
		return nil, err
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", filename, err)
	}
	return &config, nil
}

// ApplyDefaults fills every empty setting.
func (c *Config) ApplyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = DefaultClientID
	}
	if c.MQTT.ConnectWait <= 0 {
		c.MQTT.ConnectWait = DefaultConnectWait
	}
	if c.Metrics.Address == "" {
		c.Metrics.Address = DefaultMetricsAddress
	}
	c.Timeouts = c.Timeouts.WithDefaults()

	conn := &c.Services.Connection
	if conn.Topic == "" {
		conn.Topic = DefaultConnectionTopic
	}
	if conn.BaseDelay <= 0 {
		conn.BaseDelay = DefaultBaseDelay
	}
	if conn.MaxBackoff <= 0 {
		conn.MaxBackoff = DefaultMaxBackoff
	}

	hb := &c.Services.Heartbeat
	if hb.Topic == "" {
		hb.Topic = DefaultHeartbeatTopic
	}
	if hb.Interval <= 0 {
		hb.Interval = DefaultHeartbeatPeriod
	}

	cmd := &c.Services.Command
	if cmd.Topic == "" {
		cmd.Topic = DefaultCommandTopic
	}
	if cmd.Workers <= 0 {
		cmd.Workers = DefaultCommandWorkers
	}
	if cmd.MaxExecutionTime <= 0 {
		cmd.MaxExecutionTime = DefaultMaxExecutionTime
	}

	for i := range c.Routers {
		if c.Routers[i].Name == "" {
			c.Routers[i].Name = c.Routers[i].Address
		}
	}
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Log.Format != "json" && c.Log.Format != "console" {
		errs = append(errs, fmt.Errorf("log.format must be json or console, got %q", c.Log.Format))
	}
	for _, qos := range []int{c.Services.Connection.QOS, c.Services.Heartbeat.QOS, c.Services.Command.QOS} {
		if qos < 0 || qos > 2 {
			errs = append(errs, fmt.Errorf("qos %d outside 0..2", qos))
		}
	}
	if c.KumoRequestRate < 0 {
		errs = append(errs, errors.New("kumo_request_rate must not be negative"))
	}
	if c.Services.Connection.MaxRetries < 0 {
		errs = append(errs, errors.New("services.connection.max_retries must not be negative"))
	}

	seen := make(map[string]struct{}, len(c.Routers))
	for i, r := range c.Routers {
		where := fmt.Sprintf("routers[%d]", i)
		if r.Address == "" {
			errs = append(errs, fmt.Errorf("%s: address is required", where))
		}
		if strings.ContainsAny(r.Name, "/+#") {
			errs = append(errs, fmt.Errorf("%s: name %q must not contain MQTT topic characters", where, r.Name))
		}
		if _, dup := seen[r.Name]; dup && r.Name != "" {
			errs = append(errs, fmt.Errorf("%s: duplicate name %q", where, r.Name))
		}
		seen[r.Name] = struct{}{}
		if _, err := r.Kind(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", where, err))
		}
		if r.FirmwareConstraint != "" {
			if _, err := semver.NewConstraint(r.FirmwareConstraint); err != nil {
				errs = append(errs, fmt.Errorf("%s: firmware_constraint: %w", where, err))
			}
		}
	}
	return errors.Join(errs...)
}

// BackendOptions converts the router-facing settings for backends.Default.
func (c *Config) BackendOptions() backends.Options {
	opts := backends.Options{
		Ports:    c.Ports,
		Timeouts: c.Timeouts,
	}
	if c.KumoRequestRate > 0 {
		opts.KumoRequestRate = rate.Limit(c.KumoRequestRate)
	}
	return opts
}
