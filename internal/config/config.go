package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables honoured on top of the YAML file. Names follow the
// settings of the function app this service replaces.
const (
	EnvEndpoint           = "customvision_endpoint"
	EnvTrainingKey        = "customvision_trainning_key"
	EnvPredictionResource = "customvision_prediction_resource"
	EnvConnectionPrefix   = "ocr_connection_string_"
	EnvServerPort         = "SERVER_PORT"
)

// Config holds the application's configuration.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	CustomVision struct {
		Endpoint             string  `yaml:"endpoint"`
		TrainingKey          string  `yaml:"training_key"`
		PredictionResourceID string  `yaml:"prediction_resource_id"`
		Threshold            float64 `yaml:"threshold"`
		OverlapThreshold     float64 `yaml:"overlap_threshold"`
		TimeoutSeconds       int64   `yaml:"timeout_seconds"`
	} `yaml:"custom_vision"`
	Database struct {
		MigrationsPath  string `yaml:"migrations_path"`
		MaxOpenConns    int    `yaml:"max_open_conns"`
		MaxIdleConns    int    `yaml:"max_idle_conns"`
		ConnMaxLifetime int64  `yaml:"conn_max_lifetime_seconds"`
	} `yaml:"database"`
	// Databases maps a customer key (customer id with '-' replaced by '_') to its DSN.
	Databases map[string]string `yaml:"databases"`
	Auth      struct {
		PublicKeyFile string `yaml:"public_key_file"`
	} `yaml:"auth"`
}

// LoadConfig reads configuration from the specified YAML file and applies
// environment overrides. A missing file is not an error when the environment
// provides the settings.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	file, err := os.Open(configPath)
	switch {
	case err == nil:
		defer file.Close()
		decoder := yaml.NewDecoder(file)
		if err := decoder.Decode(config); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}

	// Only file values carry ${VAR} placeholders; environment values are literal.
	config.CustomVision.TrainingKey = os.ExpandEnv(config.CustomVision.TrainingKey)
	for k, dsn := range config.Databases {
		config.Databases[k] = os.ExpandEnv(dsn)
	}

	config.applyEnv(os.Environ())
	config.setDefaults()

	return config, nil
}

func (c *Config) applyEnv(environ []string) {
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || value == "" {
			continue
		}
		switch {
		case name == EnvEndpoint:
			c.CustomVision.Endpoint = value
		case name == EnvTrainingKey:
			c.CustomVision.TrainingKey = value
		case name == EnvPredictionResource:
			c.CustomVision.PredictionResourceID = value
		case name == EnvServerPort:
			c.Server.Port = value
		case strings.HasPrefix(strings.ToLower(name), EnvConnectionPrefix):
			key := name[len(EnvConnectionPrefix):]
			if key == "" {
				continue
			}
			if c.Databases == nil {
				c.Databases = map[string]string{}
			}
			c.Databases[key] = value
		}
	}
}

func (c *Config) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.CustomVision.Threshold == 0 {
		c.CustomVision.Threshold = 0.5
	}
	if c.CustomVision.OverlapThreshold == 0 {
		c.CustomVision.OverlapThreshold = 0.3
	}
	if c.CustomVision.TimeoutSeconds == 0 {
		c.CustomVision.TimeoutSeconds = 30
	}
	if c.Database.MigrationsPath == "" {
		c.Database.MigrationsPath = "migrations"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 2
	}
}

// Validate checks the settings every status check depends on. Commands that
// only touch the databases do not need it.
func (c *Config) Validate() error {
	if c.CustomVision.Endpoint == "" {
		return errors.New("custom_vision.endpoint is required")
	}
	if c.CustomVision.TrainingKey == "" {
		return errors.New("custom_vision.training_key is required")
	}
	if c.CustomVision.PredictionResourceID == "" {
		return errors.New("custom_vision.prediction_resource_id is required")
	}
	if _, err := strconv.Atoi(strings.TrimPrefix(c.Server.Port, ":")); err != nil {
		return fmt.Errorf("invalid server port %q: %w", c.Server.Port, err)
	}
	return nil
}

// Timeout is the HTTP timeout for training service calls.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.CustomVision.TimeoutSeconds) * time.Second
}

// Addr is the listen address derived from the configured port.
func (c *Config) Addr() string {
	return ":" + strings.TrimPrefix(c.Server.Port, ":")
}

// CustomerKey turns a customer id into the key used for its connection string.
func CustomerKey(customerID string) string {
	return strings.ReplaceAll(customerID, "-", "_")
}

// ConnectionString returns the DSN configured for a customer.
func (c *Config) ConnectionString(customerID string) (string, bool) {
	dsn, ok := c.Databases[CustomerKey(customerID)]
	return dsn, ok && dsn != ""
}
