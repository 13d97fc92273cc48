// ABOUTME: Configuration loading and parsing for whatsdesk
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete whatsdesk configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Transport TransportConfig `yaml:"transport"`
	Session   SessionConfig   `yaml:"session"`
	Bot       BotConfig       `yaml:"bot"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig selects and configures the conversation store
type DatabaseConfig struct {
	// Driver is "sqlite" or "memory". Defaults to sqlite.
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// TransportConfig selects and configures the messaging network connection
type TransportConfig struct {
	// Kind is "cloud" (hosted HTTP API) or "bridge" (device sidecar).
	Kind   string          `yaml:"kind"`
	Cloud  CloudTransport  `yaml:"cloud"`
	Bridge BridgeTransport `yaml:"bridge"`
}

// CloudTransport holds hosted-API credentials
type CloudTransport struct {
	AccessToken   string `yaml:"access_token"`
	PhoneNumberID string `yaml:"phone_number_id"`
	PhoneNumber   string `yaml:"phone_number"`
	VerifyToken   string `yaml:"verify_token"`
	BaseURL       string `yaml:"base_url"`
}

// BridgeTransport holds sidecar connection settings
type BridgeTransport struct {
	BaseURL string `yaml:"base_url"`
	Session string `yaml:"session"`
	Token   string `yaml:"token"`
}

// SessionConfig holds session lifecycle timing
type SessionConfig struct {
	PairingExpiry time.Duration `yaml:"-"`
	SendTimeout   time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	PairingExpiryRaw string `yaml:"pairing_expiry"`
	SendTimeoutRaw   string `yaml:"send_timeout"`
}

// BotConfig holds dialogue tree configuration
type BotConfig struct {
	// TreePath points at a YAML dialogue tree. Empty uses the built-in
	// tree.
	TreePath string `yaml:"tree_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is present: an
// in-process setup suitable for local development.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "whatsdesk.db"
	}
	if c.Transport.Kind == "" {
		c.Transport.Kind = "bridge"
	}
	if c.Transport.Bridge.BaseURL == "" {
		c.Transport.Bridge.BaseURL = "http://localhost:21465"
	}
	if c.Transport.Bridge.Session == "" {
		c.Transport.Bridge.Session = "default"
	}
	if c.Session.PairingExpiry <= 0 {
		c.Session.PairingExpiry = 2 * time.Minute
	}
	if c.Session.SendTimeout <= 0 {
		c.Session.SendTimeout = 15 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required with the sqlite driver")
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be sqlite or memory, got %q", c.Database.Driver)
	}

	switch c.Transport.Kind {
	case "cloud":
		if c.Transport.Cloud.AccessToken == "" {
			return fmt.Errorf("transport.cloud.access_token is required with the cloud transport")
		}
		if c.Transport.Cloud.PhoneNumberID == "" {
			return fmt.Errorf("transport.cloud.phone_number_id is required with the cloud transport")
		}
	case "bridge":
		if c.Transport.Bridge.BaseURL == "" {
			return fmt.Errorf("transport.bridge.base_url is required with the bridge transport")
		}
		if c.Transport.Bridge.Session == "" {
			return fmt.Errorf("transport.bridge.session is required with the bridge transport")
		}
	default:
		return fmt.Errorf("transport.kind must be cloud or bridge, got %q", c.Transport.Kind)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Session.PairingExpiryRaw != "" {
		cfg.Session.PairingExpiry, err = time.ParseDuration(cfg.Session.PairingExpiryRaw)
		if err != nil {
			return fmt.Errorf("parsing pairing_expiry %q: %w", cfg.Session.PairingExpiryRaw, err)
		}
	}

	if cfg.Session.SendTimeoutRaw != "" {
		cfg.Session.SendTimeout, err = time.ParseDuration(cfg.Session.SendTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing send_timeout %q: %w", cfg.Session.SendTimeoutRaw, err)
		}
	}

	return nil
}
