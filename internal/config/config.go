// Package config loads the daemon configuration from a YAML file and
// GODAIKIN_ environment variables, applies defaults, and validates.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jkoay/godaikin-bridge/internal/dispatch"
)

const (
	DefaultHTTPAddr = "0.0.0.0:8080"

	DefaultPollInterval   = 7 * time.Second
	DefaultStaleAfter     = 90 * time.Second
	DefaultMoldProofCycle = time.Hour
	DefaultCommandRetries = 3
	DefaultConfirmRetries = 5
	DefaultCommandBackoff = 500 * time.Millisecond
)

// Config is the daemon configuration.
type Config struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	// Cloud overrides, for tests and regional endpoints. Empty means the
	// vendor defaults.
	APIBaseURL      string `mapstructure:"api_base_url"`
	CognitoEndpoint string `mapstructure:"cognito_endpoint"`
	CognitoClientID string `mapstructure:"cognito_client_id"`

	PollInterval time.Duration `mapstructure:"poll_interval"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`

	CommandRetries int           `mapstructure:"command_retries"`
	ConfirmRetries int           `mapstructure:"confirm_retries"`
	CommandBackoff time.Duration `mapstructure:"command_backoff"`
	BusyMode       string        `mapstructure:"busy_mode"`

	// MoldProofEnabled is the default drying enablement for every unit;
	// the per-unit switch overrides it. Off by default, drying is opt-in.
	MoldProofEnabled bool          `mapstructure:"mold_proof_enabled"`
	MoldProofCycle   time.Duration `mapstructure:"mold_proof_cycle"`

	MQTT MQTTConfig `mapstructure:"mqtt"`

	HTTPAddr string `mapstructure:"http_addr"`
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// MQTTConfig configures the Home Assistant bridge. An empty broker URL
// disables it.
type MQTTConfig struct {
	BrokerURL   string `mapstructure:"broker_url"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	ClientID    string `mapstructure:"client_id"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// Load reads the config file at path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GODAIKIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key; AutomaticEnv only surfaces keys viper
// already knows about when unmarshalling.
func setDefaults(v *viper.Viper) {
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("api_base_url", "")
	v.SetDefault("cognito_endpoint", "")
	v.SetDefault("cognito_client_id", "")
	v.SetDefault("mqtt.broker_url", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("stale_after", DefaultStaleAfter)
	v.SetDefault("command_retries", DefaultCommandRetries)
	v.SetDefault("confirm_retries", DefaultConfirmRetries)
	v.SetDefault("command_backoff", DefaultCommandBackoff)
	v.SetDefault("busy_mode", string(dispatch.BusyCoalesce))
	v.SetDefault("mold_proof_enabled", false)
	v.SetDefault("mold_proof_cycle", DefaultMoldProofCycle)
	v.SetDefault("mqtt.topic_prefix", "godaikin")
	v.SetDefault("http_addr", DefaultHTTPAddr)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Username == "" || c.Password == "" {
		return errors.New("username and password are required")
	}
	if c.PollInterval < time.Second {
		return fmt.Errorf("poll_interval %s too short, minimum 1s", c.PollInterval)
	}
	if c.StaleAfter < c.PollInterval {
		return fmt.Errorf("stale_after %s must be at least poll_interval %s", c.StaleAfter, c.PollInterval)
	}
	if c.MoldProofCycle < time.Minute {
		return fmt.Errorf("mold_proof_cycle %s too short, minimum 1m", c.MoldProofCycle)
	}
	switch dispatch.BusyMode(c.BusyMode) {
	case dispatch.BusyCoalesce, dispatch.BusyReject:
	default:
		return fmt.Errorf("busy_mode %q must be %q or %q", c.BusyMode, dispatch.BusyCoalesce, dispatch.BusyReject)
	}
	return nil
}
