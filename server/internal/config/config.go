package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/appars/gpc-digitaltwin/server/internal/kpi"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort        = 8080
	DefaultLockTimeout     = 2 * time.Second
	DefaultLogLevel        = "INFO"
	DefaultSetpointPolicy  = "target"
	DefaultHistoryCapacity = 2000
	DefaultSendBuffer      = 16
	DefaultTopicPrefix     = "wgc"
	DefaultMQTTClientID    = "twin-server"
	DefaultMeasurement     = "wgc_history"
	DefaultInfluxBuffer    = 256
)

// LevelCritical is the slog level used for CRITICAL. slog has no such level.
const LevelCritical = slog.LevelError + 4

// Config holds the twin-server configuration. The `agent:` key in the same
// file is ignored.
type Config struct {
	Server     ServerConfig   `yaml:"server"`
	Twin       TwinConfig     `yaml:"twin"`
	Thresholds kpi.Thresholds `yaml:"thresholds"`
	Alerts     AlertsConfig   `yaml:"alerts"`
	MQTT       MQTTConfig     `yaml:"mqtt"`
	Influx     InfluxConfig   `yaml:"influx"`
}

// ServerConfig holds listener and process settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, WebSocket hub and /metrics listen on.
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates mutating REST clients.
	Auth AuthConfig `yaml:"auth"`

	// LockTimeout bounds how long a request waits for the twin before it is
	// answered busy. Default: 2s.
	LockTimeout time.Duration `yaml:"lock_timeout"`

	// LogLevel is one of DEBUG, INFO, WARNING, ERROR, CRITICAL.
	LogLevel string `yaml:"log_level"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// TwinConfig holds engine settings.
type TwinConfig struct {
	// StartRunning is the initial running flag. Default: true.
	StartRunning bool `yaml:"start_running"`

	// SetpointPolicy is target (setpoints only) or override (also write oper).
	SetpointPolicy string `yaml:"setpoint_policy"`

	// HistoryCapacity is the number of rows the history ring keeps.
	HistoryCapacity int `yaml:"history_capacity"`

	// SendBuffer is the per-subscriber queue depth.
	SendBuffer int `yaml:"send_buffer"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	// Alarms enables notifications when KPI alarms appear or clear. Default: true.
	Alarms bool `yaml:"alarms"`

	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule defines one threshold-based alert condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Condition is a simple expression over view fields:
	// "surge_margin_pct < 20", "vib_axial > 5", "running == false".
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// MQTTConfig configures the MQTT telemetry receiver and command relay.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`

	// TopicPrefix roots every topic: <prefix>/<machine>/telemetry for
	// producers and <prefix>/command for relayed commands.
	TopicPrefix string `yaml:"topic_prefix"`

	QoS byte `yaml:"qos"`
}

// Password returns the broker password resolved from the environment.
func (m MQTTConfig) Password() string {
	if m.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(m.PasswordEnv)
}

// InfluxConfig configures the best-effort history mirror.
type InfluxConfig struct {
	Enabled     bool   `yaml:"enabled"`
	URL         string `yaml:"url"`
	TokenEnv    string `yaml:"token_env"`
	Org         string `yaml:"org"`
	Bucket      string `yaml:"bucket"`
	Measurement string `yaml:"measurement"`

	// Buffer is the number of rows queued before the oldest is dropped.
	Buffer int `yaml:"buffer"`
}

// Token returns the InfluxDB token resolved from the environment.
func (i InfluxConfig) Token() string {
	if i.TokenEnv == "" {
		return ""
	}
	return os.Getenv(i.TokenEnv)
}

// Load reads and parses the config file at path.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config data on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values. It is also
// what the server runs with when no config file is given.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:    DefaultHTTPPort,
			LockTimeout: DefaultLockTimeout,
			LogLevel:    DefaultLogLevel,
		},
		Twin: TwinConfig{
			StartRunning:    true,
			SetpointPolicy:  DefaultSetpointPolicy,
			HistoryCapacity: DefaultHistoryCapacity,
			SendBuffer:      DefaultSendBuffer,
		},
		Thresholds: kpi.DefaultThresholds(),
		Alerts: AlertsConfig{
			Alarms: true,
		},
		MQTT: MQTTConfig{
			ClientID:    DefaultMQTTClientID,
			TopicPrefix: DefaultTopicPrefix,
			QoS:         1,
		},
		Influx: InfluxConfig{
			Measurement: DefaultMeasurement,
			Buffer:      DefaultInfluxBuffer,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.LockTimeout <= 0 {
		return fmt.Errorf("server.lock_timeout must be positive")
	}
	if _, err := ParseLevel(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("server.log_level: %w", err)
	}

	switch cfg.Twin.SetpointPolicy {
	case "target", "override":
	default:
		return fmt.Errorf("twin.setpoint_policy %q unknown: want target|override", cfg.Twin.SetpointPolicy)
	}
	if cfg.Twin.HistoryCapacity <= 0 {
		return fmt.Errorf("twin.history_capacity must be positive")
	}
	if cfg.Twin.SendBuffer <= 0 {
		return fmt.Errorf("twin.send_buffer must be positive")
	}

	if err := cfg.Thresholds.Validate(); err != nil {
		return fmt.Errorf("thresholds: %w", err)
	}

	for i, r := range cfg.Alerts.Rules {
		if r.Name == "" {
			return fmt.Errorf("alerts.rules[%d]: name is required", i)
		}
		if len(strings.Fields(r.Condition)) != 3 {
			return fmt.Errorf("alerts.rules[%d] %q: condition must be \"field op value\"", i, r.Name)
		}
	}

	if cfg.MQTT.Enabled {
		if cfg.MQTT.Broker == "" {
			return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
		}
		if cfg.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt.qos %d is out of range [0, 2]", cfg.MQTT.QoS)
		}
	}

	if cfg.Influx.Enabled {
		if cfg.Influx.URL == "" || cfg.Influx.Org == "" || cfg.Influx.Bucket == "" {
			return fmt.Errorf("influx.url, influx.org and influx.bucket are required when influx is enabled")
		}
		if cfg.Influx.Buffer <= 0 {
			return fmt.Errorf("influx.buffer must be positive")
		}
	}
	return nil
}

// ParseLevel maps a log level name onto a slog level. Names are
// case-insensitive; WARNING and WARN are synonyms.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARNING", "WARN":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	case "CRITICAL":
		return LevelCritical, nil
	default:
		return 0, fmt.Errorf("invalid level %q", s)
	}
}
