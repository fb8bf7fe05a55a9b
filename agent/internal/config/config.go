package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultServerURL   = "http://localhost:8080"
	DefaultInterval    = 1 * time.Second
	DefaultBufferSize  = 120
	DefaultTransport   = TransportHTTP
	DefaultMachineID   = "wgc-1"
	DefaultTopicPrefix = "wgc"
	DefaultSpeed       = 7800.0
	DefaultValve       = 65.0
)

// Transports the agent can ship telemetry over.
const (
	TransportHTTP = "http"
	TransportMQTT = "mqtt"
)

// Config is the top-level configuration file. The `server:` key used by
// twin-server in the same file is ignored here.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// MachineID names this producer in MQTT topics and logs.
	MachineID string `yaml:"machine_id"`

	// ServerURL is the base URL of twin-server's REST API.
	ServerURL string `yaml:"server_url"`

	// WSURL is the subscriber endpoint used to receive relayed commands.
	// Derived from ServerURL when empty.
	WSURL string `yaml:"ws_url"`

	// Transport is http or mqtt. With mqtt, HTTP is still used whenever the
	// broker is unreachable.
	Transport string `yaml:"transport"`

	// Interval is the time between two samples.
	Interval time.Duration `yaml:"interval"`

	// BufferSize is the maximum number of samples held in memory while the
	// server is unreachable. The oldest sample is dropped first.
	BufferSize int `yaml:"buffer_size"`

	// Seed makes the simulated readings reproducible. Zero picks a random seed.
	Seed int64 `yaml:"seed"`

	// Setpoints are the initial speed and valve targets.
	Setpoints SetpointConfig `yaml:"setpoints"`

	// ServerAuth configures how the agent authenticates to twin-server.
	ServerAuth AuthConfig `yaml:"server_auth"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// SetpointConfig holds the initial operator targets.
type SetpointConfig struct {
	Speed float64 `yaml:"speed"` // rpm
	Valve float64 `yaml:"valve"` // % open
}

// AuthConfig specifies how the agent authenticates to the server.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// Header is the HTTP header name to send the key in. Default: x-api-key.
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// Password returns the broker password resolved from the environment.
func (m MQTTConfig) Password() string {
	if m.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(m.PasswordEnv)
}

// IngestURL is the REST endpoint samples are posted to.
func (a AgentConfig) IngestURL() string {
	return strings.TrimSuffix(a.ServerURL, "/") + "/api/v1/ingest"
}

// StreamURL is the WebSocket endpoint relayed commands arrive on.
func (a AgentConfig) StreamURL() string {
	if a.WSURL != "" {
		return a.WSURL
	}
	base := strings.TrimSuffix(a.ServerURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/stream"
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config pre-populated with default values.
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			MachineID:  DefaultMachineID,
			ServerURL:  DefaultServerURL,
			Transport:  DefaultTransport,
			Interval:   DefaultInterval,
			BufferSize: DefaultBufferSize,
			Setpoints: SetpointConfig{
				Speed: DefaultSpeed,
				Valve: DefaultValve,
			},
			MQTT: MQTTConfig{
				TopicPrefix: DefaultTopicPrefix,
				QoS:         1,
			},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := cfg.Agent
	if a.ServerURL == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	if !strings.HasPrefix(a.ServerURL, "http://") && !strings.HasPrefix(a.ServerURL, "https://") {
		return fmt.Errorf("agent.server_url %q must start with http:// or https://", a.ServerURL)
	}
	if a.MachineID == "" || strings.ContainsAny(a.MachineID, "/+#") {
		return fmt.Errorf("agent.machine_id %q must be non-empty and free of / + #", a.MachineID)
	}
	if a.Interval <= 0 {
		return fmt.Errorf("agent.interval must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	if a.Setpoints.Valve < 0 || a.Setpoints.Valve > 100 {
		return fmt.Errorf("agent.setpoints.valve %v is out of range [0, 100]", a.Setpoints.Valve)
	}
	if a.Setpoints.Speed < 0 {
		return fmt.Errorf("agent.setpoints.speed must not be negative")
	}
	switch a.ServerAuth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("agent.server_auth.mode %q unknown: want apikey|none", a.ServerAuth.Mode)
	}
	switch a.Transport {
	case TransportHTTP:
	case TransportMQTT:
		if a.MQTT.Broker == "" {
			return fmt.Errorf("agent.mqtt.broker is required for the mqtt transport")
		}
		if a.MQTT.QoS > 2 {
			return fmt.Errorf("agent.mqtt.qos %d is out of range [0, 2]", a.MQTT.QoS)
		}
	default:
		return fmt.Errorf("agent.transport %q unknown: want http|mqtt", a.Transport)
	}
	return nil
}
