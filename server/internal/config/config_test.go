package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/appars/gpc-digitaltwin/server/internal/kpi"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	// Only the agent section is present; the server runs on defaults.
	p := writeConfig(t, `agent:
  server_url: "http://localhost:8080"
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != DefaultHTTPPort {
		t.Errorf("http_port: got %d, want %d", cfg.Server.HTTPPort, DefaultHTTPPort)
	}
	if cfg.Server.LockTimeout != DefaultLockTimeout {
		t.Errorf("lock_timeout: got %v, want %v", cfg.Server.LockTimeout, DefaultLockTimeout)
	}
	if !cfg.Twin.StartRunning {
		t.Error("start_running: got false, want true")
	}
	if cfg.Twin.SetpointPolicy != "target" {
		t.Errorf("setpoint_policy: got %q, want target", cfg.Twin.SetpointPolicy)
	}
	if cfg.Twin.HistoryCapacity != DefaultHistoryCapacity {
		t.Errorf("history_capacity: got %d, want %d", cfg.Twin.HistoryCapacity, DefaultHistoryCapacity)
	}
	if cfg.Thresholds != kpi.DefaultThresholds() {
		t.Errorf("thresholds: got %+v, want defaults", cfg.Thresholds)
	}
	if !cfg.Alerts.Alarms {
		t.Error("alerts.alarms: got false, want true")
	}
	if cfg.MQTT.Enabled || cfg.Influx.Enabled {
		t.Error("mqtt and influx must be disabled by default")
	}
	if cfg.MQTT.TopicPrefix != DefaultTopicPrefix {
		t.Errorf("mqtt.topic_prefix: got %q, want %q", cfg.MQTT.TopicPrefix, DefaultTopicPrefix)
	}
}

func TestLoad_FullServer(t *testing.T) {
	p := writeConfig(t, `server:
  http_port: 9091
  lock_timeout: 500ms
  log_level: debug
  auth:
    mode: apikey
    key_env: MY_KEY
    header: x-twin-key
twin:
  start_running: false
  setpoint_policy: override
  history_capacity: 50
  send_buffer: 4
thresholds:
  surge_margin_warn_pct: 15
  vibration_warn: 4
  vibration_trip: 8
  lube_oil_warn: 2.2
  lube_oil_trip: 0
  bearing_temp_warn: 365
  seal_leakage_warn: 0.4
alerts:
  alarms: false
  rules:
    - name: near-surge
      condition: surge_margin_pct < 20
      severity: critical
      cooldown: 1m
  webhooks:
    - type: slack
      url_env: SLACK_URL
mqtt:
  enabled: true
  broker: tcp://broker:1883
  qos: 0
influx:
  enabled: true
  url: http://influx:8086
  org: plant
  bucket: twin
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.HTTPPort != 9091 {
		t.Errorf("http_port: got %d, want 9091", cfg.Server.HTTPPort)
	}
	if cfg.Server.LockTimeout != 500*time.Millisecond {
		t.Errorf("lock_timeout: got %v, want 500ms", cfg.Server.LockTimeout)
	}
	if cfg.Server.Auth.EffectiveHeader() != "x-twin-key" {
		t.Errorf("header: got %q, want x-twin-key", cfg.Server.Auth.EffectiveHeader())
	}
	if cfg.Twin.StartRunning {
		t.Error("start_running: got true, want false")
	}
	if cfg.Twin.SetpointPolicy != "override" || cfg.Twin.HistoryCapacity != 50 || cfg.Twin.SendBuffer != 4 {
		t.Errorf("twin: got %+v", cfg.Twin)
	}
	if cfg.Thresholds.VibrationTrip != 8 || cfg.Thresholds.LubeOilTrip != 0 {
		t.Errorf("thresholds: got %+v", cfg.Thresholds)
	}
	if cfg.Alerts.Alarms {
		t.Error("alerts.alarms: got true, want false")
	}
	if len(cfg.Alerts.Rules) != 1 || cfg.Alerts.Rules[0].Cooldown != time.Minute {
		t.Errorf("alerts.rules: got %+v", cfg.Alerts.Rules)
	}
	if cfg.MQTT.ClientID != DefaultMQTTClientID || cfg.MQTT.QoS != 0 {
		t.Errorf("mqtt: got %+v", cfg.MQTT)
	}
	if cfg.Influx.Measurement != DefaultMeasurement || cfg.Influx.Buffer != DefaultInfluxBuffer {
		t.Errorf("influx: got %+v", cfg.Influx)
	}
}

func TestLoad_DefaultHeader(t *testing.T) {
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: K
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h := cfg.Server.Auth.EffectiveHeader(); h != "x-api-key" {
		t.Errorf("EffectiveHeader: got %q, want x-api-key", h)
	}
}

func TestLoad_SecretEnvResolution(t *testing.T) {
	t.Setenv("TEST_SERVER_KEY", "supersecret")
	t.Setenv("TEST_MQTT_PASS", "mqttpass")
	t.Setenv("TEST_INFLUX_TOKEN", "tok")
	p := writeConfig(t, `server:
  auth:
    mode: apikey
    key_env: TEST_SERVER_KEY
mqtt:
  password_env: TEST_MQTT_PASS
influx:
  token_env: TEST_INFLUX_TOKEN
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if k := cfg.Server.Auth.Key(); k != "supersecret" {
		t.Errorf("Key(): got %q, want supersecret", k)
	}
	if pw := cfg.MQTT.Password(); pw != "mqttpass" {
		t.Errorf("Password(): got %q, want mqttpass", pw)
	}
	if tok := cfg.Influx.Token(); tok != "tok" {
		t.Errorf("Token(): got %q, want tok", tok)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"auth mode":       "server:\n  auth:\n    mode: oauth2\n",
		"port":            "server:\n  http_port: 70000\n",
		"lock timeout":    "server:\n  lock_timeout: 0s\n",
		"log level":       "server:\n  log_level: chatty\n",
		"policy":          "twin:\n  setpoint_policy: yolo\n",
		"history":         "twin:\n  history_capacity: 0\n",
		"thresholds":      "thresholds:\n  vibration_trip: 1\n",
		"rule condition":  "alerts:\n  rules:\n    - name: x\n      condition: surge_margin_pct\n",
		"rule name":       "alerts:\n  rules:\n    - condition: flow < 1\n",
		"mqtt broker":     "mqtt:\n  enabled: true\n",
		"influx bucket":   "influx:\n  enabled: true\n  url: http://x\n  org: o\n",
		"yaml syntax":     "server: [\n",
		"mqtt qos":        "mqtt:\n  enabled: true\n  broker: tcp://b:1883\n  qos: 3\n",
		"negative buffer": "influx:\n  enabled: true\n  url: http://x\n  org: o\n  bucket: b\n  buffer: -1\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"WARNING", slog.LevelWarn},
		{"warn", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"CRITICAL", LevelCritical},
	}
	for _, tc := range cases {
		got, err := ParseLevel(tc.in)
		if err != nil {
			t.Errorf("ParseLevel(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLevel(%q): got %v, want %v", tc.in, got, tc.want)
		}
	}
	for _, bad := range []string{"", "TRACE", "verbose"} {
		if _, err := ParseLevel(bad); err == nil {
			t.Errorf("ParseLevel(%q): expected error", bad)
		}
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "server:\n  log_level: INFO\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	errc := make(chan error, 1)
	go func() { errc <- Watch(ctx, p, func(c *Config) { got <- c }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	// An invalid write is skipped.
	if err := os.WriteFile(p, []byte("server:\n  log_level: LOUD\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(p, []byte("server:\n  log_level: DEBUG\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		select {
		case c := <-got:
			if c.Server.LogLevel == "DEBUG" {
				cancel()
				if err := <-errc; err != nil {
					t.Errorf("Watch returned %v", err)
				}
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}
