package shipper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/appars/gpc-digitaltwin/agent/internal/config"
	"github.com/appars/gpc-digitaltwin/pkg/twin"
)

// ErrNotConnected is returned by MQTTSender while the broker connection is
// down.
var ErrNotConnected = errors.New("mqtt not connected")

// HTTPSender posts samples to the server's ingest endpoint.
type HTTPSender struct {
	url    string
	header string
	key    string
	client *http.Client
}

// NewHTTPSender creates a sender for cfg.IngestURL(). The API key header is
// only sent in apikey mode.
func NewHTTPSender(cfg config.AgentConfig) *HTTPSender {
	s := &HTTPSender{
		url:    cfg.IngestURL(),
		client: &http.Client{Timeout: sendTimeout},
	}
	if cfg.ServerAuth.Mode == "apikey" {
		s.header = cfg.ServerAuth.EffectiveHeader()
		s.key = cfg.ServerAuth.Key()
	}
	return s
}

// Name implements Sender.
func (s *HTTPSender) Name() string { return config.TransportHTTP }

// Send implements Sender. 4xx answers are permanent; 5xx and transport
// errors are retried.
func (s *HTTPSender) Send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return &PermanentError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.header != "" {
		req.Header.Set(s.header, s.key)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &PermanentError{Err: fmt.Errorf("server answered %d: %s", resp.StatusCode, bytes.TrimSpace(msg))}
	default:
		return fmt.Errorf("server answered %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
}

// MQTTSender publishes samples on the machine's telemetry topic.
type MQTTSender struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// NewMQTTSender creates a sender publishing through client.
func NewMQTTSender(client mqtt.Client, prefix, machine string, qos byte) *MQTTSender {
	return &MQTTSender{client: client, topic: twin.MachineTelemetryTopic(prefix, machine), qos: qos}
}

// Name implements Sender.
func (s *MQTTSender) Name() string { return config.TransportMQTT }

// Send implements Sender. It waits for the publish token until ctx expires.
func (s *MQTTSender) Send(ctx context.Context, body []byte) error {
	if !s.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	tok := s.client.Publish(s.topic, s.qos, false, body)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", s.topic, ctx.Err())
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", s.topic, err)
	}
	return nil
}

// Fallback sends through Primary and, when that fails, through Secondary.
type Fallback struct {
	Primary   Sender
	Secondary Sender
}

// Name implements Sender.
func (f *Fallback) Name() string { return f.Primary.Name() + "+" + f.Secondary.Name() }

// Send implements Sender.
func (f *Fallback) Send(ctx context.Context, body []byte) error {
	err := f.Primary.Send(ctx, body)
	if err == nil {
		return nil
	}
	slog.Debug("shipper: primary transport failed, falling back",
		"primary", f.Primary.Name(), "secondary", f.Secondary.Name(), "err", err)
	if err2 := f.Secondary.Send(ctx, body); err2 != nil {
		return fmt.Errorf("%s: %w; %s: %w", f.Primary.Name(), err, f.Secondary.Name(), err2)
	}
	return nil
}

// MQTTOptions builds paho options for the agent from cfg.
func MQTTOptions(cfg config.AgentConfig) *mqtt.ClientOptions {
	clientID := cfg.MQTT.ClientID
	if clientID == "" {
		clientID = "twin-agent-" + cfg.MachineID
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTT.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	if cfg.MQTT.Username != "" {
		opts.SetUsername(cfg.MQTT.Username).SetPassword(cfg.MQTT.Password())
	}
	return opts
}
