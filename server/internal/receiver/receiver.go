package receiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
	"github.com/appars/gpc-digitaltwin/server/internal/config"
	"github.com/appars/gpc-digitaltwin/server/internal/ingest"
)

const (
	// ingestTimeout bounds one message's trip through the gateway. The
	// gateway's own lock timeout is usually shorter.
	ingestTimeout = 5 * time.Second

	tokenTimeout = 10 * time.Second
	quiesceMs    = 250
)

// Ingester accepts raw producer payloads.
type Ingester interface {
	Ingest(ctx context.Context, raw []byte) (ingest.Result, error)
}

// Receiver subscribes to producer telemetry over MQTT and publishes
// relayed operator commands back to producers.
type Receiver struct {
	client mqtt.Client
	ing    Ingester
	prefix string
	qos    byte

	// onConnect is set when the client runs OnConnect itself.
	onConnect bool
}

// New creates a Receiver on an already configured client.
func New(client mqtt.Client, ing Ingester, prefix string, qos byte) *Receiver {
	if prefix == "" {
		prefix = config.DefaultTopicPrefix
	}
	return &Receiver{client: client, ing: ing, prefix: strings.TrimSuffix(prefix, "/"), qos: qos}
}

// Dial creates a Receiver with its own paho client built from cfg. The
// client resubscribes on every reconnect. Call Start to connect.
func Dial(cfg config.MQTTConfig, ing Ingester) *Receiver {
	r := New(nil, ing, cfg.TopicPrefix, cfg.QoS)
	r.onConnect = true
	r.client = mqtt.NewClient(ClientOptions(cfg).SetOnConnectHandler(r.OnConnect))
	return r
}

// ClientOptions builds paho options from cfg. A random suffix keeps client
// IDs unique when several servers share a broker.
func ClientOptions(cfg config.MQTTConfig) *mqtt.ClientOptions {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = config.DefaultMQTTClientID
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID + "-" + uuid.NewString()[:8]).
		SetAutoReconnect(true).
		SetOrderMatters(false)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password())
	}
	return opts
}

// Start connects the client if needed and subscribes to the telemetry
// topic.
func (r *Receiver) Start() error {
	if !r.client.IsConnected() {
		tok := r.client.Connect()
		if !tok.WaitTimeout(tokenTimeout) {
			return fmt.Errorf("receiver: connect: timed out after %s", tokenTimeout)
		}
		if err := tok.Error(); err != nil {
			return fmt.Errorf("receiver: connect: %w", err)
		}
		if r.onConnect {
			return nil
		}
	}
	return r.subscribe()
}

// OnConnect is the client's connect handler. A clean session drops
// subscriptions, so they are renewed after every reconnect.
func (r *Receiver) OnConnect(mqtt.Client) {
	if err := r.subscribe(); err != nil {
		slog.Error("receiver: resubscribe failed", "err", err)
	}
}

func (r *Receiver) subscribe() error {
	topic := twin.TelemetryTopic(r.prefix)
	tok := r.client.Subscribe(topic, r.qos, func(_ mqtt.Client, msg mqtt.Message) {
		r.HandleMessage(msg.Topic(), msg.Payload())
	})
	tok.Wait()
	if err := tok.Error(); err != nil {
		return fmt.Errorf("receiver: subscribe %s: %w", topic, err)
	}
	slog.Info("receiver: subscribed", "topic", topic, "qos", r.qos)
	return nil
}

// HandleMessage feeds one telemetry message into the gateway. It returns
// the gateway result for tests; errors are logged, never returned, since
// MQTT has no reply channel.
func (r *Receiver) HandleMessage(topic string, payload []byte) ingest.Result {
	machine, ok := twin.MachineFromTopic(r.prefix, topic)
	if !ok {
		slog.Warn("receiver: unexpected topic", "topic", topic)
		return ingest.Result{}
	}

	ctx, cancel := context.WithTimeout(context.Background(), ingestTimeout)
	defer cancel()

	res, err := r.ing.Ingest(ctx, payload)
	switch {
	case errors.Is(err, ingest.ErrInvalidPayload):
		slog.Warn("receiver: invalid payload", "machine", machine, "err", err)
	case err != nil:
		slog.Error("receiver: ingest failed", "machine", machine, "err", err)
	default:
		slog.Debug("receiver: telemetry ingested",
			"machine", machine,
			"accepted", res.Accepted,
			"fields", res.FieldsApplied,
			"rejected", res.FieldsRejected,
			"seq", res.Seq,
		)
	}
	return res
}

// RelayCommand publishes ev on the command topic. It does not wait for the
// broker beyond the token timeout.
func (r *Receiver) RelayCommand(ev twin.CommandEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("receiver: encode command: %w", err)
	}
	topic := twin.CommandTopic(r.prefix)
	tok := r.client.Publish(topic, r.qos, false, body)
	if !tok.WaitTimeout(tokenTimeout) {
		return fmt.Errorf("receiver: publish %s: timed out", topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("receiver: publish %s: %w", topic, err)
	}
	slog.Debug("receiver: command relayed", "topic", topic, "action", ev.Action)
	return nil
}

// Close disconnects from the broker.
func (r *Receiver) Close() {
	r.client.Disconnect(quiesceMs)
}
