package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/websocket"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
)

const (
	reconnectInitial = 500 * time.Millisecond
	reconnectMax     = 30 * time.Second
	handshakeTimeout = 10 * time.Second
	subscribeTimeout = 10 * time.Second

	eventCommand = "command"
)

// Applier receives relayed command events.
type Applier interface {
	Apply(ev twin.CommandEvent)
}

// frame is the envelope of every message on the subscriber stream.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Listener follows the server's subscriber stream and applies command
// events.
type Listener struct {
	url    string
	header http.Header
	app    Applier
	dialer *websocket.Dialer
}

// NewListener returns a Listener for url. header is sent with every
// handshake and may carry the API key.
func NewListener(url string, header http.Header, app Applier) *Listener {
	return &Listener{
		url:    url,
		header: header,
		app:    app,
		dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
}

// Run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff after every failure.
func (l *Listener) Run(ctx context.Context) {
	delay := reconnectInitial
	for {
		err := l.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errSessionHealthy) {
			delay = reconnectInitial
		}
		slog.Warn("control: stream disconnected, reconnecting", "url", l.url, "err", err, "retry_in", delay)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > reconnectMax {
			delay = reconnectMax
		}
	}
}

// errSessionHealthy wraps read errors on a connection that delivered at
// least one frame, so the next reconnect starts from the initial delay.
var errSessionHealthy = errors.New("session ended after receiving frames")

func (l *Listener) session(ctx context.Context) error {
	conn, resp, err := l.dialer.DialContext(ctx, l.url, l.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("control: dial %s: %w", l.url, err)
	}
	defer conn.Close()
	slog.Info("control: stream connected", "url", l.url)

	// Unblock ReadMessage on shutdown.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	received := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if received {
				return fmt.Errorf("%w: %w", errSessionHealthy, err)
			}
			return fmt.Errorf("control: read: %w", err)
		}
		received = true
		l.handle(data)
	}
}

func (l *Listener) handle(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Warn("control: malformed frame", "err", err)
		return
	}
	if f.Event != eventCommand {
		return
	}
	var ev twin.CommandEvent
	if err := json.Unmarshal(f.Data, &ev); err != nil {
		slog.Warn("control: malformed command event", "err", err)
		return
	}
	l.app.Apply(ev)
}

// SubscribeMQTT applies command events published on the command topic under
// prefix. The subscription lives as long as the client session; call it
// again from the client's connect handler after a reconnect.
func SubscribeMQTT(client mqtt.Client, prefix string, qos byte, app Applier) error {
	topic := twin.CommandTopic(prefix)
	tok := client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		var ev twin.CommandEvent
		if err := json.Unmarshal(msg.Payload(), &ev); err != nil {
			slog.Warn("control: malformed mqtt command", "topic", msg.Topic(), "err", err)
			return
		}
		app.Apply(ev)
	})
	if !tok.WaitTimeout(subscribeTimeout) {
		return fmt.Errorf("control: subscribe %s: timed out", topic)
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("control: subscribe %s: %w", topic, err)
	}
	slog.Info("control: subscribed", "topic", topic, "qos", qos)
	return nil
}
