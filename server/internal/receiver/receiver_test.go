package receiver_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
	"github.com/appars/gpc-digitaltwin/server/internal/config"
	"github.com/appars/gpc-digitaltwin/server/internal/history"
	"github.com/appars/gpc-digitaltwin/server/internal/ingest"
	"github.com/appars/gpc-digitaltwin/server/internal/kpi"
	"github.com/appars/gpc-digitaltwin/server/internal/receiver"
	"github.com/appars/gpc-digitaltwin/server/internal/store"
	"github.com/appars/gpc-digitaltwin/server/internal/ws"
)

var _ ws.Relay = (*receiver.Receiver)(nil)

type token struct{ err error }

func (t token) Wait() bool                     { return true }
func (t token) WaitTimeout(time.Duration) bool { return true }
func (t token) Error() error                   { return t.err }
func (t token) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient records subscriptions and publications. Methods the receiver
// never calls are left to the embedded nil interface.
type fakeClient struct {
	mqtt.Client

	mu         sync.Mutex
	connected  bool
	connectErr error
	publishErr error
	handlers   map[string]mqtt.MessageHandler
	published  []published
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.connectErr == nil
	return token{err: c.connectErr}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handlers == nil {
		c.handlers = map[string]mqtt.MessageHandler{}
	}
	c.handlers[topic] = cb
	return token{}
}

func (c *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return token{err: c.publishErr}
	}
	c.published = append(c.published, published{topic: topic, qos: qos, payload: payload.([]byte)})
	return token{}
}

type message struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m message) Topic() string   { return m.topic }
func (m message) Payload() []byte { return m.payload }

func newGateway(t *testing.T) *ingest.Gateway {
	t.Helper()
	st := store.New(kpi.With(kpi.DefaultThresholds()), store.PolicyTarget, twin.DefaultSnapshot())
	return ingest.New(st, history.New(10), ingest.Options{LockTimeout: 50 * time.Millisecond})
}

func TestStart_SubscribesAndIngests(t *testing.T) {
	gw := newGateway(t)
	client := &fakeClient{}
	r := receiver.New(client, gw, "wgc", 1)

	require.NoError(t, r.Start())
	assert.True(t, client.IsConnected())

	cb, ok := client.handlers["wgc/+/telemetry"]
	require.True(t, ok, "telemetry subscription missing: %v", client.handlers)

	cb(client, message{topic: "wgc/k-101/telemetry", payload: []byte(`{"oper":{"flow":31.5}}`)})

	v := gw.View()
	assert.Equal(t, uint64(1), v.Seq)
	assert.Equal(t, 31.5, v.Oper.Flow)
	assert.Equal(t, 1, gw.HistoryLen())
}

func TestStart_ConnectError(t *testing.T) {
	client := &fakeClient{connectErr: errors.New("connection refused")}
	r := receiver.New(client, newGateway(t), "wgc", 0)

	err := r.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, client.handlers)
}

func TestHandleMessage(t *testing.T) {
	gw := newGateway(t)
	r := receiver.New(&fakeClient{connected: true}, gw, "wgc/", 0)

	res := r.HandleMessage("wgc/k-101/telemetry", []byte(`{"wgc":{"health":{"v_ax":"2.9","seal_leak":0.2}}}`))
	assert.True(t, res.Accepted)
	assert.Equal(t, 2, res.FieldsApplied)
	assert.Equal(t, 2.9, gw.View().Health.VibAxial)

	// Wrong topic: dropped before the gateway.
	res = r.HandleMessage("plant/k-101/telemetry", []byte(`{"oper":{"flow":1}}`))
	assert.False(t, res.Accepted)

	// Invalid payload: logged, nothing changes.
	res = r.HandleMessage("wgc/k-101/telemetry", []byte(`[]`))
	assert.False(t, res.Accepted)

	assert.Equal(t, uint64(1), gw.View().Seq)
}

func TestRelayCommand_PublishesEvent(t *testing.T) {
	client := &fakeClient{connected: true}
	r := receiver.New(client, newGateway(t), "", 1)

	require.NoError(t, r.RelayCommand(twin.CommandEvent{Action: twin.ActionSet, Speed: twin.Float(8200), Running: true}))
	require.Len(t, client.published, 1)

	p := client.published[0]
	assert.Equal(t, config.DefaultTopicPrefix+"/command", p.topic)
	assert.Equal(t, byte(1), p.qos)

	var ev twin.CommandEvent
	require.NoError(t, json.Unmarshal(p.payload, &ev))
	assert.Equal(t, twin.ActionSet, ev.Action)
	require.NotNil(t, ev.Speed)
	assert.Equal(t, 8200.0, *ev.Speed)
	assert.Nil(t, ev.Valve)
}

func TestRelayCommand_PublishError(t *testing.T) {
	client := &fakeClient{connected: true, publishErr: errors.New("not connected")}
	r := receiver.New(client, newGateway(t), "wgc", 0)

	err := r.RelayCommand(twin.CommandEvent{Action: twin.ActionStop})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wgc/command")
}

func TestClientOptions(t *testing.T) {
	t.Setenv("TEST_MQTT_PASSWORD", "s3cret")
	opts := receiver.ClientOptions(config.MQTTConfig{
		Broker:      "tcp://broker:1883",
		ClientID:    "twin",
		Username:    "svc",
		PasswordEnv: "TEST_MQTT_PASSWORD",
	})

	assert.Regexp(t, `^twin-[0-9a-f]{8}$`, opts.ClientID)
	assert.Equal(t, "svc", opts.Username)
	assert.Equal(t, "s3cret", opts.Password)
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "broker:1883", opts.Servers[0].Host)
	assert.True(t, opts.AutoReconnect)
}
