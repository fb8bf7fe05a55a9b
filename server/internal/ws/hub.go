package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/appars/gpc-digitaltwin/pkg/twin"
	"github.com/appars/gpc-digitaltwin/server/internal/metrics"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// commandTimeout bounds one command received over a connection.
	commandTimeout = 5 * time.Second

	// maxFrame is the largest client frame accepted.
	maxFrame = 4096

	// DefaultSendBuffer is the per-subscriber queue depth.
	DefaultSendBuffer = 16
)

// Event names carried in the Message envelope.
const (
	EventSnapshot = "snapshot"
	EventCommand  = "command"
	EventAck      = "ack"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins. Apply CORS at the reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope of every frame sent to subscribers.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ViewSource supplies the current view for new subscribers.
type ViewSource interface {
	View() twin.View
}

// CommandHandler executes commands received from connected clients.
type CommandHandler interface {
	Command(ctx context.Context, cmd twin.Command) (twin.Ack, error)
}

// Relay forwards command events to producers outside the hub, e.g. over MQTT.
type Relay interface {
	RelayCommand(ev twin.CommandEvent) error
}

// Options configures a Hub.
type Options struct {
	SendBuffer int
	Metrics    *metrics.Metrics

	// Authorize decides, once per connection, whether its command frames
	// are executed. Connections it refuses still receive views and events;
	// their commands are answered with an "unauthorized" ack. Nil allows
	// every connection.
	Authorize func(*http.Request) bool
}

// Hub fans views and command events out to subscribers. Publishing never
// blocks: a subscriber whose queue is full loses its oldest message.
type Hub struct {
	src     ViewSource
	sendBuf int
	metrics *metrics.Metrics
	auth    func(*http.Request) bool

	mu       sync.RWMutex
	subs     map[*Subscription]struct{}
	relays   []Relay
	commands CommandHandler
}

// New creates a Hub that seeds new subscribers from src.
func New(src ViewSource, opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultSendBuffer
	}
	return &Hub{
		src:     src,
		sendBuf: opts.SendBuffer,
		metrics: opts.Metrics,
		auth:    opts.Authorize,
		subs:    make(map[*Subscription]struct{}),
	}
}

// SetCommandHandler sets the target for commands sent by clients.
func (h *Hub) SetCommandHandler(c CommandHandler) {
	h.mu.Lock()
	h.commands = c
	h.mu.Unlock()
}

// AddRelay registers a producer relay for command events.
func (h *Hub) AddRelay(r Relay) {
	h.mu.Lock()
	h.relays = append(h.relays, r)
	h.mu.Unlock()
}

// Subscribe registers a new subscriber and queues the current view for it.
func (h *Hub) Subscribe() *Subscription {
	s := &Subscription{
		id:  uuid.NewString(),
		hub: h,
		ch:  make(chan []byte, h.sendBuf),
	}

	h.mu.Lock()
	h.subs[s] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	h.metrics.SetSubscribers(n)

	// Registered first, so a Publish racing with this call is not lost;
	// the seq check discards whichever of the two views is older.
	v := h.src.View()
	if data, err := encode(EventSnapshot, v); err == nil {
		s.offerView(v.Seq, data)
	}

	slog.Debug("hub: subscriber added", "id", s.id, "subscribers", n)
	return s
}

// Publish queues v for every subscriber. v is encoded once.
func (h *Hub) Publish(v twin.View) {
	data, err := encode(EventSnapshot, v)
	if err != nil {
		slog.Error("hub: encode view", "seq", v.Seq, "error", err)
		return
	}
	for _, s := range h.targets() {
		s.offerView(v.Seq, data)
	}
}

// RelayCommand sends ev to every subscriber and every registered relay.
func (h *Hub) RelayCommand(ev twin.CommandEvent) {
	data, err := encode(EventCommand, ev)
	if err != nil {
		slog.Error("hub: encode command", "action", ev.Action, "error", err)
		return
	}
	for _, s := range h.targets() {
		s.offer(data)
	}

	h.mu.RLock()
	relays := append([]Relay(nil), h.relays...)
	h.mu.RUnlock()
	for _, r := range relays {
		if err := r.RelayCommand(ev); err != nil {
			slog.Warn("hub: relay command", "action", ev.Action, "error", err)
		}
	}
}

// Run blocks until ctx is cancelled, then closes every subscription.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Count returns the number of current subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// ServeHTTP upgrades the connection to WebSocket and serves one subscriber.
// Frames sent by the client are treated as commands; each is answered with
// an ack to this client only. Blocks until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mayCommand := h.auth == nil || h.auth(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	s := h.Subscribe()
	defer s.Close()
	if !mayCommand {
		slog.Debug("hub: read-only subscriber", "id", s.ID(), "remote", r.RemoteAddr)
	}

	go writePump(conn, s)
	h.readPump(conn, s, mayCommand) // blocks until connection closes
}

// --- internal ---------------------------------------------------------------

func (h *Hub) targets() []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Subscription, 0, len(h.subs))
	for s := range h.subs {
		out = append(out, s)
	}
	return out
}

func (h *Hub) remove(s *Subscription) bool {
	h.mu.Lock()
	_, ok := h.subs[s]
	delete(h.subs, s)
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		h.metrics.SetSubscribers(n)
		slog.Debug("hub: subscriber removed", "id", s.id, "subscribers", n)
	}
	return ok
}

func (h *Hub) closeAll() {
	for _, s := range h.targets() {
		s.Close()
	}
}

func (h *Hub) handleFrame(ctx context.Context, frame []byte, mayCommand bool) twin.Ack {
	cmd, err := parseCommand(frame)
	if err != nil {
		return twin.Ack{Error: err.Error()}
	}
	if !mayCommand {
		return twin.Ack{Action: cmd.Action, Error: errUnauthorized}
	}

	h.mu.RLock()
	handler := h.commands
	h.mu.RUnlock()
	if handler == nil {
		return twin.Ack{Action: cmd.Action, Error: "commands disabled"}
	}

	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()
	ack, err := handler.Command(ctx, cmd)
	if err != nil && ack.Error == "" {
		ack.Error = err.Error()
	}
	return ack
}

var errBadCommand = errors.New("invalid command")

// errUnauthorized is the ack error for commands from read-only connections.
const errUnauthorized = "unauthorized"

// parseCommand accepts a bare command object or one wrapped in a
// {"event":"command","data":{...}} envelope.
func parseCommand(frame []byte) (twin.Command, error) {
	var env struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
		twin.Command
	}
	if err := json.Unmarshal(frame, &env); err != nil {
		return twin.Command{}, errBadCommand
	}
	if env.Event != "" && env.Event != EventCommand {
		return twin.Command{}, errBadCommand
	}
	cmd := env.Command
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, &cmd); err != nil {
			return twin.Command{}, errBadCommand
		}
	}
	if cmd.Action == "" {
		return twin.Command{}, errBadCommand
	}
	return cmd, nil
}

func encode(event string, data any) ([]byte, error) {
	return json.Marshal(Message{Event: event, Data: data})
}

// readPump reads client frames until the connection fails, handling each
// frame as a command.
func (h *Hub) readPump(conn *websocket.Conn, s *Subscription, mayCommand bool) {
	defer conn.Close()
	conn.SetReadLimit(maxFrame)
	conn.SetReadDeadline(time.Now().Add(pongWait)) //nolint:errcheck
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return
		}
		ack := h.handleFrame(context.Background(), frame, mayCommand)
		data, err := encode(EventAck, ack)
		if err != nil {
			continue
		}
		s.offer(data)
	}
}

// writePump drains the subscription queue and forwards messages to the
// connection. It also sends periodic ping frames. A failed write closes the
// subscription at once.
func writePump(conn *websocket.Conn, s *Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-s.C():
			conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if !ok {
				// Subscription closed (hub shutting down or client removed).
				conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Subscription is one subscriber's bounded outgoing queue.
type Subscription struct {
	id  string
	hub *Hub

	mu      sync.Mutex
	ch      chan []byte
	closed  bool
	seen    bool
	lastSeq uint64

	dropped atomic.Uint64
}

// ID returns the subscriber identifier used in logs.
func (s *Subscription) ID() string { return s.id }

// C returns the channel of encoded messages. It is closed when the
// subscription ends.
func (s *Subscription) C() <-chan []byte { return s.ch }

// Dropped returns how many messages were discarded because the queue was
// full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close removes the subscription from the hub and closes its channel. It is
// safe to call more than once.
func (s *Subscription) Close() {
	s.hub.remove(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// offerView queues a snapshot unless the subscriber already has one with the
// same or a newer sequence number.
func (s *Subscription) offerView(seq uint64, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.seen && seq <= s.lastSeq) {
		return
	}
	s.seen = true
	s.lastSeq = seq
	s.push(data)
}

func (s *Subscription) offer(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.push(data)
}

// push enqueues data, dropping the oldest queued message while the queue is
// full. Callers must hold s.mu.
func (s *Subscription) push(data []byte) {
	for {
		select {
		case s.ch <- data:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
			s.hub.metrics.BroadcastDropped()
		default:
		}
	}
}
