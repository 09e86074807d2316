// Package broadcast implements the Broadcaster (spec.md §4.5): a
// WebSocket server accepting subscriber connections, running the
// identification handshake, and fanning out typed messages to every
// identified subscriber.
//
// gorilla/websocket is the transport, grounded in the wider retrieved
// corpus rather than the teacher itself (the teacher's own HTTP
// surface is MJPEG/multipart, unsuited to a bidirectional control
// protocol). oklog/ulid/v2 mints subscriber ids.
package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/brightlinelabs/depthstream/internal/model"
	"github.com/brightlinelabs/depthstream/internal/servicelog"
)

// ServerVersion is reported in the welcome message.
const ServerVersion = "1.0.0"

// Config tunes the Broadcaster (spec.md §6.3 network.websocket).
type Config struct {
	Host                  string
	Port                  int
	IdentificationTimeout time.Duration
	MaxPortAttempts       int
}

// Inbound is a parsed subscriber message handed to the Supervisor,
// tagged with who sent it.
type Inbound struct {
	SubscriberID string
	Envelope     model.Envelope
	Raw          json.RawMessage
}

// LifecycleEvent discriminates connect/disconnect notifications.
type LifecycleEvent struct {
	Connected    bool
	SubscriberID string
	Info         model.SubscriberInfo
}

type subscriber struct {
	id    string
	conn  *websocket.Conn
	send  chan []byte
	info  model.SubscriberInfo

	mu    sync.Mutex
	state model.SubscriberState

	identTimer *time.Timer
	closeOnce  sync.Once
}

// Broadcaster owns the listener and every subscriber connection.
type Broadcaster struct {
	cfg    Config
	logger servicelog.Logger

	mu          sync.Mutex
	subscribers map[string]*subscriber
	listener    net.Listener
	server      *http.Server
	boundPort   int
	stopping    bool

	inbound   chan Inbound
	lifecycle chan LifecycleEvent

	wg sync.WaitGroup
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New constructs a Broadcaster. It does not bind a port until Start.
func New(cfg Config, logger servicelog.Logger) *Broadcaster {
	if cfg.IdentificationTimeout <= 0 {
		cfg.IdentificationTimeout = 10 * time.Second
	}
	if cfg.MaxPortAttempts <= 0 {
		cfg.MaxPortAttempts = 20
	}
	return &Broadcaster{
		cfg:         cfg,
		logger:      logger,
		subscribers: make(map[string]*subscriber),
		inbound:     make(chan Inbound, 64),
		lifecycle:   make(chan LifecycleEvent, 16),
	}
}

// Inbound is the channel of parsed subscriber messages (spec.md §4.5:
// "any parseable tagged message is forwarded to the Supervisor").
func (b *Broadcaster) Inbound() <-chan Inbound { return b.inbound }

// Lifecycle emits client_connected/client_disconnected notifications.
func (b *Broadcaster) Lifecycle() <-chan LifecycleEvent { return b.lifecycle }

// Start binds the listener, incrementing the port on conflict until
// one binds (spec.md §4.5 "Port conflict"), and begins serving.
// Returns the bound port. It gives up with an error after
// MaxPortAttempts consecutive ports fail to bind.
func (b *Broadcaster) Start() (int, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", b.handleConn)

	var ln net.Listener
	var err error
	port := b.cfg.Port
	for attempt := 0; attempt < b.cfg.MaxPortAttempts; attempt++ {
		addr := net.JoinHostPort(b.cfg.Host, strconv.Itoa(port))
		ln, err = net.Listen("tcp", addr)
		if err == nil {
			break
		}
		port++
	}
	if err != nil {
		return 0, fmt.Errorf("broadcast: no free port after %d attempts: %w", b.cfg.MaxPortAttempts, err)
	}
	if tcpAddr, ok := ln.Addr().(*net.TCPAddr); ok {
		port = tcpAddr.Port
	}

	b.mu.Lock()
	b.listener = ln
	b.boundPort = port
	b.server = &http.Server{Handler: mux}
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			b.logger.Error("broadcast listener stopped", servicelog.Error(err))
		}
	}()

	b.logger.Info("broadcaster listening", servicelog.Int("port", port))
	return port, nil
}

func (b *Broadcaster) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("websocket upgrade failed", servicelog.Error(err))
		return
	}

	sub := &subscriber{
		id:    ulid.Make().String(),
		conn:  conn,
		send:  make(chan []byte, 32),
		state: model.SubscriberConnecting,
	}

	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	b.sendServerIdentify(sub)

	sub.identTimer = time.AfterFunc(b.cfg.IdentificationTimeout, func() {
		sub.mu.Lock()
		stillConnecting := sub.state == model.SubscriberConnecting
		sub.mu.Unlock()
		if stillConnecting {
			identificationTimeoutsTotal.Inc()
			b.closeSubscriber(sub, websocket.CloseProtocolError, "identification timeout")
		}
	})

	go b.writePump(sub)
	b.readPump(sub)
}

func (b *Broadcaster) sendServerIdentify(sub *subscriber) {
	msg := model.IdentifyServer{Type: model.TypeIdentify, ClientID: sub.id}
	data, _ := json.Marshal(msg)
	select {
	case sub.send <- data:
	default:
	}
}

func (b *Broadcaster) readPump(sub *subscriber) {
	defer b.onDisconnect(sub)
	for {
		_, data, err := sub.conn.ReadMessage()
		if err != nil {
			return
		}

		sub.mu.Lock()
		state := sub.state
		sub.mu.Unlock()

		var env model.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			if state == model.SubscriberConnecting {
				b.closeSubscriber(sub, websocket.CloseProtocolError, "malformed message before identification")
				return
			}
			b.sendError(sub, "malformed message")
			continue
		}

		if state == model.SubscriberConnecting {
			if env.Type != model.TypeIdentify {
				b.closeSubscriber(sub, websocket.CloseProtocolError, "expected identify")
				return
			}
			var ident model.IdentifyClient
			if err := json.Unmarshal(data, &ident); err != nil {
				b.closeSubscriber(sub, websocket.CloseProtocolError, "malformed identify")
				return
			}
			b.completeIdentification(sub, ident)
			continue
		}

		select {
		case b.inbound <- Inbound{SubscriberID: sub.id, Envelope: env, Raw: append(json.RawMessage(nil), data...)}:
		default:
			b.logger.Warn("inbound channel full, dropping subscriber message")
		}
	}
}

func (b *Broadcaster) completeIdentification(sub *subscriber, ident model.IdentifyClient) {
	sub.mu.Lock()
	sub.state = model.SubscriberIdentified
	sub.info = model.SubscriberInfo{Name: ident.Name, Version: ident.Version, Platform: ident.Platform, Capabilities: ident.Capabilities}
	if sub.identTimer != nil {
		sub.identTimer.Stop()
	}
	sub.mu.Unlock()

	clientCountGauge.Inc()

	welcome := model.Welcome{
		Type:          model.TypeWelcome,
		SessionID:     sub.id,
		ServerVersion: ServerVersion,
		TimestampMs:   time.Now().UnixMilli(),
	}
	data, _ := json.Marshal(welcome)
	select {
	case sub.send <- data:
	default:
	}

	select {
	case b.lifecycle <- LifecycleEvent{Connected: true, SubscriberID: sub.id, Info: sub.info}:
	default:
	}
}

func (b *Broadcaster) sendError(sub *subscriber, message string) {
	data, _ := json.Marshal(model.ErrorMessage{Type: model.TypeError, Error: message})
	select {
	case sub.send <- data:
	default:
	}
}

func (b *Broadcaster) writePump(sub *subscriber) {
	for data := range sub.send {
		sub.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := sub.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (b *Broadcaster) onDisconnect(sub *subscriber) {
	sub.mu.Lock()
	wasIdentified := sub.state == model.SubscriberIdentified
	sub.state = model.SubscriberClosed
	sub.mu.Unlock()

	b.mu.Lock()
	delete(b.subscribers, sub.id)
	b.mu.Unlock()

	sub.closeOnce.Do(func() { close(sub.send) })
	sub.conn.Close()

	if wasIdentified {
		clientCountGauge.Dec()
		select {
		case b.lifecycle <- LifecycleEvent{Connected: false, SubscriberID: sub.id, Info: sub.info}:
		default:
		}
	}
}

func (b *Broadcaster) closeSubscriber(sub *subscriber, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	sub.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	sub.conn.Close()
}

// Broadcast serializes msg once and sends it to every Identified
// subscriber. A per-subscriber send error demotes that subscriber to
// Closing without aborting the broadcast to the rest.
func (b *Broadcaster) Broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("broadcast marshal failed", servicelog.Error(err))
		return
	}

	b.mu.Lock()
	targets := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	for _, sub := range targets {
		sub.mu.Lock()
		identified := sub.state == model.SubscriberIdentified
		sub.mu.Unlock()
		if !identified {
			continue
		}
		select {
		case sub.send <- data:
		default:
			sendErrorsTotal.Inc()
			sub.mu.Lock()
			sub.state = model.SubscriberClosing
			sub.mu.Unlock()
			b.closeSubscriber(sub, websocket.CloseMessageTooBig, "send buffer full")
		}
	}
}

// Send addresses a single subscriber.
func (b *Broadcaster) Send(id string, msg any) error {
	b.mu.Lock()
	sub, ok := b.subscribers[id]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("broadcast: unknown subscriber %q", id)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case sub.send <- data:
		return nil
	default:
		return fmt.Errorf("broadcast: subscriber %q send buffer full", id)
	}
}

// Stop closes every subscriber with code 1000 and shuts down the
// listener. Idempotent.
func (b *Broadcaster) Stop(ctx context.Context) error {
	b.mu.Lock()
	if b.stopping {
		b.mu.Unlock()
		return nil
	}
	b.stopping = true
	targets := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		targets = append(targets, sub)
	}
	server := b.server
	b.mu.Unlock()

	for _, sub := range targets {
		b.closeSubscriber(sub, websocket.CloseNormalClosure, "Service shutting down")
	}

	if server != nil {
		if err := server.Shutdown(ctx); err != nil {
			return err
		}
	}
	b.wg.Wait()
	return nil
}
