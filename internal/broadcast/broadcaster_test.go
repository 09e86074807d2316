package broadcast

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brightlinelabs/depthstream/internal/model"
	"github.com/brightlinelabs/depthstream/internal/servicelog"
)

func noopLogger(t *testing.T) servicelog.Logger {
	t.Helper()
	l, err := servicelog.New(servicelog.Options{})
	if err != nil {
		t.Fatalf("servicelog.New: %v", err)
	}
	return l
}

func dial(t *testing.T, port int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://127.0.0.1:"+strconv.Itoa(port)+"/", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func identify(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	var greet model.IdentifyServer
	if err := conn.ReadJSON(&greet); err != nil {
		t.Fatalf("read server identify: %v", err)
	}
	if greet.Type != model.TypeIdentify {
		t.Fatalf("expected identify greeting, got %q", greet.Type)
	}
	ident := model.IdentifyClient{Type: model.TypeIdentify, Name: "test-client", Version: "1.0"}
	if err := conn.WriteJSON(ident); err != nil {
		t.Fatalf("write identify: %v", err)
	}
	var welcome model.Welcome
	if err := conn.ReadJSON(&welcome); err != nil {
		t.Fatalf("read welcome: %v", err)
	}
	if welcome.Type != model.TypeWelcome {
		t.Fatalf("expected welcome, got %q", welcome.Type)
	}
}

func TestIdentificationHandshakeCompletes(t *testing.T) {
	b := New(Config{Host: "127.0.0.1", Port: 0}, noopLogger(t))
	port, err := b.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop(context.Background())

	conn := dial(t, port)
	defer conn.Close()
	identify(t, conn)

	select {
	case lc := <-b.Lifecycle():
		if !lc.Connected {
			t.Fatalf("expected a connect lifecycle event, got %+v", lc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected a lifecycle connect event")
	}
}

func TestBroadcastReachesIdentifiedSubscriber(t *testing.T) {
	b := New(Config{Host: "127.0.0.1", Port: 0}, noopLogger(t))
	port, err := b.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop(context.Background())

	conn := dial(t, port)
	defer conn.Close()
	identify(t, conn)

	b.Broadcast(model.FrameMessage{Type: model.TypeFrame, SensorType: model.KindDepth, Data: "payload"})

	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read broadcast: %v", err)
	}
	var msg model.FrameMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal broadcast: %v", err)
	}
	if msg.Type != model.TypeFrame || msg.SensorType != model.KindDepth {
		t.Fatalf("unexpected broadcast payload: %+v", msg)
	}
}

func TestInboundMessageForwardedAfterIdentification(t *testing.T) {
	b := New(Config{Host: "127.0.0.1", Port: 0}, noopLogger(t))
	port, err := b.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop(context.Background())

	conn := dial(t, port)
	defer conn.Close()
	identify(t, conn)

	cmd := model.StartSensorCommand{Type: model.TypeStartSensor, SensorType: model.KindColor}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("write command: %v", err)
	}

	select {
	case in := <-b.Inbound():
		if in.Envelope.Type != model.TypeStartSensor {
			t.Fatalf("expected startSensor envelope, got %+v", in.Envelope)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected an inbound message")
	}
}

func TestPreIdentifyMalformedMessageClosesConnection(t *testing.T) {
	b := New(Config{Host: "127.0.0.1", Port: 0}, noopLogger(t))
	port, err := b.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop(context.Background())

	conn := dial(t, port)
	defer conn.Close()

	var greet model.IdentifyServer
	if err := conn.ReadJSON(&greet); err != nil {
		t.Fatalf("read server identify: %v", err)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed for malformed traffic before identification")
	}
}

func TestPreIdentifyNonIdentifyMessageClosesConnection(t *testing.T) {
	b := New(Config{Host: "127.0.0.1", Port: 0}, noopLogger(t))
	port, err := b.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Stop(context.Background())

	conn := dial(t, port)
	defer conn.Close()

	var greet model.IdentifyServer
	if err := conn.ReadJSON(&greet); err != nil {
		t.Fatalf("read server identify: %v", err)
	}

	if err := conn.WriteJSON(model.FrameMessage{Type: model.TypeFrame}); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected the connection to be closed for skipping identification")
	}
}
