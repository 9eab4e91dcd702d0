// Package testutil provides an in-process STOMP-over-WebSocket broker
// for integration tests. The broker accepts one client at a time,
// answers CONNECT with CONNECTED, records subscriptions and published
// messages, and can inject MESSAGE frames toward the client.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Publish is one SEND frame captured from the client.
type Publish struct {
	Destination string
	Body        string
}

// Broker is a minimal STOMP broker backed by httptest.
type Broker struct {
	t      *testing.T
	server *httptest.Server

	mu            sync.Mutex
	conn          *websocket.Conn
	subscriptions []string
	publishes     []Publish

	publishCh   chan Publish
	subscribeCh chan string
}

var upgrader = websocket.Upgrader{
	Subprotocols: []string{"stomp"},
	// Tests connect from ephemeral origins.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewBroker starts a broker on a random local port. It is shut down
// automatically when the test finishes.
func NewBroker(t *testing.T) *Broker {
	t.Helper()
	b := &Broker{
		t:           t,
		publishCh:   make(chan Publish, 64),
		subscribeCh: make(chan string, 8),
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.Close)
	return b
}

// URL returns the broker address in ws:// form.
func (b *Broker) URL() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http")
}

// Close shuts the broker down and drops any connected client.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	b.mu.Unlock()
	b.server.Close()
}

func (b *Broker) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	b.mu.Lock()
	b.conn = conn
	b.mu.Unlock()

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		b.handleFrame(conn, string(payload))
	}
}

func (b *Broker) handleFrame(conn *websocket.Conn, frame string) {
	frame = strings.TrimSuffix(frame, "\x00")
	command, rest, _ := strings.Cut(frame, "\n")

	switch command {
	case "CONNECT":
		connected := "CONNECTED\nversion:1.2\nheart-beat:0,0\n\n\x00"
		if err := conn.WriteMessage(websocket.TextMessage, []byte(connected)); err != nil {
			b.t.Logf("broker: write CONNECTED: %v", err)
		}

	case "SUBSCRIBE":
		dest := headerValue(rest, "destination")
		b.mu.Lock()
		b.subscriptions = append(b.subscriptions, dest)
		b.mu.Unlock()
		b.subscribeCh <- dest

	case "SEND":
		headers, body, _ := strings.Cut(rest, "\n\n")
		pub := Publish{
			Destination: headerValue(headers, "destination"),
			Body:        body,
		}
		b.mu.Lock()
		b.publishes = append(b.publishes, pub)
		b.mu.Unlock()
		b.publishCh <- pub
	}
}

func headerValue(headers, name string) string {
	for _, line := range strings.Split(headers, "\n") {
		if value, ok := strings.CutPrefix(line, name+":"); ok {
			return value
		}
	}
	return ""
}

// Inject delivers a MESSAGE frame for the given destination to the
// connected client. The destination is the bare name, without the
// /topic/ prefix.
func (b *Broker) Inject(destination, body string) error {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		b.t.Fatal("broker: no client connected")
	}

	frame := "MESSAGE\n" +
		"destination:/topic/" + destination + "\n" +
		"message-id:msg-1\n" +
		"subscription:sub-0\n\n" +
		body + "\x00"
	return conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

// WaitForSubscription blocks until the client subscribes or the
// timeout elapses, returning the subscribed destination.
func (b *Broker) WaitForSubscription(timeout time.Duration) (string, bool) {
	select {
	case dest := <-b.subscribeCh:
		return dest, true
	case <-time.After(timeout):
		return "", false
	}
}

// WaitForPublish blocks until the client publishes a message or the
// timeout elapses.
func (b *Broker) WaitForPublish(timeout time.Duration) (Publish, bool) {
	select {
	case pub := <-b.publishCh:
		return pub, true
	case <-time.After(timeout):
		return Publish{}, false
	}
}

// Publishes returns a snapshot of every SEND captured so far.
func (b *Broker) Publishes() []Publish {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Publish(nil), b.publishes...)
}

// Subscriptions returns a snapshot of every subscribed destination.
func (b *Broker) Subscriptions() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.subscriptions...)
}
