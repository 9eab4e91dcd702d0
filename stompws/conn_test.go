package stompws

import (
	"bufio"
	"context"
	"crypto/sha1" //nolint:gosec // RFC 6455 Section 1.3 requires SHA-1
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBroker is a minimal STOMP-over-WebSocket server speaking raw TCP,
// so tests can coalesce frames into single writes and misbehave during
// the handshake in ways a well-behaved server library cannot.
type fakeBroker struct {
	t  *testing.T
	ln net.Listener

	// handshakeReply overrides the 101 response when non-empty.
	handshakeReply string
	// suppressConnected stops the automatic CONNECTED reply.
	suppressConnected bool
	// earlyConnected writes the CONNECTED frame in the same TCP
	// write as the 101 response, before any CONNECT arrives.
	earlyConnected bool

	ready  chan struct{}
	frames chan []byte // decoded client STOMP payloads

	mu   sync.Mutex
	conn net.Conn
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	fb := &fakeBroker{
		t:      t,
		ln:     ln,
		ready:  make(chan struct{}),
		frames: make(chan []byte, 64),
	}
	t.Cleanup(fb.close)
	return fb
}

func (fb *fakeBroker) start() {
	go fb.serve()
}

func (fb *fakeBroker) url() string {
	return "ws://" + fb.ln.Addr().String() + "/ws"
}

func (fb *fakeBroker) serve() {
	conn, err := fb.ln.Accept()
	if err != nil {
		return
	}
	fb.mu.Lock()
	fb.conn = conn
	fb.mu.Unlock()

	reader := bufio.NewReader(conn)
	req, err := http.ReadRequest(reader)
	if err != nil {
		return
	}

	if fb.handshakeReply != "" {
		_, _ = conn.Write([]byte(fb.handshakeReply))
		close(fb.ready)
		return
	}

	accept := acceptKey(req.Header.Get("Sec-WebSocket-Key"))
	reply := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + accept + "\r\n\r\n"
	if fb.earlyConnected {
		reply += string(serverTextFrame([]byte("CONNECTED\nversion:1.2\n\n\x00")))
	}
	if _, err := conn.Write([]byte(reply)); err != nil {
		return
	}
	close(fb.ready)

	var buf []byte
	chunk := make([]byte, 4096)
	for {
		for {
			frame, consumed, err := DecodeFrame(buf)
			if err != nil || frame == nil {
				break
			}
			buf = buf[consumed:]
			payload := frame.Payload
			if len(payload) >= len("CONNECT\n") && string(payload[:8]) == "CONNECT\n" &&
				!fb.suppressConnected && !fb.earlyConnected {
				_, _ = conn.Write(serverTextFrame([]byte("CONNECTED\nversion:1.2\n\n\x00")))
			}
			fb.frames <- payload
		}
		n, err := reader.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			return
		}
	}
}

// send writes one unmasked server text frame.
func (fb *fakeBroker) send(payload []byte) {
	fb.sendRaw(serverTextFrame(payload))
}

// sendRaw writes bytes verbatim, letting tests coalesce several frames
// into one TCP segment.
func (fb *fakeBroker) sendRaw(b []byte) {
	fb.mu.Lock()
	conn := fb.conn
	fb.mu.Unlock()
	require.NotNil(fb.t, conn, "broker has no client connection")
	_, err := conn.Write(b)
	require.NoError(fb.t, err)
}

func (fb *fakeBroker) close() {
	_ = fb.ln.Close()
	fb.mu.Lock()
	if fb.conn != nil {
		_ = fb.conn.Close()
	}
	fb.mu.Unlock()
}

// nextFrame waits for the next client STOMP payload.
func (fb *fakeBroker) nextFrame(t *testing.T) []byte {
	t.Helper()
	select {
	case payload := <-fb.frames:
		return payload
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return nil
	}
}

// serverTextFrame encodes an unmasked server-to-client text frame.
func serverTextFrame(payload []byte) []byte {
	var frame []byte
	switch {
	case len(payload) <= payloadLen7Bit:
		frame = append(frame, 0x80|opcodeText, byte(len(payload)))
	case len(payload) <= 0xFFFF:
		frame = append(frame, 0x80|opcodeText, payloadLen16Bit)
		frame = binary.BigEndian.AppendUint16(frame, uint16(len(payload)))
	default:
		frame = append(frame, 0x80|opcodeText, payloadLen64Bit)
		frame = binary.BigEndian.AppendUint64(frame, uint64(len(payload)))
	}
	return append(frame, payload...)
}

func acceptKey(key string) string {
	h := sha1.New() //nolint:gosec // RFC 6455 Section 1.3
	h.Write([]byte(key + "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

func messageFrame(body string) []byte {
	return []byte("MESSAGE\ndestination:/topic/FileLocation_uci\nmessage-id:1\nsubscription:sub-0\n\n" + body + "\x00")
}

func connectedConn(t *testing.T, fb *fakeBroker) *Conn {
	t.Helper()
	fb.start()
	c := NewConn(WithConnectTimeout(2 * time.Second))
	require.NoError(t, c.Connect(context.Background(), fb.url()))
	t.Cleanup(c.Disconnect)
	return c
}

func TestConnect_Success(t *testing.T) {
	fb := newFakeBroker(t)
	c := connectedConn(t, fb)

	assert.True(t, c.IsConnected())
	assert.Equal(t, StateConnected, c.State())

	// First thing on the wire must be the STOMP CONNECT frame.
	frame := fb.nextFrame(t)
	assert.Contains(t, string(frame), "CONNECT\naccept-version:1.2\nhost:/\n\n")
}

func TestConnect_EarlyConnectedInHandshakeRead(t *testing.T) {
	// A fast broker may write the CONNECTED frame close enough to
	// the 101 response that both land in one handshake read. The
	// leftover bytes must seed the inbound buffer, not vanish.
	fb := newFakeBroker(t)
	fb.earlyConnected = true
	c := connectedConn(t, fb)
	assert.True(t, c.IsConnected())
}

func TestConnect_WhileActive(t *testing.T) {
	fb := newFakeBroker(t)
	c := connectedConn(t, fb)
	assert.ErrorIs(t, c.Connect(context.Background(), fb.url()), ErrAlreadyConnected)
}

func TestConnect_InvalidAddress(t *testing.T) {
	c := NewConn()
	err := c.Connect(context.Background(), "amqp://broker:5672")
	assert.ErrorIs(t, err, ErrInvalidAddress)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnect_ResolveFailed(t *testing.T) {
	c := NewConn(WithConnectTimeout(2 * time.Second))
	err := c.Connect(context.Background(), "ws://no-such-host.invalid:61614")
	assert.ErrorIs(t, err, ErrResolveFailed)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnect_SocketRefused(t *testing.T) {
	// Reserve a port, then close it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	c := NewConn(WithConnectTimeout(2 * time.Second))
	err = c.Connect(context.Background(), "ws://"+addr)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidAddress)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnect_HandshakeRejected_Non101(t *testing.T) {
	fb := newFakeBroker(t)
	fb.handshakeReply = "HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"
	fb.start()

	c := NewConn(WithConnectTimeout(2 * time.Second))
	err := c.Connect(context.Background(), fb.url())
	assert.ErrorIs(t, err, ErrHandshakeRejected)
	assert.Equal(t, StateDisconnected, c.State())
	assert.False(t, c.IsConnected())
}

func TestConnect_HandshakeRejected_MissingUpgrade(t *testing.T) {
	fb := newFakeBroker(t)
	fb.handshakeReply = "HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\n\r\n"
	fb.start()

	c := NewConn(WithConnectTimeout(2 * time.Second))
	err := c.Connect(context.Background(), fb.url())
	assert.ErrorIs(t, err, ErrHandshakeRejected)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestConnect_UpgradeHeaderCaseInsensitive(t *testing.T) {
	fb := newFakeBroker(t)
	// Hand-written reply with unusual casing; still a valid accept.
	fb.handshakeReply = "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: WebSocket\r\n" +
		"Connection: Upgrade\r\n\r\n" +
		string(serverTextFrame([]byte("CONNECTED\nversion:1.2\n\n\x00")))
	fb.start()

	c := NewConn(WithConnectTimeout(2 * time.Second))
	require.NoError(t, c.Connect(context.Background(), fb.url()))
	t.Cleanup(c.Disconnect)
	assert.True(t, c.IsConnected())
}

func TestConnect_TimeoutWithoutConnectedFrame(t *testing.T) {
	fb := newFakeBroker(t)
	fb.suppressConnected = true
	fb.start()

	c := NewConn(WithConnectTimeout(300 * time.Millisecond))
	err := c.Connect(context.Background(), fb.url())
	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestSubscribePublish_NotConnected(t *testing.T) {
	c := NewConn()

	err := c.Subscribe("FileLocation_uci", MessageHandlerFunc(func([]byte) {}))
	assert.ErrorIs(t, err, ErrNotConnected)

	err = c.Publish("Entity_uci", []byte("{}"))
	assert.ErrorIs(t, err, ErrNotConnected)

	assert.Equal(t, StateDisconnected, c.State())
}

func TestSubscribe_FrameAndSingleSubscription(t *testing.T) {
	fb := newFakeBroker(t)
	c := connectedConn(t, fb)
	fb.nextFrame(t) // CONNECT

	require.NoError(t, c.Subscribe("FileLocation_uci", MessageHandlerFunc(func([]byte) {})))
	frame := string(fb.nextFrame(t))
	assert.Contains(t, frame, "SUBSCRIBE\n")
	assert.Contains(t, frame, "destination:/topic/FileLocation_uci\n")
	assert.Contains(t, frame, "id:sub-0\n")
	assert.Contains(t, frame, "ack:auto\n")

	err := c.Subscribe("Other_uci", MessageHandlerFunc(func([]byte) {}))
	assert.ErrorIs(t, err, ErrAlreadySubscribed)
}

func TestPublish_FrameOnWire(t *testing.T) {
	fb := newFakeBroker(t)
	c := connectedConn(t, fb)
	fb.nextFrame(t) // CONNECT

	body := `{"Entity":{"id":1}}`
	require.NoError(t, c.Publish("Entity_uci", []byte(body)))

	frame := string(fb.nextFrame(t))
	assert.Contains(t, frame, "SEND\n")
	assert.Contains(t, frame, "destination:/topic/Entity_uci\n")
	assert.Contains(t, frame, "content-type:application/json\n")
	assert.Contains(t, frame, fmt.Sprintf("content-length:%d\n", len(body)))
	assert.Contains(t, frame, body)
}

func TestMessageDispatch(t *testing.T) {
	fb := newFakeBroker(t)
	c := connectedConn(t, fb)

	bodies := make(chan string, 8)
	require.NoError(t, c.Subscribe("FileLocation_uci", MessageHandlerFunc(func(b []byte) {
		bodies <- string(b)
	})))

	fb.send(messageFrame(`{"path":"/data/a.nitf"}`))

	select {
	case body := <-bodies:
		assert.Equal(t, `{"path":"/data/a.nitf"}`, body)
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
}

// Two MESSAGE frames coalesced into one TCP write must both reach the
// handler: the receive loop trims exactly the consumed byte count per
// frame instead of clearing the buffer.
func TestMessageDispatch_CoalescedFrames(t *testing.T) {
	fb := newFakeBroker(t)
	c := connectedConn(t, fb)

	bodies := make(chan string, 8)
	require.NoError(t, c.Subscribe("FileLocation_uci", MessageHandlerFunc(func(b []byte) {
		bodies <- string(b)
	})))

	coalesced := append(serverTextFrame(messageFrame("first")), serverTextFrame(messageFrame("second"))...)
	fb.sendRaw(coalesced)

	for _, want := range []string{"first", "second"} {
		select {
		case body := <-bodies:
			assert.Equal(t, want, body)
		case <-time.After(2 * time.Second):
			t.Fatalf("did not receive %q", want)
		}
	}
}

func TestConcurrentPublish_NoInterleaving(t *testing.T) {
	fb := newFakeBroker(t)
	c := connectedConn(t, fb)
	fb.nextFrame(t) // CONNECT

	const publishers = 8
	var wg sync.WaitGroup
	for i := 0; i < publishers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf(`{"publisher":%d}`, i)
			assert.NoError(t, c.Publish("Entity_uci", []byte(body)))
		}(i)
	}
	wg.Wait()

	// The broker's decode loop only yields complete frames; seeing
	// all N distinct bodies proves no interleaving corrupted any.
	seen := make(map[string]bool)
	for i := 0; i < publishers; i++ {
		frame := string(fb.nextFrame(t))
		assert.Contains(t, frame, "SEND\n")
		seen[frame] = true
	}
	assert.Len(t, seen, publishers)
}

func TestDisconnect_Idempotent(t *testing.T) {
	fb := newFakeBroker(t)
	c := connectedConn(t, fb)

	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())
	c.Disconnect()
	assert.Equal(t, StateDisconnected, c.State())
}

func TestRemoteClose_EndsReceiveLoop(t *testing.T) {
	fb := newFakeBroker(t)
	c := connectedConn(t, fb)

	fb.close()

	assert.Eventually(t, func() bool {
		return c.State() == StateDisconnected
	}, 2*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, c.Publish("Entity_uci", []byte("{}")), ErrNotConnected)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "handshake_in_flight", StateHandshakeInFlight.String())
	assert.Equal(t, "stomp_negotiating", StateStompNegotiating.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "closing", StateClosing.String())
	assert.Equal(t, "unknown", State(99).String())
}
