package stompws

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/atrbridge/stomp"
)

// State is the transport connection lifecycle state. Transitions are
// driven only by Connect/Disconnect and by receive-loop events.
type State int32

// Connection states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshakeInFlight
	StateStompNegotiating
	StateConnected
	StateClosing
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateHandshakeInFlight:
		return "handshake_in_flight"
	case StateStompNegotiating:
		return "stomp_negotiating"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// MessageHandler receives the body of each inbound STOMP MESSAGE frame.
//
// HandleMessage runs synchronously on the receive goroutine: there is
// no back-pressure mechanism, so a handler that blocks stalls all
// further inbound processing.
type MessageHandler interface {
	HandleMessage(body []byte)
}

// MessageHandlerFunc adapts a function to the MessageHandler interface.
type MessageHandlerFunc func(body []byte)

// HandleMessage implements MessageHandler.
func (f MessageHandlerFunc) HandleMessage(body []byte) { f(body) }

const (
	defaultConnectTimeout = 10 * time.Second
	subscriptionID        = "sub-0"
	readChunkSize         = 4096
)

// Conn is a STOMP-over-WebSocket client connection implemented directly
// on a TCP socket.
//
// One receive goroutine owns the socket reads and the inbound buffer
// for the lifetime of a connection. Any goroutine may Publish; complete
// frames are serialized through a single mutex so concurrent publishes
// never interleave bytes on the wire. Exactly one subscription with one
// handler is supported per connection.
type Conn struct {
	logger         *slog.Logger
	connectTimeout time.Duration

	state atomic.Int32

	mu   sync.Mutex // guards sock and lifecycle transitions
	sock net.Conn

	sendMu sync.Mutex // serializes outbound frames

	handlerMu  sync.Mutex
	handler    MessageHandler
	subscribed bool

	connectedCh   chan struct{}
	connectedOnce *sync.Once

	wg sync.WaitGroup
}

// Option configures a Conn.
type Option func(*Conn)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Conn) { c.logger = logger }
}

// WithConnectTimeout bounds the TCP dial, the websocket handshake and
// the wait for the broker's CONNECTED frame. Defaults to 10s.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *Conn) { c.connectTimeout = d }
}

// NewConn creates an unconnected transport connection.
func NewConn(opts ...Option) *Conn {
	c := &Conn{
		logger:         slog.Default(),
		connectTimeout: defaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "stompws")
	return c
}

// State returns the current connection state.
func (c *Conn) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether the connection is in the Connected state.
// It may race benignly with an in-flight close; callers must still
// handle ErrNotConnected from operations.
func (c *Conn) IsConnected() bool {
	return c.State() == StateConnected
}

// Connect establishes the full transport stack against the broker at
// rawURL ("ws://host:port[/path]"): TCP dial, websocket opening
// handshake, STOMP CONNECT, and the wait for the broker's CONNECTED
// reply. On success the receive goroutine is running and the state is
// Connected. On any failure the socket is closed, no receive goroutine
// survives, and the state is Disconnected; Connect never partially
// connects.
func (c *Conn) Connect(ctx context.Context, rawURL string) error {
	if !c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return ErrAlreadyConnected
	}
	// A subscription's lifetime is the lifetime of one connection.
	c.resetHandler()

	addr, err := ParseBrokerURL(rawURL)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return err
	}

	if _, err := net.ResolveTCPAddr("tcp", addr.HostPort()); err != nil {
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("%w: %q: %v", ErrResolveFailed, addr.Host, err)
	}

	dialer := net.Dialer{Timeout: c.connectTimeout}
	sock, err := dialer.DialContext(ctx, "tcp", addr.HostPort())
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("dial %s: %w", addr.HostPort(), err)
	}

	c.state.Store(int32(StateHandshakeInFlight))
	// A dead peer must not block the handshake read forever.
	_ = sock.SetReadDeadline(time.Now().Add(c.connectTimeout))
	leftover, err := clientHandshake(sock, addr)
	if err != nil {
		_ = sock.Close()
		c.state.Store(int32(StateDisconnected))
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return fmt.Errorf("%w: handshake: %v", ErrConnectTimeout, err)
		}
		return err
	}
	_ = sock.SetReadDeadline(time.Time{})

	c.mu.Lock()
	c.sock = sock
	c.connectedCh = make(chan struct{})
	c.connectedOnce = new(sync.Once)
	connected := c.connectedCh
	c.mu.Unlock()

	if err := c.writeFrame(sock, stomp.BuildConnect()); err != nil {
		_ = sock.Close()
		c.clearSock()
		c.state.Store(int32(StateDisconnected))
		return fmt.Errorf("send STOMP CONNECT: %w", err)
	}

	c.state.Store(int32(StateStompNegotiating))
	c.wg.Add(1)
	go c.readLoop(sock, leftover)

	select {
	case <-connected:
		c.logger.Info("broker connection established", "broker", rawURL)
		return nil
	case <-time.After(c.connectTimeout):
		c.teardown(sock)
		return fmt.Errorf("%w: no CONNECTED frame from broker", ErrConnectTimeout)
	case <-ctx.Done():
		c.teardown(sock)
		return fmt.Errorf("connect canceled: %w", ctx.Err())
	}
}

// Subscribe registers the single message handler and sends a STOMP
// SUBSCRIBE frame for destination. It requires the Connected state and
// performs no I/O otherwise. A second Subscribe on a live connection is
// rejected.
func (c *Conn) Subscribe(destination string, h MessageHandler) error {
	if c.State() != StateConnected {
		return fmt.Errorf("subscribe %q: %w", destination, ErrNotConnected)
	}

	c.handlerMu.Lock()
	if c.subscribed {
		c.handlerMu.Unlock()
		return fmt.Errorf("subscribe %q: %w", destination, ErrAlreadySubscribed)
	}
	// Registered before the SUBSCRIBE frame goes out so a broker that
	// delivers immediately cannot race past a nil handler.
	c.handler = h
	c.subscribed = true
	c.handlerMu.Unlock()

	sock := c.socket()
	if sock == nil {
		c.resetHandler()
		return fmt.Errorf("subscribe %q: %w", destination, ErrNotConnected)
	}
	if err := c.writeFrame(sock, stomp.BuildSubscribe(destination, subscriptionID)); err != nil {
		c.resetHandler()
		return fmt.Errorf("subscribe %q: send failed: %w", destination, err)
	}

	c.logger.Info("subscribed", "destination", destination, "id", subscriptionID)
	return nil
}

// Publish sends body to destination as a STOMP SEND frame. It requires
// the Connected state and performs no I/O otherwise. Concurrent
// publishes are safe; each produces one complete frame on the wire.
func (c *Conn) Publish(destination string, body []byte) error {
	if c.State() != StateConnected {
		return fmt.Errorf("publish %q: %w", destination, ErrNotConnected)
	}
	sock := c.socket()
	if sock == nil {
		return fmt.Errorf("publish %q: %w", destination, ErrNotConnected)
	}
	if err := c.writeFrame(sock, stomp.BuildSend(destination, body)); err != nil {
		return fmt.Errorf("publish %q: send failed: %w", destination, err)
	}
	return nil
}

// Disconnect closes the connection and joins the receive goroutine.
// It is idempotent and bounded: closing the socket deterministically
// unblocks a receive loop stuck in a read. Close-time socket errors are
// ignored.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	sock := c.sock
	c.sock = nil
	c.mu.Unlock()

	if sock == nil {
		// Never connected, or a previous Disconnect finished.
		if c.State() != StateDisconnected {
			c.state.Store(int32(StateDisconnected))
		}
		return
	}

	c.state.Store(int32(StateClosing))
	_ = sock.Close()
	c.wg.Wait()
	c.resetHandler()
	c.state.Store(int32(StateDisconnected))
	c.logger.Info("disconnected from broker")
}

// readLoop is the receive task. It owns the socket reads and the
// inbound buffer exclusively; nothing else may touch either.
func (c *Conn) readLoop(sock net.Conn, buf []byte) {
	defer c.wg.Done()

	chunk := make([]byte, readChunkSize)
	for {
		// Drain every complete frame before reading again: one
		// read may have carried several frames, and the buffer
		// shrinks by exactly the consumed count each time.
		for {
			frame, consumed, err := DecodeFrame(buf)
			if err != nil {
				c.logger.Error("dropping connection on malformed frame", "error", err)
				c.abortFromLoop(sock)
				return
			}
			if frame == nil {
				break
			}
			buf = buf[consumed:]
			if !c.dispatch(frame) {
				c.abortFromLoop(sock)
				return
			}
		}

		n, err := sock.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if c.State() != StateClosing {
				c.logger.Warn("broker connection lost", "error", err)
				c.state.Store(int32(StateDisconnected))
				_ = sock.Close()
			}
			return
		}
	}
}

// dispatch forwards one decoded frame to the STOMP layer. It returns
// false when the connection must terminate.
func (c *Conn) dispatch(frame *Frame) bool {
	switch frame.Opcode {
	case opcodeText:
	case opcodeClose:
		c.logger.Info("broker sent close frame")
		return false
	default:
		c.logger.Debug("ignoring frame", "opcode", frame.Opcode)
		return true
	}

	ev := stomp.Parse(frame.Payload)
	switch ev.Kind {
	case stomp.EventConnected:
		c.logger.Info("STOMP session confirmed by broker")
		c.mu.Lock()
		once, ch := c.connectedOnce, c.connectedCh
		c.mu.Unlock()
		if once != nil {
			once.Do(func() {
				c.state.CompareAndSwap(int32(StateStompNegotiating), int32(StateConnected))
				close(ch)
			})
		}
	case stomp.EventMessage:
		c.handlerMu.Lock()
		h := c.handler
		c.handlerMu.Unlock()
		if h == nil {
			c.logger.Debug("message received with no subscription handler", "bytes", len(ev.Body))
			return true
		}
		h.HandleMessage(ev.Body)
	default:
		// A single malformed or unhandled STOMP frame is dropped;
		// it must not terminate the receive loop.
		c.logger.Warn("dropping unrecognized STOMP frame", "bytes", len(frame.Payload))
	}
	return true
}

// abortFromLoop terminates the connection from inside the receive loop.
func (c *Conn) abortFromLoop(sock net.Conn) {
	if c.State() != StateClosing {
		c.state.Store(int32(StateDisconnected))
	}
	_ = sock.Close()
}

// teardown closes the socket and joins the receive goroutine after a
// failed STOMP negotiation.
func (c *Conn) teardown(sock net.Conn) {
	c.state.Store(int32(StateClosing))
	_ = sock.Close()
	c.wg.Wait()
	c.clearSock()
	c.state.Store(int32(StateDisconnected))
}

// writeFrame encodes payload and writes it as one frame under the send
// lock.
func (c *Conn) writeFrame(sock net.Conn, payload []byte) error {
	frame := EncodeFrame(payload)
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_, err := sock.Write(frame)
	return err
}

func (c *Conn) socket() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock
}

func (c *Conn) clearSock() {
	c.mu.Lock()
	c.sock = nil
	c.mu.Unlock()
}

func (c *Conn) resetHandler() {
	c.handlerMu.Lock()
	c.handler = nil
	c.subscribed = false
	c.handlerMu.Unlock()
}
