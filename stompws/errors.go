package stompws

import "errors"

// Transport error variables. Callers branch on these with errors.Is;
// Connect and the send path wrap them with operation context.
var (
	// ErrInvalidAddress indicates a broker URL that is not
	// ws://host:port[/path] with a numeric, positive port.
	ErrInvalidAddress = errors.New("stompws: invalid broker address")

	// ErrResolveFailed indicates the broker host did not resolve.
	ErrResolveFailed = errors.New("stompws: broker host resolution failed")

	// ErrHandshakeRejected indicates the HTTP upgrade was refused:
	// a non-101 status or a missing/incorrect Upgrade header.
	ErrHandshakeRejected = errors.New("stompws: websocket handshake rejected")

	// ErrConnectTimeout indicates the broker accepted the socket but
	// the handshake or STOMP negotiation did not finish in time.
	ErrConnectTimeout = errors.New("stompws: connect timeout")

	// ErrNotConnected indicates an operation that requires the
	// Connected state. No I/O has been attempted.
	ErrNotConnected = errors.New("stompws: not connected")

	// ErrAlreadyConnected indicates Connect on a connection that is
	// not in the Disconnected state.
	ErrAlreadyConnected = errors.New("stompws: connection already active")

	// ErrAlreadySubscribed indicates a second Subscribe call. The
	// transport carries exactly one subscription per connection.
	ErrAlreadySubscribed = errors.New("stompws: subscription already registered")

	// ErrFrameLength indicates a frame length field no conforming
	// peer can produce. Fatal for the connection.
	ErrFrameLength = errors.New("stompws: invalid frame length field")
)
