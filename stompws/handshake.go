package stompws

import (
	"bufio"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// subprotocol advertised in the upgrade request. The broker's echo is
// not strictly validated; some STOMP brokers omit it.
const subprotocol = "stomp"

// clientHandshake performs the RFC 6455 opening handshake on an
// established TCP connection.
//
// It sends the HTTP upgrade request and validates that the response
// carries status 101 and a case-insensitive "Upgrade: websocket"
// header. The caller bounds the exchange with a read deadline on conn.
//
// The returned byte slice holds any bytes the response reader buffered
// past the end of the HTTP response; a fast broker may have already
// written WebSocket frames. The caller must seed its inbound buffer
// with them or they are lost.
func clientHandshake(conn net.Conn, addr BrokerAddress) ([]byte, error) {
	key, err := newSecKey()
	if err != nil {
		return nil, fmt.Errorf("generate Sec-WebSocket-Key: %w", err)
	}

	var req strings.Builder
	fmt.Fprintf(&req, "GET %s HTTP/1.1\r\n", addr.Path)
	fmt.Fprintf(&req, "Host: %s\r\n", addr.HostPort())
	req.WriteString("Upgrade: websocket\r\n")
	req.WriteString("Connection: Upgrade\r\n")
	fmt.Fprintf(&req, "Sec-WebSocket-Key: %s\r\n", key)
	req.WriteString("Sec-WebSocket-Version: 13\r\n")
	fmt.Fprintf(&req, "Sec-WebSocket-Protocol: %s\r\n", subprotocol)
	req.WriteString("\r\n")

	if _, err := conn.Write([]byte(req.String())); err != nil {
		return nil, fmt.Errorf("write upgrade request: %w", err)
	}

	reader := bufio.NewReader(conn)
	resp, err := http.ReadResponse(reader, &http.Request{Method: http.MethodGet})
	if err != nil {
		return nil, fmt.Errorf("read upgrade response: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusSwitchingProtocols {
		return nil, fmt.Errorf("%w: status %d", ErrHandshakeRejected, resp.StatusCode)
	}
	if !strings.EqualFold(resp.Header.Get("Upgrade"), "websocket") {
		return nil, fmt.Errorf("%w: Upgrade header %q", ErrHandshakeRejected, resp.Header.Get("Upgrade"))
	}

	// Drain whatever the reader buffered beyond the response.
	leftover := make([]byte, reader.Buffered())
	if len(leftover) > 0 {
		if _, err := io.ReadFull(reader, leftover); err != nil {
			return nil, fmt.Errorf("drain handshake reader: %w", err)
		}
	}
	return leftover, nil
}

// newSecKey returns the base64 of a random 16-byte nonce per RFC 6455
// Section 4.1.
func newSecKey() (string, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(nonce), nil
}
