// Package stompws implements the service's broker transport: a
// WebSocket client built directly on TCP sockets carrying a STOMP
// message layer.
//
// The package has three layers:
//
//   - Frame codec: pure functions EncodeFrame and DecodeFrame translate
//     between byte payloads and RFC 6455 frames, including client-side
//     masking and the three-tier payload length encoding. DecodeFrame
//     reports the exact byte count consumed so callers can slice an
//     accumulating read buffer correctly.
//   - Opening handshake: the HTTP upgrade request/response exchange
//     that converts a fresh TCP connection into a WebSocket connection.
//   - Conn: the transport connection owning the socket, a background
//     receive goroutine, a mutex-serialized send path, and the
//     connection state machine. Inbound STOMP MESSAGE bodies are
//     demultiplexed to a single registered MessageHandler.
//
// TLS (wss://), WebSocket extensions, fragmented messages and multiple
// concurrent subscriptions are out of scope.
package stompws
