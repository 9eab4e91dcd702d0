// Package stomp builds and parses the STOMP 1.2 text frames that travel
// inside WebSocket frames between the service and the message broker.
//
// Only the subset of STOMP the broker contract needs is implemented:
// outbound CONNECT, SUBSCRIBE and SEND, inbound CONNECTED and MESSAGE.
// Every frame is NUL-terminated and carried in exactly one WebSocket
// text frame; cross-frame fragmentation is not supported.
package stomp

import (
	"bytes"
	"fmt"
)

// topicPrefix is the broker's destination namespace. All destinations
// used by this service are topics.
const topicPrefix = "/topic/"

// EventKind identifies the inbound frame variants the client reacts to.
type EventKind int

// Inbound event kinds.
const (
	// EventUnknown is any frame whose command the client does not handle.
	EventUnknown EventKind = iota
	// EventConnected is the broker's CONNECTED reply to our CONNECT.
	EventConnected
	// EventMessage carries a message body for the active subscription.
	EventMessage
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is the result of parsing one inbound STOMP frame.
type Event struct {
	Kind EventKind
	// Body is populated for EventMessage only.
	Body []byte
}

// BuildConnect returns the CONNECT frame sent immediately after the
// WebSocket handshake completes.
func BuildConnect() []byte {
	return []byte("CONNECT\naccept-version:1.2\nhost:/\n\n\x00")
}

// BuildSubscribe returns a SUBSCRIBE frame for the named destination
// with auto acknowledgement.
func BuildSubscribe(destination, subscriptionID string) []byte {
	var b bytes.Buffer
	b.WriteString("SUBSCRIBE\n")
	fmt.Fprintf(&b, "destination:%s%s\n", topicPrefix, destination)
	fmt.Fprintf(&b, "id:%s\n", subscriptionID)
	b.WriteString("ack:auto\n\n")
	b.WriteByte(0)
	return b.Bytes()
}

// BuildSend returns a SEND frame carrying body to the named destination.
// The body is declared as JSON with an explicit content-length so the
// broker does not scan for the NUL terminator.
func BuildSend(destination string, body []byte) []byte {
	var b bytes.Buffer
	b.WriteString("SEND\n")
	fmt.Fprintf(&b, "destination:%s%s\n", topicPrefix, destination)
	b.WriteString("content-type:application/json\n")
	fmt.Fprintf(&b, "content-length:%d\n\n", len(body))
	b.Write(body)
	b.WriteByte(0)
	return b.Bytes()
}

// Parse classifies one inbound STOMP frame by its command token.
//
// For MESSAGE frames the body is everything after the first blank-line
// separator with a trailing NUL stripped if present. Frames with
// commands the client does not handle parse as EventUnknown rather than
// erroring; a single unrecognized frame must not tear the connection
// down.
func Parse(payload []byte) Event {
	switch {
	case bytes.HasPrefix(payload, []byte("CONNECTED")):
		return Event{Kind: EventConnected}
	case bytes.HasPrefix(payload, []byte("MESSAGE")):
		sep := bytes.Index(payload, []byte("\n\n"))
		if sep < 0 {
			// Header block never terminated; treat as unrecognized.
			return Event{Kind: EventUnknown}
		}
		body := payload[sep+2:]
		body = bytes.TrimSuffix(body, []byte{0})
		return Event{Kind: EventMessage, Body: body}
	default:
		return Event{Kind: EventUnknown}
	}
}
