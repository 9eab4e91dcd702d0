// Package atrbridge connects an automatic target recognition pipeline
// to a STOMP-over-WebSocket message broker.
//
// The service subscribes to FileLocation notifications, runs the
// configured inference engine on each referenced imagery file, filters
// detections by a confidence threshold, and publishes UCI Entity
// messages plus a per-batch processing result back to the broker.
//
// Package layout:
//
//   - stompws: the transport, a WebSocket client built directly on a
//     TCP socket with its own frame codec and opening handshake
//   - stomp: STOMP 1.2 frame construction and parsing
//   - uci: UCI JSON message bodies (parse inbound, build outbound)
//   - inference: the detection engine boundary and a mock engine
//   - service: the pipeline wiring transport, engine and messages
//   - config, errors, metric, pkg/retry: ambient infrastructure
//   - cmd/atrbridge: the binary
package atrbridge
