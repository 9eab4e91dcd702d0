package stompws

import (
	"crypto/rand"
	"encoding/binary"
)

// Opcode values from RFC 6455 Section 5.2. Only the frames a STOMP
// client exchanges with a broker are handled.
const (
	opcodeText  = 0x1
	opcodeClose = 0x8
	opcodePing  = 0x9
	opcodePong  = 0xA
)

// Payload length encoding thresholds (RFC 6455 Section 5.2).
const (
	payloadLen7Bit  = 125 // 0-125: stored in the length byte
	payloadLen16Bit = 126 // marker: followed by 16-bit length
	payloadLen64Bit = 127 // marker: followed by 64-bit length
)

// fallbackMaskKey is used when the entropy source fails. A predictable
// mask key is a simplification, not a security property: RFC 6455
// masking exists to defeat cache poisoning by misbehaving
// intermediaries, and brokers must accept arbitrary nonces.
var fallbackMaskKey = [4]byte{0x12, 0x34, 0x56, 0x78}

// Frame is one decoded WebSocket frame.
type Frame struct {
	// Fin is the FIN bit; this client never sends or expects
	// fragmented messages, so it is always set on outbound frames.
	Fin    bool
	Opcode byte
	// Masked records whether the inbound payload carried a mask.
	// Servers normally do not mask, but a masked inbound frame is
	// unmasked rather than rejected.
	Masked  bool
	Payload []byte
}

// EncodeFrame encodes payload as a single FIN=1 text frame with the
// client mask bit set, ready to write to the socket. A fresh mask key
// is drawn per frame.
func EncodeFrame(payload []byte) []byte {
	return encodeFrame(payload, newMaskKey())
}

func encodeFrame(payload []byte, mask [4]byte) []byte {
	header := make([]byte, 2, 14)
	header[0] = 0x80 | opcodeText // FIN=1, text

	n := uint64(len(payload))
	switch {
	case n <= payloadLen7Bit:
		header[1] = 0x80 | byte(n)
	case n <= 0xFFFF:
		header[1] = 0x80 | payloadLen16Bit
		header = binary.BigEndian.AppendUint16(header, uint16(n))
	default:
		header[1] = 0x80 | payloadLen64Bit
		header = binary.BigEndian.AppendUint64(header, n)
	}
	header = append(header, mask[:]...)

	frame := make([]byte, 0, len(header)+len(payload))
	frame = append(frame, header...)
	frame = append(frame, payload...)
	applyMask(frame[len(header):], mask)
	return frame
}

// DecodeFrame attempts to decode one frame from the front of buf.
//
// A nil frame with a nil error means the buffer does not yet hold a
// complete frame; truncation is never an error because a TCP read may
// end anywhere, including mid-header. On success the returned count is
// the exact number of bytes the frame occupied, and the caller must
// remove exactly that many bytes from the front of its buffer: a
// single read may carry several frames, or a frame plus the start of
// the next one.
//
// The only error is an unrecoverable length-field violation, which the
// caller treats as fatal for the connection.
func DecodeFrame(buf []byte) (*Frame, int, error) {
	if len(buf) < 2 {
		return nil, 0, nil
	}

	f := &Frame{
		Fin:    buf[0]&0x80 != 0,
		Opcode: buf[0] & 0x0F,
		Masked: buf[1]&0x80 != 0,
	}

	offset := 2
	payloadLen := uint64(buf[1] & 0x7F)
	switch payloadLen {
	case payloadLen16Bit:
		if len(buf) < offset+2 {
			return nil, 0, nil
		}
		payloadLen = uint64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case payloadLen64Bit:
		if len(buf) < offset+8 {
			return nil, 0, nil
		}
		payloadLen = binary.BigEndian.Uint64(buf[offset:])
		if payloadLen&(1<<63) != 0 {
			// RFC 6455 Section 5.2: the most significant bit
			// must be 0. Unreachable from a sane peer.
			return nil, 0, ErrFrameLength
		}
		offset += 8
	}

	var mask [4]byte
	if f.Masked {
		if len(buf) < offset+4 {
			return nil, 0, nil
		}
		copy(mask[:], buf[offset:])
		offset += 4
	}

	total := uint64(offset) + payloadLen
	if uint64(len(buf)) < total {
		return nil, 0, nil
	}

	f.Payload = make([]byte, payloadLen)
	copy(f.Payload, buf[offset:offset+int(payloadLen)])
	if f.Masked {
		applyMask(f.Payload, mask)
	}
	return f, int(total), nil
}

// applyMask XORs data in place with the RFC 6455 masking key
// (mask[i % 4]). XOR is its own inverse, so the same routine masks and
// unmasks.
func applyMask(data []byte, mask [4]byte) {
	for i := range data {
		data[i] ^= mask[i%4]
	}
}

func newMaskKey() [4]byte {
	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return fallbackMaskKey
	}
	return key
}
