package frame

import (
	"encoding/binary"
	"errors"

	"mbft/internal/checksum"
)

// StartToken opens every packet; it is written little-endian ("AD B5" on the
// wire) and is never covered by a checksum.
const StartToken = 0xB5AD

// headerSize covers sync, protocol/type and length; it excludes the start
// token and the header checksum.
const headerSize = 4

var (
	// ErrPayloadOverflow is returned when a payload exceeds the limit passed
	// to Build. The packet is never emitted.
	ErrPayloadOverflow = errors.New("frame: payload overflow")

	// ErrBadToken is returned by Decode when the buffer does not start with
	// the start token.
	ErrBadToken = errors.New("frame: bad start token")

	// ErrTruncated is returned by Decode when the buffer ends mid-packet.
	ErrTruncated = errors.New("frame: truncated packet")

	// ErrChecksum is returned by Decode on a header or payload checksum
	// mismatch.
	ErrChecksum = errors.New("frame: checksum mismatch")
)

// Packet is the decoded form of one wire packet.
type Packet struct {
	Sync     uint8
	Protocol byte
	Type     byte
	Payload  []byte
}

// Build produces the wire bytes for one packet:
//
//	AD B5 | sync | proto<<4|type | len u16le | hdr csum u16le | payload | full csum u16le
//
// The header checksum covers the four bytes from sync through length. The
// trailing checksum (present only with a payload) covers everything after
// the start token, header checksum included. limit is the current maximum
// payload size; exceeding it fails locally with ErrPayloadOverflow.
func Build(protocol, packetType byte, sync uint8, payload []byte, limit int) ([]byte, error) {
	if len(payload) > limit {
		return nil, ErrPayloadOverflow
	}
	size := 2 + headerSize + 2
	if len(payload) > 0 {
		size += len(payload) + 2
	}
	pkt := make([]byte, 0, size)
	pkt = binary.LittleEndian.AppendUint16(pkt, StartToken)
	pkt = append(pkt, sync, (protocol&0x0F)<<4|packetType&0x0F)
	pkt = binary.LittleEndian.AppendUint16(pkt, uint16(len(payload)))
	pkt = binary.LittleEndian.AppendUint16(pkt, checksum.Sum(pkt[2:]))
	if len(payload) > 0 {
		pkt = append(pkt, payload...)
		pkt = binary.LittleEndian.AppendUint16(pkt, checksum.Sum(pkt[2:]))
	}
	return pkt, nil
}

// Decode parses and validates one packet produced by Build. It is the
// counterpart used by tests and loopback peers; the firmware side of the
// wire does the same work in C.
func Decode(raw []byte) (Packet, error) {
	var p Packet
	if len(raw) < 2+headerSize+2 {
		return p, ErrTruncated
	}
	if binary.LittleEndian.Uint16(raw[:2]) != StartToken {
		return p, ErrBadToken
	}
	body := raw[2:]
	if checksum.Sum(body[:headerSize]) != binary.LittleEndian.Uint16(body[headerSize:headerSize+2]) {
		return p, ErrChecksum
	}
	p.Sync = body[0]
	p.Protocol = body[1] >> 4
	p.Type = body[1] & 0x0F
	ln := int(binary.LittleEndian.Uint16(body[2:4]))
	if ln == 0 {
		if len(body) != headerSize+2 {
			return p, ErrTruncated
		}
		return p, nil
	}
	if len(body) != headerSize+2+ln+2 {
		return p, ErrTruncated
	}
	if checksum.Sum(body[:headerSize+2+ln]) != binary.LittleEndian.Uint16(body[headerSize+2+ln:]) {
		return p, ErrChecksum
	}
	p.Payload = body[headerSize+2 : headerSize+2+ln]
	return p, nil
}
