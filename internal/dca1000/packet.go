package dca1000

import (
	"encoding/binary"
	"fmt"
)

// DataHeaderLen is the fixed header of every data datagram: a 4-byte packet
// sequence counter followed by a 6-byte byte-offset counter, little-endian.
const DataHeaderLen = 10

// DataPacket is one decoded data datagram. Payload aliases the receive
// buffer; copy it before the next read if it must outlive the datagram.
type DataPacket struct {
	Sequence uint32 // datagram counter, starts at 1 when recording starts
	Offset   uint64 // position of Payload[0] in the sample stream
	Payload  []byte
}

// ParseDataPacket decodes the data header in place.
func ParseDataPacket(b []byte) (DataPacket, error) {
	if len(b) < DataHeaderLen {
		return DataPacket{}, fmt.Errorf("%w: %d bytes, want at least %d", ErrMalformedPacket, len(b), DataHeaderLen)
	}
	// The offset counter is 48 bits wide: a 32-bit low word and a 16-bit high
	// word, both little-endian.
	off := uint64(binary.LittleEndian.Uint32(b[4:8])) |
		uint64(binary.LittleEndian.Uint16(b[8:10]))<<32
	return DataPacket{
		Sequence: binary.LittleEndian.Uint32(b[0:4]),
		Offset:   off,
		Payload:  b[DataHeaderLen:],
	}, nil
}

// EncodeDataPacket builds a data datagram as the card would send it.
func EncodeDataPacket(seq uint32, offset uint64, payload []byte) []byte {
	buf := make([]byte, DataHeaderLen+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], seq)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(offset))
	binary.LittleEndian.PutUint16(buf[8:10], uint16(offset>>32))
	copy(buf[DataHeaderLen:], payload)
	return buf
}
