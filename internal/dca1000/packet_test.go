package dca1000

import (
	"bytes"
	"errors"
	"testing"
)

func TestParseDataPacket(t *testing.T) {
	payload := []byte{0x11, 0x22, 0x33, 0x44}
	pkt, err := ParseDataPacket(EncodeDataPacket(7, 1456*6, payload))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if pkt.Sequence != 7 {
		t.Fatalf("sequence = %d, want 7", pkt.Sequence)
	}
	if pkt.Offset != 1456*6 {
		t.Fatalf("offset = %d, want %d", pkt.Offset, 1456*6)
	}
	if !bytes.Equal(pkt.Payload, payload) {
		t.Fatalf("payload = %x", pkt.Payload)
	}
}

func TestParseDataPacketWideOffset(t *testing.T) {
	// The offset counter is 48 bits wide; make sure the high word survives.
	const off = uint64(0x1234_89ab_cdef)
	pkt, err := ParseDataPacket(EncodeDataPacket(1, off, []byte{0xAA}))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if pkt.Offset != off {
		t.Fatalf("offset = 0x%x, want 0x%x", pkt.Offset, off)
	}
}

func TestParseDataPacketShort(t *testing.T) {
	_, err := ParseDataPacket([]byte{1, 2, 3})
	if !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("got %v, want ErrMalformedPacket", err)
	}
}

func TestParseDataPacketHeaderOnly(t *testing.T) {
	// A datagram of exactly the header is legal and carries no samples.
	pkt, err := ParseDataPacket(EncodeDataPacket(3, 128, nil))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(pkt.Payload) != 0 {
		t.Fatalf("payload length = %d, want 0", len(pkt.Payload))
	}
}
