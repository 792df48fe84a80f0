package dca1000

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Command datagram layout, little-endian throughout:
//
//	bytes 0-1: header magic 0xA55A
//	bytes 2-3: command code
//	bytes 4-5: payload length
//	bytes 6..: payload
//	last 2:    footer magic 0xEEAA
//
// Responses mirror the header and command code, carry a 2-byte status word in
// place of the payload, and end with the same footer.
const (
	headerMagic uint16 = 0xA55A
	footerMagic uint16 = 0xEEAA

	cmdHeaderLen = 6 // magic + code + payload length
	cmdFooterLen = 2
	responseLen  = 8 // magic + code + status + footer

	maxPayloadLen = 504 // largest payload the card accepts (EEPROM write)
)

// Opcode is a command code from the capture card's published command set.
type Opcode uint16

const (
	OpResetFPGA        Opcode = 0x01
	OpResetRadar       Opcode = 0x02
	OpConfigFPGA       Opcode = 0x03
	OpConfigEEPROM     Opcode = 0x04
	OpRecordStart      Opcode = 0x05
	OpRecordStop       Opcode = 0x06
	OpPlaybackStart    Opcode = 0x07
	OpPlaybackStop     Opcode = 0x08
	OpSystemConnect    Opcode = 0x09
	OpSystemError      Opcode = 0x0A
	OpConfigPacketData Opcode = 0x0B
	OpConfigDataMode   Opcode = 0x0C
	OpInitFPGAPlayback Opcode = 0x0D
	OpReadFPGAVersion  Opcode = 0x0E
)

var opcodeNames = map[Opcode]string{
	OpResetFPGA:        "reset_fpga",
	OpResetRadar:       "reset_radar",
	OpConfigFPGA:       "config_fpga",
	OpConfigEEPROM:     "config_eeprom",
	OpRecordStart:      "record_start",
	OpRecordStop:       "record_stop",
	OpPlaybackStart:    "playback_start",
	OpPlaybackStop:     "playback_stop",
	OpSystemConnect:    "system_connect",
	OpSystemError:      "system_error",
	OpConfigPacketData: "config_packet_data",
	OpConfigDataMode:   "config_data_mode",
	OpInitFPGAPlayback: "init_fpga_playback",
	OpReadFPGAVersion:  "read_fpga_version",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("opcode(0x%02x)", uint16(o))
}

// EncodeCommand builds one command datagram for the given code and payload.
func EncodeCommand(op Opcode, payload []byte) []byte {
	buf := make([]byte, cmdHeaderLen+len(payload)+cmdFooterLen)
	binary.LittleEndian.PutUint16(buf[0:2], headerMagic)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(op))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(len(payload)))
	copy(buf[6:], payload)
	binary.LittleEndian.PutUint16(buf[len(buf)-2:], footerMagic)
	return buf
}

// DecodeCommand parses a command datagram back into its code and payload.
// It is the inverse of EncodeCommand and backs the device emulation used in
// tests.
func DecodeCommand(b []byte) (Opcode, []byte, error) {
	if len(b) < cmdHeaderLen+cmdFooterLen {
		return 0, nil, fmt.Errorf("%w: %d bytes, want at least %d", ErrMalformedPacket, len(b), cmdHeaderLen+cmdFooterLen)
	}
	if m := binary.LittleEndian.Uint16(b[0:2]); m != headerMagic {
		return 0, nil, fmt.Errorf("%w: bad header 0x%04x", ErrMalformedPacket, m)
	}
	n := int(binary.LittleEndian.Uint16(b[4:6]))
	if n > maxPayloadLen || len(b) != cmdHeaderLen+n+cmdFooterLen {
		return 0, nil, fmt.Errorf("%w: payload length %d does not match datagram", ErrMalformedPacket, n)
	}
	if m := binary.LittleEndian.Uint16(b[len(b)-2:]); m != footerMagic {
		return 0, nil, fmt.Errorf("%w: bad footer 0x%04x", ErrMalformedPacket, m)
	}
	return Opcode(binary.LittleEndian.Uint16(b[2:4])), b[6 : 6+n], nil
}

// EncodeResponse builds a response datagram as the card would send it.
func EncodeResponse(op Opcode, status uint16) []byte {
	buf := make([]byte, responseLen)
	binary.LittleEndian.PutUint16(buf[0:2], headerMagic)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(op))
	binary.LittleEndian.PutUint16(buf[4:6], status)
	binary.LittleEndian.PutUint16(buf[6:8], footerMagic)
	return buf
}

// Response is a decoded command response. For ReadFPGAVersion the status word
// carries the version bits instead of a success code; see ParseFPGAVersion.
type Response struct {
	Opcode Opcode
	Status uint16
}

// OK reports whether the status word signals success.
func (r Response) OK() bool {
	return r.Status == 0
}

// DecodeResponse validates the fixed response layout and extracts the echoed
// command code and status word.
func DecodeResponse(b []byte) (Response, error) {
	if len(b) != responseLen {
		return Response{}, fmt.Errorf("%w: %d bytes, want %d", ErrMalformedResponse, len(b), responseLen)
	}
	if m := binary.LittleEndian.Uint16(b[0:2]); m != headerMagic {
		return Response{}, fmt.Errorf("%w: bad header 0x%04x", ErrMalformedResponse, m)
	}
	if m := binary.LittleEndian.Uint16(b[6:8]); m != footerMagic {
		return Response{}, fmt.Errorf("%w: bad footer 0x%04x", ErrMalformedResponse, m)
	}
	return Response{
		Opcode: Opcode(binary.LittleEndian.Uint16(b[2:4])),
		Status: binary.LittleEndian.Uint16(b[4:6]),
	}, nil
}

// FPGAConfig selects the card's capture mode. The zero value is not valid;
// use the Validate-checked fields below. Lanes must match the radar's LVDS
// wiring (4 lanes on xWR14xx, 2 on xWR16xx/18xx/68xx).
type FPGAConfig struct {
	Lanes      int           // LVDS lanes: 4 or 2
	SampleBits int           // ADC format: 12, 14 or 16
	Timer      time.Duration // record-stop safety timer, whole seconds, 1s..255s
}

// Validate checks the mode fields against the values the card accepts.
func (c FPGAConfig) Validate() error {
	if c.Lanes != 4 && c.Lanes != 2 {
		return fmt.Errorf("dca1000: invalid LVDS lane count %d (want 4 or 2)", c.Lanes)
	}
	switch c.SampleBits {
	case 12, 14, 16:
	default:
		return fmt.Errorf("dca1000: invalid sample width %d bits (want 12, 14 or 16)", c.SampleBits)
	}
	secs := int(c.Timer / time.Second)
	if secs < 1 || secs > 255 {
		return fmt.Errorf("dca1000: capture timer %s out of range 1s..255s", c.Timer)
	}
	return nil
}

// payload encodes the six mode bytes of ConfigFPGA: logging mode (raw), LVDS
// lane mode, transfer mode (LVDS capture), capture mode (ethernet stream),
// data format, and the record timer in seconds.
func (c FPGAConfig) payload() []byte {
	lvdsMode := byte(1) // four lanes
	if c.Lanes == 2 {
		lvdsMode = 2
	}
	var format byte
	switch c.SampleBits {
	case 12:
		format = 1
	case 14:
		format = 2
	case 16:
		format = 3
	}
	return []byte{1, lvdsMode, 1, 2, format, byte(c.Timer / time.Second)}
}

// PacketConfig sets the size and pacing of the card's data datagrams.
type PacketConfig struct {
	PacketSize int           // data payload bytes per datagram, 48..1472
	Delay      time.Duration // inter-packet delay, 5us..500us
}

// Validate checks the packet shaping fields against the card's limits.
func (c PacketConfig) Validate() error {
	if c.PacketSize < 48 || c.PacketSize > 1472 {
		return fmt.Errorf("dca1000: packet size %d out of range 48..1472", c.PacketSize)
	}
	if c.Delay < 5*time.Microsecond || c.Delay > 500*time.Microsecond {
		return fmt.Errorf("dca1000: packet delay %s out of range 5us..500us", c.Delay)
	}
	return nil
}

// payload encodes the ConfigPacketData payload: packet size, the delay in
// units of the FPGA's 8 ns clock, and a reserved zero word.
func (c PacketConfig) payload() []byte {
	buf := make([]byte, 6)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(c.PacketSize))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(c.Delay.Nanoseconds()/8))
	return buf
}

// FPGAVersion is the decoded ReadFPGAVersion status word: major in bits 0-6,
// minor in bits 7-13, playback-mode flag in bit 14.
type FPGAVersion struct {
	Major    int
	Minor    int
	Playback bool
}

// ParseFPGAVersion unpacks the version bits from the response status word.
func ParseFPGAVersion(status uint16) FPGAVersion {
	return FPGAVersion{
		Major:    int(status & 0x7F),
		Minor:    int((status >> 7) & 0x7F),
		Playback: status&(1<<14) != 0,
	}
}

func (v FPGAVersion) String() string {
	mode := "record"
	if v.Playback {
		mode = "playback"
	}
	return fmt.Sprintf("%d.%d (%s)", v.Major, v.Minor, mode)
}
