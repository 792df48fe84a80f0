// Package capture defines the frame types and sink contract shared by the
// acquisition pipeline and its consumers.
package capture

import (
	"time"

	"github.com/google/uuid"
)

// Frame is one complete radar frame cut from the sample stream.
// Data holds interleaved little-endian int16 I/Q samples for every chirp and
// RX channel of one time slot. Ownership of Data transfers to the consumer
// when the frame is emitted; the pipeline never touches it again.
type Frame struct {
	Index     uint64    // position in the session, starting at 0
	Data      []byte    // exactly Geometry.FrameBytes() bytes
	Time      time.Time // completion time of the frame
	LostBytes int       // zero-filled bytes substituted for packets lost in transit
}

// Degraded reports whether any part of the frame was zero-filled.
func (f *Frame) Degraded() bool {
	return f.LostBytes > 0
}

// Geometry describes the shape of one frame as configured on the radar.
type Geometry struct {
	Samples    int // ADC samples per chirp
	Chirps     int // chirps per frame
	RxChannels int
	TxChannels int
}

// FrameBytes returns the size of one complete frame:
// samples x chirps x RX channels x 2 bytes per sample x 2 for the I/Q pair.
func (g Geometry) FrameBytes() int {
	return g.Samples * g.Chirps * g.RxChannels * 2 * 2
}

// SessionMetadata describes one capture session. The static fields are fixed
// when the session starts; the counters are finalized when it ends and the
// same record is handed to the sink a second time.
type SessionMetadata struct {
	SessionID       uuid.UUID
	StartTime       time.Time     // when the session began
	FirstFrameTime  time.Time     // completion time of frame 0; zero if none arrived
	Geometry        Geometry
	FramePeriod     time.Duration // expected time between frames
	FramesRequested int           // 0 = capture until cancelled

	// Finalized at session end.
	FramesCaptured   uint64
	FramesDegraded   uint64
	BytesLost        uint64
	PacketsReceived  uint64
	PacketsDuplicate uint64
	PacketsMalformed uint64
}
