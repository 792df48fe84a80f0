package stream

import (
	"fmt"
	"time"

	"github.com/eghosaohenhen/mmrobot/internal/metrics"
	"github.com/eghosaohenhen/mmrobot/pkg/capture"
)

// Reassembler accumulates ordered spans into frames of exactly frameBytes
// bytes. One buffer is open at a time; when it fills it is sealed into an
// immutable capture.Frame and a fresh buffer takes the overflow, so emission
// order always equals frame index order. A frame built entirely from
// zero-fill is still emitted, marked degraded, keeping the frame index in
// one-to-one correspondence with the radar's time slots.
type Reassembler struct {
	frameBytes int
	buf        []byte
	fill       int
	lost       int // synthetic bytes copied into the open buffer
	index      uint64
	degraded   uint64
}

// NewReassembler builds a reassembler for the given frame size.
func NewReassembler(frameBytes int) (*Reassembler, error) {
	if frameBytes <= 0 {
		return nil, fmt.Errorf("stream: frame size must be positive, got %d", frameBytes)
	}
	return &Reassembler{
		frameBytes: frameBytes,
		buf:        make([]byte, frameBytes),
	}, nil
}

// Ingest appends one span to the open buffer and returns every frame it
// completes, possibly several, since datagram boundaries are independent of
// frame boundaries. at stamps the frames the span completes.
func (r *Reassembler) Ingest(sp Span, at time.Time) []*capture.Frame {
	var frames []*capture.Frame
	data := sp.Data
	for len(data) > 0 {
		n := copy(r.buf[r.fill:], data)
		r.fill += n
		if sp.Synthetic {
			r.lost += n
		}
		data = data[n:]

		if r.fill < r.frameBytes {
			break
		}
		f := &capture.Frame{
			Index:     r.index,
			Data:      r.buf,
			Time:      at,
			LostBytes: r.lost,
		}
		frames = append(frames, f)
		metrics.FramesEmittedTotal.Inc()
		if f.Degraded() {
			r.degraded++
			metrics.FramesDegradedTotal.Inc()
		}
		r.index++
		r.buf = make([]byte, r.frameBytes)
		r.fill = 0
		r.lost = 0
	}
	return frames
}

// Emitted returns the number of frames sealed so far.
func (r *Reassembler) Emitted() uint64 {
	return r.index
}

// Degraded returns the number of emitted frames that contained zero-fill.
func (r *Reassembler) Degraded() uint64 {
	return r.degraded
}

// Pending returns the bytes sitting in the open, incomplete buffer. A
// non-zero value at session end means the stream stopped mid-frame; those
// bytes are discarded, never emitted as a short frame.
func (r *Reassembler) Pending() int {
	return r.fill
}
