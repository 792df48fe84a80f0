// Package stream restores order to the capture card's data stream and cuts
// it into fixed-size frames.
package stream

import (
	"log/slog"

	"github.com/eghosaohenhen/mmrobot/internal/dca1000"
	"github.com/eghosaohenhen/mmrobot/internal/metrics"
)

// DefaultMaxGap caps how many missing bytes a single packet may imply before
// the packet is treated as corrupt rather than as evidence of loss. At the
// card's peak rate this is well over a minute of stalled traffic.
const DefaultMaxGap = 256 << 20

// Span is a contiguous run of stream bytes handed to the Reassembler.
// Synthetic spans carry zero-fill substituted for bytes lost on the wire.
type Span struct {
	Offset    uint64
	Data      []byte
	Synthetic bool
}

// SequencerStats are the sequencer's running counters. They are owned by the
// goroutine driving Feed and safe to read only after it has stopped.
type SequencerStats struct {
	Packets       uint64 // datagrams accepted in stream order
	Duplicates    uint64 // datagrams behind the stream cursor, discarded
	Rejected      uint64 // datagrams implying an implausible jump, discarded
	SequenceSkips uint64 // datagram counter discontinuities observed
	Gaps          uint64 // stream discontinuities zero-filled
	BytesEmitted  uint64 // payload bytes emitted, real and synthetic
	BytesLost     uint64 // synthetic bytes emitted
}

// Sequencer turns data packets into ordered byte spans. The stream cursor
// starts at zero; a packet landing ahead of it first yields a zero-filled
// span covering the gap, a packet landing behind it is a replayed datagram
// and is dropped whole. The card never retransmits, so already-covered
// offsets carry nothing new and the emitted byte count always equals the
// cursor, with no double counting.
type Sequencer struct {
	next    uint64 // offset one past the last byte emitted
	lastSeq uint32
	started bool
	maxGap  uint64
	stats   SequencerStats
}

// NewSequencer builds a sequencer. maxGap bounds the zero-fill for a single
// discontinuity; zero selects DefaultMaxGap.
func NewSequencer(maxGap uint64) *Sequencer {
	if maxGap == 0 {
		maxGap = DefaultMaxGap
	}
	return &Sequencer{maxGap: maxGap}
}

// Feed ingests one data packet and returns the ordered spans it produces:
// nothing for a duplicate, the payload for an in-order packet, and a
// zero-fill span followed by the payload when packets went missing.
func (s *Sequencer) Feed(pkt dca1000.DataPacket) []Span {
	if s.started && pkt.Sequence != s.lastSeq+1 {
		s.stats.SequenceSkips++
	}
	s.lastSeq = pkt.Sequence
	s.started = true

	switch {
	case pkt.Offset < s.next:
		s.stats.Duplicates++
		metrics.PacketsDroppedTotal.WithLabelValues("duplicate").Inc()
		return nil

	case pkt.Offset == s.next:
		s.stats.Packets++
		s.advance(uint64(len(pkt.Payload)), 0)
		return []Span{{Offset: pkt.Offset, Data: pkt.Payload}}

	default:
		gap := pkt.Offset - s.next
		if gap > s.maxGap {
			// A jump this large means a corrupt header, not loss; filling it
			// would allocate without bound.
			s.stats.Rejected++
			metrics.PacketsDroppedTotal.WithLabelValues("implausible_offset").Inc()
			slog.Warn("rejecting data packet with implausible offset",
				"sequence", pkt.Sequence, "offset", pkt.Offset, "expected", s.next)
			return nil
		}
		spans := []Span{
			{Offset: s.next, Data: make([]byte, gap), Synthetic: true},
			{Offset: pkt.Offset, Data: pkt.Payload},
		}
		s.stats.Packets++
		s.stats.Gaps++
		metrics.GapsTotal.Inc()
		s.advance(uint64(len(pkt.Payload)), gap)
		return spans
	}
}

func (s *Sequencer) advance(payload, lost uint64) {
	s.next += payload + lost
	s.stats.BytesEmitted += payload + lost
	s.stats.BytesLost += lost
	metrics.BytesReceivedTotal.Add(float64(payload))
	metrics.BytesLostTotal.Add(float64(lost))
}

// Offset returns the stream cursor: the total bytes emitted so far.
func (s *Sequencer) Offset() uint64 {
	return s.next
}

// Stats returns a snapshot of the running counters.
func (s *Sequencer) Stats() SequencerStats {
	return s.stats
}
