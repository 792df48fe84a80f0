package stream

import (
	"testing"
	"time"

	"github.com/eghosaohenhen/mmrobot/internal/dca1000"
)

// patternByte gives every stream offset a deterministic non-zero value so
// frame contents can be checked without storing the input.
func patternByte(off uint64) byte {
	return byte(off%251) + 1
}

// patternSpan builds a real span whose bytes follow patternByte.
func patternSpan(offset uint64, size int) Span {
	data := make([]byte, size)
	for i := range data {
		data[i] = patternByte(offset + uint64(i))
	}
	return Span{Offset: offset, Data: data}
}

func TestReassemblerExactFrames(t *testing.T) {
	r, err := NewReassembler(8192)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	frames := r.Ingest(patternSpan(0, 8192), now)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if f.Index != 0 || len(f.Data) != 8192 || f.LostBytes != 0 || !f.Time.Equal(now) {
		t.Fatalf("unexpected frame %d len=%d lost=%d", f.Index, len(f.Data), f.LostBytes)
	}
	for i, b := range f.Data {
		if b != patternByte(uint64(i)) {
			t.Fatalf("byte %d = 0x%02x, want 0x%02x", i, b, patternByte(uint64(i)))
		}
	}
}

func TestReassemblerSpanCrossingFrameBoundary(t *testing.T) {
	r, err := NewReassembler(1000)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	// 700 + 700 bytes: the second span closes frame 0 and opens frame 1.
	if frames := r.Ingest(patternSpan(0, 700), now); len(frames) != 0 {
		t.Fatalf("premature frames %v", frames)
	}
	frames := r.Ingest(patternSpan(700, 700), now)
	if len(frames) != 1 || frames[0].Index != 0 {
		t.Fatalf("got %d frames", len(frames))
	}
	if got := r.Pending(); got != 400 {
		t.Fatalf("pending = %d, want 400", got)
	}

	// Frame 1's bytes must continue the stream pattern across the cut.
	frames = r.Ingest(patternSpan(1400, 600), now)
	if len(frames) != 1 || frames[0].Index != 1 {
		t.Fatalf("got %+v", frames)
	}
	for i, b := range frames[0].Data {
		off := uint64(1000 + i)
		if b != patternByte(off) {
			t.Fatalf("frame 1 byte %d = 0x%02x, want 0x%02x", i, b, patternByte(off))
		}
	}
}

func TestReassemblerMultipleFramesPerIngest(t *testing.T) {
	r, err := NewReassembler(1000)
	if err != nil {
		t.Fatal(err)
	}

	frames := r.Ingest(patternSpan(0, 3500), time.Now())
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		if f.Index != uint64(i) {
			t.Fatalf("frame %d has index %d", i, f.Index)
		}
	}
	if r.Pending() != 500 {
		t.Fatalf("pending = %d, want 500", r.Pending())
	}
}

func TestReassemblerLossAttribution(t *testing.T) {
	r, err := NewReassembler(1000)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	// 800 real bytes, then 400 synthetic: 200 of the zero-fill land in frame
	// 0 and 200 in frame 1.
	r.Ingest(patternSpan(0, 800), now)
	frames := r.Ingest(Span{Offset: 800, Data: make([]byte, 400), Synthetic: true}, now)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].LostBytes != 200 || !frames[0].Degraded() {
		t.Fatalf("frame 0 lost = %d, want 200", frames[0].LostBytes)
	}

	frames = r.Ingest(patternSpan(1200, 800), now)
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].LostBytes != 200 {
		t.Fatalf("frame 1 lost = %d, want 200", frames[0].LostBytes)
	}
	if r.Degraded() != 2 {
		t.Fatalf("degraded = %d, want 2", r.Degraded())
	}
}

func TestReassemblerWhollySyntheticFrameStillEmitted(t *testing.T) {
	r, err := NewReassembler(1000)
	if err != nil {
		t.Fatal(err)
	}

	frames := r.Ingest(Span{Offset: 0, Data: make([]byte, 1000), Synthetic: true}, time.Now())
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	if frames[0].LostBytes != 1000 || !frames[0].Degraded() {
		t.Fatalf("frame lost = %d, want 1000", frames[0].LostBytes)
	}
}

func TestReassemblerFramesAreImmutable(t *testing.T) {
	r, err := NewReassembler(100)
	if err != nil {
		t.Fatal(err)
	}

	frames := r.Ingest(patternSpan(0, 150), time.Now())
	if len(frames) != 1 {
		t.Fatalf("got %d frames", len(frames))
	}
	snapshot := frames[0].Data[0]

	// Filling the next frame must not touch the emitted one.
	r.Ingest(patternSpan(150, 100), time.Now())
	if frames[0].Data[0] != snapshot {
		t.Fatal("emitted frame mutated by later ingest")
	}
}

func TestReassemblerRejectsBadFrameSize(t *testing.T) {
	if _, err := NewReassembler(0); err == nil {
		t.Fatal("frame size 0 accepted")
	}
	if _, err := NewReassembler(-8); err == nil {
		t.Fatal("negative frame size accepted")
	}
}

// TestPipelineLosslessSession drives the sequencer and reassembler together
// the way the receive loop does: 4000 frames of 8192 bytes arriving as
// 1456-byte datagrams with no loss must come out as exactly 4000 clean,
// strictly ordered frames.
func TestPipelineLosslessSession(t *testing.T) {
	const (
		frameBytes  = 8192
		frameCount  = 4000
		payloadSize = 1456
	)
	seq := NewSequencer(0)
	asm, err := NewReassembler(frameBytes)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	total := uint64(frameBytes * frameCount)
	var emitted []uint64
	var degraded int

	var offset uint64
	for n := uint32(1); offset < total; n++ {
		size := payloadSize
		if rem := total - offset; rem < uint64(size) {
			size = int(rem) // final datagram of the session runs short
		}
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = patternByte(offset + uint64(i))
		}
		spans := seq.Feed(dca1000.DataPacket{Sequence: n, Offset: offset, Payload: payload})
		for _, sp := range spans {
			for _, f := range asm.Ingest(sp, now) {
				if f.Index != uint64(len(emitted)) {
					t.Fatalf("frame index %d emitted out of order", f.Index)
				}
				if f.Degraded() {
					degraded++
				}
				emitted = append(emitted, f.Index)
			}
		}
		offset += uint64(size)
	}

	if len(emitted) != frameCount {
		t.Fatalf("emitted %d frames, want %d", len(emitted), frameCount)
	}
	if degraded != 0 {
		t.Fatalf("lossless run produced %d degraded frames", degraded)
	}
	if asm.Pending() != 0 {
		t.Fatalf("pending bytes after exact run: %d", asm.Pending())
	}
	if st := seq.Stats(); st.BytesEmitted != total || st.BytesLost != 0 {
		t.Fatalf("unexpected sequencer stats %+v", st)
	}
}

// TestPipelineSinglePacketLoss checks the loss behavior end to end: dropping
// one datagram yields zero-fill of exactly its length at the right offset,
// the affected frames are flagged, and frame sizes never change.
func TestPipelineSinglePacketLoss(t *testing.T) {
	const (
		frameBytes  = 8192
		frameCount  = 8
		payloadSize = 1456
		dropped     = 5 // sequence number to withhold
	)
	seq := NewSequencer(0)
	asm, err := NewReassembler(frameBytes)
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now()

	total := uint64(frameBytes * frameCount)
	var frames []*struct {
		index uint64
		lost  int
	}

	var offset uint64
	for n := uint32(1); offset < total; n++ {
		size := payloadSize
		if rem := total - offset; rem < uint64(size) {
			size = int(rem)
		}
		if n != dropped {
			payload := make([]byte, size)
			for i := range payload {
				payload[i] = patternByte(offset + uint64(i))
			}
			for _, sp := range seq.Feed(dca1000.DataPacket{Sequence: n, Offset: offset, Payload: payload}) {
				for _, f := range asm.Ingest(sp, now) {
					if len(f.Data) != frameBytes {
						t.Fatalf("frame %d has %d bytes", f.Index, len(f.Data))
					}
					frames = append(frames, &struct {
						index uint64
						lost  int
					}{f.Index, f.LostBytes})
				}
			}
		}
		offset += uint64(size)
	}

	if got := len(frames); got != frameCount {
		t.Fatalf("emitted %d frames, want %d", got, frameCount)
	}
	var lostTotal int
	for _, f := range frames {
		lostTotal += f.lost
	}
	if lostTotal != payloadSize {
		t.Fatalf("attributed %d lost bytes, want %d", lostTotal, payloadSize)
	}
	if st := seq.Stats(); st.BytesLost != payloadSize || st.Gaps != 1 {
		t.Fatalf("unexpected sequencer stats %+v", st)
	}
}
