// Package replay recovers radar frames from a recorded packet capture by
// feeding it through the same sequencing pipeline a live session uses.
package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/google/uuid"

	"github.com/eghosaohenhen/mmrobot/internal/dca1000"
	"github.com/eghosaohenhen/mmrobot/internal/stream"
	"github.com/eghosaohenhen/mmrobot/pkg/capture"
)

// Config describes one replay run.
type Config struct {
	Path        string // .pcap or .pcapng recording
	DataPort    int    // UDP destination port carrying data datagrams
	Geometry    capture.Geometry
	FramePeriod time.Duration
	MaxGap      uint64 // same bound the live session applies, 0 for default
}

// Replayer drives one recording through the sequencer, the reassembler and a
// sink. Timestamps come from the recording, not the clock, so the recovered
// metadata matches what a live capture at recording time would have written.
type Replayer struct {
	cfg  Config
	sink capture.Sink

	seq *stream.Sequencer
	asm *stream.Reassembler

	meta      capture.SessionMetadata
	received  uint64
	malformed uint64
	delivered uint64
}

// New builds a replayer. The sink receives the same callback sequence a live
// session produces.
func New(cfg Config, sink capture.Sink) (*Replayer, error) {
	if sink == nil {
		return nil, fmt.Errorf("replay: sink must not be nil")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("replay: recording path must not be empty")
	}
	if cfg.DataPort <= 0 || cfg.DataPort > 65535 {
		return nil, fmt.Errorf("replay: data port %d out of range", cfg.DataPort)
	}
	asm, err := stream.NewReassembler(cfg.Geometry.FrameBytes())
	if err != nil {
		return nil, err
	}
	return &Replayer{
		cfg:  cfg,
		sink: sink,
		seq:  stream.NewSequencer(cfg.MaxGap),
		asm:  asm,
		meta: capture.SessionMetadata{
			SessionID:   uuid.New(),
			Geometry:    cfg.Geometry,
			FramePeriod: cfg.FramePeriod,
		},
	}, nil
}

// Report returns the recovered session metadata. Counters are final once Run
// has returned.
func (r *Replayer) Report() capture.SessionMetadata {
	return r.meta
}

// Run replays the whole recording. The capture timestamp of the first data
// datagram becomes the session start time.
func (r *Replayer) Run(ctx context.Context) error {
	f, err := os.Open(r.cfg.Path)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	defer f.Close()

	reader, err := openReader(f, r.cfg.Path)
	if err != nil {
		return fmt.Errorf("replay: open recording: %w", err)
	}
	dec, err := newDecoder(reader.LinkType())
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	// Scan for the first data datagram before touching the sink, so a
	// recording with no matching traffic fails without side effects.
	first, firstCI, err := r.next(ctx, reader, dec)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("replay: no data datagrams on port %d in %s", r.cfg.DataPort, r.cfg.Path)
		}
		return err
	}

	r.meta.StartTime = firstCI.Timestamp
	if err := r.sink.OnSessionStart(ctx, &r.meta); err != nil {
		return fmt.Errorf("replay: sink start: %w", err)
	}
	slog.Info("replay started",
		"path", r.cfg.Path,
		"port", r.cfg.DataPort,
		"frame_bytes", r.cfg.Geometry.FrameBytes(),
		"session_id", r.meta.SessionID,
	)

	runErr := r.feed(ctx, first, firstCI.Timestamp)
	for runErr == nil {
		payload, ci, err := r.next(ctx, reader, dec)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				runErr = err
			}
			break
		}
		runErr = r.feed(ctx, payload, ci.Timestamp)
	}

	r.finalize()

	endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.sink.OnSessionEnd(endCtx, &r.meta); err != nil {
		if runErr == nil {
			runErr = fmt.Errorf("replay: sink end: %w", err)
		} else {
			slog.Warn("sink failed to finalize replay", "error", err)
		}
	}

	slog.Info("replay finished",
		"frames", r.meta.FramesCaptured,
		"degraded", r.meta.FramesDegraded,
		"bytes_lost", r.meta.BytesLost,
		"packets", r.meta.PacketsReceived,
		"malformed", r.meta.PacketsMalformed,
	)
	return runErr
}

// next reads forward to the next datagram addressed to the data port.
func (r *Replayer) next(ctx context.Context, reader packetReader, dec *decoder) ([]byte, gopacket.CaptureInfo, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, gopacket.CaptureInfo{}, err
		}
		data, ci, err := reader.ReadPacketData()
		if err != nil {
			return nil, gopacket.CaptureInfo{}, err
		}
		if payload := dec.payload(data, r.cfg.DataPort); payload != nil {
			return payload, ci, nil
		}
	}
}

// feed runs one data datagram through the pipeline. The reassembler copies
// span bytes into frame buffers before the next read, the same ownership rule
// the live receive loop relies on.
func (r *Replayer) feed(ctx context.Context, payload []byte, at time.Time) error {
	pkt, err := dca1000.ParseDataPacket(payload)
	if err != nil {
		r.malformed++
		return nil
	}
	r.received++

	for _, sp := range r.seq.Feed(pkt) {
		for _, frame := range r.asm.Ingest(sp, at) {
			if err := r.sink.OnFrame(ctx, frame); err != nil {
				return fmt.Errorf("replay: sink rejected frame %d: %w", frame.Index, err)
			}
			if r.delivered == 0 {
				r.meta.FirstFrameTime = frame.Time
			}
			r.delivered++
		}
	}
	return nil
}

func (r *Replayer) finalize() {
	st := r.seq.Stats()
	r.meta.FramesCaptured = r.delivered
	r.meta.FramesDegraded = r.asm.Degraded()
	r.meta.BytesLost = st.BytesLost
	r.meta.PacketsReceived = r.received
	r.meta.PacketsDuplicate = st.Duplicates
	r.meta.PacketsMalformed = r.malformed
	if pending := r.asm.Pending(); pending > 0 {
		slog.Debug("discarding trailing partial frame", "bytes", pending)
	}
}

// packetReader is the slice of pcapgo.Reader and pcapgo.NgReader replay uses.
type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

func openReader(f *os.File, path string) (packetReader, error) {
	if strings.EqualFold(filepath.Ext(path), ".pcapng") {
		return pcapgo.NewNgReader(f, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(f)
}

// decoder unpacks link-layer frames down to the UDP payload with a reusable
// layer parser.
type decoder struct {
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType

	eth layers.Ethernet
	ip4 layers.IPv4
	udp layers.UDP
}

func newDecoder(link layers.LinkType) (*decoder, error) {
	d := &decoder{decoded: make([]gopacket.LayerType, 0, 4)}
	var first gopacket.LayerType
	switch link {
	case layers.LinkTypeEthernet:
		first = layers.LayerTypeEthernet
	case layers.LinkTypeRaw:
		first = layers.LayerTypeIPv4
	default:
		return nil, fmt.Errorf("unsupported link type %v", link)
	}
	d.parser = gopacket.NewDecodingLayerParser(first, &d.eth, &d.ip4, &d.udp)
	d.parser.IgnoreUnsupported = true
	return d, nil
}

// payload returns the UDP payload when data decodes to a datagram addressed
// to port, nil otherwise.
func (d *decoder) payload(data []byte, port int) []byte {
	if err := d.parser.DecodeLayers(data, &d.decoded); err != nil {
		return nil
	}
	for _, lt := range d.decoded {
		if lt == layers.LayerTypeUDP && int(d.udp.DstPort) == port {
			return d.udp.Payload
		}
	}
	return nil
}
