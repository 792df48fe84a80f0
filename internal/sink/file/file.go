// Package file implements the sink that writes raw ADC captures to disk in
// the adc_data<timestamp>.bin layout consumed by the offline processing
// tools.
package file

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/eghosaohenhen/mmrobot/pkg/capture"
)

// Name is the sink type string used in configuration.
const Name = "file"

const (
	binPrefix    = "adc_data"
	metadataName = "metadata.json"

	// compactLayout names the capture on disk, datetimeLayout is the
	// human-readable form written into the metadata. Both match the
	// timestamps the downstream analysis scripts parse.
	compactLayout  = "20060102150405"
	datetimeLayout = "2006-01-02 15:04:05.000000"

	writerBufSize = 1 << 20
)

// metadata is the sidecar record describing one capture. The leading fields
// mirror the names the analysis tools already index captures by; the trailing
// fields add the session identity and transport loss accounting.
type metadata struct {
	CaptureStartTime float64 `json:"capture_start_time"`
	TimestampCompact string  `json:"timestamp_compact"`
	Datetime         string  `json:"datetime_strftime"`
	NumFrames        uint64  `json:"num_frames"`
	NumSamples       int     `json:"num_samples"`
	NumChirps        int     `json:"num_chirps"`
	NumRx            int     `json:"num_rx"`
	NumTx            int     `json:"num_tx"`
	Periodicity      float64 `json:"periodicity"`
	// SweepTime is not read back from the radar; consumers tolerate 0.
	SweepTime float64 `json:"sweep_time"`

	SessionID        string `json:"session_id"`
	FramesDegraded   uint64 `json:"frames_degraded"`
	BytesLost        uint64 `json:"bytes_lost"`
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsDuplicate uint64 `json:"packets_duplicate"`
	PacketsMalformed uint64 `json:"packets_malformed"`
}

// Sink streams every frame of a session into one .bin file and writes a
// metadata.json next to it when the session ends. Each session gets its own
// directory under the configured root, named by the capture timestamp, so
// repeated captures never clobber each other.
type Sink struct {
	root string

	dir   string
	stamp string
	f     *os.File
	w     *bufio.Writer
	bytes uint64
}

// New builds a file sink from its options map.
//
// Options:
//   - dir: root directory for session directories (default ".")
func New(options map[string]any) (*Sink, error) {
	s := &Sink{root: "."}
	if options == nil {
		return s, nil
	}
	if v, ok := options["dir"]; ok {
		d, ok := v.(string)
		if !ok || d == "" {
			return nil, fmt.Errorf("file sink: dir must be a non-empty string")
		}
		s.root = d
	}
	return s, nil
}

func (s *Sink) OnSessionStart(ctx context.Context, meta *capture.SessionMetadata) error {
	s.stamp = meta.StartTime.Format(compactLayout)
	s.dir = filepath.Join(s.root, s.stamp)
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("file sink: create session directory: %w", err)
	}
	path := filepath.Join(s.dir, binPrefix+s.stamp+".bin")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("file sink: create capture file: %w", err)
	}
	s.f = f
	s.w = bufio.NewWriterSize(f, writerBufSize)
	slog.Info("capture file opened",
		"path", path,
		"session_id", meta.SessionID,
		"frame_bytes", meta.Geometry.FrameBytes(),
	)
	return nil
}

func (s *Sink) OnFrame(ctx context.Context, frame *capture.Frame) error {
	n, err := s.w.Write(frame.Data)
	s.bytes += uint64(n)
	if err != nil {
		return fmt.Errorf("file sink: write frame %d: %w", frame.Index, err)
	}
	return nil
}

func (s *Sink) OnSessionEnd(ctx context.Context, meta *capture.SessionMetadata) error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("file sink: flush capture file: %w", err)
	}
	if err := s.f.Close(); err != nil {
		return fmt.Errorf("file sink: close capture file: %w", err)
	}
	if err := s.writeMetadata(meta); err != nil {
		return err
	}
	slog.Info("capture file finished",
		"dir", s.dir,
		"frames", meta.FramesCaptured,
		"bytes", s.bytes,
	)
	return nil
}

func (s *Sink) writeMetadata(meta *capture.SessionMetadata) error {
	// The analysis tools align frames against capture_start_time, so it
	// must be the completion time of frame 0, not the moment the session
	// was armed. Fall back to the arm time when no frame ever arrived.
	start := meta.FirstFrameTime
	if start.IsZero() {
		start = meta.StartTime
	}
	m := metadata{
		CaptureStartTime: float64(start.UnixMicro()) / 1e6,
		TimestampCompact: s.stamp,
		Datetime:         start.Format(datetimeLayout),
		NumFrames:        meta.FramesCaptured,
		NumSamples:       meta.Geometry.Samples,
		NumChirps:        meta.Geometry.Chirps,
		NumRx:            meta.Geometry.RxChannels,
		NumTx:            meta.Geometry.TxChannels,
		Periodicity:      float64(meta.FramePeriod) / float64(time.Millisecond),
		SessionID:        meta.SessionID.String(),
		FramesDegraded:   meta.FramesDegraded,
		BytesLost:        meta.BytesLost,
		PacketsReceived:  meta.PacketsReceived,
		PacketsDuplicate: meta.PacketsDuplicate,
		PacketsMalformed: meta.PacketsMalformed,
	}
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return fmt.Errorf("file sink: encode metadata: %w", err)
	}
	data = append(data, '\n')
	path := filepath.Join(s.dir, metadataName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("file sink: write metadata: %w", err)
	}
	return nil
}
