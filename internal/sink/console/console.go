// Package console implements a sink that narrates capture progress to the
// log. It is meant for bring-up and debugging alongside a real sink.
package console

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/eghosaohenhen/mmrobot/pkg/capture"
)

// Name is the sink type string used in configuration.
const Name = "console"

const defaultEvery = 100

// Sink logs one line per N frames plus a line per degraded frame.
type Sink struct {
	every uint64
}

// New builds a console sink from its options map.
//
// Options:
//   - every: log progress every N frames (default 100)
func New(options map[string]any) (*Sink, error) {
	s := &Sink{every: defaultEvery}
	if options == nil {
		return s, nil
	}
	if v, ok := options["every"]; ok {
		n, ok := v.(float64)
		if !ok || n < 1 {
			return nil, fmt.Errorf("console sink: every must be a positive number")
		}
		s.every = uint64(n)
	}
	return s, nil
}

func (s *Sink) OnSessionStart(ctx context.Context, meta *capture.SessionMetadata) error {
	slog.Info("capture session started",
		"session_id", meta.SessionID,
		"frames_requested", meta.FramesRequested,
		"frame_bytes", meta.Geometry.FrameBytes(),
		"frame_period", meta.FramePeriod,
	)
	return nil
}

func (s *Sink) OnFrame(ctx context.Context, frame *capture.Frame) error {
	if frame.Degraded() {
		slog.Warn("frame degraded",
			"frame", frame.Index,
			"lost_bytes", frame.LostBytes,
		)
	}
	if frame.Index%s.every == 0 {
		slog.Info("capture progress", "frames", frame.Index+1)
	}
	return nil
}

func (s *Sink) OnSessionEnd(ctx context.Context, meta *capture.SessionMetadata) error {
	slog.Info("capture session finished",
		"session_id", meta.SessionID,
		"frames_captured", meta.FramesCaptured,
		"frames_degraded", meta.FramesDegraded,
		"bytes_lost", meta.BytesLost,
		"packets_received", meta.PacketsReceived,
		"packets_duplicate", meta.PacketsDuplicate,
		"packets_malformed", meta.PacketsMalformed,
	)
	return nil
}
