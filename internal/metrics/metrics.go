// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PacketsReceivedTotal counts data datagrams accepted off the wire.
	PacketsReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mmrobot_packets_received_total",
			Help: "Total number of data datagrams received",
		},
	)

	// PacketsDroppedTotal counts data datagrams discarded before sequencing.
	PacketsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmrobot_packets_dropped_total",
			Help: "Total number of data datagrams dropped",
		},
		[]string{"reason"},
	)

	// BytesReceivedTotal counts sample payload bytes accepted in order.
	BytesReceivedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mmrobot_bytes_received_total",
			Help: "Total sample bytes received in stream order",
		},
	)

	// BytesLostTotal counts bytes zero-filled in place of lost packets.
	BytesLostTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mmrobot_bytes_lost_total",
			Help: "Total sample bytes lost in transit and zero-filled",
		},
	)

	// GapsTotal counts discontinuities detected in the byte stream.
	GapsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mmrobot_stream_gaps_total",
			Help: "Total number of gaps detected in the sample stream",
		},
	)

	// FramesEmittedTotal counts completed frames handed to the sink queue.
	FramesEmittedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mmrobot_frames_emitted_total",
			Help: "Total number of completed frames emitted",
		},
	)

	// FramesDegradedTotal counts frames containing zero-filled bytes.
	FramesDegradedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mmrobot_frames_degraded_total",
			Help: "Total number of frames containing zero-filled bytes",
		},
	)

	// FrameQueueDepth tracks the occupancy of the frame queue to the sink.
	FrameQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mmrobot_frame_queue_depth",
			Help: "Frames currently queued for the sink",
		},
	)

	// SessionsTotal counts finished capture sessions by outcome.
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmrobot_sessions_total",
			Help: "Total number of capture sessions by outcome",
		},
		[]string{"outcome"},
	)

	// CommandRoundtripSeconds measures command channel round-trip latency.
	CommandRoundtripSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mmrobot_command_roundtrip_seconds",
			Help:    "Round-trip latency of capture card commands in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 100us to ~1.6s
		},
		[]string{"opcode"},
	)

	// CommandErrorsTotal counts command channel failures by kind.
	CommandErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mmrobot_command_errors_total",
			Help: "Total number of command channel errors",
		},
		[]string{"opcode", "kind"},
	)
)
