// Package kafka implements the sink that publishes capture sessions to a
// Kafka topic. Frames travel as raw binary messages keyed by session id,
// bracketed by JSON control messages announcing session start and end.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"github.com/eghosaohenhen/mmrobot/pkg/capture"
)

// Name is the sink type string used in configuration.
const Name = "kafka"

const (
	defaultBatchSize       = 16
	defaultBatchTimeout    = 100 * time.Millisecond
	defaultCompression     = "snappy"
	defaultMaxAttempts     = 3
	defaultMaxMessageBytes = 1 << 24
)

// Message header keys and the values of the type header.
const (
	headerType       = "type"
	headerFrameIndex = "frame_index"
	headerLostBytes  = "lost_bytes"

	typeSessionStart = "session_start"
	typeFrame        = "frame"
	typeSessionEnd   = "session_end"
)

// Config represents Kafka sink configuration.
type Config struct {
	Brokers         []string      `json:"brokers"`           // required
	Topic           string        `json:"topic"`             // required
	BatchSize       int           `json:"batch_size"`        // optional, default 16
	BatchTimeout    time.Duration `json:"batch_timeout"`     // optional, default 100ms
	Compression     string        `json:"compression"`       // optional: none|gzip|snappy|lz4, default snappy
	MaxAttempts     int           `json:"max_attempts"`      // optional, default 3
	MaxMessageBytes int           `json:"max_message_bytes"` // optional, default 16MiB
}

// Sink publishes frames to Kafka.
type Sink struct {
	writer *kafka.Writer
	config Config

	sessionKey []byte

	// Statistics
	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

// New builds a Kafka sink from its options map.
func New(options map[string]any) (*Sink, error) {
	if options == nil {
		return nil, fmt.Errorf("kafka sink requires configuration")
	}

	cfg := Config{
		BatchSize:       defaultBatchSize,
		BatchTimeout:    defaultBatchTimeout,
		Compression:     defaultCompression,
		MaxAttempts:     defaultMaxAttempts,
		MaxMessageBytes: defaultMaxMessageBytes,
	}

	// Required: brokers
	if brokers, ok := options["brokers"].([]any); ok {
		cfg.Brokers = make([]string, len(brokers))
		for i, b := range brokers {
			if broker, ok := b.(string); ok {
				cfg.Brokers[i] = broker
			} else {
				return nil, fmt.Errorf("invalid broker type at index %d", i)
			}
		}
	} else {
		return nil, fmt.Errorf("brokers is required")
	}

	// Required: topic
	if topic, ok := options["topic"].(string); ok {
		cfg.Topic = topic
	} else {
		return nil, fmt.Errorf("topic is required")
	}

	// Optional: batch_size
	if batchSize, ok := options["batch_size"].(float64); ok {
		cfg.BatchSize = int(batchSize)
	}

	// Optional: batch_timeout (duration string)
	if batchTimeout, ok := options["batch_timeout"].(string); ok {
		timeout, err := time.ParseDuration(batchTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid batch_timeout: %w", err)
		}
		cfg.BatchTimeout = timeout
	}

	// Optional: compression
	if compression, ok := options["compression"].(string); ok {
		cfg.Compression = compression
	}

	// Optional: max_attempts
	if maxAttempts, ok := options["max_attempts"].(float64); ok {
		cfg.MaxAttempts = int(maxAttempts)
	}

	// Optional: max_message_bytes. A single frame can run to several MiB,
	// well past the 1MiB kafka-go default; the broker's message.max.bytes
	// must admit the same size.
	if maxBytes, ok := options["max_message_bytes"].(float64); ok {
		cfg.MaxMessageBytes = int(maxBytes)
	}

	writerConfig := kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{}, // keyed by session id, one partition per session
		BatchSize:    cfg.BatchSize,
		BatchBytes:   cfg.MaxMessageBytes,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Async:        false, // synchronous so write failures surface to the session
	}

	switch cfg.Compression {
	case "none", "":
		writerConfig.CompressionCodec = nil
	case "gzip":
		writerConfig.CompressionCodec = compress.Gzip.Codec()
	case "snappy":
		writerConfig.CompressionCodec = compress.Snappy.Codec()
	case "lz4":
		writerConfig.CompressionCodec = compress.Lz4.Codec()
	default:
		return nil, fmt.Errorf("invalid compression type: %s", cfg.Compression)
	}

	return &Sink{
		writer: kafka.NewWriter(writerConfig),
		config: cfg,
	}, nil
}

func (s *Sink) OnSessionStart(ctx context.Context, meta *capture.SessionMetadata) error {
	s.sessionKey = []byte(meta.SessionID.String())

	msg, err := s.sessionStartMessage(meta)
	if err != nil {
		return fmt.Errorf("serialize session start failed: %w", err)
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}

	slog.Info("kafka sink started",
		"brokers", s.config.Brokers,
		"topic", s.config.Topic,
		"batch_size", s.config.BatchSize,
		"compression", s.config.Compression,
		"session_id", meta.SessionID,
	)
	return nil
}

func (s *Sink) OnFrame(ctx context.Context, frame *capture.Frame) error {
	if err := s.writer.WriteMessages(ctx, s.frameMessage(frame)); err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	s.reportedCount.Add(1)
	return nil
}

func (s *Sink) OnSessionEnd(ctx context.Context, meta *capture.SessionMetadata) error {
	msg, err := s.sessionEndMessage(meta)
	if err != nil {
		return fmt.Errorf("serialize session end failed: %w", err)
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		s.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}

	// Close flushes any batched frames.
	if err := s.writer.Close(); err != nil {
		slog.Error("error closing kafka writer", "error", err)
		return err
	}

	slog.Info("kafka sink stopped",
		"total_reported", s.reportedCount.Load(),
		"total_errors", s.errorCount.Load(),
	)
	return nil
}

// sessionStartMessage announces the capture geometry so consumers can size
// and slice the frame messages that follow.
func (s *Sink) sessionStartMessage(meta *capture.SessionMetadata) (kafka.Message, error) {
	payload := map[string]any{
		"session_id":       meta.SessionID.String(),
		"start_time":       meta.StartTime.UnixMilli(),
		"num_samples":      meta.Geometry.Samples,
		"num_chirps":       meta.Geometry.Chirps,
		"num_rx":           meta.Geometry.RxChannels,
		"num_tx":           meta.Geometry.TxChannels,
		"frame_bytes":      meta.Geometry.FrameBytes(),
		"periodicity":      float64(meta.FramePeriod) / float64(time.Millisecond),
		"frames_requested": meta.FramesRequested,
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   s.sessionKey,
		Value: value,
		Time:  meta.StartTime,
		Headers: []kafka.Header{
			{Key: headerType, Value: []byte(typeSessionStart)},
		},
	}, nil
}

// frameMessage carries one frame's raw samples as the message value.
func (s *Sink) frameMessage(frame *capture.Frame) kafka.Message {
	headers := []kafka.Header{
		{Key: headerType, Value: []byte(typeFrame)},
		{Key: headerFrameIndex, Value: []byte(strconv.FormatUint(frame.Index, 10))},
	}
	if frame.LostBytes > 0 {
		headers = append(headers, kafka.Header{
			Key:   headerLostBytes,
			Value: []byte(strconv.Itoa(frame.LostBytes)),
		})
	}
	return kafka.Message{
		Key:     s.sessionKey,
		Value:   frame.Data,
		Time:    frame.Time,
		Headers: headers,
	}
}

// sessionEndMessage carries the finalized counters.
func (s *Sink) sessionEndMessage(meta *capture.SessionMetadata) (kafka.Message, error) {
	payload := map[string]any{
		"session_id":        meta.SessionID.String(),
		"frames_captured":   meta.FramesCaptured,
		"frames_degraded":   meta.FramesDegraded,
		"bytes_lost":        meta.BytesLost,
		"packets_received":  meta.PacketsReceived,
		"packets_duplicate": meta.PacketsDuplicate,
		"packets_malformed": meta.PacketsMalformed,
	}
	if !meta.FirstFrameTime.IsZero() {
		payload["first_frame_time"] = meta.FirstFrameTime.UnixMilli()
	}
	value, err := json.Marshal(payload)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   s.sessionKey,
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: headerType, Value: []byte(typeSessionEnd)},
		},
	}, nil
}
