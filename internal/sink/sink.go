// Package sink builds frame sinks from configuration entries.
package sink

import (
	"fmt"

	"github.com/eghosaohenhen/mmrobot/internal/config"
	"github.com/eghosaohenhen/mmrobot/internal/sink/console"
	"github.com/eghosaohenhen/mmrobot/internal/sink/file"
	"github.com/eghosaohenhen/mmrobot/internal/sink/kafka"
	"github.com/eghosaohenhen/mmrobot/pkg/capture"
)

// New builds one sink from one configuration entry.
func New(cfg config.SinkConfig) (capture.Sink, error) {
	switch cfg.Type {
	case file.Name:
		return file.New(cfg.Options)
	case kafka.Name:
		return kafka.New(cfg.Options)
	case console.Name:
		return console.New(cfg.Options)
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.Type)
	}
}

// Build constructs every configured sink and combines them into a single
// fanout sink. Frames are delivered to the sinks in configuration order.
func Build(cfgs []config.SinkConfig) (capture.Sink, error) {
	if len(cfgs) == 0 {
		return nil, fmt.Errorf("no sinks configured")
	}
	sinks := make([]capture.Sink, 0, len(cfgs))
	for _, cfg := range cfgs {
		s, err := New(cfg)
		if err != nil {
			return nil, fmt.Errorf("sink %q: %w", cfg.Type, err)
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return capture.Tee(sinks...), nil
}
