package capture

import "context"

// Sink consumes the frames of one capture session. OnSessionStart is called
// once before any frame, OnFrame once per completed frame in index order, and
// OnSessionEnd once with the finalized metadata on every exit path after a
// successful OnSessionStart, including aborts. A sink error aborts the session.
type Sink interface {
	OnSessionStart(ctx context.Context, meta *SessionMetadata) error
	OnFrame(ctx context.Context, frame *Frame) error
	OnSessionEnd(ctx context.Context, meta *SessionMetadata) error
}

// Tee returns a sink that fans every callback out to each of sinks in order.
// The first error stops the fanout and is returned to the caller.
func Tee(sinks ...Sink) Sink {
	return teeSink(sinks)
}

type teeSink []Sink

func (t teeSink) OnSessionStart(ctx context.Context, meta *SessionMetadata) error {
	for _, s := range t {
		if err := s.OnSessionStart(ctx, meta); err != nil {
			return err
		}
	}
	return nil
}

func (t teeSink) OnFrame(ctx context.Context, frame *Frame) error {
	for _, s := range t {
		if err := s.OnFrame(ctx, frame); err != nil {
			return err
		}
	}
	return nil
}

func (t teeSink) OnSessionEnd(ctx context.Context, meta *SessionMetadata) error {
	for _, s := range t {
		if err := s.OnSessionEnd(ctx, meta); err != nil {
			return err
		}
	}
	return nil
}
