package capture

import (
	"context"
	"errors"
	"testing"
)

// stubSink counts callbacks and fails on demand.
type stubSink struct {
	starts, frames, ends int
	frameErr             error
}

func (s *stubSink) OnSessionStart(ctx context.Context, meta *SessionMetadata) error {
	s.starts++
	return nil
}

func (s *stubSink) OnFrame(ctx context.Context, frame *Frame) error {
	s.frames++
	return s.frameErr
}

func (s *stubSink) OnSessionEnd(ctx context.Context, meta *SessionMetadata) error {
	s.ends++
	return nil
}

func TestTeeFansOutInOrder(t *testing.T) {
	a := &stubSink{}
	b := &stubSink{}
	tee := Tee(a, b)
	ctx := context.Background()
	meta := &SessionMetadata{}

	if err := tee.OnSessionStart(ctx, meta); err != nil {
		t.Fatalf("OnSessionStart: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := tee.OnFrame(ctx, &Frame{Index: uint64(i)}); err != nil {
			t.Fatalf("OnFrame %d: %v", i, err)
		}
	}
	if err := tee.OnSessionEnd(ctx, meta); err != nil {
		t.Fatalf("OnSessionEnd: %v", err)
	}

	for name, s := range map[string]*stubSink{"first": a, "second": b} {
		if s.starts != 1 || s.frames != 3 || s.ends != 1 {
			t.Errorf("%s sink got starts=%d frames=%d ends=%d, want 1/3/1",
				name, s.starts, s.frames, s.ends)
		}
	}
}

func TestTeeStopsOnFirstError(t *testing.T) {
	boom := errors.New("disk full")
	a := &stubSink{frameErr: boom}
	b := &stubSink{}
	tee := Tee(a, b)

	err := tee.OnFrame(context.Background(), &Frame{})
	if !errors.Is(err, boom) {
		t.Fatalf("OnFrame error = %v, want %v", err, boom)
	}
	if b.frames != 0 {
		t.Errorf("second sink saw %d frames after first errored, want 0", b.frames)
	}
}

func TestTeeEmpty(t *testing.T) {
	tee := Tee()
	ctx := context.Background()
	if err := tee.OnSessionStart(ctx, &SessionMetadata{}); err != nil {
		t.Errorf("empty tee OnSessionStart: %v", err)
	}
	if err := tee.OnFrame(ctx, &Frame{}); err != nil {
		t.Errorf("empty tee OnFrame: %v", err)
	}
	if err := tee.OnSessionEnd(ctx, &SessionMetadata{}); err != nil {
		t.Errorf("empty tee OnSessionEnd: %v", err)
	}
}
