// Package session drives one capture session end to end: it programs the
// capture card, arms it, turns the data stream into frames and delivers them
// to the configured sink.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eghosaohenhen/mmrobot/internal/dca1000"
	"github.com/eghosaohenhen/mmrobot/internal/metrics"
	"github.com/eghosaohenhen/mmrobot/internal/stream"
	"github.com/eghosaohenhen/mmrobot/pkg/capture"
)

// ErrSinkOverrun is the abort reason when the sink cannot keep up and the
// bounded frame queue fills. Dropping frames silently would corrupt the
// sample stream, so the session ends instead.
var ErrSinkOverrun = errors.New("session: sink too slow, frame queue overrun")

// State represents the state of a session in its lifecycle.
type State string

const (
	// StateIdle indicates the session is constructed but not started.
	StateIdle State = "idle"
	// StateConfiguring indicates the command sequence is being sent.
	StateConfiguring State = "configuring"
	// StateArmed indicates recording has started but no data has arrived.
	StateArmed State = "armed"
	// StateCapturing indicates data datagrams are flowing.
	StateCapturing State = "capturing"
	// StateDraining indicates recording is stopping and queued frames are
	// being delivered.
	StateDraining State = "draining"
	// StateClosed indicates the session ended normally, by frame count or
	// by cancellation.
	StateClosed State = "closed"
	// StateAborted indicates the session ended on an error.
	StateAborted State = "aborted"
)

// Config carries everything one session needs. Values are resolved by the
// caller; the session does not read global configuration.
type Config struct {
	// Card addressing.
	CardAddr      string
	LocalCmdAddr  string
	LocalDataAddr string

	// Command channel policy.
	CommandTimeout  time.Duration
	CommandAttempts int // tries per configuration command when responses time out

	// Values programmed into the card.
	FPGA   dca1000.FPGAConfig
	Packet dca1000.PacketConfig

	// Frame shape and session extent.
	Geometry    capture.Geometry
	FramePeriod time.Duration
	Frames      int // 0 = capture until the context is cancelled

	// Receive path tuning.
	ReadBuffer  int // kernel receive buffer for the data socket, in bytes
	QueueFrames int // bounded frame queue between reassembly and the sink
	MaxGap      uint64
}

// Session is one capture session. It is not reusable: construct, Run once,
// inspect Report.
type Session struct {
	cfg  Config
	sink capture.Sink
	meta capture.SessionMetadata

	control *dca1000.Control
	data    *dataSocket

	seq *stream.Sequencer
	asm *stream.Reassembler

	// Runtime channels.
	frameCh   chan *capture.Frame // receiver → deliverer, bounded
	started   chan struct{}       // closed on the first parsed data packet
	doneCh    chan struct{}       // closed when the requested frame count is queued
	stopRecv  chan struct{}       // tells the receiver to exit
	recvDone  chan struct{}       // receiver has exited
	delivDone chan struct{}       // deliverer has exited
	abortCh   chan error          // first fatal error wins

	// Counters owned by the receiver goroutine, read after recvDone.
	received  uint64
	malformed uint64

	// Counters owned by the deliverer goroutine, read after delivDone.
	delivered  uint64
	degraded   uint64
	firstFrame time.Time

	mu    sync.RWMutex
	state State
}

// New builds a session and binds the local data endpoint so that no datagram
// can be lost between arming the card and opening the socket.
func New(cfg Config, sink capture.Sink) (*Session, error) {
	if sink == nil {
		return nil, fmt.Errorf("session: sink is required")
	}
	if err := cfg.FPGA.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Packet.Validate(); err != nil {
		return nil, err
	}
	if cfg.CommandAttempts < 1 {
		cfg.CommandAttempts = 1
	}
	if cfg.QueueFrames < 1 {
		cfg.QueueFrames = 1
	}

	asm, err := stream.NewReassembler(cfg.Geometry.FrameBytes())
	if err != nil {
		return nil, err
	}

	data, err := openDataSocket(cfg.LocalDataAddr, cfg.ReadBuffer)
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:  cfg,
		sink: sink,
		meta: capture.SessionMetadata{
			SessionID:       uuid.New(),
			Geometry:        cfg.Geometry,
			FramePeriod:     cfg.FramePeriod,
			FramesRequested: cfg.Frames,
		},
		data:      data,
		seq:       stream.NewSequencer(cfg.MaxGap),
		asm:       asm,
		frameCh:   make(chan *capture.Frame, cfg.QueueFrames),
		started:   make(chan struct{}),
		doneCh:    make(chan struct{}),
		stopRecv:  make(chan struct{}),
		recvDone:  make(chan struct{}),
		delivDone: make(chan struct{}),
		abortCh:   make(chan error, 1),
		state:     StateIdle,
	}, nil
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	slog.Info("session state changed", "session_id", s.meta.SessionID, "state", st)
}

// Report returns the session metadata. The counters are final only after Run
// has returned.
func (s *Session) Report() capture.SessionMetadata {
	return s.meta
}

// Run executes the session: configure, arm, capture, drain, close. It blocks
// until the requested frame count is delivered, the context is cancelled, or
// a fatal error aborts the capture. Run releases all session resources and
// must be called exactly once.
func (s *Session) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("session: cannot run in state %s", st)
	}
	s.state = StateConfiguring
	s.mu.Unlock()
	slog.Info("session state changed", "session_id", s.meta.SessionID, "state", StateConfiguring)

	defer s.data.close()
	s.meta.StartTime = time.Now()

	control, err := dca1000.DialControl(s.cfg.LocalCmdAddr, s.cfg.CardAddr, s.cfg.CommandTimeout)
	if err != nil {
		return s.fail(err)
	}
	s.control = control
	defer s.control.Close()

	if err := s.configure(ctx); err != nil {
		return s.fail(err)
	}

	if err := s.sink.OnSessionStart(ctx, &s.meta); err != nil {
		return s.fail(fmt.Errorf("sink start: %w", err))
	}

	// The card is quiet after configuration, so anything already buffered is
	// tail traffic from an earlier capture and would corrupt the sequencer.
	if n := s.data.flush(); n > 0 {
		slog.Warn("flushed stale datagrams from data socket",
			"session_id", s.meta.SessionID, "count", n)
	}

	// The receive path spins up before the card is armed so the first
	// datagrams have somewhere to land.
	go s.receiveLoop()
	go s.deliverLoop()

	if err := s.command(ctx, "record start", s.control.RecordStart); err != nil {
		select {
		case <-s.started:
			// The start took effect and the response was lost; data is
			// already flowing.
			slog.Warn("record start response lost but data is flowing",
				"session_id", s.meta.SessionID, "error", err)
		default:
			return s.abortAndClose(fmt.Errorf("record start: %w", err))
		}
	}
	s.setState(StateArmed)
	slog.Info("capture armed",
		"session_id", s.meta.SessionID,
		"frame_bytes", s.cfg.Geometry.FrameBytes(),
		"frames_requested", s.cfg.Frames)

	startedCh := s.started
	for {
		select {
		case <-startedCh:
			s.setState(StateCapturing)
			startedCh = nil
		case <-s.doneCh:
			slog.Info("requested frame count reached", "session_id", s.meta.SessionID)
			return s.finish("completed", nil)
		case <-ctx.Done():
			slog.Info("capture cancelled", "session_id", s.meta.SessionID)
			return s.finish("cancelled", nil)
		case err := <-s.abortCh:
			return s.finish("aborted", err)
		}
	}
}

// configure runs the fixed command sequence that programs the card. Timeouts
// are retried up to CommandAttempts; a rejection or malformed response is
// final immediately, since the card's configuration state is then unknown.
func (s *Session) configure(ctx context.Context) error {
	slog.Info("configuring capture card", "session_id", s.meta.SessionID, "card", s.cfg.CardAddr)

	if err := s.command(ctx, "system connect", s.control.SystemConnect); err != nil {
		return err
	}
	ver, err := s.control.ReadFPGAVersion(ctx)
	if err != nil {
		slog.Warn("fpga version query failed", "session_id", s.meta.SessionID, "error", err)
	} else {
		slog.Info("capture card connected", "session_id", s.meta.SessionID, "fpga", ver)
	}

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"fpga reset", s.control.ResetFPGA},
		{"fpga config", func(ctx context.Context) error { return s.control.ConfigFPGA(ctx, s.cfg.FPGA) }},
		{"data mode config", s.control.ConfigDataMode},
		{"packet config", func(ctx context.Context) error { return s.control.ConfigPacketData(ctx, s.cfg.Packet) }},
	}
	for _, step := range steps {
		if err := s.command(ctx, step.name, step.run); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}
	return nil
}

// command runs one card command, retrying lost responses.
func (s *Session) command(ctx context.Context, name string, run func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= s.cfg.CommandAttempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err = run(ctx); err == nil {
			return nil
		}
		if !errors.Is(err, dca1000.ErrTimeout) {
			return err
		}
		slog.Warn("command timed out",
			"session_id", s.meta.SessionID,
			"command", name,
			"attempt", attempt,
			"attempts", s.cfg.CommandAttempts)
	}
	return err
}

// fail aborts a session that never armed the card: no stop command is owed
// and no sink teardown has to happen.
func (s *Session) fail(err error) error {
	slog.Error("session aborted", "session_id", s.meta.SessionID, "error", err)
	s.setState(StateAborted)
	metrics.SessionsTotal.WithLabelValues("aborted").Inc()
	return err
}

// abortAndClose aborts after the pipeline goroutines have started but before
// the card armed.
func (s *Session) abortAndClose(err error) error {
	s.shutdownPipeline()
	s.finalizeCounters()
	s.closeSink("aborted")
	return s.fail(err)
}

// finish is the single teardown path once the card has been armed. Exactly
// one stop command is sent no matter how the session ends.
func (s *Session) finish(outcome string, abortErr error) error {
	if outcome == "aborted" {
		slog.Error("session aborting", "session_id", s.meta.SessionID, "error", abortErr)
		s.setState(StateAborted)
	} else {
		s.setState(StateDraining)
	}

	s.stopRecord()
	s.shutdownPipeline()
	s.finalizeCounters()
	s.closeSink(outcome)

	if outcome != "aborted" {
		s.setState(StateClosed)
	}
	metrics.SessionsTotal.WithLabelValues(outcome).Inc()

	slog.Info("session finished",
		"session_id", s.meta.SessionID,
		"outcome", outcome,
		"frames_captured", s.meta.FramesCaptured,
		"frames_degraded", s.meta.FramesDegraded,
		"packets_received", s.meta.PacketsReceived,
		"packets_duplicate", s.meta.PacketsDuplicate,
		"packets_malformed", s.meta.PacketsMalformed,
		"bytes_lost", s.meta.BytesLost)
	return abortErr
}

// stopRecord sends the record stop command once. The stop is best effort: if
// the card does not answer, its own capture timer halts the stream.
func (s *Session) stopRecord() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.control.RecordStop(ctx); err != nil {
		slog.Warn("record stop failed, relying on the card's capture timer",
			"session_id", s.meta.SessionID, "error", err)
	}
}

// shutdownPipeline retires the receiver, then the deliverer. Closing frameCh
// only after the receiver has exited keeps the "send on closed channel" case
// impossible, and the deliverer drains whatever is still queued.
func (s *Session) shutdownPipeline() {
	close(s.stopRecv)
	<-s.recvDone
	close(s.frameCh)
	<-s.delivDone
}

// finalizeCounters folds the goroutine-owned counters into the metadata.
// Both loops have exited by now, so the reads are ordered.
func (s *Session) finalizeCounters() {
	st := s.seq.Stats()
	s.meta.FirstFrameTime = s.firstFrame
	s.meta.FramesCaptured = s.delivered
	s.meta.FramesDegraded = s.degraded
	s.meta.BytesLost = st.BytesLost
	s.meta.PacketsReceived = s.received
	s.meta.PacketsDuplicate = st.Duplicates
	s.meta.PacketsMalformed = s.malformed

	if pending := s.asm.Pending(); pending > 0 {
		slog.Debug("discarding trailing partial frame",
			"session_id", s.meta.SessionID, "bytes", pending)
	}
}

// closeSink hands the finalized metadata to the sink. The session context
// may already be cancelled, so the sink gets a fresh deadline to flush.
func (s *Session) closeSink(outcome string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.sink.OnSessionEnd(ctx, &s.meta); err != nil {
		slog.Warn("sink close error",
			"session_id", s.meta.SessionID, "outcome", outcome, "error", err)
	}
}

// abort records the first fatal error; later errors lose the race and are
// logged where they occur.
func (s *Session) abort(err error) {
	select {
	case s.abortCh <- err:
	default:
	}
}
