package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/eghosaohenhen/mmrobot/internal/dca1000"
	"github.com/eghosaohenhen/mmrobot/internal/metrics"
	"github.com/eghosaohenhen/mmrobot/pkg/capture"
)

// recvPollInterval bounds how long a read blocks, so the receiver notices a
// shutdown request without needing traffic.
const recvPollInterval = 250 * time.Millisecond

// dataSocket is the bound UDP endpoint the card streams data datagrams to.
type dataSocket struct {
	conn *net.UDPConn
}

// openDataSocket binds the local data endpoint and grows the kernel receive
// buffer. The card streams at up to ~100 MB/s with no flow control, so the
// socket buffer is the only slack between bursts and the receive loop.
func openDataSocket(local string, readBuffer int) (*dataSocket, error) {
	laddr, err := net.ResolveUDPAddr("udp4", local)
	if err != nil {
		return nil, fmt.Errorf("resolve local data addr %q: %w", local, err)
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("bind data socket: %w", err)
	}
	if readBuffer > 0 {
		if err := conn.SetReadBuffer(readBuffer); err != nil {
			slog.Warn("cannot grow data socket receive buffer, check net.core.rmem_max",
				"bytes", readBuffer, "error", err)
		}
	}
	return &dataSocket{conn: conn}, nil
}

func (d *dataSocket) addr() net.Addr {
	return d.conn.LocalAddr()
}

func (d *dataSocket) close() error {
	return d.conn.Close()
}

// flush drains datagrams that arrived before the session was armed, such as
// tail traffic from a capture the card was never told to stop. The read
// deadline sits slightly ahead so buffered datagrams are delivered before the
// timeout fires.
func (d *dataSocket) flush() int {
	buf := make([]byte, 2048)
	drained := 0
	for {
		if err := d.conn.SetReadDeadline(time.Now().Add(5 * time.Millisecond)); err != nil {
			break
		}
		if _, err := d.conn.Read(buf); err != nil {
			break
		}
		drained++
	}
	d.conn.SetReadDeadline(time.Time{})
	return drained
}

// receiveLoop reads data datagrams, restores stream order and cuts frames.
// It never blocks on the frame queue: a full queue is a fatal overrun. The
// loop exits when stopRecv closes, when the requested frame count has been
// queued, or on a fatal error.
func (s *Session) receiveLoop() {
	defer close(s.recvDone)

	buf := make([]byte, 2048)
	for {
		select {
		case <-s.stopRecv:
			return
		default:
		}

		if err := s.data.conn.SetReadDeadline(time.Now().Add(recvPollInterval)); err != nil {
			s.abort(fmt.Errorf("arm data socket deadline: %w", err))
			return
		}
		n, err := s.data.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.stopRecv:
				// Socket closed by teardown.
			default:
				s.abort(fmt.Errorf("data socket read: %w", err))
			}
			return
		}
		now := time.Now()

		pkt, err := dca1000.ParseDataPacket(buf[:n])
		if err != nil {
			// A stray or truncated datagram costs one counter tick, never
			// the session.
			s.malformed++
			metrics.PacketsDroppedTotal.WithLabelValues("malformed").Inc()
			continue
		}
		s.received++
		metrics.PacketsReceivedTotal.Inc()
		if s.received == 1 {
			close(s.started)
		}

		// pkt.Payload aliases buf; the reassembler copies every span into
		// frame buffers before the next read overwrites it.
		for _, sp := range s.seq.Feed(pkt) {
			for _, f := range s.asm.Ingest(sp, now) {
				if !s.enqueue(f) {
					return
				}
				if s.cfg.Frames > 0 && f.Index+1 == uint64(s.cfg.Frames) {
					close(s.doneCh)
					return
				}
			}
		}
	}
}

// enqueue hands one frame to the deliverer without blocking the receive loop.
func (s *Session) enqueue(f *capture.Frame) bool {
	select {
	case s.frameCh <- f:
		metrics.FrameQueueDepth.Inc()
		return true
	default:
		s.abort(ErrSinkOverrun)
		return false
	}
}

// deliverLoop feeds queued frames to the sink until frameCh closes. After a
// sink failure it keeps draining so the receiver side can always shut down.
func (s *Session) deliverLoop() {
	defer close(s.delivDone)

	var failed bool
	for f := range s.frameCh {
		metrics.FrameQueueDepth.Dec()
		if failed {
			continue
		}
		// Sinks bound their own I/O. The session context may already be
		// cancelled while queued frames drain, so it is not used here.
		if err := s.sink.OnFrame(context.Background(), f); err != nil {
			failed = true
			s.abort(fmt.Errorf("sink: %w", err))
			continue
		}
		if s.delivered == 0 {
			s.firstFrame = f.Time
		}
		s.delivered++
		if f.Degraded() {
			s.degraded++
		}
	}
}
