package dca1000

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/eghosaohenhen/mmrobot/internal/metrics"
)

const defaultCommandTimeout = 1 * time.Second

// Control is the command channel to the capture card. Exactly one request is
// in flight at a time; Send serializes callers so request/response
// correlation stays trivial. The card echoes the command code in every
// response, and that echo is the correlation identifier: responses carrying
// any other code are logged and dropped without disturbing the in-flight
// call. The read loop is bounded by the call deadline, so spurious traffic
// cannot grow memory.
type Control struct {
	mu      sync.Mutex
	conn    *net.UDPConn
	timeout time.Duration
	closed  bool
}

// DialControl binds the local command endpoint and connects it to the card's
// command port. A zero timeout selects the default per-command deadline.
func DialControl(local, card string, timeout time.Duration) (*Control, error) {
	laddr, err := net.ResolveUDPAddr("udp4", local)
	if err != nil {
		return nil, fmt.Errorf("resolve local command addr %q: %w", local, err)
	}
	raddr, err := net.ResolveUDPAddr("udp4", card)
	if err != nil {
		return nil, fmt.Errorf("resolve card command addr %q: %w", card, err)
	}
	conn, err := net.DialUDP("udp4", laddr, raddr)
	if err != nil {
		return nil, fmt.Errorf("dial card command channel: %w", err)
	}
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	return &Control{conn: conn, timeout: timeout}, nil
}

// Close releases the command socket. Safe to call more than once.
func (c *Control) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Send issues one command datagram and waits for the matching response.
// It fails with ErrTimeout when no matching response arrives in time, with
// ErrDeviceRejected when the card answers a failure status, and with
// ErrMalformedResponse when a response violates the fixed layout. No retries
// happen here; retry policy belongs to the session controller.
func (c *Control) Send(ctx context.Context, op Opcode, payload []byte) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return Response{}, ErrClosed
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	started := time.Now()
	if _, err := c.conn.Write(EncodeCommand(op, payload)); err != nil {
		return Response{}, fmt.Errorf("send %s: %w", op, err)
	}

	buf := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return Response{}, err
		}
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return Response{}, fmt.Errorf("arm %s deadline: %w", op, err)
		}
		n, err := c.conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				metrics.CommandErrorsTotal.WithLabelValues(op.String(), "timeout").Inc()
				return Response{}, fmt.Errorf("%w: %s after %s", ErrTimeout, op, c.timeout)
			}
			return Response{}, fmt.Errorf("receive %s response: %w", op, err)
		}

		resp, err := DecodeResponse(buf[:n])
		if err != nil {
			metrics.CommandErrorsTotal.WithLabelValues(op.String(), "malformed").Inc()
			return Response{}, err
		}
		if resp.Opcode == OpSystemError && op != OpSystemError {
			// Unsolicited fault notice from the card; it is not the answer
			// to the in-flight command.
			slog.Warn("capture card reported system error", "status", resp.Status)
			continue
		}
		if resp.Opcode != op {
			slog.Debug("ignoring stale command response", "want", op.String(), "got", resp.Opcode.String())
			continue
		}

		metrics.CommandRoundtripSeconds.WithLabelValues(op.String()).Observe(time.Since(started).Seconds())
		if op != OpReadFPGAVersion && !resp.OK() {
			metrics.CommandErrorsTotal.WithLabelValues(op.String(), "rejected").Inc()
			return resp, fmt.Errorf("%w: %s status %d", ErrDeviceRejected, op, resp.Status)
		}
		return resp, nil
	}
}

// SystemConnect verifies the card is reachable on the command channel.
func (c *Control) SystemConnect(ctx context.Context) error {
	_, err := c.Send(ctx, OpSystemConnect, nil)
	return err
}

// ResetFPGA returns the capture FPGA to its power-on state.
func (c *Control) ResetFPGA(ctx context.Context) error {
	_, err := c.Send(ctx, OpResetFPGA, nil)
	return err
}

// ConfigFPGA programs the capture mode flags.
func (c *Control) ConfigFPGA(ctx context.Context, cfg FPGAConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := c.Send(ctx, OpConfigFPGA, cfg.payload())
	return err
}

// ConfigDataMode selects raw recording on the radar-facing side of the card.
func (c *Control) ConfigDataMode(ctx context.Context) error {
	_, err := c.Send(ctx, OpConfigDataMode, nil)
	return err
}

// ConfigPacketData programs the data datagram size and pacing.
func (c *Control) ConfigPacketData(ctx context.Context, cfg PacketConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	_, err := c.Send(ctx, OpConfigPacketData, cfg.payload())
	return err
}

// RecordStart arms the card; data datagrams follow immediately.
func (c *Control) RecordStart(ctx context.Context) error {
	_, err := c.Send(ctx, OpRecordStart, nil)
	return err
}

// RecordStop halts the data stream.
func (c *Control) RecordStop(ctx context.Context) error {
	_, err := c.Send(ctx, OpRecordStop, nil)
	return err
}

// ReadFPGAVersion queries the card's FPGA image version.
func (c *Control) ReadFPGAVersion(ctx context.Context) (FPGAVersion, error) {
	resp, err := c.Send(ctx, OpReadFPGAVersion, nil)
	if err != nil {
		return FPGAVersion{}, err
	}
	return ParseFPGAVersion(resp.Status), nil
}
