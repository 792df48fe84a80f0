package dca1000

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCard emulates the capture card's command port on loopback. Each
// received command is answered by handle; a nil return sends nothing.
type fakeCard struct {
	conn     *net.UDPConn
	handle   func(op Opcode, payload []byte) [][]byte
	received atomic.Int64
}

func newFakeCard(t *testing.T, handle func(op Opcode, payload []byte) [][]byte) *fakeCard {
	t.Helper()
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	card := &fakeCard{conn: conn, handle: handle}
	t.Cleanup(func() { conn.Close() })

	go func() {
		buf := make([]byte, 2048)
		for {
			n, addr, err := conn.ReadFromUDP(buf)
			if err != nil {
				return
			}
			op, payload, err := DecodeCommand(buf[:n])
			if err != nil {
				continue
			}
			card.received.Add(1)
			for _, resp := range card.handle(op, payload) {
				conn.WriteToUDP(resp, addr)
			}
		}
	}()
	return card
}

func (c *fakeCard) addr() string {
	return c.conn.LocalAddr().String()
}

// dial connects a Control to the fake card with a short test timeout.
func dialFake(t *testing.T, card *fakeCard, timeout time.Duration) *Control {
	t.Helper()
	ctrl, err := DialControl("127.0.0.1:0", card.addr(), timeout)
	require.NoError(t, err)
	t.Cleanup(func() { ctrl.Close() })
	return ctrl
}

func TestControlSendSuccess(t *testing.T) {
	card := newFakeCard(t, func(op Opcode, _ []byte) [][]byte {
		return [][]byte{EncodeResponse(op, 0)}
	})
	ctrl := dialFake(t, card, time.Second)

	assert.NoError(t, ctrl.SystemConnect(context.Background()))
	assert.NoError(t, ctrl.RecordStart(context.Background()))
	assert.EqualValues(t, 2, card.received.Load())
}

func TestControlSendRejected(t *testing.T) {
	card := newFakeCard(t, func(op Opcode, _ []byte) [][]byte {
		return [][]byte{EncodeResponse(op, 1)}
	})
	ctrl := dialFake(t, card, time.Second)

	err := ctrl.ResetFPGA(context.Background())
	assert.ErrorIs(t, err, ErrDeviceRejected)
}

func TestControlSendTimeout(t *testing.T) {
	card := newFakeCard(t, func(Opcode, []byte) [][]byte {
		return nil // stay silent
	})
	ctrl := dialFake(t, card, 100*time.Millisecond)

	start := time.Now()
	err := ctrl.SystemConnect(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestControlIgnoresMismatchedResponses(t *testing.T) {
	// The card answers with two stale responses before the matching one; the
	// in-flight call must skip them and still succeed.
	card := newFakeCard(t, func(op Opcode, _ []byte) [][]byte {
		return [][]byte{
			EncodeResponse(OpRecordStop, 0),
			EncodeResponse(OpSystemError, 3),
			EncodeResponse(op, 0),
		}
	})
	ctrl := dialFake(t, card, time.Second)

	assert.NoError(t, ctrl.SystemConnect(context.Background()))
}

func TestControlMismatchedOnlyStillTimesOut(t *testing.T) {
	card := newFakeCard(t, func(Opcode, []byte) [][]byte {
		return [][]byte{EncodeResponse(OpRecordStop, 0)}
	})
	ctrl := dialFake(t, card, 100*time.Millisecond)

	err := ctrl.RecordStart(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestControlMalformedResponse(t *testing.T) {
	card := newFakeCard(t, func(Opcode, []byte) [][]byte {
		return [][]byte{{0xde, 0xad}}
	})
	ctrl := dialFake(t, card, time.Second)

	err := ctrl.SystemConnect(context.Background())
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestControlReadFPGAVersion(t *testing.T) {
	// The version response reuses the status word for version bits; a
	// non-zero value must not read as a rejection.
	card := newFakeCard(t, func(op Opcode, _ []byte) [][]byte {
		return [][]byte{EncodeResponse(op, 2|8<<7)}
	})
	ctrl := dialFake(t, card, time.Second)

	v, err := ctrl.ReadFPGAVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, v.Major)
	assert.Equal(t, 8, v.Minor)
	assert.False(t, v.Playback)
}

func TestControlConfigValidationFailsWithoutNetwork(t *testing.T) {
	card := newFakeCard(t, func(op Opcode, _ []byte) [][]byte {
		return [][]byte{EncodeResponse(op, 0)}
	})
	ctrl := dialFake(t, card, time.Second)

	err := ctrl.ConfigFPGA(context.Background(), FPGAConfig{Lanes: 5, SampleBits: 16, Timer: 30 * time.Second})
	assert.Error(t, err)
	assert.EqualValues(t, 0, card.received.Load())
}

func TestControlCancelledContext(t *testing.T) {
	card := newFakeCard(t, func(Opcode, []byte) [][]byte {
		return nil
	})
	ctrl := dialFake(t, card, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := ctrl.SystemConnect(ctx)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "context deadline must bound the wait")
}

func TestControlClosed(t *testing.T) {
	card := newFakeCard(t, func(op Opcode, _ []byte) [][]byte {
		return [][]byte{EncodeResponse(op, 0)}
	})
	ctrl := dialFake(t, card, time.Second)

	require.NoError(t, ctrl.Close())
	require.NoError(t, ctrl.Close(), "double close must be safe")
	err := ctrl.SystemConnect(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
