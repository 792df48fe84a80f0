// Package dca1000 speaks the capture card's UDP control and data protocols.
package dca1000

import "errors"

// Sentinel errors for the two wire protocols. Callers classify failures with
// errors.Is; every return site wraps these with command/packet detail.
var (
	// ErrTimeout means no matching response arrived within the deadline.
	ErrTimeout = errors.New("dca1000: command timed out")

	// ErrDeviceRejected means the card answered with a failure status.
	ErrDeviceRejected = errors.New("dca1000: device rejected command")

	// ErrMalformedResponse means a command response violated the fixed layout.
	ErrMalformedResponse = errors.New("dca1000: malformed response")

	// ErrMalformedPacket means a data datagram was shorter than its header.
	ErrMalformedPacket = errors.New("dca1000: malformed data packet")

	// ErrClosed means the control channel was closed while in use.
	ErrClosed = errors.New("dca1000: control channel closed")
)
