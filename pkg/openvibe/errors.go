// ABOUTME: Error types for the OpenViBE wire protocols
// ABOUTME: Separates connection, header and stream-closed failures
package openvibe

import (
	"errors"
	"fmt"
)

// Channel names used in diagnostics.
const (
	ChannelStimulation = "stimulation"
	ChannelSignal      = "signal"
)

// ErrNotConnected is returned by operations that need an open socket.
var ErrNotConnected = errors.New("not connected")

// ConnectionError reports a failed connection attempt on one channel.
type ConnectionError struct {
	Channel string
	Addr    string
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s channel: connect to %s failed: %v", e.Channel, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// MalformedHeaderError reports a signal header that cannot describe a
// usable sample matrix. It is fatal for the stream.
type MalformedHeaderError struct {
	Header Header
	Reason string
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("signal stream: malformed header (%s): channels=%d samples=%d endianness=%d",
		e.Reason, e.Header.ChannelCount, e.Header.SampleCount, e.Header.Endianness)
}

// StreamClosedError reports that the peer closed the signal stream.
// Complete frames buffered before the close are still returned first.
type StreamClosedError struct {
	Buffered int // bytes of an incomplete frame left behind
	Err      error
}

func (e *StreamClosedError) Error() string {
	return fmt.Sprintf("signal stream closed (%d bytes of partial frame discarded): %v", e.Buffered, e.Err)
}

func (e *StreamClosedError) Unwrap() error { return e.Err }

// IsFatal reports whether err should end the session when it comes out of
// SignalReader.Poll or a Dial call.
func IsFatal(err error) bool {
	var connErr *ConnectionError
	var hdrErr *MalformedHeaderError
	var closedErr *StreamClosedError
	return errors.As(err, &connErr) || errors.As(err, &hdrErr) || errors.As(err, &closedErr)
}
