// ABOUTME: Stimulation marker channel to the OpenViBE Acquisition Server
// ABOUTME: Encodes 24-byte frames and writes them without blocking the caller
package openvibe

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// StimFrameSize is the size of one stimulation message on the wire
	StimFrameSize = 24

	// FlagTimestampCreate asks the server to stamp the marker on arrival
	FlagTimestampCreate uint64 = 4

	// DefaultStimPort is the Acquisition Server's TCP tagging port
	DefaultStimPort = 15361

	stimQueueSize     = 64
	stimWriteDeadline = time.Second
	stimCloseGrace    = 500 * time.Millisecond
)

// StimMessage is one stimulation frame
type StimMessage struct {
	Flags    uint64
	Code     uint64
	Reserved uint64
}

// NewStimMessage builds a server-timestamped frame for code
func NewStimMessage(code uint64) StimMessage {
	return StimMessage{Flags: FlagTimestampCreate, Code: code}
}

// Encode lays the frame out in the sender's native byte order
func (m StimMessage) Encode() [StimFrameSize]byte {
	var b [StimFrameSize]byte
	binary.NativeEndian.PutUint64(b[0:8], m.Flags)
	binary.NativeEndian.PutUint64(b[8:16], m.Code)
	binary.NativeEndian.PutUint64(b[16:24], m.Reserved)
	return b
}

// DecodeStim parses a frame produced by Encode on the same host
func DecodeStim(b []byte) (StimMessage, error) {
	if len(b) < StimFrameSize {
		return StimMessage{}, fmt.Errorf("stimulation frame too short: %d bytes", len(b))
	}
	return StimMessage{
		Flags:    binary.NativeEndian.Uint64(b[0:8]),
		Code:     binary.NativeEndian.Uint64(b[8:16]),
		Reserved: binary.NativeEndian.Uint64(b[16:24]),
	}, nil
}

// StimStats counts frames handled by a StimChannel
type StimStats struct {
	Sent    int64
	Dropped int64
}

// StimChannel writes stimulation markers to the Acquisition Server
type StimChannel struct {
	mu      sync.Mutex
	conn    net.Conn
	frames  chan [StimFrameSize]byte
	done    chan struct{}
	open    bool // accepting frames
	closed  bool
	lastErr error

	sent    atomic.Int64
	dropped atomic.Int64
}

// NewStimChannel creates an unconnected channel. Sends before Dial are
// logged and dropped.
func NewStimChannel() *StimChannel {
	return &StimChannel{}
}

// Dial connects to the Acquisition Server at addr (host:port)
func (c *StimChannel) Dial(ctx context.Context, addr string) error {
	if c.IsConnected() {
		log.Printf("Stimulation channel already connected, not dialing %s", addr)
		return nil
	}

	log.Printf("Connecting stimulation channel to %s", addr)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &ConnectionError{Channel: ChannelStimulation, Addr: addr, Err: err}
	}

	c.Attach(conn)
	log.Printf("Stimulation channel connected to %s", addr)
	return nil
}

// Attach starts writing frames to an already established connection
func (c *StimChannel) Attach(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = conn
	c.frames = make(chan [StimFrameSize]byte, stimQueueSize)
	c.done = make(chan struct{})
	c.open = true
	c.closed = false
	c.lastErr = nil

	go c.writeLoop(conn, c.frames, c.done)
}

// Send queues one marker. It never blocks: when the channel is not
// connected, or the queue is full, the marker is logged and dropped.
func (c *StimChannel) Send(code uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		c.dropped.Add(1)
		log.Printf("Not sending stimulation %s: channel not connected", StimName(code))
		return
	}

	select {
	case c.frames <- NewStimMessage(code).Encode():
	default:
		c.dropped.Add(1)
		log.Printf("Stimulation queue full, dropping %s", StimName(code))
	}
}

// writeLoop performs one Write per frame until frames is closed
func (c *StimChannel) writeLoop(conn net.Conn, frames <-chan [StimFrameSize]byte, done chan<- struct{}) {
	defer close(done)

	failed := false
	for frame := range frames {
		if failed {
			c.dropped.Add(1)
			continue
		}

		conn.SetWriteDeadline(time.Now().Add(stimWriteDeadline))
		if _, err := conn.Write(frame[:]); err != nil {
			log.Printf("Stimulation write failed: %v", err)
			failed = true
			c.dropped.Add(1)

			c.mu.Lock()
			c.open = false
			c.lastErr = err
			c.mu.Unlock()
			continue
		}
		c.sent.Add(1)
	}
}

// Close flushes queued frames for a short grace period and closes the
// socket. Safe to call more than once or without a connection.
func (c *StimChannel) Close() error {
	c.mu.Lock()
	if c.conn == nil || c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.open = false
	close(c.frames)
	conn, done := c.conn, c.done
	c.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stimCloseGrace):
		log.Printf("Stimulation channel close: gave up flushing queued frames")
	}

	if err := conn.Close(); err != nil {
		return fmt.Errorf("close stimulation channel: %w", err)
	}
	log.Printf("Stimulation channel closed")
	return nil
}

// IsConnected reports whether Send currently delivers frames
func (c *StimChannel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Err returns the write error that disconnected the channel, if any
func (c *StimChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Stats returns frame counters
func (c *StimChannel) Stats() StimStats {
	return StimStats{Sent: c.sent.Load(), Dropped: c.dropped.Load()}
}
