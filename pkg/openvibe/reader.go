// ABOUTME: Signal stream reader for the OpenViBE TCP Writer box
// ABOUTME: Buffers partial frames across polls so reads never block the caller
package openvibe

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
)

const readBufferSize = 32 * 1024

// frameBuffer accumulates bytes from the socket until a full frame is
// available. Partial frames stay buffered across polls.
type frameBuffer struct {
	mu  sync.Mutex
	buf []byte
	err error // terminal read error, set once
}

func (f *frameBuffer) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = append(f.buf, p...)
	return len(p), nil
}

// take removes and returns exactly n bytes, or reports false and leaves the
// buffer untouched
func (f *frameBuffer) take(n int) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.buf) < n {
		return nil, false
	}

	frame := make([]byte, n)
	copy(frame, f.buf[:n])
	f.buf = append(f.buf[:0], f.buf[n:]...)
	return frame, true
}

func (f *frameBuffer) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf)
}

func (f *frameBuffer) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err == nil {
		f.err = err
	}
}

func (f *frameBuffer) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// SignalReader decodes the stream written by a Designer TCP Writer box
type SignalReader struct {
	mu       sync.Mutex
	conn     net.Conn
	buf      *frameBuffer
	header   *Header
	fatal    error
	attached bool
	closed   bool

	chunks  atomic.Int64
	skipped atomic.Int64
}

// NewSignalReader creates an unconnected reader
func NewSignalReader() *SignalReader {
	return &SignalReader{buf: &frameBuffer{}}
}

// Dial connects to the TCP Writer box at addr (host:port)
func (r *SignalReader) Dial(ctx context.Context, addr string) error {
	if r.IsConnected() {
		log.Printf("Signal stream already connected, not dialing %s", addr)
		return nil
	}

	log.Printf("Connecting signal stream to %s", addr)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return &ConnectionError{Channel: ChannelSignal, Addr: addr, Err: err}
	}

	r.Attach(conn)
	log.Printf("Signal stream connected to %s", addr)
	return nil
}

// Attach starts reading from an already established connection
func (r *SignalReader) Attach(conn net.Conn) {
	r.mu.Lock()
	r.conn = conn
	r.attached = true
	r.closed = false
	r.mu.Unlock()

	go r.pump(conn)
}

// pump copies socket bytes into the frame buffer until the read fails
func (r *SignalReader) pump(conn net.Conn) {
	b := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(b)
		if n > 0 {
			r.buf.Write(b[:n])
		}
		if err != nil {
			r.buf.setErr(err)
			return
		}
	}
}

// Poll returns the next complete chunk, or nil, nil when the bytes for it
// have not all arrived yet. A malformed header or a closed stream is
// returned as a fatal error on this and every later call.
func (r *SignalReader) Poll() (*Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.fatal != nil {
		return nil, r.fatal
	}
	if !r.attached || r.closed {
		return nil, ErrNotConnected
	}

	if r.header == nil {
		raw, ok := r.buf.take(HeaderSize)
		if !ok {
			return nil, r.checkEOF()
		}

		h, err := DecodeHeader(raw)
		if err != nil {
			r.fatal = err
			log.Printf("Signal stream header rejected: %v", err)
			return nil, err
		}

		r.header = &h
		log.Printf("Signal stream header: version=%d endianness=%d frequency=%dHz channels=%d samples/chunk=%d",
			h.Version, h.Endianness, h.FrequencyHz, h.ChannelCount, h.SampleCount)
	}

	raw, ok := r.buf.take(r.header.ChunkBytes())
	if !ok {
		return nil, r.checkEOF()
	}

	chunk, err := DecodeChunk(raw, *r.header)
	if err != nil {
		return nil, fmt.Errorf("decode chunk: %w", err)
	}
	r.chunks.Add(1)
	return chunk, nil
}

// checkEOF turns a finished pump into a sticky StreamClosedError once no
// complete frame is left to return
func (r *SignalReader) checkEOF() error {
	err := r.buf.Err()
	if err == nil {
		return nil
	}
	if errors.Is(err, net.ErrClosed) && r.closed {
		return ErrNotConnected
	}
	r.fatal = &StreamClosedError{Buffered: r.buf.Len(), Err: err}
	return r.fatal
}

// Latest drains every complete chunk and returns the newest one, so a slow
// caller never works on a backlog. Returns nil, nil when none is complete.
func (r *SignalReader) Latest() (*Chunk, error) {
	var latest *Chunk
	for {
		chunk, err := r.Poll()
		if err != nil {
			if latest != nil {
				return latest, nil
			}
			return nil, err
		}
		if chunk == nil {
			return latest, nil
		}
		if latest != nil {
			r.skipped.Add(1)
		}
		latest = chunk
	}
}

// Header returns the stream header once it has been decoded
func (r *SignalReader) Header() (Header, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.header == nil {
		return Header{}, false
	}
	return *r.header, true
}

// Buffered returns the number of bytes waiting for a complete frame
func (r *SignalReader) Buffered() int {
	return r.buf.Len()
}

// Stats returns decoded and skipped chunk counts
func (r *SignalReader) Stats() (chunks, skipped int64) {
	return r.chunks.Load(), r.skipped.Load()
}

// IsConnected reports whether the reader has a live connection
func (r *SignalReader) IsConnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attached && !r.closed && r.fatal == nil
}

// Close closes the socket without waiting for the pump goroutine. Safe to
// call more than once or without a connection.
func (r *SignalReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil || r.closed {
		return nil
	}
	r.closed = true

	if err := r.conn.Close(); err != nil {
		return fmt.Errorf("close signal stream: %w", err)
	}
	log.Printf("Signal stream closed")
	return nil
}
