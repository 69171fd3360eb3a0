package openvibe

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newFedReader returns a reader that is fed directly, with no socket
func newFedReader() *SignalReader {
	r := NewSignalReader()
	r.attached = true
	return r
}

func TestPollAccumulatesHeaderAcrossPolls(t *testing.T) {
	r := newFedReader()
	hdr := rawHeader(binary.LittleEndian, 1, 1, 512, 4, 8)

	r.buf.Write(hdr[:20])
	chunk, err := r.Poll()
	require.NoError(t, err)
	assert.Nil(t, chunk)
	_, ok := r.Header()
	assert.False(t, ok)

	r.buf.Write(hdr[20:])
	chunk, err = r.Poll()
	require.NoError(t, err)
	assert.Nil(t, chunk)

	h, ok := r.Header()
	require.True(t, ok)
	assert.Equal(t, 256, h.ChunkBytes())
}

func TestPollRetainsPartialChunk(t *testing.T) {
	r := newFedReader()
	r.buf.Write(rawHeader(binary.LittleEndian, 1, 1, 512, 4, 8))

	h := Header{Endianness: EndianLittle, ChannelCount: 4, SampleCount: 8}
	matrix := make([][]float64, 8)
	for s := range matrix {
		matrix[s] = []float64{float64(s), 1, 2, 3}
	}
	raw, err := EncodeChunk(matrix, h)
	require.NoError(t, err)

	r.buf.Write(raw[:100])
	chunk, err := r.Poll()
	require.NoError(t, err)
	assert.Nil(t, chunk)
	assert.Equal(t, 100, r.Buffered())

	r.buf.Write(raw[100:])
	chunk, err = r.Poll()
	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.Equal(t, matrix, chunk.Matrix)
	assert.Equal(t, 0, r.Buffered())
}

func TestPollMalformedHeaderIsSticky(t *testing.T) {
	r := newFedReader()
	r.buf.Write(rawHeader(binary.LittleEndian, 1, 1, 512, 0, 8))

	_, err := r.Poll()
	var hdrErr *MalformedHeaderError
	require.ErrorAs(t, err, &hdrErr)

	_, again := r.Poll()
	assert.Equal(t, err, again)
	assert.False(t, r.IsConnected())
}

func TestPollNotConnected(t *testing.T) {
	r := NewSignalReader()
	_, err := r.Poll()
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, IsFatal(err))
}

func TestLatestSkipsBacklog(t *testing.T) {
	r := newFedReader()
	r.buf.Write(rawHeader(binary.LittleEndian, 1, 1, 512, 1, 2))

	h := Header{Endianness: EndianLittle, ChannelCount: 1, SampleCount: 2}
	for i := 0; i < 3; i++ {
		raw, err := EncodeChunk([][]float64{{0}, {float64(i)}}, h)
		require.NoError(t, err)
		r.buf.Write(raw)
	}

	chunk, err := r.Latest()
	require.NoError(t, err)
	require.NotNil(t, chunk)
	assert.Equal(t, 2.0, chunk.At(1, 0))

	decoded, skipped := r.Stats()
	assert.Equal(t, int64(3), decoded)
	assert.Equal(t, int64(2), skipped)

	chunk, err = r.Latest()
	require.NoError(t, err)
	assert.Nil(t, chunk)
}

func TestSignalReaderOverTCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	h := Header{Version: 1, Endianness: EndianBig, FrequencyHz: 64, ChannelCount: 1, SampleCount: 2}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		hdr, _ := EncodeHeader(h)
		raw, _ := EncodeChunk([][]float64{{1.5}, {-0.5}}, h)
		conn.Write(hdr)
		conn.Write(raw[:5])
		time.Sleep(20 * time.Millisecond)
		conn.Write(raw[5:])
		conn.Write([]byte{1, 2, 3})
		conn.Close()
	}()

	r := NewSignalReader()
	require.NoError(t, r.Dial(context.Background(), ln.Addr().String()))
	defer r.Close()

	var chunk *Chunk
	require.Eventually(t, func() bool {
		c, err := r.Poll()
		if err != nil || c == nil {
			return false
		}
		chunk = c
		return true
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, [][]float64{{1.5}, {-0.5}}, chunk.Matrix)

	// peer closed with a partial frame left behind
	var closedErr *StreamClosedError
	require.Eventually(t, func() bool {
		_, err := r.Poll()
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)
	_, err = r.Poll()
	require.ErrorAs(t, err, &closedErr)
	assert.Equal(t, 3, closedErr.Buffered)
	assert.True(t, IsFatal(err))
}

func TestSignalReaderCloseIdempotent(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	r := NewSignalReader()
	r.Attach(client)
	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())

	_, err := r.Poll()
	assert.ErrorIs(t, err, ErrNotConnected)
}
