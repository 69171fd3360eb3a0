// ABOUTME: Signal stream header and chunk decoding
// ABOUTME: Converts TCP Writer bytes into sample matrices per declared endianness
package openvibe

import (
	"encoding/binary"
	"fmt"
	"math"
)

const (
	// HeaderSize is the size of the one-time stream header
	HeaderSize = 32

	// DefaultSignalPort is the Designer TCP Writer box default port
	DefaultSignalPort = 5678

	// maxChunkBytes bounds the buffer a header may ask for
	maxChunkBytes = 64 << 20
)

// Stream endianness values as declared in the header
const (
	EndianUnknown uint32 = 0
	EndianLittle  uint32 = 1
	EndianBig     uint32 = 2
	EndianPDP     uint32 = 3
)

// Header is the decoded 32-byte stream header
type Header struct {
	Version      uint32
	Endianness   uint32
	FrequencyHz  uint32
	ChannelCount int
	SampleCount  int
}

// ChunkBytes is the size of one sample matrix on the wire
func (h Header) ChunkBytes() int {
	return h.SampleCount * h.ChannelCount * 8
}

// ByteOrder returns the order used for the stream's payload. Unknown
// endianness falls back to the host order.
func (h Header) ByteOrder() (binary.ByteOrder, error) {
	switch h.Endianness {
	case EndianLittle:
		return binary.LittleEndian, nil
	case EndianBig:
		return binary.BigEndian, nil
	case EndianUnknown:
		return binary.NativeEndian, nil
	default:
		return nil, fmt.Errorf("unsupported endianness %d", h.Endianness)
	}
}

// DecodeHeader parses the stream header. The version and endianness words
// are in network byte order; frequency, channel and sample counts follow the
// declared endianness.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("signal header too short: %d bytes", len(b))
	}

	h := Header{
		Version:    binary.BigEndian.Uint32(b[0:4]),
		Endianness: binary.BigEndian.Uint32(b[4:8]),
	}

	order, err := h.ByteOrder()
	if err != nil {
		return h, &MalformedHeaderError{Header: h, Reason: err.Error()}
	}

	h.FrequencyHz = order.Uint32(b[8:12])
	h.ChannelCount = int(int32(order.Uint32(b[12:16])))
	h.SampleCount = int(int32(order.Uint32(b[16:20])))

	if h.ChannelCount <= 0 || h.SampleCount <= 0 {
		return h, &MalformedHeaderError{Header: h, Reason: "non-positive channel or sample count"}
	}
	if h.ChunkBytes() > maxChunkBytes {
		return h, &MalformedHeaderError{Header: h, Reason: "chunk size exceeds limit"}
	}

	return h, nil
}

// EncodeHeader is the inverse of DecodeHeader; used by stream simulators
// and tests.
func EncodeHeader(h Header) ([]byte, error) {
	order, err := h.ByteOrder()
	if err != nil {
		return nil, err
	}

	b := make([]byte, HeaderSize)
	binary.BigEndian.PutUint32(b[0:4], h.Version)
	binary.BigEndian.PutUint32(b[4:8], h.Endianness)
	order.PutUint32(b[8:12], h.FrequencyHz)
	order.PutUint32(b[12:16], uint32(h.ChannelCount))
	order.PutUint32(b[16:20], uint32(h.SampleCount))
	return b, nil
}

// Chunk is one decoded sample matrix: Matrix[sample][channel]
type Chunk struct {
	Channels int
	Samples  int
	Matrix   [][]float64
}

// At returns the value for one sample of one channel
func (c *Chunk) At(sample, channel int) float64 {
	return c.Matrix[sample][channel]
}

// DecodeChunk decodes exactly h.ChunkBytes() bytes, sample-major
func DecodeChunk(b []byte, h Header) (*Chunk, error) {
	if len(b) != h.ChunkBytes() {
		return nil, fmt.Errorf("chunk size mismatch: got %d bytes, want %d", len(b), h.ChunkBytes())
	}

	order, err := h.ByteOrder()
	if err != nil {
		return nil, err
	}

	chunk := &Chunk{
		Channels: h.ChannelCount,
		Samples:  h.SampleCount,
		Matrix:   make([][]float64, h.SampleCount),
	}

	off := 0
	for s := 0; s < h.SampleCount; s++ {
		row := make([]float64, h.ChannelCount)
		for ch := 0; ch < h.ChannelCount; ch++ {
			row[ch] = math.Float64frombits(order.Uint64(b[off : off+8]))
			off += 8
		}
		chunk.Matrix[s] = row
	}

	return chunk, nil
}

// EncodeChunk serialises a matrix in the header's declared order
func EncodeChunk(matrix [][]float64, h Header) ([]byte, error) {
	order, err := h.ByteOrder()
	if err != nil {
		return nil, err
	}
	if len(matrix) != h.SampleCount {
		return nil, fmt.Errorf("expected %d samples, got %d", h.SampleCount, len(matrix))
	}

	b := make([]byte, h.ChunkBytes())
	off := 0
	for _, row := range matrix {
		if len(row) != h.ChannelCount {
			return nil, fmt.Errorf("expected %d channels, got %d", h.ChannelCount, len(row))
		}
		for _, v := range row {
			order.PutUint64(b[off:off+8], math.Float64bits(v))
			off += 8
		}
	}
	return b, nil
}
