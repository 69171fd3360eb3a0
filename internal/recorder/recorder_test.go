package recorder

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenPSG/edf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurobridge/mitrain/pkg/openvibe"
)

var testHeader = openvibe.Header{
	Version:      1,
	Endianness:   openvibe.EndianLittle,
	FrequencyHz:  8,
	ChannelCount: 1,
	SampleCount:  2,
}

func chunkOf(values ...float64) *openvibe.Chunk {
	m := make([][]float64, len(values))
	for i, v := range values {
		m[i] = []float64{v}
	}
	return &openvibe.Chunk{Channels: 1, Samples: len(values), Matrix: m}
}

func TestRecorderWritesReadableEDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rec", "session.edf")
	rec := New(path, DefaultOptions())

	want := []float64{-0.5, 0.25, 1.5, -2, 3.125, 12}
	for i := 0; i < len(want); i += 2 {
		require.NoError(t, rec.Record(testHeader, chunkOf(want[i], want[i+1])))
	}
	assert.Equal(t, 3, rec.Records())
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	er, err := edf.Open(f)
	require.NoError(t, err)
	sr, err := er.Signal(0)
	require.NoError(t, err)

	got := make([]float64, len(want))
	n, err := sr.Read(got)
	require.NoError(t, err)
	require.Equal(t, len(want), n)

	// the last value was clipped to the physical maximum
	want[5] = 10
	for i := range want {
		assert.InDelta(t, want[i], got[i], 1e-3, "sample %d", i)
	}

	_, err = sr.Read(got)
	assert.Equal(t, io.EOF, err)
}

func TestRecorderRejectsShapeChange(t *testing.T) {
	rec := New(filepath.Join(t.TempDir(), "s.edf"), DefaultOptions())
	defer rec.Close()

	require.NoError(t, rec.Record(testHeader, chunkOf(1, 2)))

	wide := testHeader
	wide.SampleCount = 4
	assert.Error(t, rec.Record(wide, chunkOf(1, 2, 3, 4)))
}

func TestRecorderCloseWithoutData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.edf")
	rec := New(path, DefaultOptions())
	require.NoError(t, rec.Close())

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

type scriptedPoller struct {
	chunks []*openvibe.Chunk
	err    error
}

func (p *scriptedPoller) Poll() (*openvibe.Chunk, error) {
	if len(p.chunks) == 0 {
		return nil, p.err
	}
	c := p.chunks[0]
	p.chunks = p.chunks[1:]
	return c, nil
}

func (p *scriptedPoller) Header() (openvibe.Header, bool) { return testHeader, true }

func TestTapRecordsEveryChunkAndReturnsNewest(t *testing.T) {
	rec := New(filepath.Join(t.TempDir(), "tap.edf"), DefaultOptions())
	defer rec.Close()

	src := &scriptedPoller{chunks: []*openvibe.Chunk{chunkOf(0, 1), chunkOf(0, 2), chunkOf(0, 3)}}
	tap := NewTap(src, rec)

	latest, err := tap.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 3.0, latest.At(1, 0))
	assert.Equal(t, 3, rec.Records())

	latest, err = tap.Latest()
	require.NoError(t, err)
	assert.Nil(t, latest)

	src.err = openvibe.ErrNotConnected
	_, err = tap.Latest()
	assert.ErrorIs(t, err, openvibe.ErrNotConnected)
}
