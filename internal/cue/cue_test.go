package cue

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/neurobridge/mitrain/internal/training"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	rate   int
	ch     int
	writes [][]int16
	block  chan struct{}
	closed bool
	err    error
}

func (s *fakeSink) Open(rate, ch int) error {
	s.rate, s.ch = rate, ch
	return s.err
}

func (s *fakeSink) Write(samples []int16) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writes = append(s.writes, samples)
	return nil
}

func (s *fakeSink) Close() error {
	s.closed = true
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

func TestToneRender(t *testing.T) {
	clip := LeftTone.Render(DefaultSampleRate)

	assert.Equal(t, DefaultSampleRate, clip.SampleRate)
	assert.Equal(t, 2, clip.Channels)
	assert.Len(t, clip.Samples, 7200*2)
	assert.InDelta(t, 0.15, clip.Duration(), 1e-9)

	// Faded edges start and end silent
	assert.Equal(t, int16(0), clip.Samples[0])
	assert.Equal(t, int16(0), clip.Samples[len(clip.Samples)-1])

	var peak int16
	for i := 0; i < len(clip.Samples); i += 2 {
		require.Equal(t, clip.Samples[i], clip.Samples[i+1], "channels differ at frame %d", i/2)
		if clip.Samples[i] > peak {
			peak = clip.Samples[i]
		}
	}
	assert.LessOrEqual(t, peak, int16(32767/2))
	assert.Greater(t, peak, int16(15000))
}

func TestToneShorterThanFade(t *testing.T) {
	clip := Tone{Frequency: 1000, Duration: 2 * time.Millisecond, Level: 1}.Render(8000)
	assert.Len(t, clip.Samples, 16*2)
}

func TestCodecFor(t *testing.T) {
	tests := []struct {
		path  string
		codec string
		err   bool
	}{
		{"left.mp3", "mp3", false},
		{"LEFT.MP3", "mp3", false},
		{"right.opus", "opus", false},
		{"right.ogg", "opus", false},
		{"left.wav", "", true},
		{"left", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			codec, err := codecFor(tt.path)
			if tt.err {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.codec, codec)
		})
	}
}

func TestLoadClipUnsupported(t *testing.T) {
	_, err := LoadClip(filepath.Join(t.TempDir(), "cue.flac"))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
}

func TestLoadClipMissingFile(t *testing.T) {
	_, err := LoadClip(filepath.Join(t.TempDir(), "left.mp3"))
	assert.ErrorContains(t, err, "failed to open cue file")
}

func TestLoadBankTones(t *testing.T) {
	bank, err := LoadBank("")
	require.NoError(t, err)

	require.Contains(t, bank, training.Left)
	require.Contains(t, bank, training.Right)
	assert.NotEqual(t, bank[training.Left].Samples, bank[training.Right].Samples)
}

func TestLoadBankMissingClip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	_, err := LoadBank(dir)
	assert.ErrorContains(t, err, "no left cue file")
}

func TestPlayerPlaysSideClip(t *testing.T) {
	bank, err := LoadBank("")
	require.NoError(t, err)

	sink := &fakeSink{}
	p, err := NewPlayer(sink, bank, 100)
	require.NoError(t, err)

	assert.Equal(t, DefaultSampleRate, sink.rate)
	assert.Equal(t, DefaultChannels, sink.ch)

	p.Cue(training.Right)
	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, p.Close())
	assert.True(t, sink.closed)
	assert.Equal(t, bank[training.Right].Samples, sink.writes[0])

	played, dropped := p.Stats()
	assert.Equal(t, 1, played)
	assert.Equal(t, 0, dropped)
}

func TestPlayerIgnoresSideNone(t *testing.T) {
	bank, _ := LoadBank("")
	sink := &fakeSink{}
	p, err := NewPlayer(sink, bank, 100)
	require.NoError(t, err)

	p.Cue(training.SideNone)
	require.NoError(t, p.Close())

	assert.Equal(t, 0, sink.count())
}

func TestPlayerDropsWhileBusy(t *testing.T) {
	bank, _ := LoadBank("")
	sink := &fakeSink{block: make(chan struct{})}
	p, err := NewPlayer(sink, bank, 100)
	require.NoError(t, err)

	// First cue is taken by the worker and blocks in Write
	p.Cue(training.Left)
	require.Eventually(t, func() bool { return len(p.queue) == 0 }, time.Second, time.Millisecond)

	p.Cue(training.Left)  // queued
	p.Cue(training.Right) // dropped

	close(sink.block)
	require.NoError(t, p.Close())

	played, dropped := p.Stats()
	assert.Equal(t, 2, played)
	assert.Equal(t, 1, dropped)
}

func TestPlayerCueAfterClose(t *testing.T) {
	bank, _ := LoadBank("")
	p, err := NewPlayer(&fakeSink{}, bank, 100)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.NotPanics(t, func() { p.Cue(training.Left) })
}

func TestNewPlayerRejectsBadBank(t *testing.T) {
	_, err := NewPlayer(&fakeSink{}, map[training.Side]*Clip{
		training.Left: LeftTone.Render(44100),
	}, 100)
	assert.Error(t, err)

	_, err = NewPlayer(&fakeSink{}, map[training.Side]*Clip{
		training.Left:  LeftTone.Render(44100),
		training.Right: RightTone.Render(48000),
	}, 100)
	assert.Error(t, err)
}

func TestNewPlayerOpenError(t *testing.T) {
	bank, _ := LoadBank("")
	_, err := NewPlayer(&fakeSink{err: errors.New("no device")}, bank, 100)
	assert.ErrorContains(t, err, "no device")
}

func TestScale(t *testing.T) {
	in := []int16{1000, -1000, 32767}

	assert.Equal(t, in, scale(in, 100))
	assert.Equal(t, []int16{500, -500, 16383}, scale(in, 50))
	assert.Equal(t, []int16{0, 0, 0}, scale(in, -10))
}

func TestPCMBytes(t *testing.T) {
	assert.Equal(t, []byte{0x01, 0x00, 0xff, 0xff}, pcmBytes([]int16{1, -1}))
}
