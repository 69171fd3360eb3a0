// ABOUTME: Cue clip loading from MP3 and Ogg/Opus files
// ABOUTME: Decodes whole files into interleaved 16-bit PCM
package cue

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hajimehoshi/go-mp3"
	"github.com/neurobridge/mitrain/internal/training"
	"gopkg.in/hraban/opus.v2"
)

const (
	// Ogg/Opus always decodes at 48kHz
	opusSampleRate = 48000

	// opusFrameSamples is the largest Opus frame (120ms at 48kHz) per channel
	opusFrameSamples = 5760
)

// ErrUnsupportedFormat is returned for cue files that are neither MP3 nor Ogg/Opus
var ErrUnsupportedFormat = errors.New("unsupported cue file format")

// Clip is a decoded cue sound
type Clip struct {
	SampleRate int
	Channels   int
	Samples    []int16 // interleaved
}

// Duration returns the clip length in seconds
func (c *Clip) Duration() float64 {
	if c.SampleRate == 0 || c.Channels == 0 {
		return 0
	}
	return float64(len(c.Samples)/c.Channels) / float64(c.SampleRate)
}

// codecFor picks a decoder from the file extension
func codecFor(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "mp3", nil
	case ".opus", ".ogg":
		return "opus", nil
	}
	return "", fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
}

// LoadClip decodes a cue file
func LoadClip(path string) (*Clip, error) {
	codec, err := codecFor(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cue file: %w", err)
	}
	defer f.Close()

	var clip *Clip
	switch codec {
	case "mp3":
		clip, err = decodeMP3(f)
	case "opus":
		clip, err = decodeOpus(f)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Printf("Loaded cue %s (%s, %dHz, %.2fs)", filepath.Base(path), codec, clip.SampleRate, clip.Duration())
	return clip, nil
}

func decodeMP3(r io.Reader) (*Clip, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode MP3: %w", err)
	}

	// MP3 decoder outputs 16-bit little-endian stereo
	data, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode error: %w", err)
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}

	return &Clip{
		SampleRate: decoder.SampleRate(),
		Channels:   2,
		Samples:    samples,
	}, nil
}

func decodeOpus(r io.Reader) (*Clip, error) {
	stream, err := opus.NewStream(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open opus stream: %w", err)
	}
	defer stream.Close()

	// Cue files are expected to be stereo; the stream reports samples per channel
	pcm := make([]int16, opusFrameSamples*DefaultChannels)
	var samples []int16
	for {
		n, err := stream.Read(pcm)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("opus decode failed: %w", err)
		}
		samples = append(samples, pcm[:n*DefaultChannels]...)
	}

	return &Clip{
		SampleRate: opusSampleRate,
		Channels:   DefaultChannels,
		Samples:    samples,
	}, nil
}

// LoadBank builds the per-side clip set. An empty dir yields generated
// tones; otherwise dir must hold left.* and right.* in a supported format.
func LoadBank(dir string) (map[training.Side]*Clip, error) {
	if dir == "" {
		return map[training.Side]*Clip{
			training.Left:  LeftTone.Render(DefaultSampleRate),
			training.Right: RightTone.Render(DefaultSampleRate),
		}, nil
	}

	bank := make(map[training.Side]*Clip, 2)
	for _, side := range []training.Side{training.Left, training.Right} {
		path, err := findClip(dir, side.String())
		if err != nil {
			return nil, err
		}
		clip, err := LoadClip(path)
		if err != nil {
			return nil, err
		}
		bank[side] = clip
	}

	if bank[training.Left].SampleRate != bank[training.Right].SampleRate {
		return nil, fmt.Errorf("cue sample rates differ: left %dHz, right %dHz",
			bank[training.Left].SampleRate, bank[training.Right].SampleRate)
	}
	return bank, nil
}

func findClip(dir, name string) (string, error) {
	for _, ext := range []string{".mp3", ".opus", ".ogg"} {
		path := filepath.Join(dir, name+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("no %s cue file in %s", name, dir)
}
