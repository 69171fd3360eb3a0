// ABOUTME: Oto-based cue output
// ABOUTME: Streams 16-bit PCM to the sound device through a persistent player
package cue

import (
	"encoding/binary"
	"fmt"
	"io"
	"log"

	"github.com/ebitengine/oto/v3"
)

// Sink receives cue audio
type Sink interface {
	Open(sampleRate, channels int) error
	Write(samples []int16) error
	Close() error
}

// Oto plays cues on the default sound device
type Oto struct {
	otoCtx     *oto.Context
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	sampleRate int
	channels   int
	ready      bool
}

// NewOto creates an unopened Oto sink
func NewOto() *Oto {
	return &Oto{}
}

// Open initializes the output device
func (o *Oto) Open(sampleRate, channels int) error {
	// oto only allows one context per process
	if o.otoCtx != nil {
		if o.sampleRate != sampleRate || o.channels != channels {
			return fmt.Errorf("cue output already open at %dHz %dch", o.sampleRate, o.channels)
		}
		return nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("failed to create oto context: %w", err)
	}

	<-readyChan

	o.otoCtx = ctx
	o.sampleRate = sampleRate
	o.channels = channels

	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = o.otoCtx.NewPlayer(o.pipeReader)
	o.player.Play()

	o.ready = true

	log.Printf("Cue output initialized: %dHz, %d channels", sampleRate, channels)

	return nil
}

// Write queues samples for playback (blocks until the device takes them)
func (o *Oto) Write(samples []int16) error {
	if !o.ready {
		return fmt.Errorf("output not initialized")
	}

	if _, err := o.pipeWriter.Write(pcmBytes(samples)); err != nil {
		return fmt.Errorf("pipe write failed: %w", err)
	}

	return nil
}

// Close releases output resources
func (o *Oto) Close() error {
	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
	if o.otoCtx != nil {
		o.otoCtx.Suspend()
		o.ready = false
	}
	return nil
}

func pcmBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// scale applies a 0..100 volume to a clip
func scale(samples []int16, volume int) []int16 {
	if volume >= 100 {
		return samples
	}
	if volume < 0 {
		volume = 0
	}

	m := float64(volume) / 100.0
	out := make([]int16, len(samples))
	for i, s := range samples {
		out[i] = int16(float64(s) * m)
	}
	return out
}
