// ABOUTME: Sine tone generator for trial cues
// ABOUTME: Renders short stereo beeps with linear fade edges
package cue

import (
	"math"
	"time"
)

const (
	// DefaultSampleRate is used when no cue file dictates a rate
	DefaultSampleRate = 48000

	// DefaultChannels is the output channel count
	DefaultChannels = 2

	fadeDuration = 5 * time.Millisecond
)

// Tone describes a generated beep
type Tone struct {
	Frequency float64
	Duration  time.Duration
	Level     float64 // 0..1 of full scale
}

// Default cue tones: low for left, high for right
var (
	LeftTone  = Tone{Frequency: 440, Duration: 150 * time.Millisecond, Level: 0.5}
	RightTone = Tone{Frequency: 660, Duration: 150 * time.Millisecond, Level: 0.5}
)

// Render generates the tone as an interleaved stereo clip
func (t Tone) Render(sampleRate int) *Clip {
	frames := int(t.Duration.Seconds() * float64(sampleRate))
	fade := int(fadeDuration.Seconds() * float64(sampleRate))
	if fade*2 > frames {
		fade = frames / 2
	}

	samples := make([]int16, frames*DefaultChannels)
	for i := 0; i < frames; i++ {
		v := math.Sin(2 * math.Pi * t.Frequency * float64(i) / float64(sampleRate))

		gain := t.Level
		switch {
		case i < fade:
			gain *= float64(i) / float64(fade)
		case i >= frames-fade:
			gain *= float64(frames-1-i) / float64(fade)
		}

		pcm := int16(v * gain * 32767.0)
		samples[i*2] = pcm
		samples[i*2+1] = pcm
	}

	return &Clip{
		SampleRate: sampleRate,
		Channels:   DefaultChannels,
		Samples:    samples,
	}
}
