// ABOUTME: Classification sources consumed once per tick
// ABOUTME: LDA two-sample reducer for the live stream, seeded generator for demo mode
package training

import (
	"math/rand"

	"github.com/neurobridge/mitrain/pkg/openvibe"
)

// SignalSource yields the newest complete chunk, or nil when none arrived
// since the last call.
type SignalSource interface {
	Latest() (*openvibe.Chunk, error)
}

// Classifier produces this tick's classification scalar. fresh is false
// when nothing new arrived, in which case value is 0.
type Classifier interface {
	Classify(side Side) (value float64, fresh bool, err error)
}

// ReduceLDA turns the classifier box output into a scalar. The box streams
// two samples of one channel, one per class; anything else reads as neutral.
func ReduceLDA(c *openvibe.Chunk) float64 {
	if c == nil || c.Samples != 2 || c.Channels != 1 {
		return 0
	}
	return c.At(1, 0) - c.At(0, 0)
}

// StreamClassifier reduces chunks read from the signal stream
type StreamClassifier struct {
	Source SignalSource
}

func (s *StreamClassifier) Classify(Side) (float64, bool, error) {
	if s.Source == nil {
		return 0, false, nil
	}
	chunk, err := s.Source.Latest()
	if err != nil || chunk == nil {
		return 0, false, err
	}
	return ReduceLDA(chunk), true, nil
}

// DemoClassifier simulates a subject who imagines the cued side about
// three times out of four.
type DemoClassifier struct {
	rng *rand.Rand
}

func NewDemoClassifier(rng *rand.Rand) *DemoClassifier {
	return &DemoClassifier{rng: rng}
}

func (d *DemoClassifier) Classify(side Side) (float64, bool, error) {
	shift := -0.25
	if side == Left {
		shift = -0.75
	}
	return d.rng.Float64() + shift, true, nil
}
