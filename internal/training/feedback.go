// ABOUTME: Continuous feedback parameters exposed to the animation renderer
// ABOUTME: Speed scaling per tick and the success animation progress model
package training

import "time"

// speedStep is the fraction of the current speed gained or lost per tick
const speedStep = 0.25

// Speed is the bounded feedback parameter driven by the classifier
type Speed struct {
	Min, Max float64
	Value    float64
}

// Update scales the speed up on a correct tick and down on an incorrect
// one, then clamps it. Neutral ticks leave it unchanged.
func (s *Speed) Update(directed float64) {
	switch {
	case directed > 0:
		s.Value += s.Value * speedStep
	case directed < 0:
		s.Value -= s.Value * speedStep
	}
	s.clamp()
}

func (s *Speed) clamp() {
	if s.Value > s.Max {
		s.Value = s.Max
	}
	if s.Value < s.Min {
		s.Value = s.Min
	}
}

// Animation tracks the success animation a renderer would play. It
// advances at the feedback speed once started.
type Animation struct {
	Duration time.Duration
	elapsed  time.Duration
	started  bool
}

func (a *Animation) Start() { a.started = true }

func (a *Animation) Started() bool { return a.started }

// Advance moves the animation forward and reports whether it has finished
func (a *Animation) Advance(dt time.Duration, speed float64) bool {
	if !a.started {
		return false
	}
	a.elapsed += time.Duration(float64(dt) * speed)
	return a.Done()
}

func (a *Animation) Done() bool {
	return a.started && a.elapsed >= a.Duration
}

// Progress is the completed share in percent, 0..100
func (a *Animation) Progress() int {
	if a.Duration <= 0 {
		return 0
	}
	remaining := a.Duration - a.elapsed
	p := 100 - int(float64(remaining)/float64(a.Duration)*100)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func (a *Animation) Reset() {
	a.elapsed = 0
	a.started = false
}
