// ABOUTME: Controller timing and feedback configuration
// ABOUTME: Defaults match the motor-imagery training protocol
package training

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the controller's timing thresholds and feedback bounds
type Config struct {
	TrialsPerClass int

	// Demo disables markers and classifies with a synthetic generator
	Demo bool

	SettleDelay       time.Duration // start trigger until the first Init
	CueDelay          time.Duration // fixation cross until the side marker
	OnsetDuration     time.Duration // side marker until continuous feedback
	AnimationDuration time.Duration // success animation at speed 1
	TimeoutDuration   time.Duration // from onset until the trial fails
	RestBase          time.Duration
	RestSpread        time.Duration

	InvalidationBurst    int
	InvalidationInterval time.Duration

	SpeedMin     float64
	SpeedMax     float64
	SpeedInitial float64

	// Polarity is +1 when a positive classification means Right, -1 to swap
	Polarity float64

	// ExternalFinalize leaves Finalize to the renderer or the operator
	ExternalFinalize bool

	Seed int64
}

// DefaultConfig returns the protocol defaults
func DefaultConfig() Config {
	const animation = 1200 * time.Millisecond
	return Config{
		TrialsPerClass:       20,
		SettleDelay:          time.Second,
		CueDelay:             500 * time.Millisecond,
		OnsetDuration:        500 * time.Millisecond,
		AnimationDuration:    animation,
		TimeoutDuration:      1500*time.Millisecond + 2*animation,
		RestBase:             time.Second,
		RestSpread:           2 * time.Second,
		InvalidationBurst:    5,
		InvalidationInterval: 100 * time.Millisecond,
		SpeedMin:             0.2,
		SpeedMax:             1.0,
		SpeedInitial:         1.0,
		Polarity:             1,
		Seed:                 time.Now().UnixNano(),
	}
}

// Validate rejects configurations the controller cannot run
func (c Config) Validate() error {
	var errs []error
	if c.TrialsPerClass < 0 {
		errs = append(errs, fmt.Errorf("trials per class must not be negative, got %d", c.TrialsPerClass))
	}
	if c.OnsetDuration <= 0 {
		errs = append(errs, errors.New("onset duration must be positive"))
	}
	if c.AnimationDuration <= 0 {
		errs = append(errs, errors.New("animation duration must be positive"))
	}
	if c.TimeoutDuration <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.SettleDelay < 0 || c.CueDelay < 0 || c.RestBase < 0 || c.RestSpread < 0 || c.InvalidationInterval < 0 {
		errs = append(errs, errors.New("delays must not be negative"))
	}
	if c.InvalidationBurst < 0 {
		errs = append(errs, errors.New("invalidation burst must not be negative"))
	}
	if c.SpeedMin <= 0 || c.SpeedMax < c.SpeedMin {
		errs = append(errs, fmt.Errorf("speed range %.2f..%.2f is invalid", c.SpeedMin, c.SpeedMax))
	}
	if c.SpeedInitial < c.SpeedMin || c.SpeedInitial > c.SpeedMax {
		errs = append(errs, fmt.Errorf("initial speed %.2f outside %.2f..%.2f", c.SpeedInitial, c.SpeedMin, c.SpeedMax))
	}
	if c.Polarity != 1 && c.Polarity != -1 {
		errs = append(errs, fmt.Errorf("polarity must be 1 or -1, got %v", c.Polarity))
	}
	return errors.Join(errs...)
}
