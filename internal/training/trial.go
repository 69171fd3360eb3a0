// ABOUTME: Per-trial accumulators and scoring
// ABOUTME: Folds one classification sample per tick into correct/incorrect/neutral time
package training

import "time"

// Score is the percentage of decided time spent on the correct side.
// It is 0 when no decided time has accumulated.
func Score(correct, incorrect float64) float64 {
	total := correct + incorrect
	if total <= 0 {
		return 0
	}
	return correct * 100 / total
}

// Trial is the accumulator for the trial in progress
type Trial struct {
	Side Side

	// OnsetElapsed counts the onset phase, then is reset and reused as the
	// feedback duration once feedback starts.
	OnsetElapsed     time.Duration
	CorrectElapsed   time.Duration
	IncorrectElapsed time.Duration
	NeutralElapsed   time.Duration

	Score    float64
	Invalid  bool
	TimedOut bool
}

// accumulate folds one tick of classification into the trial. directed is
// the classification already multiplied by the side sign and polarity.
func (t *Trial) accumulate(directed float64, dt time.Duration) {
	switch {
	case directed > 0:
		t.CorrectElapsed += dt
	case directed < 0:
		t.IncorrectElapsed += dt
	default:
		t.NeutralElapsed += dt
	}
	t.OnsetElapsed += dt
	t.Score = Score(t.CorrectElapsed.Seconds(), t.IncorrectElapsed.Seconds())
}

// TrialResult is a finished trial as kept in session history
type TrialResult struct {
	Index      int           `json:"index"`
	Side       Side          `json:"side"`
	Duration   time.Duration `json:"duration"`
	Correct    time.Duration `json:"correct"`
	Incorrect  time.Duration `json:"incorrect"`
	Neutral    time.Duration `json:"neutral"`
	Score      float64       `json:"score"`
	Invalid    bool          `json:"invalid"`
	TimedOut   bool          `json:"timed_out"`
	Progress   int           `json:"progress"`  // session completion after this trial
	Animation  int           `json:"animation"` // success animation completion
	FinishedAt time.Duration `json:"finished_at"`
}
