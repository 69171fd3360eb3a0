package sessionlog

import (
	"time"

	"github.com/neurobridge/mitrain/internal/training"
)

// Multi fans records out to several logs
type Multi []training.EventLog

func (m Multi) Event(at time.Duration, message string) {
	for _, l := range m {
		l.Event(at, message)
	}
}

func (m Multi) Trial(r training.TrialResult) {
	for _, l := range m {
		l.Trial(r)
	}
}

func (m Multi) Sample(s training.Snapshot) {
	for _, l := range m {
		l.Sample(s)
	}
}
