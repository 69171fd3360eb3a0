// ABOUTME: Semicolon-separated event and trial logs for a training session
// ABOUTME: Rows are buffered in memory and appended to disk on a fixed interval
package sessionlog

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/neurobridge/mitrain/internal/training"
)

const (
	// Separator is the CSV field separator
	Separator = ';'

	// DefaultFlushInterval bounds how much of the log an unexpected exit loses
	DefaultFlushInterval = 2 * time.Second
)

var (
	eventColumns = []string{"datetime", "timestamp", "event"}
	trialColumns = []string{
		"datetime", "timestamp", "trial", "side", "duration", "correct",
		"incorrect", "neutral", "score", "invalid", "timed_out", "progress",
		"animation",
	}
	sampleColumns = []string{
		"datetime", "timestamp", "trial", "side", "state", "trial_time",
		"classification", "correct", "incorrect", "speed",
	}
)

// sink buffers rows for one CSV file
type sink struct {
	path string
	rows [][]string
}

func (s *sink) flush() error {
	if len(s.rows) == 0 {
		return nil
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}

	w := csv.NewWriter(f)
	w.Comma = Separator
	if err := w.WriteAll(s.rows); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	s.rows = s.rows[:0]
	return f.Close()
}

// CSVLog writes the session's event, trial and per-tick sample logs
type CSVLog struct {
	mu      sync.Mutex
	events  sink
	trials  sink
	samples sink

	now    func() time.Time
	ticker *time.Ticker
	stop   chan struct{}
	done   chan struct{}
	closed bool
}

// OpenCSV creates the log files under dir, named after the session start
// time and id, and starts the periodic flusher. The trial log opens with the
// settings the session runs under.
func OpenCSV(dir, sessionID string, flushEvery time.Duration, cfg training.Config) (*CSVLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if flushEvery <= 0 {
		flushEvery = DefaultFlushInterval
	}

	stamp := time.Now().Format("06-01-02-15-04-05")
	l := &CSVLog{
		events: sink{path: filepath.Join(dir, fmt.Sprintf("log-%s-%s.csv", stamp, sessionID))},
		trials:  sink{path: filepath.Join(dir, fmt.Sprintf("trials-%s-%s.csv", stamp, sessionID))},
		samples: sink{path: filepath.Join(dir, fmt.Sprintf("samples-%s-%s.csv", stamp, sessionID))},
		now:     time.Now,
		ticker:  time.NewTicker(flushEvery),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	l.events.rows = append(l.events.rows, eventColumns)
	l.trials.rows = append(l.trials.rows, settingsRows(cfg)...)
	l.trials.rows = append(l.trials.rows, trialColumns)
	l.samples.rows = append(l.samples.rows, sampleColumns)

	go l.flushLoop()

	log.Printf("Session log: %s", l.events.path)
	return l, nil
}

func (l *CSVLog) flushLoop() {
	defer close(l.done)
	for {
		select {
		case <-l.stop:
			return
		case <-l.ticker.C:
			if err := l.Flush(); err != nil {
				log.Printf("Session log flush failed: %v", err)
			}
		}
	}
}

// Event records a free-text event at session time at
func (l *CSVLog) Event(at time.Duration, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events.rows = append(l.events.rows, []string{
		l.now().UTC().Format("2006-01-02 15:04:05Z"),
		formatSeconds(at),
		message,
	})
}

// Trial records one finished trial
func (l *CSVLog) Trial(r training.TrialResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trials.rows = append(l.trials.rows, []string{
		l.now().UTC().Format("2006-01-02 15:04:05Z"),
		formatSeconds(r.FinishedAt),
		strconv.Itoa(r.Index + 1),
		r.Side.String(),
		formatSeconds(r.Duration),
		formatSeconds(r.Correct),
		formatSeconds(r.Incorrect),
		formatSeconds(r.Neutral),
		strconv.FormatFloat(r.Score, 'f', 2, 64),
		strconv.FormatBool(r.Invalid),
		strconv.FormatBool(r.TimedOut),
		strconv.Itoa(r.Progress),
		strconv.Itoa(r.Animation),
	})
}

// Sample records the classification time series, one row per tick
func (l *CSVLog) Sample(s training.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.samples.rows = append(l.samples.rows, []string{
		l.now().UTC().Format("2006-01-02 15:04:05Z"),
		formatSeconds(s.Clock),
		strconv.Itoa(s.TrialIndex + 1),
		s.Side.String(),
		s.State.String(),
		formatSeconds(s.TrialElapsed),
		strconv.FormatFloat(s.Classification, 'f', 6, 64),
		formatSeconds(s.Correct),
		formatSeconds(s.Incorrect),
		strconv.FormatFloat(s.Speed, 'f', 4, 64),
	})
}

// Flush appends buffered rows to every file
func (l *CSVLog) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.events.flush(); err != nil {
		return err
	}
	if err := l.trials.flush(); err != nil {
		return err
	}
	return l.samples.flush()
}

// Paths returns the event and trial log file paths
func (l *CSVLog) Paths() (events, trials string) {
	return l.events.path, l.trials.path
}

// SamplesPath returns the per-tick sample log path
func (l *CSVLog) SamplesPath() string { return l.samples.path }

// Close stops the flusher and writes what is left. Safe to call twice.
func (l *CSVLog) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.ticker.Stop()
	close(l.stop)
	<-l.done
	return l.Flush()
}

// settingsRows is the key;value preamble of the trial log
func settingsRows(cfg training.Config) [][]string {
	return [][]string{
		{"demo", strconv.FormatBool(cfg.Demo)},
		{"trials_per_class", strconv.Itoa(cfg.TrialsPerClass)},
		{"speed_min", strconv.FormatFloat(cfg.SpeedMin, 'f', -1, 64)},
		{"speed_max", strconv.FormatFloat(cfg.SpeedMax, 'f', -1, 64)},
		{"onset", formatSeconds(cfg.OnsetDuration)},
		{"animation", formatSeconds(cfg.AnimationDuration)},
		{"timeout", formatSeconds(cfg.TimeoutDuration)},
		{"rest_base", formatSeconds(cfg.RestBase)},
		{"rest_spread", formatSeconds(cfg.RestSpread)},
		{"polarity", strconv.FormatFloat(cfg.Polarity, 'f', -1, 64)},
	}
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}
