package sessionlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurobridge/mitrain/internal/training"
)

func TestCSVLogWritesSemicolonRows(t *testing.T) {
	dir := t.TempDir()
	l, err := OpenCSV(dir, "abc", time.Hour, training.DefaultConfig())
	require.NoError(t, err)

	l.Event(1500*time.Millisecond, "stim Start_Of_Trial")
	l.Trial(training.TrialResult{
		Index:      0,
		Side:       training.Left,
		Duration:   2 * time.Second,
		Correct:    1500 * time.Millisecond,
		Incorrect:  500 * time.Millisecond,
		Score:      75,
		Progress:   50,
		Animation:  100,
		FinishedAt: 4 * time.Second,
	})
	require.NoError(t, l.Flush())

	events, trials := l.Paths()
	assert.Equal(t, dir, filepath.Dir(events))

	b, err := os.ReadFile(events)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "datetime;timestamp;event", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ";1.500;stim Start_Of_Trial"), lines[1])

	b, err = os.ReadFile(trials)
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 12)
	assert.Equal(t, "demo;false", lines[0])
	assert.Equal(t, "trials_per_class;20", lines[1])
	assert.Contains(t, lines, "timeout;3.900")
	assert.True(t, strings.HasPrefix(lines[10], "datetime;timestamp;trial;side;"), lines[10])
	assert.True(t, strings.HasSuffix(lines[11], ";4.000;1;left;2.000;1.500;0.500;0.000;75.00;false;false;50;100"), lines[11])

	// rows are appended, not rewritten
	l.Event(2*time.Second, "mark")
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())

	b, err = os.ReadFile(events)
	require.NoError(t, err)
	assert.Equal(t, 3, strings.Count(string(b), "\n"))
}

func TestCSVLogPeriodicFlush(t *testing.T) {
	l, err := OpenCSV(t.TempDir(), "tick", 10*time.Millisecond, training.DefaultConfig())
	require.NoError(t, err)
	defer l.Close()

	l.Event(0, "session started")
	events, _ := l.Paths()

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(events)
		return err == nil && strings.Contains(string(b), "session started")
	}, time.Second, 5*time.Millisecond)
}

func TestCSVLogSamplesOneRowPerCall(t *testing.T) {
	l, err := OpenCSV(t.TempDir(), "samples", time.Hour, training.DefaultConfig())
	require.NoError(t, err)

	l.Sample(training.Snapshot{
		State:          training.OngoingFeedback,
		Clock:          3 * time.Second,
		TrialIndex:     1,
		Side:           training.Right,
		TrialElapsed:   750 * time.Millisecond,
		Classification: -0.25,
		Correct:        500 * time.Millisecond,
		Incorrect:      250 * time.Millisecond,
		Speed:          0.75,
	})
	l.Sample(training.Snapshot{State: training.NonTrial, Clock: 3100 * time.Millisecond, TrialIndex: 2, Speed: 1})
	require.NoError(t, l.Close())

	b, err := os.ReadFile(l.SamplesPath())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(b)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "datetime;timestamp;trial;side;state;trial_time;classification;correct;incorrect;speed", lines[0])
	assert.True(t, strings.HasSuffix(lines[1], ";3.000;2;right;feedback;0.750;-0.250000;0.500;0.250;0.7500"), lines[1])
	assert.True(t, strings.HasSuffix(lines[2], ";3.100;3;none;non-trial;0.000;0.000000;0.000;0.000;1.0000"), lines[2])
}

type countingLog struct {
	events, trials, samples int
}

func (c *countingLog) Event(time.Duration, string) { c.events++ }
func (c *countingLog) Trial(training.TrialResult)  { c.trials++ }
func (c *countingLog) Sample(training.Snapshot)    { c.samples++ }

func TestMultiFansOut(t *testing.T) {
	a, b := &countingLog{}, &countingLog{}
	m := Multi{a, b}

	m.Event(0, "x")
	m.Trial(training.TrialResult{})
	m.Sample(training.Snapshot{})

	assert.Equal(t, 1, a.events)
	assert.Equal(t, 1, b.trials)
	assert.Equal(t, 1, b.samples)
}
