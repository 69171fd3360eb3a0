package training

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurobridge/mitrain/pkg/openvibe"
)

func TestNewSideQueueBalanced(t *testing.T) {
	for _, n := range []int{0, 1, 5, 20} {
		q := NewSideQueue(n, rand.New(rand.NewSource(int64(n))))
		assert.Equal(t, 2*n, q.Len())
		assert.Equal(t, n, q.Count(Left))
		assert.Equal(t, n, q.Count(Right))
	}
}

func TestSideQueuePopUntilExhausted(t *testing.T) {
	q := NewSideQueue(2, rand.New(rand.NewSource(7)))

	var lefts, rights int
	for {
		side, ok := q.Pop()
		if !ok {
			break
		}
		switch side {
		case Left:
			lefts++
		case Right:
			rights++
		}
	}
	assert.Equal(t, 2, lefts)
	assert.Equal(t, 2, rights)

	side, ok := q.Pop()
	assert.False(t, ok)
	assert.Equal(t, SideNone, side)

	q.Push(Left)
	side, ok = q.Pop()
	assert.True(t, ok)
	assert.Equal(t, Left, side)
}

func TestScore(t *testing.T) {
	assert.Equal(t, 75.0, Score(3, 1))
	assert.Equal(t, 0.0, Score(0, 0))
	assert.False(t, math.IsNaN(Score(0, 0)))
	assert.Equal(t, 100.0, Score(2, 0))
}

func TestTrialAccumulate(t *testing.T) {
	tr := &Trial{Side: Right}
	tr.accumulate(1, 300*time.Millisecond)
	tr.accumulate(-0.5, 100*time.Millisecond)
	tr.accumulate(0, 50*time.Millisecond)

	assert.Equal(t, 300*time.Millisecond, tr.CorrectElapsed)
	assert.Equal(t, 100*time.Millisecond, tr.IncorrectElapsed)
	assert.Equal(t, 50*time.Millisecond, tr.NeutralElapsed)
	assert.Equal(t, 450*time.Millisecond, tr.OnsetElapsed)
	assert.InDelta(t, 75.0, tr.Score, 1e-9)
}

func TestPendingQueueOrder(t *testing.T) {
	q := newPendingQueue()
	var fired []string
	add := func(at time.Duration, name string) {
		q.schedule(at, name, func() { fired = append(fired, name) })
	}
	add(3*time.Second, "c")
	add(time.Second, "a1")
	add(2*time.Second, "b")
	add(time.Second, "a2")

	assert.Equal(t, []string{"a1", "a2", "b", "c"}, q.names())

	for _, p := range q.due(2 * time.Second) {
		p.action()
	}
	assert.Equal(t, []string{"a1", "a2", "b"}, fired)
	assert.Equal(t, 1, q.Len())

	assert.Empty(t, q.due(2*time.Second))
	q.clear()
	assert.Zero(t, q.Len())
}

func TestSpeedUpdate(t *testing.T) {
	s := Speed{Min: 0.2, Max: 1.0, Value: 0.5}

	s.Update(1)
	assert.InDelta(t, 0.625, s.Value, 1e-9)
	s.Update(0)
	assert.InDelta(t, 0.625, s.Value, 1e-9)
	s.Update(-1)
	assert.InDelta(t, 0.46875, s.Value, 1e-9)

	for i := 0; i < 20; i++ {
		s.Update(1)
	}
	assert.Equal(t, 1.0, s.Value)
	for i := 0; i < 20; i++ {
		s.Update(-1)
	}
	assert.Equal(t, 0.2, s.Value)
}

func TestCompletionPercent(t *testing.T) {
	tests := []struct {
		remaining, total, want int
	}{
		{40, 40, 0},
		{1, 2, 50},
		{0, 2, 100},
		{13, 40, 68},
		{3, 2, 0},
		{0, 0, 100},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CompletionPercent(tt.remaining, tt.total), "%d of %d", tt.remaining, tt.total)
	}
}

func TestAnimationProgress(t *testing.T) {
	a := Animation{Duration: time.Second}

	assert.False(t, a.Advance(500*time.Millisecond, 1))
	assert.Equal(t, 0, a.Progress())

	a.Start()
	assert.False(t, a.Advance(500*time.Millisecond, 0.5))
	assert.Equal(t, 25, a.Progress())
	assert.True(t, a.Advance(time.Second, 1))
	assert.Equal(t, 100, a.Progress())

	a.Reset()
	assert.False(t, a.Started())
	assert.Equal(t, 0, a.Progress())
}

func TestReduceLDA(t *testing.T) {
	two := &openvibe.Chunk{Channels: 1, Samples: 2, Matrix: [][]float64{{0.2}, {0.7}}}
	assert.InDelta(t, 0.5, ReduceLDA(two), 1e-9)

	wide := &openvibe.Chunk{Channels: 2, Samples: 2, Matrix: [][]float64{{1, 2}, {3, 4}}}
	assert.Zero(t, ReduceLDA(wide))
	assert.Zero(t, ReduceLDA(nil))
}

type fakeSource struct {
	chunk *openvibe.Chunk
	err   error
}

func (f *fakeSource) Latest() (*openvibe.Chunk, error) {
	c := f.chunk
	f.chunk = nil
	return c, f.err
}

func TestStreamClassifier(t *testing.T) {
	src := &fakeSource{chunk: &openvibe.Chunk{Channels: 1, Samples: 2, Matrix: [][]float64{{-0.4}, {0.1}}}}
	sc := &StreamClassifier{Source: src}

	v, fresh, err := sc.Classify(Left)
	require.NoError(t, err)
	assert.True(t, fresh)
	assert.InDelta(t, 0.5, v, 1e-9)

	v, fresh, err = sc.Classify(Left)
	require.NoError(t, err)
	assert.False(t, fresh)
	assert.Zero(t, v)
}

func TestDemoClassifierBias(t *testing.T) {
	d := NewDemoClassifier(rand.New(rand.NewSource(3)))

	var rightPositive, leftNegative int
	const n = 4000
	for i := 0; i < n; i++ {
		if v, _, _ := d.Classify(Right); v > 0 {
			rightPositive++
		}
		if v, _, _ := d.Classify(Left); v < 0 {
			leftNegative++
		}
	}
	assert.InDelta(t, 0.75, float64(rightPositive)/n, 0.05)
	assert.InDelta(t, 0.75, float64(leftNegative)/n, 0.05)
}

func TestParseTrigger(t *testing.T) {
	for trig, name := range triggerNames {
		got, err := ParseTrigger(name)
		require.NoError(t, err)
		assert.Equal(t, trig, got)
	}
	_, err := ParseTrigger("explode")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.SpeedInitial = 5
	cfg.OnsetDuration = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "initial speed")
	assert.Contains(t, err.Error(), "onset")
}
