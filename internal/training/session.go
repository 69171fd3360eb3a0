// ABOUTME: Session model: the shuffled side queue and scoring history
// ABOUTME: Queue exhaustion is reported as a distinct result, never an error
package training

import "math/rand"

// SideQueue is the ordered sequence of sides still to be trained
type SideQueue struct {
	sides []Side
}

// NewSideQueue builds n Left and n Right entries and shuffles them with rng
func NewSideQueue(n int, rng *rand.Rand) *SideQueue {
	sides := make([]Side, 0, 2*n)
	for i := 0; i < n; i++ {
		sides = append(sides, Left, Right)
	}
	if rng != nil {
		rng.Shuffle(len(sides), func(i, j int) {
			sides[i], sides[j] = sides[j], sides[i]
		})
	}
	return &SideQueue{sides: sides}
}

// Pop removes the next side. ok is false when the queue is exhausted.
func (q *SideQueue) Pop() (side Side, ok bool) {
	if len(q.sides) == 0 {
		return SideNone, false
	}
	side = q.sides[0]
	q.sides = q.sides[1:]
	return side, true
}

// Push appends a side to the end of the queue
func (q *SideQueue) Push(side Side) {
	q.sides = append(q.sides, side)
}

func (q *SideQueue) Len() int { return len(q.sides) }

// Count returns how many entries of side remain
func (q *SideQueue) Count(side Side) int {
	n := 0
	for _, s := range q.sides {
		if s == side {
			n++
		}
	}
	return n
}

// Sides returns a copy of the remaining entries in order
func (q *SideQueue) Sides() []Side {
	out := make([]Side, len(q.sides))
	copy(out, q.sides)
	return out
}

// Session owns the queue, the active trial and the results so far
type Session struct {
	Queue      *SideQueue
	Trial      *Trial // nil between trials
	TrialIndex int
	TotalScore float64
	Paused     bool
	History    []TrialResult

	// Total is the number of trials originally queued
	Total int
	// Progress is the completed share of the session in percent, updated
	// when a trial is finalized
	Progress int

	// FinalScore is TotalScore frozen when the queue ran out
	FinalScore float64
	Finished   bool
}

// NewSession creates a session with a freshly shuffled queue
func NewSession(trialsPerClass int, rng *rand.Rand) *Session {
	return &Session{Queue: NewSideQueue(trialsPerClass, rng), Total: 2 * trialsPerClass}
}

// CompletionPercent is the share of total trials no longer queued. Re-queued
// invalid trials can push remaining above total; the result never drops
// below 0.
func CompletionPercent(remaining, total int) int {
	if total <= 0 {
		return 100
	}
	p := 100 - int(float64(remaining)/float64(total)*100)
	if p < 0 {
		return 0
	}
	return p
}

// ValidTrials counts history entries that contributed to the total score
func (s *Session) ValidTrials() int {
	n := 0
	for _, r := range s.History {
		if !r.Invalid {
			n++
		}
	}
	return n
}

// MeanScore is the average score of valid trials, 0 before the first one
func (s *Session) MeanScore() float64 {
	n := s.ValidTrials()
	if n == 0 {
		return 0
	}
	return s.TotalScore / float64(n)
}
