// ABOUTME: Tick-driven experiment controller for motor-imagery training
// ABOUTME: Sequences trials, folds classification into scores and issues markers
package training

import (
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/neurobridge/mitrain/pkg/openvibe"
)

// ErrAborted is returned by Tick once the abort trigger has ended the session
var ErrAborted = errors.New("session aborted")

// StimSender delivers markers to the acquisition system
type StimSender interface {
	Send(code uint64)
}

// EventLog is the session's append-only record sink
type EventLog interface {
	Event(at time.Duration, message string)
	Trial(result TrialResult)
	// Sample receives the controller state once per tick
	Sample(s Snapshot)
}

// Terminator stops the external acquisition process
type Terminator interface {
	Terminate() error
}

// CuePlayer announces the trial side to the subject
type CuePlayer interface {
	Cue(side Side)
}

// Deps are the controller's collaborators. Nil fields are replaced with
// no-ops.
type Deps struct {
	Stims      StimSender
	Classifier Classifier
	Log        EventLog
	Process    Terminator
	Cue        CuePlayer
}

// Controller runs one training session. It is not safe for concurrent use:
// Tick and Trigger must be called from the same goroutine.
type Controller struct {
	cfg     Config
	deps    Deps
	rng     *rand.Rand
	session *Session
	pending *pendingQueue

	state State
	clock time.Duration

	classification float64
	fresh          bool

	speed Speed
	anim  Animation

	timeout      time.Duration // since the current trial's onset
	timeoutTrial int

	started  bool
	baseline bool
	done     bool
	aborted  bool
}

// NewController creates a controller in PreTraining with a shuffled queue
func NewController(cfg Config, deps Deps) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid training config: %w", err)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	if deps.Stims == nil {
		deps.Stims = nopStims{}
	}
	if deps.Classifier == nil {
		if cfg.Demo {
			deps.Classifier = NewDemoClassifier(rng)
		} else {
			deps.Classifier = &StreamClassifier{}
		}
	}
	if deps.Log == nil {
		deps.Log = nopLog{}
	}
	if deps.Process == nil {
		deps.Process = nopProcess{}
	}
	if deps.Cue == nil {
		deps.Cue = nopCue{}
	}

	return &Controller{
		cfg:     cfg,
		deps:    deps,
		rng:     rng,
		session: NewSession(cfg.TrialsPerClass, rng),
		pending: newPendingQueue(),
		state:   PreTraining,
		speed:   Speed{Min: cfg.SpeedMin, Max: cfg.SpeedMax, Value: cfg.SpeedInitial},
		anim:    Animation{Duration: cfg.AnimationDuration},
	}, nil
}

// Tick advances the session by dt: read one classification sample, apply
// the current state's rule, then run pending triggers that are due.
func (c *Controller) Tick(dt time.Duration) error {
	if c.done {
		if c.aborted {
			return ErrAborted
		}
		return nil
	}

	c.clock += dt

	if err := c.classify(); err != nil {
		return err
	}

	c.step(dt)
	c.runDue()
	c.deps.Log.Sample(c.Snapshot())

	if c.aborted {
		return ErrAborted
	}
	return nil
}

// classify reads this tick's sample. Nothing fresh counts as neutral.
func (c *Controller) classify() error {
	side := SideNone
	if c.session.Trial != nil {
		side = c.session.Trial.Side
	}

	v, fresh, err := c.deps.Classifier.Classify(side)
	if err != nil {
		if openvibe.IsFatal(err) {
			return fmt.Errorf("classification: %w", err)
		}
		v, fresh = 0, false
	}
	if !fresh {
		v = 0
	}
	c.classification, c.fresh = v, fresh
	return nil
}

func (c *Controller) step(dt time.Duration) {
	switch c.state {
	case Init:
		c.evalInit()

	case Onset:
		t := c.session.Trial
		c.timeout += dt
		t.OnsetElapsed += dt
		if t.OnsetElapsed >= c.cfg.OnsetDuration {
			t.OnsetElapsed = 0
			c.send(openvibe.GDFFeedbackContinuous)
			c.state = OngoingFeedback
			c.event("feedback started")
		}

	case OngoingFeedback, OngoingFail:
		c.feedback(dt)

	case NonTrial:
		if !c.session.Paused {
			c.state = Init
			c.evalInit()
		}
	}
}

// evalInit starts the next trial, or ends the session when the queue is
// exhausted
func (c *Controller) evalInit() {
	if c.session.Trial != nil {
		return
	}

	side, ok := c.session.Queue.Pop()
	if !ok {
		c.finishSession()
		return
	}

	c.session.Trial = &Trial{Side: side}
	c.speed.Value = c.cfg.SpeedInitial
	c.anim.Reset()

	c.send(openvibe.GDFStartOfTrial)
	c.send(openvibe.GDFCrossOnScreen)
	c.event(fmt.Sprintf("trial %d started: %s", c.session.TrialIndex+1, side))

	c.pending.schedule(c.clock+c.cfg.CueDelay, "cue", c.cueSide)
}

// cueSide sends the side marker and enters Onset
func (c *Controller) cueSide() {
	t := c.session.Trial
	if t == nil || c.state != Init {
		return
	}

	if t.Side == Left {
		c.send(openvibe.GDFLeft)
	} else {
		c.send(openvibe.GDFRight)
	}

	c.state = Onset
	c.timeout = 0
	c.timeoutTrial = c.session.TrialIndex
	c.deps.Cue.Cue(t.Side)
	c.event(fmt.Sprintf("cue %s", t.Side))
}

func (c *Controller) feedback(dt time.Duration) {
	t := c.session.Trial
	directed := c.classification * t.Side.Sign() * c.cfg.Polarity

	t.accumulate(directed, dt)
	c.speed.Update(directed)

	if directed > 0 && c.state == OngoingFeedback && !c.anim.Started() {
		c.anim.Start()
	}

	c.timeout += dt
	if !t.TimedOut && c.timeout > c.cfg.TimeoutDuration && c.session.TrialIndex == c.timeoutTrial {
		c.state = OngoingFail
		t.TimedOut = true
		c.anim.Start()
		c.event(fmt.Sprintf("trial %d timed out", c.session.TrialIndex+1))
	}

	if c.anim.Advance(dt, c.speed.Value) && !c.cfg.ExternalFinalize {
		c.Finalize()
	}
}

// Finalize closes the active trial. It only has an effect during feedback.
func (c *Controller) Finalize() bool {
	if !c.state.inFeedback() || c.session.Trial == nil {
		return false
	}

	t := c.session.Trial
	feedbackDuration := t.OnsetElapsed

	// completion counts the finished trial even when it goes back in the queue
	c.session.Progress = CompletionPercent(c.session.Queue.Len(), c.session.Total)
	if t.Invalid {
		c.session.Queue.Push(t.Side)
	}

	result := TrialResult{
		Index:      c.session.TrialIndex,
		Side:       t.Side,
		Duration:   feedbackDuration,
		Correct:    t.CorrectElapsed,
		Incorrect:  t.IncorrectElapsed,
		Neutral:    t.NeutralElapsed,
		Score:      t.Score,
		Invalid:    t.Invalid,
		TimedOut:   t.TimedOut,
		Progress:   c.session.Progress,
		Animation:  c.anim.Progress(),
		FinishedAt: c.clock,
	}
	c.session.History = append(c.session.History, result)
	c.deps.Log.Trial(result)

	if !t.Invalid {
		c.session.TotalScore += t.Score
	}
	c.session.TrialIndex++

	c.session.Trial = nil
	c.anim.Reset()
	c.speed.Value = c.cfg.SpeedInitial
	c.timeout = 0

	c.send(openvibe.GDFEndOfTrial)
	c.state = Ended
	c.event(fmt.Sprintf("trial %d finished: score=%.1f invalid=%t timed_out=%t session=%d%%",
		result.Index+1, result.Score, result.Invalid, result.TimedOut, result.Progress))

	rest := c.cfg.RestBase + time.Duration(c.rng.Float64()*float64(c.cfg.RestSpread)) - feedbackDuration/3
	if rest < 0 {
		rest = 0
	}
	c.pending.schedule(c.clock+rest, "rest", func() {
		if c.state == Ended {
			c.state = NonTrial
		}
	})
	return true
}

func (c *Controller) finishSession() {
	c.state = PostTraining
	c.sendFinalization()

	c.session.FinalScore = c.session.TotalScore
	c.session.Finished = true
	c.pending.clear()
	c.done = true

	c.event(fmt.Sprintf("session finished: total=%.1f valid=%d mean=%.1f",
		c.session.TotalScore, c.session.ValidTrials(), c.session.MeanScore()))
}

func (c *Controller) sendFinalization() {
	c.send(openvibe.GDFEndOfSession)
	c.send(openvibe.StimTrain)
	c.send(openvibe.StimExperimentStop)
}

func (c *Controller) runDue() {
	for {
		due := c.pending.due(c.clock)
		if len(due) == 0 {
			return
		}
		for _, p := range due {
			if c.done {
				return
			}
			p.action()
		}
	}
}

// Trigger applies a control-surface action between ticks. It reports
// whether the action had any effect in the current state.
func (c *Controller) Trigger(t Trigger) bool {
	if c.done {
		log.Printf("Ignoring %s: session is over", t)
		return false
	}

	switch t {
	case TriggerStart:
		return c.start()
	case TriggerAbort:
		c.abort()
		return true
	case TriggerPause:
		c.session.Paused = !c.session.Paused
		c.event(fmt.Sprintf("paused=%t", c.session.Paused))
		return true
	case TriggerInvalidate:
		return c.invalidate()
	case TriggerMark:
		c.send(openvibe.StimLabel00)
		c.event("mark")
		return true
	case TriggerBaselineStart:
		if c.baseline {
			return false
		}
		c.baseline = true
		c.send(openvibe.StimBaselineStart)
		c.event("baseline started")
		return true
	case TriggerBaselineStop:
		if !c.baseline {
			return false
		}
		c.baseline = false
		c.send(openvibe.StimBaselineStop)
		c.event("baseline stopped")
		return true
	case TriggerFinish:
		return c.Finalize()
	}

	log.Printf("Unknown trigger %d", int(t))
	return false
}

func (c *Controller) start() bool {
	if c.started || c.state != PreTraining {
		return false
	}
	c.started = true

	c.send(openvibe.StimExperimentStart)
	c.event(fmt.Sprintf("session started: %d trials queued", c.session.Queue.Len()))

	c.pending.schedule(c.clock+c.cfg.SettleDelay, "settle", func() {
		c.state = Init
	})
	return true
}

func (c *Controller) abort() {
	c.event("abort")
	c.pending.clear()

	if !c.cfg.Demo {
		c.sendFinalization()
		if err := c.deps.Process.Terminate(); err != nil {
			log.Printf("Failed to terminate acquisition process: %v", err)
		}
	}

	c.state = PostTraining
	c.session.FinalScore = c.session.TotalScore
	c.done = true
	c.aborted = true
}

// invalidate marks the active trial as spoiled by an artifact. A trial is
// invalidated at most once.
func (c *Controller) invalidate() bool {
	t := c.session.Trial
	if !c.state.inFeedback() || t == nil || t.Invalid {
		return false
	}

	t.Invalid = true
	for i := 0; i < c.cfg.InvalidationBurst; i++ {
		c.pending.schedule(c.clock+time.Duration(i)*c.cfg.InvalidationInterval, "artifact", func() {
			c.send(openvibe.GDFArtifactMovement)
		})
	}

	c.state = OngoingFail
	c.speed.Value = c.speed.Max
	c.anim.Start()
	c.event(fmt.Sprintf("trial %d invalidated", c.session.TrialIndex+1))
	return true
}

func (c *Controller) send(code uint64) {
	if c.cfg.Demo {
		return
	}
	c.deps.Stims.Send(code)
	c.event("stim " + openvibe.StimName(code))
}

func (c *Controller) event(msg string) {
	c.deps.Log.Event(c.clock, msg)
}

// State returns the active state
func (c *Controller) State() State { return c.state }

// Done reports whether the session has ended, normally or by abort
func (c *Controller) Done() bool { return c.done }

// Aborted reports whether the abort trigger ended the session
func (c *Controller) Aborted() bool { return c.aborted }

// Clock is the session time accumulated from tick deltas
func (c *Controller) Clock() time.Duration { return c.clock }

// Session exposes the session model. Callers must not mutate it.
func (c *Controller) Session() *Session { return c.session }

// Config returns the configuration the controller was built with
func (c *Controller) Config() Config { return c.cfg }

// SetExternalFinalize hands trial finalization to a renderer or the
// operator, or takes it back for the animation model
func (c *Controller) SetExternalFinalize(external bool) {
	if c.cfg.ExternalFinalize == external {
		return
	}
	c.cfg.ExternalFinalize = external
	c.event(fmt.Sprintf("external finalize=%t", external))
}

// Snapshot is the controller state published after each tick
type Snapshot struct {
	State          State         `json:"state"`
	Clock          time.Duration `json:"clock"`
	TrialIndex     int           `json:"trial_index"`
	TrialsTotal    int           `json:"trials_total"`
	Side           Side          `json:"side"`
	Score          float64       `json:"score"`
	TotalScore     float64       `json:"total_score"`
	Progress       int           `json:"progress"`
	Animation      int           `json:"animation"`
	TrialElapsed   time.Duration `json:"trial_elapsed"`
	Correct        time.Duration `json:"correct"`
	Incorrect      time.Duration `json:"incorrect"`
	Speed          float64       `json:"speed"`
	Classification float64       `json:"classification"`
	Fresh          bool          `json:"fresh"`
	Paused         bool          `json:"paused"`
	Invalid        bool          `json:"invalid"`
	TimedOut       bool          `json:"timed_out"`
	Baseline       bool          `json:"baseline"`
	QueueLen       int           `json:"queue_len"`
	Demo           bool          `json:"demo"`
	Finished       bool          `json:"finished"`
	Aborted        bool          `json:"aborted"`
	Pending        []string      `json:"pending,omitempty"`
}

// Snapshot captures the current state for the TUI and the feedback feed
func (c *Controller) Snapshot() Snapshot {
	s := Snapshot{
		State:          c.state,
		Clock:          c.clock,
		TrialIndex:     c.session.TrialIndex,
		TrialsTotal:    2 * c.cfg.TrialsPerClass,
		TotalScore:     c.session.TotalScore,
		Progress:       c.session.Progress,
		Animation:      c.anim.Progress(),
		Speed:          c.speed.Value,
		Classification: c.classification,
		Fresh:          c.fresh,
		Paused:         c.session.Paused,
		Baseline:       c.baseline,
		QueueLen:       c.session.Queue.Len(),
		Demo:           c.cfg.Demo,
		Finished:       c.session.Finished,
		Aborted:        c.aborted,
		Pending:        c.pending.names(),
	}
	if t := c.session.Trial; t != nil {
		s.Side = t.Side
		s.Score = t.Score
		s.Invalid = t.Invalid
		s.TimedOut = t.TimedOut
		s.TrialElapsed = t.OnsetElapsed
		s.Correct = t.CorrectElapsed
		s.Incorrect = t.IncorrectElapsed
	}
	return s
}

type nopStims struct{}

func (nopStims) Send(uint64) {}

type nopLog struct{}

func (nopLog) Event(time.Duration, string) {}
func (nopLog) Trial(TrialResult)            {}
func (nopLog) Sample(Snapshot)              {}

type nopProcess struct{}

func (nopProcess) Terminate() error { return nil }

type nopCue struct{}

func (nopCue) Cue(Side) {}
