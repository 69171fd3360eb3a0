// ABOUTME: Training session orchestration
// ABOUTME: Coordinates acquisition links, logs, feedback, cues, UI and the tick loop
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neurobridge/mitrain/internal/acquisition"
	"github.com/neurobridge/mitrain/internal/config"
	"github.com/neurobridge/mitrain/internal/cue"
	"github.com/neurobridge/mitrain/internal/feedback"
	"github.com/neurobridge/mitrain/internal/recorder"
	"github.com/neurobridge/mitrain/internal/sessionlog"
	"github.com/neurobridge/mitrain/internal/training"
	"github.com/neurobridge/mitrain/internal/ui"
	"github.com/neurobridge/mitrain/internal/version"
	"github.com/neurobridge/mitrain/pkg/openvibe"
)

const (
	dialTimeout  = 5 * time.Second
	linkInterval = 500 * time.Millisecond
	closeTimeout = 5 * time.Second
)

// Result summarises a finished session
type Result struct {
	ID          string
	Trials      int
	ValidTrials int
	TotalScore  float64
	MeanScore   float64
	Finished    bool
	Aborted     bool
}

// Session represents one training run
type Session struct {
	cfg       *config.Config
	id        string
	startedAt time.Time

	stims    *openvibe.StimChannel
	reader   *openvibe.SignalReader
	rec      *recorder.Recorder
	csv      *sessionlog.CSVLog
	store    *sessionlog.Store
	feedback *feedback.Server
	cue      *cue.Player
	proc     *acquisition.Process
	tui      *ui.Control

	ctrl     *training.Controller
	triggers chan training.Trigger

	lastLinks time.Time
	closeOnce sync.Once
	closeErr  error

	// replaced in tests
	newCueSink func() cue.Sink
	procRoot   string
	startGrace time.Duration
}

// New creates a session runner
func New(cfg *config.Config) *Session {
	s := &Session{
		cfg:        cfg,
		id:         uuid.New().String(),
		triggers:   make(chan training.Trigger, 16),
		newCueSink: func() cue.Sink { return cue.NewOto() },
	}
	if !cfg.NoTUI {
		s.tui = ui.NewControl()
		s.triggers = s.tui.Triggers
	}
	return s
}

// ID returns the session's unique identifier
func (s *Session) ID() string { return s.id }

// TUI returns the control surface, nil when disabled
func (s *Session) TUI() *ui.Control { return s.tui }

// Controller exposes the experiment controller once Setup has run
func (s *Session) Controller() *training.Controller { return s.ctrl }

// Setup opens every resource the session needs. On error, Close releases
// whatever was opened.
func (s *Session) Setup(ctx context.Context) error {
	s.startedAt = time.Now()
	log.Printf("%s session %s (demo=%t, %d trials per class)", version.Banner(), s.id, s.cfg.Demo, s.cfg.TrialsPerClass)

	csvLog, err := sessionlog.OpenCSV(s.cfg.LogDir, s.id, s.cfg.FlushEvery, s.cfg.Training())
	if err != nil {
		return fmt.Errorf("failed to open session log: %w", err)
	}
	s.csv = csvLog
	logs := sessionlog.Multi{csvLog}

	if s.cfg.DBPath != "" {
		store, err := sessionlog.OpenStore(s.cfg.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open results store: %w", err)
		}
		s.store = store
		if err := store.BeginSession(ctx, sessionlog.SessionInfo{
			ID:             s.id,
			StartedAt:      s.startedAt,
			Demo:           s.cfg.Demo,
			TrialsPerClass: s.cfg.TrialsPerClass,
		}); err != nil {
			return fmt.Errorf("failed to record session start: %w", err)
		}
		logs = append(logs, store)
	}

	if !s.cfg.Demo {
		if err := s.connectAcquisition(ctx); err != nil {
			return err
		}
	}

	var source training.SignalSource
	if s.reader != nil {
		source = s.reader
		if s.cfg.RecordEDF {
			path := filepath.Join(s.cfg.LogDir, fmt.Sprintf("signal-%s-%s.edf", s.startedAt.Format("20060102-150405"), s.id))
			s.rec = recorder.New(path, recorder.DefaultOptions())
			source = recorder.NewTap(s.reader, s.rec)
			log.Printf("Recording signal stream to %s", path)
		}
	}

	if s.cfg.CueEnabled() {
		s.cue = s.openCue()
	}

	if !s.cfg.NoFeedback {
		s.feedback = feedback.NewServer(feedback.ServerConfig{
			SessionID:  s.id,
			Port:       s.cfg.FeedbackPort,
			EnableMDNS: !s.cfg.NoMDNS,
		})
		if err := s.feedback.Start(); err != nil {
			return fmt.Errorf("failed to start feedback server: %w", err)
		}
	}

	deps := training.Deps{Log: logs}
	if s.stims != nil {
		deps.Stims = s.stims
	}
	if source != nil {
		deps.Classifier = &training.StreamClassifier{Source: source}
	}
	if s.proc != nil {
		deps.Process = s.proc
	}
	if s.cue != nil {
		deps.Cue = s.cue
	}

	ctrl, err := training.NewController(s.cfg.Training(), deps)
	if err != nil {
		return err
	}
	s.ctrl = ctrl

	s.publish()
	return nil
}

// connectAcquisition launches or probes the acquisition software, then
// opens the marker and signal connections. With degrade set, a failing
// piece is logged and skipped.
func (s *Session) connectAcquisition(ctx context.Context) error {
	acq := s.cfg.Acquisition()
	acq.ProcRoot = s.procRoot
	if s.startGrace > 0 {
		acq.StartGrace = s.startGrace
	}
	proc := acquisition.New(acq)

	if s.cfg.Launch {
		if err := proc.Start(ctx); err != nil {
			// the runner may be up even though the designer is not
			if terr := proc.Terminate(); terr != nil {
				log.Printf("Failed to stop runner: %v", terr)
			}
			if err := s.degrade("acquisition launch", err); err != nil {
				return err
			}
		} else {
			s.proc = proc
		}
	} else if !proc.Alive() {
		err := fmt.Errorf("%s: %w", acq.ProcessName, acquisition.ErrNotRunning)
		if err := s.degrade("acquisition liveness", err); err != nil {
			return err
		}
	}

	dctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	stims := openvibe.NewStimChannel()
	if err := stims.Dial(dctx, s.cfg.StimAddr); err != nil {
		if err := s.degrade("stimulation channel", err); err != nil {
			return err
		}
	} else {
		s.stims = stims
		if code, ok := s.cfg.InitialStimCode(); ok {
			log.Printf("Sending initial stimulation %s", openvibe.StimName(code))
			stims.Send(code)
		}
	}

	if s.cfg.Receive {
		reader := openvibe.NewSignalReader()
		if err := reader.Dial(dctx, s.cfg.StreamAddr); err != nil {
			if err := s.degrade("signal stream", err); err != nil {
				return err
			}
		} else {
			s.reader = reader
		}
	}

	return nil
}

func (s *Session) degrade(what string, err error) error {
	if !s.cfg.DegradeOnConnectError {
		return fmt.Errorf("%s: %w", what, err)
	}
	log.Printf("Continuing without %s: %v", what, err)
	return nil
}

func (s *Session) openCue() *cue.Player {
	bank, err := cue.LoadBank(s.cfg.CueDir())
	if err != nil {
		log.Printf("Cues disabled: %v", err)
		return nil
	}
	player, err := cue.NewPlayer(s.newCueSink(), bank, s.cfg.CueVolume)
	if err != nil {
		log.Printf("Cues disabled: %v", err)
		return nil
	}
	return player
}

// Trigger queues a control action for the next step. It reports false when
// the queue is full.
func (s *Session) Trigger(t training.Trigger) bool {
	select {
	case s.triggers <- t:
		return true
	default:
		log.Printf("Trigger queue full, dropping %s", t)
		return false
	}
}

// Step applies queued triggers, advances the controller by dt and publishes
// the resulting snapshot. A fatal stream error aborts the session.
func (s *Session) Step(dt time.Duration) error {
	s.drainTriggers()

	if s.feedback != nil {
		s.ctrl.SetExternalFinalize(s.cfg.ExternalFinalize || s.feedback.RendererFinalizes())
	}

	err := s.ctrl.Tick(dt)
	if err != nil && !errors.Is(err, training.ErrAborted) {
		log.Printf("Fatal session error: %v", err)
		s.ctrl.Trigger(training.TriggerAbort)
		err = fmt.Errorf("session %s: %w", s.id, err)
	}

	s.publish()
	return err
}

func (s *Session) drainTriggers() {
	var renderer <-chan training.Trigger
	if s.feedback != nil {
		renderer = s.feedback.Triggers()
	}

	for {
		select {
		case t := <-s.triggers:
			s.apply(t, "operator")
		case t := <-renderer:
			s.apply(t, "renderer")
		default:
			return
		}
	}
}

func (s *Session) apply(t training.Trigger, from string) {
	if !s.ctrl.Trigger(t) {
		log.Printf("Trigger %s from %s had no effect in %s", t, from, s.ctrl.State())
	}
}

func (s *Session) publish() {
	snap := s.ctrl.Snapshot()

	if s.feedback != nil {
		s.feedback.Publish(snap)
	}
	if s.tui == nil {
		return
	}

	s.tui.Snapshot(snap)
	if now := time.Now(); now.Sub(s.lastLinks) >= linkInterval {
		s.lastLinks = now
		links := ui.LinkStatus{
			Stims:  s.stims != nil && s.stims.IsConnected(),
			Stream: s.reader != nil && s.reader.IsConnected(),
		}
		if s.feedback != nil {
			links.Renderers = s.feedback.ClientCount()
		}
		s.tui.Links(links)
	}
}

// Run ticks the controller until the session ends. Cancelling ctx aborts
// the session.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	if s.cfg.NoTUI {
		log.Printf("Type a trigger (start, pause, invalidate, mark, finish, abort) and press Enter; Ctrl+C aborts")
	}

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			log.Printf("Shutdown requested, aborting session")
			s.ctrl.Trigger(training.TriggerAbort)
			s.publish()
			return training.ErrAborted

		case now := <-ticker.C:
			dt := now.Sub(last)
			last = now

			if err := s.Step(dt); err != nil {
				return err
			}
			if s.ctrl.Done() {
				return nil
			}
		}
	}
}

// Result summarises the session so far
func (s *Session) Result() Result {
	r := Result{ID: s.id}
	if s.ctrl == nil {
		return r
	}
	sess := s.ctrl.Session()
	r.Trials = len(sess.History)
	r.ValidTrials = sess.ValidTrials()
	r.TotalScore = sess.TotalScore
	r.MeanScore = sess.MeanScore()
	r.Finished = sess.Finished
	r.Aborted = s.ctrl.Aborted()
	return r
}

// Close releases every resource. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error

		if s.store != nil && s.ctrl != nil {
			ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
			if err := s.store.EndSession(ctx, s.ctrl.Session(), s.ctrl.Aborted()); err != nil {
				errs = append(errs, err)
			}
			cancel()
		}

		if s.tui != nil {
			s.tui.Stop()
		}
		if s.feedback != nil {
			s.feedback.Stop()
		}
		if s.cue != nil {
			if err := s.cue.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.stims != nil {
			if err := s.stims.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.reader != nil {
			if err := s.reader.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.rec != nil {
			if err := s.rec.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.csv != nil {
			if err := s.csv.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				errs = append(errs, err)
			}
		}

		s.closeErr = errors.Join(errs...)
		log.Printf("Session %s closed", s.id)
	})
	return s.closeErr
}
