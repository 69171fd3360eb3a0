// ABOUTME: SQLite store for session results
// ABOUTME: Keeps sessions, trials and events queryable across runs
package sessionlog

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/neurobridge/mitrain/internal/training"
	_ "modernc.org/sqlite"
)

const storeTimeout = 2 * time.Second

// SessionInfo describes a session when it starts
type SessionInfo struct {
	ID             string
	StartedAt      time.Time
	Demo           bool
	TrialsPerClass int
}

// SessionSummary is a stored session with its outcome
type SessionSummary struct {
	SessionInfo
	EndedAt     time.Time
	TotalScore  float64
	ValidTrials int
	Aborted     bool
}

// Store persists results in SQLite. Event and Trial write to the session
// opened by BeginSession.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	current string
}

// OpenStore opens (creating if needed) the database at path
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		demo INTEGER NOT NULL DEFAULT 0,
		trials_per_class INTEGER NOT NULL,
		total_score REAL,
		valid_trials INTEGER,
		aborted INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS trials (
		session_id TEXT NOT NULL REFERENCES sessions(session_id),
		trial_index INTEGER NOT NULL,
		side TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		correct_ms INTEGER NOT NULL,
		incorrect_ms INTEGER NOT NULL,
		neutral_ms INTEGER NOT NULL,
		score REAL NOT NULL,
		invalid INTEGER NOT NULL,
		timed_out INTEGER NOT NULL,
		progress INTEGER NOT NULL,
		animation INTEGER NOT NULL DEFAULT 0,
		finished_at_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trials_session ON trials(session_id, trial_index);

	CREATE TABLE IF NOT EXISTS events (
		session_id TEXT NOT NULL REFERENCES sessions(session_id),
		at_ms INTEGER NOT NULL,
		message TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// BeginSession records a new session and makes it the target of Event
// and Trial
func (s *Store) BeginSession(ctx context.Context, info SessionInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, started_at, demo, trials_per_class)
		VALUES (?, ?, ?, ?)`,
		info.ID, info.StartedAt.UnixMilli(), info.Demo, info.TrialsPerClass)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	s.mu.Lock()
	s.current = info.ID
	s.mu.Unlock()
	return nil
}

// EndSession stores the session outcome
func (s *Store) EndSession(ctx context.Context, session *training.Session, aborted bool) error {
	id := s.sessionID()
	if id == "" {
		return fmt.Errorf("end session: no session started")
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET ended_at = ?, total_score = ?, valid_trials = ?, aborted = ?
		WHERE session_id = ?`,
		time.Now().UnixMilli(), session.TotalScore, session.ValidTrials(), aborted, id)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// Event implements training.EventLog. Failures are logged, not returned.
func (s *Store) Event(at time.Duration, message string) {
	id := s.sessionID()
	if id == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, at_ms, message) VALUES (?, ?, ?)`,
		id, at.Milliseconds(), message); err != nil {
		log.Printf("Store: failed to insert event: %v", err)
	}
}

// Trial implements training.EventLog
func (s *Store) Trial(r training.TrialResult) {
	id := s.sessionID()
	if id == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trials (session_id, trial_index, side, duration_ms, correct_ms, incorrect_ms,
			neutral_ms, score, invalid, timed_out, progress, animation, finished_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, r.Index, r.Side.String(), r.Duration.Milliseconds(), r.Correct.Milliseconds(),
		r.Incorrect.Milliseconds(), r.Neutral.Milliseconds(), r.Score, r.Invalid, r.TimedOut,
		r.Progress, r.Animation, r.FinishedAt.Milliseconds())
	if err != nil {
		log.Printf("Store: failed to insert trial %d: %v", r.Index, err)
	}
}

// Sample implements training.EventLog. The per-tick series is kept in the
// CSV log only.
func (s *Store) Sample(training.Snapshot) {}

// Trials returns a session's trials in order
func (s *Store) Trials(ctx context.Context, sessionID string) ([]training.TrialResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT trial_index, side, duration_ms, correct_ms, incorrect_ms, neutral_ms,
		       score, invalid, timed_out, progress, animation, finished_at_ms
		FROM trials WHERE session_id = ? ORDER BY rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query trials: %w", err)
	}
	defer rows.Close()

	var out []training.TrialResult
	for rows.Next() {
		var r training.TrialResult
		var side string
		var dur, correct, incorrect, neutral, finished int64
		if err := rows.Scan(&r.Index, &side, &dur, &correct, &incorrect, &neutral,
			&r.Score, &r.Invalid, &r.TimedOut, &r.Progress, &r.Animation, &finished); err != nil {
			return nil, fmt.Errorf("scan trial row: %w", err)
		}
		r.Side = parseSide(side)
		r.Duration = time.Duration(dur) * time.Millisecond
		r.Correct = time.Duration(correct) * time.Millisecond
		r.Incorrect = time.Duration(incorrect) * time.Millisecond
		r.Neutral = time.Duration(neutral) * time.Millisecond
		r.FinishedAt = time.Duration(finished) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// Sessions lists stored sessions, newest first
func (s *Store) Sessions(ctx context.Context) ([]SessionSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, started_at, ended_at, demo, trials_per_class,
		       total_score, valid_trials, aborted
		FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var sum SessionSummary
		var started int64
		var ended, valid sql.NullInt64
		var total sql.NullFloat64
		if err := rows.Scan(&sum.ID, &started, &ended, &sum.Demo, &sum.TrialsPerClass,
			&total, &valid, &sum.Aborted); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		sum.StartedAt = time.UnixMilli(started)
		if ended.Valid {
			sum.EndedAt = time.UnixMilli(ended.Int64)
		}
		sum.TotalScore = total.Float64
		sum.ValidTrials = int(valid.Int64)
		out = append(out, sum)
	}
	return out, rows.Err()
}

// EventCount returns the number of events stored for a session
func (s *Store) EventCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) sessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func parseSide(name string) training.Side {
	switch name {
	case "left":
		return training.Left
	case "right":
		return training.Right
	}
	return training.SideNone
}
