package attemptlog

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/angeloszaimis/adaptive-router/internal/attempt"
	"github.com/angeloszaimis/adaptive-router/internal/backend"
)

var ErrRunNotFound = errors.New("attemptlog: run not found")

const runIDLayout = "2006-01-02_15-04-05"

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	strategy    TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	ended_at    TEXT
);

CREATE TABLE IF NOT EXISTS attempts (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id           TEXT NOT NULL,
	request_number   INTEGER NOT NULL,
	attempt_number   INTEGER NOT NULL,
	request_id       TEXT NOT NULL,
	strategy         TEXT NOT NULL,
	timestamp        TEXT NOT NULL,
	backend_id       INTEGER NOT NULL,
	success          INTEGER NOT NULL,
	rate_limited     INTEGER NOT NULL,
	latency_ms       REAL NOT NULL,
	request_complete INTEGER NOT NULL,
	request_success  INTEGER NOT NULL,
	penalized        INTEGER NOT NULL,
	FOREIGN KEY (run_id) REFERENCES runs(run_id)
);

CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id, id);
`

// Run describes one run and its totals.
type Run struct {
	ID            string     `json:"run_id"`
	SessionID     string     `json:"session_id"`
	Strategy      string     `json:"strategy"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at,omitempty"`
	TotalRequests int64      `json:"total_requests"`
	TotalAttempts int64      `json:"total_attempts"`
	Current       bool       `json:"is_current"`
}

// Session groups the runs that share a session id.
type Session struct {
	ID         string    `json:"session_id"`
	Runs       []Run     `json:"runs"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	Strategies []string  `json:"strategies"`
}

// Record is one stored attempt. AttemptNumber is 1-based.
type Record struct {
	RequestNumber   int64      `json:"request_number"`
	AttemptNumber   int        `json:"attempt_number"`
	RequestID       string     `json:"request_id"`
	Strategy        string     `json:"strategy"`
	Timestamp       time.Time  `json:"timestamp"`
	BackendID       backend.ID `json:"server_port"`
	Success         bool       `json:"success"`
	RateLimited     bool       `json:"rate_limited"`
	LatencyMs       float64    `json:"latency_ms"`
	RequestComplete bool       `json:"request_complete"`
	RequestSuccess  bool       `json:"request_success"`
	Penalized       bool       `json:"penalized"`
}

// Store manages runs and attempts in SQLite.
type Store struct {
	db      *sql.DB
	current string
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// StartRun creates a run and makes it current. An empty sessionID gets a
// fresh UUID.
func (s *Store) StartRun(strategy, sessionID string, now time.Time) (Run, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	run := Run{
		ID:        now.Format(runIDLayout) + "_" + strategy,
		SessionID: sessionID,
		Strategy:  strategy,
		StartedAt: now.UTC(),
		Current:   true,
	}

	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO runs (run_id, session_id, strategy, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.SessionID, run.Strategy, run.StartedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return Run{}, fmt.Errorf("insert run: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		// Two runs of one strategy started within the same second.
		run.ID += "_" + uuid.New().String()[:8]
		if _, err := s.db.Exec(
			`INSERT INTO runs (run_id, session_id, strategy, started_at) VALUES (?, ?, ?, ?)`,
			run.ID, run.SessionID, run.Strategy, run.StartedAt.Format(time.RFC3339Nano),
		); err != nil {
			return Run{}, fmt.Errorf("insert run: %w", err)
		}
	}

	s.current = run.ID
	return run, nil
}

// EndRun stamps the end time of a run.
func (s *Store) EndRun(runID string, at time.Time) error {
	res, err := s.db.Exec(`UPDATE runs SET ended_at = ? WHERE run_id = ?`, at.UTC().Format(time.RFC3339Nano), runID)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// AppendAttempts inserts outcomes into a run in one transaction.
func (s *Store) AppendAttempts(runID string, outcomes []attempt.Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO attempts (
		run_id, request_number, attempt_number, request_id, strategy, timestamp, backend_id,
		success, rate_limited, latency_ms, request_complete, request_success, penalized
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, o := range outcomes {
		if _, err := stmt.Exec(
			runID, o.RequestSeq, o.AttemptNumber+1, o.RequestID, o.Strategy,
			o.Timestamp.UTC().Format(time.RFC3339Nano), int(o.BackendID),
			o.Success, o.RateLimited, o.LatencyMs, o.RequestComplete, o.RequestSuccess, o.Penalized,
		); err != nil {
			return fmt.Errorf("insert attempt: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const runColumns = `
	r.run_id, r.session_id, r.strategy, r.started_at, r.ended_at,
	COALESCE(SUM(a.request_complete), 0),
	COUNT(a.id)`

// ListRuns returns every run, newest first.
func (s *Store) ListRuns() ([]Run, error) {
	rows, err := s.db.Query(`SELECT` + runColumns + `
		FROM runs r LEFT JOIN attempts a ON a.run_id = r.run_id
		GROUP BY r.run_id
		ORDER BY r.started_at DESC, r.run_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Run returns one run by id.
func (s *Store) Run(runID string) (Run, error) {
	row := s.db.QueryRow(`SELECT`+runColumns+`
		FROM runs r LEFT JOIN attempts a ON a.run_id = r.run_id
		WHERE r.run_id = ?
		GROUP BY r.run_id`, runID)

	run, err := s.scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrRunNotFound
	}
	return run, err
}

// CurrentRun returns the run started by this process.
func (s *Store) CurrentRun() (Run, error) {
	if s.current == "" {
		return Run{}, ErrRunNotFound
	}
	return s.Run(s.current)
}

// Sessions groups runs by session id, newest session first.
func (s *Store) Sessions() ([]Session, error) {
	runs, err := s.ListRuns()
	if err != nil {
		return nil, err
	}

	var sessions []Session
	index := make(map[string]int)

	for _, run := range runs {
		i, ok := index[run.SessionID]
		if !ok {
			i = len(sessions)
			index[run.SessionID] = i
			sessions = append(sessions, Session{ID: run.SessionID, StartedAt: run.StartedAt})
		}

		sess := &sessions[i]
		sess.Runs = append(sess.Runs, run)
		if run.StartedAt.Before(sess.StartedAt) {
			sess.StartedAt = run.StartedAt
		}
		end := run.StartedAt
		if run.EndedAt != nil {
			end = *run.EndedAt
		}
		if end.After(sess.EndedAt) {
			sess.EndedAt = end
		}
		if !slices.Contains(sess.Strategies, run.Strategy) {
			sess.Strategies = append(sess.Strategies, run.Strategy)
		}
	}

	return sessions, nil
}

// Attempts returns up to limit attempts of a run in insertion order. A
// non-positive limit returns all of them.
func (s *Store) Attempts(runID string, limit int) ([]Record, error) {
	if _, err := s.Run(runID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(`SELECT
		request_number, attempt_number, request_id, strategy, timestamp, backend_id,
		success, rate_limited, latency_ms, request_complete, request_success, penalized
		FROM attempts WHERE run_id = ? ORDER BY id LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			r  Record
			ts string
			id int
		)
		if err := rows.Scan(
			&r.RequestNumber, &r.AttemptNumber, &r.RequestID, &r.Strategy, &ts, &id,
			&r.Success, &r.RateLimited, &r.LatencyMs, &r.RequestComplete, &r.RequestSuccess, &r.Penalized,
		); err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		r.BackendID = backend.ID(id)
		if r.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRun(row scanner) (Run, error) {
	var (
		run     Run
		started string
		ended   sql.NullString
	)
	if err := row.Scan(&run.ID, &run.SessionID, &run.Strategy, &started, &ended, &run.TotalRequests, &run.TotalAttempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}

	var err error
	if run.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return Run{}, fmt.Errorf("parse started_at: %w", err)
	}
	if ended.Valid {
		t, err := time.Parse(time.RFC3339Nano, ended.String)
		if err != nil {
			return Run{}, fmt.Errorf("parse ended_at: %w", err)
		}
		run.EndedAt = &t
	}
	run.Current = run.ID == s.current

	return run, nil
}
