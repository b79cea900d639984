package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"

	"github.com/abdul-hamid-achik/hitsuite/packages/core/testrun"
)

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	started     INTEGER NOT NULL DEFAULT 0,
	succeeded   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS events (
	run_id  TEXT NOT NULL REFERENCES runs(id),
	seq     INTEGER NOT NULL,
	idx     TEXT NOT NULL,
	name    TEXT NOT NULL,
	state   TEXT NOT NULL,
	details TEXT NOT NULL,
	at      INTEGER NOT NULL,
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs(started_at DESC);
`

// Run is one recorded run. FinishedAt is zero while the run is in flight.
type Run struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	Started    int       `json:"started"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
}

// Finished reports whether the run's stream has closed.
func (r Run) Finished() bool {
	return !r.FinishedAt.IsZero()
}

type Store struct {
	db *sql.DB
}

// Open opens or creates the database. dsn is a file path, optionally
// prefixed with "sqlite://" or "sqlite:".
func Open(dsn string) (*Store, error) {
	path := strings.TrimSpace(dsn)
	path = strings.TrimPrefix(path, "sqlite://")
	path = strings.TrimPrefix(path, "sqlite:")
	if path == "" {
		return nil, fmt.Errorf("empty history database path")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	// Serialize writers; concurrent recorders would otherwise hit
	// "database is locked".
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record stores res and every event it emits. It blocks until the run's
// stream closes or ctx is done, so callers usually run it in its own
// goroutine.
func (s *Store) Record(ctx context.Context, res *testrun.Result) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (id, name, started_at) VALUES (?, ?, ?)`,
		res.ID, res.Name, res.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("recording run %s: %w", res.ID, err)
	}

	var (
		seq       int
		insertErr error
		events    []testrun.Event
	)
	err = res.Each(ctx, func(ev testrun.Event) {
		seq++
		if insertErr != nil {
			return
		}
		events = append(events, ev)
		insertErr = s.insertEvent(ctx, res.ID, seq, ev)
	})
	if insertErr != nil {
		return insertErr
	}
	if err != nil {
		return err
	}

	summary := testrun.Summarize(events)
	_, err = s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, started = ?, succeeded = ?, failed = ? WHERE id = ?`,
		time.Now().UnixNano(), summary.Started, summary.Succeeded, summary.Failed, res.ID)
	if err != nil {
		return fmt.Errorf("finishing run %s: %w", res.ID, err)
	}
	return nil
}

func (s *Store) insertEvent(ctx context.Context, runID string, seq int, ev testrun.Event) error {
	details, err := json.Marshal(ev.Details)
	if err != nil {
		return fmt.Errorf("encoding event details: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO events (run_id, seq, idx, name, state, details, at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, seq, ev.Index, ev.Name, string(ev.State), string(details), ev.Time.UnixNano())
	if err != nil {
		return fmt.Errorf("recording event %d of run %s: %w", seq, runID, err)
	}
	return nil
}

const runColumns = `id, name, started_at, finished_at, started, succeeded, failed`

// Runs returns the most recent runs first. A limit of zero or less
// returns all of them.
func (s *Store) Runs(ctx context.Context, limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return runs, nil
}

func (s *Store) Run(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r        Run
		started  int64
		finished sql.NullInt64
	)
	if err := sc.Scan(&r.ID, &r.Name, &started, &finished, &r.Started, &r.Succeeded, &r.Failed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("failed to scan run: %w", err)
	}
	r.StartedAt = time.Unix(0, started)
	if finished.Valid {
		r.FinishedAt = time.Unix(0, finished.Int64)
	}
	return r, nil
}

// Events returns the events of a run in emission order.
func (s *Store) Events(ctx context.Context, runID string) ([]testrun.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT idx, name, state, details, at FROM events WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var events []testrun.Event
	for rows.Next() {
		var (
			ev      testrun.Event
			state   string
			details string
			at      int64
		)
		if err := rows.Scan(&ev.Index, &ev.Name, &state, &details, &at); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.State = testrun.State(state)
		ev.Time = time.Unix(0, at)
		if err := json.Unmarshal([]byte(details), &ev.Details); err != nil {
			return nil, fmt.Errorf("decoding event details: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return events, nil
}
