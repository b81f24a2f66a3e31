// Package history persists run outcomes and their per-block traces in a
// SQLite database.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/gwillem/haptic/pkg/engine"
)

// ErrNotFound is returned when a run id is unknown.
var ErrNotFound = errors.New("run not found")

// Store is the run history database.
type Store struct {
	db *sql.DB
}

// Run is one recorded run.
type Run struct {
	ID            string
	Sequence      string
	State         string
	Blocks        int
	LastCompleted int
	Error         string
	StartedAt     time.Time
	EndedAt       time.Time
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Block is one recorded block trace.
type Block struct {
	Index       int
	Kind        string
	Patch       int
	Label       string
	StartedAt   time.Time
	CompletedAt time.Time // zero if the block did not complete
	Commands    []string
}

// Open opens the database at path, creating it and applying migrations as
// needed.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// pragmas are per connection
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func unixMS(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromUnixMS(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// RecordRun stores a run result. source names the sequence that was run.
func (s *Store) RecordRun(source string, res engine.Result) error {
	if res.RunID == "" {
		return errors.New("result has no run id")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	errText := ""
	if res.Err != nil {
		errText = res.Err.Error()
	}
	_, err = tx.Exec(`
		INSERT INTO runs (run_id, sequence, state, blocks, last_completed, error, started_unix_ms, ended_unix_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RunID, source, res.State.String(), res.Blocks, res.LastCompleted, errText,
		unixMS(res.StartedAt), unixMS(res.EndedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, t := range res.Trace {
		var completed sql.NullInt64
		if t.Done() {
			completed = sql.NullInt64{Int64: t.Completed.UnixMilli(), Valid: true}
		}
		_, err = tx.Exec(`
			INSERT INTO block_traces (run_id, block_index, kind, patch, label, started_unix_ms, completed_unix_ms, commands)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			res.RunID, t.Index, string(t.Kind), int(t.Patch), t.Label,
			unixMS(t.Started), completed, strings.Join(t.Commands, "\n"),
		)
		if err != nil {
			return fmt.Errorf("insert block %d: %w", t.Index, err)
		}
	}

	return tx.Commit()
}

const runColumns = `run_id, sequence, state, blocks, last_completed, error, started_unix_ms, ended_unix_ms`

func scanRun(row interface{ Scan(...any) error }) (Run, error) {
	var r Run
	var started, ended int64
	err := row.Scan(&r.ID, &r.Sequence, &r.State, &r.Blocks, &r.LastCompleted, &r.Error, &started, &ended)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt = fromUnixMS(started)
	r.EndedAt = fromUnixMS(ended)
	return r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_unix_ms DESC, run_id`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
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
	return runs, rows.Err()
}

// Run returns a recorded run and its block traces in execution order. id may
// be a unique prefix of the run id.
func (s *Store) Run(id string) (Run, []Block, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs WHERE run_id LIKE ? || '%' LIMIT 2`, id)
	if err != nil {
		return Run{}, nil, err
	}
	var matches []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			rows.Close()
			return Run{}, nil, err
		}
		matches = append(matches, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Run{}, nil, err
	}

	switch len(matches) {
	case 0:
		return Run{}, nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case 1:
	default:
		return Run{}, nil, fmt.Errorf("run id prefix %q is ambiguous", id)
	}
	run := matches[0]

	blocks, err := s.blocks(run.ID)
	if err != nil {
		return Run{}, nil, err
	}
	return run, blocks, nil
}

func (s *Store) blocks(runID string) ([]Block, error) {
	rows, err := s.db.Query(`
		SELECT block_index, kind, patch, label, started_unix_ms, completed_unix_ms, commands
		FROM block_traces WHERE run_id = ? ORDER BY block_index`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var blocks []Block
	for rows.Next() {
		var b Block
		var started int64
		var completed sql.NullInt64
		var commands string
		if err := rows.Scan(&b.Index, &b.Kind, &b.Patch, &b.Label, &started, &completed, &commands); err != nil {
			return nil, err
		}
		b.StartedAt = fromUnixMS(started)
		if completed.Valid {
			b.CompletedAt = time.UnixMilli(completed.Int64)
		}
		if commands != "" {
			b.Commands = strings.Split(commands, "\n")
		}
		blocks = append(blocks, b)
	}
	return blocks, rows.Err()
}
