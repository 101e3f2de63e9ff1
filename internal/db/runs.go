package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultRunLimit is the default number of runs returned.
	DefaultRunLimit = 50
	// MaxRunLimit is the maximum number of runs returned.
	MaxRunLimit = 500
)

// Run is one recorded CLI invocation.
type Run struct {
	ID         string    `json:"id" yaml:"id"`
	Op         string    `json:"op" yaml:"op"`
	Args       []string  `json:"args" yaml:"args"`
	Workdir    string    `json:"workdir" yaml:"workdir"`
	ExitCode   int       `json:"exit_code" yaml:"exit_code"`
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	Stdout     string    `json:"stdout" yaml:"stdout"`
	Stderr     string    `json:"stderr" yaml:"stderr"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	DurationMs int64     `json:"duration_ms" yaml:"duration_ms"`
}

// timeLayout is fixed-width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// rowScanner is satisfied by both *sql.Row and *sql.Rows,
// allowing a single scan helper for both.
type rowScanner interface {
	Scan(dest ...any) error
}

const runBaseCols = `id, op, args, workdir, exit_code, error,
	stdout, stderr, started_at, duration_ms`

func scanRunRow(rs rowScanner) (Run, error) {
	var r Run
	var args, started string
	err := rs.Scan(
		&r.ID, &r.Op, &args, &r.Workdir, &r.ExitCode, &r.Error,
		&r.Stdout, &r.Stderr, &started, &r.DurationMs,
	)
	if err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(args), &r.Args); err != nil {
		return r, fmt.Errorf("decoding args of run %s: %w", r.ID, err)
	}
	r.StartedAt, err = time.Parse(timeLayout, started)
	if err != nil {
		return r, fmt.Errorf("parsing started_at of run %s: %w", r.ID, err)
	}
	return r, nil
}

// InsertRun stores r, assigning a new ID when r.ID is empty.
// Returns the stored ID.
func (db *DB) InsertRun(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.Args == nil {
		r.Args = []string{}
	}
	args, err := json.Marshal(r.Args)
	if err != nil {
		return "", fmt.Errorf("encoding args: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	_, err = db.writer.ExecContext(ctx, `
		INSERT INTO runs (
			id, op, args, workdir, exit_code, error,
			stdout, stderr, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Op, string(args), r.Workdir, r.ExitCode, r.Error,
		r.Stdout, r.Stderr,
		r.StartedAt.UTC().Format(timeLayout), r.DurationMs,
	)
	if err != nil {
		return "", fmt.Errorf("inserting run: %w", err)
	}
	return r.ID, nil
}

// GetRun returns the run with id, or ErrNotFound.
func (db *DB) GetRun(ctx context.Context, id string) (Run, error) {
	row := db.reader.QueryRowContext(
		ctx,
		"SELECT "+runBaseCols+" FROM runs WHERE id = ?",
		id,
	)
	r, err := scanRunRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("getting run %s: %w", id, err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. A limit outside
// (0, MaxRunLimit] falls back to DefaultRunLimit or MaxRunLimit.
// A non-empty op restricts the result to that operation.
func (db *DB) ListRuns(
	ctx context.Context, op string, limit int,
) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultRunLimit
	}
	if limit > MaxRunLimit {
		limit = MaxRunLimit
	}

	query := "SELECT " + runBaseCols + " FROM runs"
	var args []any
	if op != "" {
		query += " WHERE op = ?"
		args = append(args, op)
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := db.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRunRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// PruneRuns deletes all but the keep most recent runs and returns
// the number deleted.
func (db *DB) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	res, err := db.writer.ExecContext(ctx, `
		DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs
			ORDER BY started_at DESC, id DESC
			LIMIT ?
		)`, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	return res.RowsAffected()
}
