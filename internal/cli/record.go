package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/wesm/ctxview/internal/db"
)

// NewRun converts a finished invocation into a history row. runErr
// is the error returned by Run, if any.
func NewRun(res Result, runErr error) db.Run {
	run := db.Run{
		Op:         string(res.Op),
		Args:       res.Args,
		Workdir:    res.Dir,
		ExitCode:   res.ExitCode,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		StartedAt:  res.StartedAt,
		DurationMs: res.Duration.Milliseconds(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	return run
}

// Record stores the invocation and trims history to keep rows.
// keep <= 0 disables pruning. A pruning failure is logged, not
// returned.
func Record(
	ctx context.Context, database *db.DB, res Result, runErr error,
	keep int,
) (db.Run, error) {
	run := NewRun(res, runErr)
	id, err := database.InsertRun(ctx, run)
	if err != nil {
		return run, fmt.Errorf("recording run: %w", err)
	}
	run.ID = id
	if keep > 0 {
		if _, err := database.PruneRuns(ctx, keep); err != nil {
			log.Printf("cli: pruning run history: %v", err)
		}
	}
	return run, nil
}
