// Package sqlite is a single-file RunArchive for hosts without PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"bulksms/internal/domain"
	"bulksms/internal/ports"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Archive implements ports.RunArchive on an embedded SQLite database.
type Archive struct {
	db *sql.DB
}

var _ ports.RunArchive = (*Archive)(nil)

// Open creates the database file if needed and applies the schema.
func Open(path string, busyTimeout time.Duration) (*Archive, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	a := &Archive{db: db}
	if err := a.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := a.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

func (a *Archive) SaveRun(ctx context.Context, run *domain.BatchRunState) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO sms_runs(id, status, total_records, successful_sends, failed_sends, skipped_records, started_at, finished_at, duration_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   status=excluded.status, total_records=excluded.total_records,
		   successful_sends=excluded.successful_sends, failed_sends=excluded.failed_sends,
		   skipped_records=excluded.skipped_records, started_at=excluded.started_at,
		   finished_at=excluded.finished_at, duration_ms=excluded.duration_ms`,
		run.RunID.String(), string(run.Status), run.TotalRecords, run.SuccessfulSends, run.FailedSends,
		run.SkippedRecords, formatTime(run.StartTime), formatTime(run.EndTime), run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("upsert run %s: %w", run.RunID, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertAttempt)
	if err != nil {
		return fmt.Errorf("prepare insert attempt: %w", err)
	}
	defer stmt.Close() //nolint:errcheck

	for i, r := range run.Results {
		if _, err := stmt.ExecContext(ctx, attemptArgs(ports.NewAttemptEvent(run.RunID, i, r))...); err != nil {
			return fmt.Errorf("insert attempt %d: %w", i, err)
		}
	}
	return tx.Commit()
}

func (a *Archive) SaveAttempt(ctx context.Context, ev ports.AttemptEvent) error {
	if _, err := a.db.ExecContext(ctx, insertAttempt, attemptArgs(ev)...); err != nil {
		return fmt.Errorf("insert attempt %s/%d: %w", ev.RunID, ev.Seq, err)
	}
	return nil
}

// CountAttempts returns how many attempts of a run are stored, by status.
func (a *Archive) CountAttempts(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := a.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM sms_attempts WHERE run_id = ? GROUP BY status`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

const insertAttempt = `INSERT OR IGNORE INTO sms_attempts(run_id, seq, phone, display_name, status, message_id, error, sent_at, duration_ms)
	VALUES(?,?,?,?,?,?,?,?,?)`

func attemptArgs(ev ports.AttemptEvent) []any {
	return []any{
		ev.RunID.String(), ev.Seq, nullStr(ev.Phone), nullStr(ev.DisplayName), ev.Status(),
		nullStr(ev.MessageID), nullStr(ev.Error), formatTime(ev.SentAt), ev.DurationMS,
	}
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
