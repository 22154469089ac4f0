package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"squish/internal/scheduler"
	"squish/internal/services"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store wraps the history database.
type Store struct {
	db   *sql.DB
	path string
}

// Run is one row of the runs table.
type Run struct {
	ID               string
	StartedAt        time.Time
	FinishedAt       time.Time
	Detected         int
	Queued           int
	Skipped          int
	Succeeded        int
	SourceNotDeleted int
	EngineFailed     int
	InvokeFailed     int
	Interrupted      int
	Unstarted        int
	Error            string
}

// File is one row of the run_files table.
type File struct {
	Path         string
	ProfileGroup string
	Outcome      string
	Duration     time.Duration
	Error        string
}

// Entry is a complete run record ready to be written.
type Entry struct {
	Run   Run
	Files []File
}

// NewEntry converts a scheduler summary into a history entry. runErr is the
// run-level failure, if any.
func NewEntry(id string, started, finished time.Time, summary scheduler.Summary, runErr error) Entry {
	run := Run{
		ID:               id,
		StartedAt:        started,
		FinishedAt:       finished,
		Detected:         summary.Detected(),
		Queued:           len(summary.Queued),
		Skipped:          len(summary.Skipped),
		Succeeded:        len(summary.Succeeded),
		SourceNotDeleted: len(summary.SourceNotDeleted),
		EngineFailed:     len(summary.EngineFailed),
		InvokeFailed:     len(summary.InvokeFailed),
		Interrupted:      len(summary.Interrupted),
		Unstarted:        len(summary.Unstarted),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	results := append(summary.All(), summary.Interrupted...)
	files := make([]File, 0, len(results))
	for _, res := range results {
		file := File{
			Path:         res.Path,
			ProfileGroup: res.GroupID,
			Outcome:      string(res.Outcome),
			Duration:     res.Duration,
		}
		if res.Err != nil {
			file.Error = res.Err.Error()
		}
		files = append(files, file)
	}
	return Entry{Run: run, Files: files}
}

// Open creates or connects to the history database at path and applies
// pending migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, services.Wrap(services.ErrConfiguration, "history", "open", "History database path is empty", nil)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, services.Wrap(services.ErrStateIO, "history", "open", "Failed to create history directory", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, services.Wrap(services.ErrStateIO, "history", "open", "Failed to open history database", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, services.Wrap(services.ErrStateIO, "history", "open", fmt.Sprintf("Failed to apply %q", pragma), execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, services.Wrap(services.ErrStateIO, "history", "migrate", "Failed to migrate history database", err)
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record writes entry in a single transaction. Recording the same run ID twice
// replaces the earlier record.
func (s *Store) Record(ctx context.Context, entry Entry) error {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(entry.Run.ID) == "" {
		return services.Wrap(services.ErrValidation, "history", "record", "Run ID is empty", nil)
	}
	err := retryOnBusy(ctx, func() error {
		return s.record(ctx, entry)
	})
	if err != nil {
		return services.Wrap(services.ErrStateIO, "history", "record", "Failed to record run history", err)
	}
	return nil
}

func (s *Store) record(ctx context.Context, entry Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	run := entry.Run
	if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", run.ID); err != nil {
		return fmt.Errorf("clear previous run: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO runs (
		id, started_at, finished_at, detected, queued, skipped, succeeded,
		source_not_deleted, engine_failed, invoke_failed, interrupted, unstarted, error
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.Detected,
		run.Queued,
		run.Skipped,
		run.Succeeded,
		run.SourceNotDeleted,
		run.EngineFailed,
		run.InvokeFailed,
		run.Interrupted,
		run.Unstarted,
		nullableString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, file := range entry.Files {
		_, err := tx.ExecContext(ctx, `INSERT INTO run_files (
			run_id, path, profile_group, outcome, duration_ms, error
		) VALUES (?, ?, ?, ?, ?, ?)`,
			run.ID,
			file.Path,
			nullableString(file.ProfileGroup),
			file.Outcome,
			file.Duration.Milliseconds(),
			nullableString(file.Error),
		)
		if err != nil {
			return fmt.Errorf("insert run file %s: %w", file.Path, err)
		}
	}
	return tx.Commit()
}

// Recent returns up to limit runs, newest first. A non-positive limit returns
// every run.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	ctx = ensureContext(ctx)
	query := `SELECT id, started_at, finished_at, detected, queued, skipped, succeeded,
		source_not_deleted, engine_failed, invoke_failed, interrupted, unstarted, error
		FROM runs ORDER BY started_at DESC, id DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, services.Wrap(services.ErrStateIO, "history", "recent", "Failed to query run history", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run               Run
			started, finished string
			errText           sql.NullString
		)
		if err := rows.Scan(
			&run.ID, &started, &finished,
			&run.Detected, &run.Queued, &run.Skipped, &run.Succeeded,
			&run.SourceNotDeleted, &run.EngineFailed, &run.InvokeFailed,
			&run.Interrupted, &run.Unstarted, &errText,
		); err != nil {
			return nil, services.Wrap(services.ErrStateIO, "history", "recent", "Failed to scan run history", err)
		}
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(finished)
		run.Error = errText.String
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrStateIO, "history", "recent", "Failed to read run history", err)
	}
	return runs, nil
}

// Files returns the per-file records of runID in insertion order. runID may be
// a unique prefix of a full run ID.
func (s *Store) Files(ctx context.Context, runID string) ([]File, error) {
	ctx = ensureContext(ctx)
	id, err := s.resolveID(ctx, runID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT path, profile_group, outcome, duration_ms, error
		FROM run_files WHERE run_id = ? ORDER BY id`, id)
	if err != nil {
		return nil, services.Wrap(services.ErrStateIO, "history", "files", "Failed to query run files", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var (
			file       File
			group, msg sql.NullString
			durationMS int64
		)
		if err := rows.Scan(&file.Path, &group, &file.Outcome, &durationMS, &msg); err != nil {
			return nil, services.Wrap(services.ErrStateIO, "history", "files", "Failed to scan run files", err)
		}
		file.ProfileGroup = group.String
		file.Error = msg.String
		file.Duration = time.Duration(durationMS) * time.Millisecond
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrStateIO, "history", "files", "Failed to read run files", err)
	}
	return files, nil
}

func (s *Store) resolveID(ctx context.Context, runID string) (string, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return "", services.Wrap(services.ErrValidation, "history", "files", "Run ID is empty", nil)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM runs WHERE id = ? OR id LIKE ? ESCAPE '\' ORDER BY id LIMIT 2`, runID, escapeLike(runID)+"%")
	if err != nil {
		return "", services.Wrap(services.ErrStateIO, "history", "files", "Failed to look up run", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", services.Wrap(services.ErrStateIO, "history", "files", "Failed to scan run id", err)
		}
		if id == runID {
			return id, nil
		}
		matches = append(matches, id)
	}
	if err := rows.Err(); err != nil {
		return "", services.Wrap(services.ErrStateIO, "history", "files", "Failed to read run ids", err)
	}
	switch len(matches) {
	case 0:
		return "", services.Wrap(services.ErrNotFound, "history", "files", fmt.Sprintf("No run matches %q", runID), nil)
	case 1:
		return matches[0], nil
	default:
		return "", services.Wrap(services.ErrValidation, "history", "files", fmt.Sprintf("Run ID %q is ambiguous", runID), nil)
	}
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
