package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var ErrRunNotFound = errors.New("run not found")

// DBFileName is the history database inside the data directory
const DBFileName = "history.db"

// Store persists run history in SQLite
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if needed) the history database in dataDir
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)
	db, err := sql.Open("sqlite", dbPath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		address TEXT NOT NULL,
		total_bytes INTEGER NOT NULL,
		sent_bytes INTEGER NOT NULL DEFAULT 0,
		written_bytes INTEGER NOT NULL DEFAULT 0,
		outcome TEXT NOT NULL DEFAULT 'running',
		error_kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		started_at DATETIME NOT NULL,
		finished_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Begin records a run that has just started. An empty ID is filled in.
func (s *Store) Begin(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = "run_" + uuid.New().String()[:8]
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Outcome = OutcomeRunning

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, address, total_bytes, outcome, started_at)
		VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.Address, run.TotalBytes, run.Outcome, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Finish stores the final counters and outcome of a run
func (s *Store) Finish(ctx context.Context, run *Run) error {
	if run.FinishedAt == nil {
		now := time.Now()
		run.FinishedAt = &now
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET sent_bytes = ?, written_bytes = ?, outcome = ?, error_kind = ?, error = ?, finished_at = ?
		WHERE id = ?`,
		run.SentBytes, run.WrittenBytes, run.Outcome, run.ErrorKind, run.Error, run.FinishedAt, run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Get returns a run by ID
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, total_bytes, sent_bytes, written_bytes, outcome, error_kind, error, started_at, finished_at
		FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	return run, err
}

// List returns the most recent runs, newest first
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, total_bytes, sent_bytes, written_bytes, outcome, error_kind, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Prune deletes finished runs that started before cutoff
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE started_at < ? AND outcome != ?`, cutoff, OutcomeRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

// AbandonRunning marks runs left "running" by a previous process as errored
func (s *Store) AbandonRunning(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET outcome = ?, error_kind = 'internal', error = 'process exited during run', finished_at = ?
		WHERE outcome = ?`, OutcomeError, time.Now(), OutcomeRunning)
	if err != nil {
		return 0, fmt.Errorf("failed to close abandoned runs: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run      Run
		finished sql.NullTime
	)
	if err := sc.Scan(&run.ID, &run.Address, &run.TotalBytes, &run.SentBytes, &run.WrittenBytes,
		&run.Outcome, &run.ErrorKind, &run.Error, &run.StartedAt, &finished); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}
