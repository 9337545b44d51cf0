package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lenylvt/aurora-sub000/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			buffer_id TEXT NOT NULL,
			mode TEXT NOT NULL,
			language TEXT NOT NULL,
			filename TEXT NOT NULL,
			state TEXT NOT NULL,
			error_kind TEXT,
			exit_code INTEGER,
			started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			ended_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_buffer ON runs(buffer_id, started_at)`,
		`CREATE TABLE IF NOT EXISTS output_events (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			channel TEXT NOT NULL,
			content TEXT NOT NULL,
			ts DATETIME NOT NULL,
			PRIMARY KEY (run_id, seq),
			FOREIGN KEY (run_id) REFERENCES runs(run_id)
		)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateRun creates a new run.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, buffer_id, mode, language, filename, state, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.BufferID, run.Mode, run.Language, run.Filename, run.State, run.StartedAt)
	return err
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, buffer_id, mode, language, filename, state, error_kind, exit_code, started_at, ended_at FROM runs WHERE run_id = ?`,
		runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns lists the most recent runs of a buffer, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, bufferID string, limit int) ([]domain.Run, error) {
	query := `SELECT run_id, buffer_id, mode, language, filename, state, error_kind, exit_code, started_at, ended_at FROM runs WHERE buffer_id = ? ORDER BY started_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, bufferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var errorKind sql.NullString
	var exitCode sql.NullInt64
	var endedAt sql.NullTime
	if err := row.Scan(&run.RunID, &run.BufferID, &run.Mode, &run.Language, &run.Filename, &run.State, &errorKind, &exitCode, &run.StartedAt, &endedAt); err != nil {
		return nil, err
	}
	if errorKind.Valid {
		run.ErrorKind = domain.ErrorKind(errorKind.String)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	if endedAt.Valid {
		run.EndedAt = &endedAt.Time
	}
	return &run, nil
}

// UpdateRunState updates the state of a run.
func (s *SQLiteStore) UpdateRunState(ctx context.Context, runID string, state domain.State) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ? WHERE run_id = ?`,
		state, runID)
	return err
}

// UpdateRunCompleted moves a run to a terminal state.
func (s *SQLiteStore) UpdateRunCompleted(ctx context.Context, runID string, state domain.State, kind domain.ErrorKind, exitCode *int, endedAt time.Time) error {
	var kindStr sql.NullString
	if kind != domain.ErrorKindNone {
		kindStr = sql.NullString{String: string(kind), Valid: true}
	}
	var code sql.NullInt64
	if exitCode != nil {
		code = sql.NullInt64{Int64: int64(*exitCode), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, error_kind = ?, exit_code = ?, ended_at = ? WHERE run_id = ?`,
		state, kindStr, code, endedAt, runID)
	return err
}

// MarkInterruptedRuns fails every run still active, as left behind by a
// process that exited mid-run.
func (s *SQLiteStore) MarkInterruptedRuns(ctx context.Context, endedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, error_kind = ?, ended_at = ? WHERE state IN (?, ?, ?)`,
		domain.StateFailed, domain.ErrorKindTransport, endedAt,
		domain.StateConnecting, domain.StateRunning, domain.StateAwaitingInput)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CreateOutputEvent appends an output event.
func (s *SQLiteStore) CreateOutputEvent(ctx context.Context, event *domain.OutputEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO output_events (run_id, seq, channel, content, ts) VALUES (?, ?, ?, ?, ?)`,
		event.RunID, event.Seq, event.Channel, event.Content, event.Timestamp)
	return err
}

// GetOutputEvents retrieves the events of a run in append order.
func (s *SQLiteStore) GetOutputEvents(ctx context.Context, runID string, afterSeq int64, limit int) ([]domain.OutputEvent, error) {
	query := `SELECT run_id, seq, channel, content, ts FROM output_events WHERE run_id = ? AND seq > ? ORDER BY seq ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, runID, afterSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.OutputEvent
	for rows.Next() {
		var ev domain.OutputEvent
		if err := rows.Scan(&ev.RunID, &ev.Seq, &ev.Channel, &ev.Content, &ev.Timestamp); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
