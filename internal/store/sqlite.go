package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SCUT-HCC/TradeSwarm/internal/model"

	_ "modernc.org/sqlite"
)

const createSessionsTable = `
CREATE TABLE IF NOT EXISTS sessions (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id   TEXT UNIQUE NOT NULL,
    status       TEXT NOT NULL DEFAULT 'running',
    created_at   INTEGER NOT NULL,
    completed_at INTEGER
)`

const createOutputsTable = `
CREATE TABLE IF NOT EXISTS pipeline_outputs (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id    TEXT NOT NULL,
    producer_name TEXT NOT NULL,
    output_type   TEXT NOT NULL,
    payload       TEXT NOT NULL,
    status        TEXT NOT NULL DEFAULT 'completed',
    created_at    INTEGER NOT NULL
)`

var createIndexes = []string{
	"CREATE INDEX IF NOT EXISTS idx_outputs_session_producer ON pipeline_outputs(session_id, producer_name)",
	"CREATE INDEX IF NOT EXISTS idx_outputs_session_type ON pipeline_outputs(session_id, output_type, status, created_at)",
	"CREATE INDEX IF NOT EXISTS idx_outputs_created ON pipeline_outputs(created_at)",
	"CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at)",
}

const outputColumns = `id, session_id, producer_name, output_type, payload, status, created_at`

// Compile-time interface satisfaction check.
var _ Driver = (*SQLiteDriver)(nil)

// SQLiteDriver implements Driver using SQLite. Timestamps are stored as Unix
// nanoseconds so ordering and cutoff comparisons are plain integer compares.
type SQLiteDriver struct {
	db *sql.DB
}

// NewSQLiteDriver opens the SQLite database at dbPath and runs migrations.
func NewSQLiteDriver(dbPath string) (*SQLiteDriver, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Every connection to an in-memory database sees its own empty database.
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	for _, stmt := range append([]string{createSessionsTable, createOutputsTable}, createIndexes...) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	return &SQLiteDriver{db: db}, nil
}

// Close closes the underlying database connection.
func (d *SQLiteDriver) Close() error {
	return d.db.Close()
}

// WithTx runs fn inside a SQLite transaction, committing on success.
func (d *SQLiteDriver) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LatestCompleted returns the newest completed record per requested type.
func (d *SQLiteDriver) LatestCompleted(ctx context.Context, sessionID string, outputTypes []string) (map[string]*model.OutputRecord, error) {
	found := make(map[string]*model.OutputRecord, len(outputTypes))
	if len(outputTypes) == 0 {
		return found, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(outputTypes)), ",")
	args := make([]any, 0, len(outputTypes)+2)
	args = append(args, sessionID, model.OutputCompleted)
	for _, t := range outputTypes {
		args = append(args, t)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT `+outputColumns+` FROM pipeline_outputs
		WHERE session_id = ? AND status = ? AND output_type IN (`+placeholders+`)
		ORDER BY created_at DESC, id DESC`, args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query latest outputs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanOutput(rows)
		if err != nil {
			return nil, err
		}
		if _, seen := found[r.OutputType]; !seen {
			found[r.OutputType] = r
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate latest outputs: %w", err)
	}
	return found, nil
}

// ListOutputs returns all records of a session ordered by creation.
func (d *SQLiteDriver) ListOutputs(ctx context.Context, sessionID string) ([]*model.OutputRecord, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT `+outputColumns+` FROM pipeline_outputs
		WHERE session_id = ? ORDER BY created_at ASC, id ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}
	defer rows.Close()

	var records []*model.OutputRecord
	for rows.Next() {
		r, err := scanOutput(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outputs: %w", err)
	}
	return records, nil
}

// GetSession retrieves a session by ID.
func (d *SQLiteDriver) GetSession(ctx context.Context, sessionID string) (*model.Session, error) {
	var (
		s           model.Session
		createdAt   int64
		completedAt sql.NullInt64
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT session_id, status, created_at, completed_at FROM sessions WHERE session_id = ?`, sessionID,
	).Scan(&s.ID, &s.Status, &createdAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	s.CreatedAt = fromNanos(createdAt)
	if completedAt.Valid {
		t := fromNanos(completedAt.Int64)
		s.CompletedAt = &t
	}
	return &s, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOutput(rows rowScanner) (*model.OutputRecord, error) {
	var (
		r         model.OutputRecord
		payload   string
		createdAt int64
	)
	if err := rows.Scan(&r.ID, &r.SessionID, &r.ProducerName, &r.OutputType, &payload, &r.Status, &createdAt); err != nil {
		return nil, fmt.Errorf("scan output: %w", err)
	}
	r.Payload = []byte(payload)
	r.CreatedAt = fromNanos(createdAt)
	return &r, nil
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

// sqliteTx implements Tx over a *sql.Tx.
type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) InsertSession(ctx context.Context, s *model.Session) error {
	var exists int
	err := t.tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions WHERE session_id = ?", s.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists > 0 {
		return fmt.Errorf("insert session %s: %w", s.ID, ErrSessionExists)
	}

	_, err = t.tx.ExecContext(ctx,
		"INSERT INTO sessions (session_id, status, created_at) VALUES (?, ?, ?)",
		s.ID, s.Status, s.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (t *sqliteTx) InsertOutput(ctx context.Context, r *model.OutputRecord) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO pipeline_outputs (session_id, producer_name, output_type, payload, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.SessionID, r.ProducerName, r.OutputType, string(r.Payload), r.Status, r.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert output: %w", err)
	}
	return nil
}

func (t *sqliteTx) CompleteSession(ctx context.Context, sessionID string, at time.Time) error {
	var status string
	err := t.tx.QueryRowContext(ctx, "SELECT status FROM sessions WHERE session_id = ?", sessionID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get session status: %w", err)
	}
	if !model.ValidSessionTransition(status, model.SessionCompleted) {
		return fmt.Errorf("complete %s session: %w", status, ErrInvalidTransition)
	}

	_, err = t.tx.ExecContext(ctx,
		"UPDATE sessions SET status = ?, completed_at = ? WHERE session_id = ?",
		model.SessionCompleted, at.UnixNano(), sessionID,
	)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

func (t *sqliteTx) DeleteBefore(ctx context.Context, cutoff time.Time) (Purged, error) {
	var purged Purged

	rows, err := t.tx.QueryContext(ctx, "SELECT session_id FROM sessions WHERE created_at < ?", cutoff.UnixNano())
	if err != nil {
		return purged, fmt.Errorf("select expired sessions: %w", err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return purged, fmt.Errorf("scan session id: %w", err)
		}
		purged.Sessions = append(purged.Sessions, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return purged, fmt.Errorf("iterate expired sessions: %w", err)
	}

	if _, err := t.tx.ExecContext(ctx, "DELETE FROM sessions WHERE created_at < ?", cutoff.UnixNano()); err != nil {
		return purged, fmt.Errorf("delete sessions: %w", err)
	}

	res, err := t.tx.ExecContext(ctx, "DELETE FROM pipeline_outputs WHERE created_at < ?", cutoff.UnixNano())
	if err != nil {
		return purged, fmt.Errorf("delete outputs: %w", err)
	}
	purged.Outputs, err = res.RowsAffected()
	if err != nil {
		return purged, fmt.Errorf("check rows affected: %w", err)
	}
	return purged, nil
}
