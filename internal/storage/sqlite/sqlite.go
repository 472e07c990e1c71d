package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Kintoyyy/codeshum-backend/internal/protocol"
	"github.com/Kintoyyy/codeshum-backend/internal/storage"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements storage.Store backed by a SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path and runs migrations.
// Use ":memory:" for an in-memory database (useful for testing).
func Open(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Exit hooks write from many goroutines; one connection keeps writes
	// serialized and makes ":memory:" a single database.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

const runColumns = `id, session_id, entry, files, status, exit_code, diagnostics, started_at, finished_at`

func (s *SQLiteStore) CreateRun(ctx context.Context, r *storage.Run) error {
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = storage.StatusCompiling
	}

	files, err := json.Marshal(nonNil(r.Files))
	if err != nil {
		return fmt.Errorf("marshaling files: %w", err)
	}
	diags, err := json.Marshal(nonNilDiags(r.Diagnostics))
	if err != nil {
		return fmt.Errorf("marshaling diagnostics: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, r.Entry, string(files), r.Status, exitCode(r.ExitCode), string(diags),
		formatTime(r.StartedAt), formatTime(r.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*storage.Run, error) {
	// Try exact match first, then prefix match
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == nil {
		return r, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("querying run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id LIKE ? || '%'`, id)
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	defer rows.Close()

	var matches []*storage.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("ambiguous run prefix %q matches %d runs", id, len(matches))
	}
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts storage.RunListOptions) ([]storage.Run, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + runColumns + ` FROM runs WHERE 1 = 1`
	var args []any

	if opts.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, opts.SessionID)
	}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(opts.Status))
	}

	query += ` ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []storage.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, r *storage.Run) error {
	diags, err := json.Marshal(nonNilDiags(r.Diagnostics))
	if err != nil {
		return fmt.Errorf("marshaling diagnostics: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, exit_code = ?, diagnostics = ?, finished_at = ? WHERE id = ?`,
		r.Status, exitCode(r.ExitCode), string(diags), formatTime(r.FinishedAt), r.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, r.ID)
	}
	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, r *storage.Run) error {
	r.FinishedAt = time.Now().UTC()
	return s.UpdateRun(ctx, r)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Scanner interface to work with both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*storage.Run, error) {
	var (
		r                     storage.Run
		files, diags          string
		code                  sql.NullInt64
		startedAt, finishedAt string
	)
	err := s.Scan(&r.ID, &r.SessionID, &r.Entry, &files, &r.Status, &code, &diags, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(files), &r.Files); err != nil {
		return nil, fmt.Errorf("unmarshaling files: %w", err)
	}
	var d []protocol.Diagnostic
	if err := json.Unmarshal([]byte(diags), &d); err != nil {
		return nil, fmt.Errorf("unmarshaling diagnostics: %w", err)
	}
	if len(d) > 0 {
		r.Diagnostics = d
	}
	if code.Valid {
		c := int(code.Int64)
		r.ExitCode = &c
	}
	r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	if finishedAt != "" {
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
	}
	return &r, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func exitCode(c *int) any {
	if c == nil {
		return nil
	}
	return *c
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilDiags(d []protocol.Diagnostic) []protocol.Diagnostic {
	if d == nil {
		return []protocol.Diagnostic{}
	}
	return d
}
