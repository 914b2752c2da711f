package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS blobs (
	path       TEXT PRIMARY KEY,
	dir        TEXT NOT NULL,
	data       BLOB NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (unixepoch())
);
CREATE INDEX IF NOT EXISTS blobs_dir ON blobs(dir);
`

// SQLiteStorage implements Storage in a single SQLite database file. Each
// blob is one row, so every write is a single-row transaction.
type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(ctx context.Context, dbPath string) (*SQLiteStorage, error) {
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite %s: %w", dbPath, err)
	}
	// One writer at a time; SQLite serializes writes anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate sqlite %s: %w", dbPath, err)
	}
	return &SQLiteStorage{db: db}, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func cleanKey(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

func (s *SQLiteStorage) Read(ctx context.Context, p string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE path = ?`, cleanKey(p)).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", p, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}

func (s *SQLiteStorage) Write(ctx context.Context, p string, data []byte) error {
	key := cleanKey(p)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO blobs (path, dir, data, updated_at) VALUES (?, ?, ?, unixepoch())
ON CONFLICT(path) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, path.Dir(key), data)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	return nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, p string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE path = ?`, cleanKey(p))
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", p, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", p, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", p, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStorage) List(ctx context.Context, prefix string) ([]string, error) {
	dir := cleanKey(prefix)
	if dir == "" {
		dir = "."
	}
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM blobs WHERE dir = ? ORDER BY path`, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	return paths, nil
}

func (s *SQLiteStorage) Exists(ctx context.Context, p string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM blobs WHERE path = ?`, cleanKey(p)).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", p, err)
	}
	return true, nil
}
