package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteKV persists cache entries in SQLite so results survive restarts.
// WAL mode is enabled for concurrent reads.
type SQLiteKV struct {
	db   *sql.DB
	path string
}

// OpenSQLiteKV opens (creating if needed) the cache database at path.
func OpenSQLiteKV(path string) (*SQLiteKV, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		request_text TEXT NOT NULL,
		model TEXT NOT NULL,
		temperature REAL NOT NULL,
		result TEXT NOT NULL,
		tokens INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_cache_model_expiry ON cache_entries(model, expires_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache schema: %w", err)
	}

	return &SQLiteKV{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *SQLiteKV) Path() string {
	return s.path
}

// Get implements KV.
func (s *SQLiteKV) Get(key string) (Entry, bool, error) {
	var e Entry
	var created, expires int64
	err := s.db.QueryRow(`
		SELECT key, request_text, model, temperature, result, tokens, cost, created_at, expires_at
		FROM cache_entries WHERE key = ?
	`, key).Scan(&e.Key, &e.RequestText, &e.Model, &e.Temperature, &e.Result, &e.Tokens, &e.CostUSD, &created, &expires)
	if err == sql.ErrNoRows {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("read cache entry: %w", err)
	}
	e.CreatedAt = time.UnixMilli(created)
	e.ExpiresAt = time.UnixMilli(expires)
	return e, true, nil
}

// Put implements KV. Re-storing a key overwrites the previous row.
func (s *SQLiteKV) Put(e Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO cache_entries (key, request_text, model, temperature, result, tokens, cost, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			request_text = excluded.request_text,
			model = excluded.model,
			temperature = excluded.temperature,
			result = excluded.result,
			tokens = excluded.tokens,
			cost = excluded.cost,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`, e.Key, e.RequestText, e.Model, e.Temperature, e.Result, e.Tokens, e.CostUSD,
		e.CreatedAt.UnixMilli(), e.ExpiresAt.UnixMilli())
	return err
}

// Delete implements KV.
func (s *SQLiteKV) Delete(key string) error {
	_, err := s.db.Exec(`DELETE FROM cache_entries WHERE key = ?`, key)
	return err
}

// ScanLive implements KV.
func (s *SQLiteKV) ScanLive(model string, now time.Time) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT key, request_text, model, temperature, result, tokens, cost, created_at, expires_at
		FROM cache_entries WHERE model = ? AND expires_at > ?
	`, model, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var created, expires int64
		if err := rows.Scan(&e.Key, &e.RequestText, &e.Model, &e.Temperature, &e.Result,
			&e.Tokens, &e.CostUSD, &created, &expires); err != nil {
			return nil, err
		}
		e.CreatedAt = time.UnixMilli(created)
		e.ExpiresAt = time.UnixMilli(expires)
		out = append(out, e)
	}
	return out, rows.Err()
}

// SweepExpired implements KV.
func (s *SQLiteKV) SweepExpired(now time.Time) (int, error) {
	res, err := s.db.Exec(`DELETE FROM cache_entries WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Stats returns entry counts for the status command.
func (s *SQLiteKV) Stats(now time.Time) (total, live int, err error) {
	if err = s.db.QueryRow(`SELECT COUNT(*) FROM cache_entries`).Scan(&total); err != nil {
		return 0, 0, err
	}
	err = s.db.QueryRow(`SELECT COUNT(*) FROM cache_entries WHERE expires_at > ?`, now.UnixMilli()).Scan(&live)
	return total, live, err
}
