package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store persists ledger day rows in SQLite so usage survives restarts
// within a window.
type Store struct {
	db   *sql.DB
	path string
}

// DayUsage is one persisted (provider, day) row.
type DayUsage struct {
	Provider string
	Day      string // YYYY-MM-DD, UTC
	Tokens   int64
	Calls    int64
	Cost     float64
}

// OpenStore opens (creating if needed) the ledger database at path.
func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS usage_days (
		provider TEXT NOT NULL,
		day TEXT NOT NULL,
		tokens INTEGER NOT NULL DEFAULT 0,
		calls INTEGER NOT NULL DEFAULT 0,
		cost REAL NOT NULL DEFAULT 0,
		PRIMARY KEY (provider, day)
	);
	CREATE INDEX IF NOT EXISTS idx_usage_days_day ON usage_days(day);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create ledger schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Load returns every persisted day row.
func (s *Store) Load() ([]DayUsage, error) {
	rows, err := s.db.Query(`SELECT provider, day, tokens, calls, cost FROM usage_days ORDER BY day, provider`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DayUsage
	for rows.Next() {
		var d DayUsage
		if err := rows.Scan(&d.Provider, &d.Day, &d.Tokens, &d.Calls, &d.Cost); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Upsert writes the running totals for a (provider, day) key, replacing any
// previous row.
func (s *Store) Upsert(provider, day string, tokens, calls int64, cost float64) error {
	_, err := s.db.Exec(`
		INSERT INTO usage_days (provider, day, tokens, calls, cost)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider, day) DO UPDATE SET
			tokens = excluded.tokens,
			calls = excluded.calls,
			cost = excluded.cost
	`, provider, day, tokens, calls, cost)
	return err
}

// Totals returns aggregated usage across all days, for the status command.
func (s *Store) Totals() (tokens int64, calls int64, cost float64, err error) {
	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(tokens), 0), COALESCE(SUM(calls), 0), COALESCE(SUM(cost), 0)
		FROM usage_days
	`).Scan(&tokens, &calls, &cost)
	return tokens, calls, cost, err
}
