package dedup

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists row signatures in a single-table sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (and if needed creates) the signature database.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedup store at %s: %w", path, err)
	}

	const schema = `
	CREATE TABLE IF NOT EXISTS row_signatures (
		signature TEXT PRIMARY KEY,
		status    TEXT NOT NULL,
		attempts  INTEGER NOT NULL DEFAULT 0,
		last_seen TIMESTAMP NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create dedup schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(signature string) (*Record, error) {
	row := s.db.QueryRow(
		`SELECT signature, status, attempts, last_seen FROM row_signatures WHERE signature = ?`,
		signature)

	var rec Record
	err := row.Scan(&rec.Signature, &rec.Status, &rec.Attempts, &rec.LastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read row signature: %w", err)
	}
	return &rec, nil
}

func (s *SQLiteStore) Upsert(rec Record) error {
	_, err := s.db.Exec(
		`INSERT INTO row_signatures (signature, status, attempts, last_seen)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(signature) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			last_seen = excluded.last_seen`,
		rec.Signature, rec.Status, rec.Attempts, rec.LastSeen)
	if err != nil {
		return fmt.Errorf("failed to upsert row signature: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Count() (int, error) {
	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM row_signatures`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count row signatures: %w", err)
	}
	return count, nil
}

// Prune drops signatures not seen since before. Rows still present in the
// sheet are touched every cycle, so only long-gone rows age out.
func (s *SQLiteStore) Prune(before time.Time) error {
	_, err := s.db.Exec(`DELETE FROM row_signatures WHERE last_seen < ?`, before)
	if err != nil {
		return fmt.Errorf("failed to prune row signatures: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
